package rbac

import "strings"

type Role string
type Action string
type Kind string

const (
	RoleAdmin     Role = "admin"
	RoleDirector  Role = "director"
	RoleManager   Role = "manager"
	RoleDeveloper Role = "developer"
	RoleAnalyst   Role = "analyst"
)

// DefaultRole is assigned on registration when none is given.
const DefaultRole = RoleAnalyst

const (
	ActionRead           Action = "read"
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionAssignProjects Action = "assign_projects"
)

const (
	KindReport     Kind = "report"
	KindAttachment Kind = "attachment"
	KindComment    Kind = "comment"
	KindUser       Kind = "user"
)

// Actor is the authenticated user performing an action.
type Actor struct {
	ID          int64
	Role        Role
	IsSuperuser bool
}

// Resource identifies what is acted upon. OwnerID is the report owner,
// the comment author or, for users, the user itself.
type Resource struct {
	Kind    Kind
	OwnerID int64
}

type rule func(Actor, Resource) bool

func ownerOrSuperuser(a Actor, r Resource) bool { return a.IsSuperuser || a.ID == r.OwnerID }
func authorOnly(a Actor, r Resource) bool       { return a.ID == r.OwnerID }
func superuserOnly(a Actor, _ Resource) bool    { return a.IsSuperuser }
func anyone(Actor, Resource) bool               { return true }
func projectManager(a Actor, _ Resource) bool   { return a.IsSuperuser || projectManagers[a.Role] }

// Attachments follow their report. Comments are open for reading and
// creating to every authenticated user; only the author may change or
// remove one, superusers included.
var policy = map[Kind]map[Action]rule{
	KindReport: {
		ActionRead:   ownerOrSuperuser,
		ActionCreate: anyone,
		ActionUpdate: ownerOrSuperuser,
		ActionDelete: ownerOrSuperuser,
	},
	KindAttachment: {
		ActionRead:   ownerOrSuperuser,
		ActionCreate: ownerOrSuperuser,
		ActionDelete: ownerOrSuperuser,
	},
	KindComment: {
		ActionRead:   anyone,
		ActionCreate: anyone,
		ActionUpdate: authorOnly,
		ActionDelete: authorOnly,
	},
	KindUser: {
		ActionRead:           superuserOnly,
		ActionUpdate:         superuserOnly,
		ActionAssignProjects: projectManager,
	},
}

// Can reports whether actor may perform action on resource. Unknown
// combinations are denied.
func Can(actor Actor, resource Resource, action Action) bool {
	actions, ok := policy[resource.Kind]
	if !ok {
		return false
	}
	allow, ok := actions[action]
	if !ok {
		return false
	}
	return allow(actor, resource)
}

// ParseRole accepts a role name case-insensitively.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleAdmin, RoleDirector, RoleManager, RoleDeveloper, RoleAnalyst:
		return role, true
	default:
		return "", false
	}
}

// Normalize maps unknown roles to DefaultRole.
func Normalize(value string) Role {
	if role, ok := ParseRole(value); ok {
		return role
	}
	return DefaultRole
}

func Roles() []Role {
	return []Role{RoleAdmin, RoleDirector, RoleManager, RoleDeveloper, RoleAnalyst}
}
