package rbac

// Known projects, in display order.
var projects = []string{"HIMS", "ISPK", "Rasumi", "MDI", "Eroses", "MyAssessement", "MyCukai"}

// Grant controls how a project assignment is applied to a target user.
type Grant int

const (
	// GrantRequested sets the target's projects to exactly the request.
	GrantRequested Grant = iota
	// GrantAll gives the target every known project.
	GrantAll
)

// projectManagers may assign projects to other users.
var projectManagers = map[Role]bool{
	RoleDirector: true,
	RoleManager:  true,
}

// projectGrants decides per target role how assignments resolve. Roles
// absent from the table get GrantRequested. Superusers always get
// GrantAll.
var projectGrants = map[Role]Grant{
	RoleDirector: GrantAll,
}

// Projects returns a copy of the known project list.
func Projects() []string {
	return append([]string(nil), projects...)
}

func IsProject(name string) bool {
	for _, p := range projects {
		if p == name {
			return true
		}
	}
	return false
}

func GrantFor(target Actor) Grant {
	if target.IsSuperuser {
		return GrantAll
	}
	return projectGrants[target.Role]
}

// ResolveProjects returns the project set target ends up with when
// requested is assigned. Duplicates in requested are collapsed, order of
// first appearance kept.
func ResolveProjects(target Actor, requested []string) []string {
	if GrantFor(target) == GrantAll {
		return Projects()
	}
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, p := range requested {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
