package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"reportdesk/internal/email"
	"reportdesk/internal/rbac"
	"reportdesk/internal/search"
	"reportdesk/internal/store"
	"reportdesk/internal/validate"
)

const (
	userSuggestionLimit = 10
	mentionListLimit    = 50
	maxSearchLimit      = 100
)

type UserUpdateInput struct {
	Email       *string `json:"email" validate:"omitempty,email,max=255"`
	Username    *string `json:"username" validate:"omitempty,min=2,max=50,username"`
	FullName    *string `json:"full_name" validate:"omitempty,max=100"`
	Password    *string `json:"password" validate:"omitempty,min=8,max=128"`
	Role        *string `json:"role" validate:"omitempty,role"`
	IsActive    *bool   `json:"is_active"`
	IsSuperuser *bool   `json:"is_superuser"`
}

type ProjectsInput struct {
	Projects []string `json:"projects" validate:"dive,project"`
}

func validateInput(input any) error {
	if err := validate.Struct(input); err != nil {
		var fieldErrs validate.Errors
		if errors.As(err, &fieldErrs) {
			return validationError(fieldErrs[0].Message, fieldErrs)
		}
		return err
	}
	return nil
}

func (s *Service) Me(session Session) map[string]any {
	return userPayload(session.User)
}

func (s *Service) ListUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	if !rbac.Can(session.Actor(), rbac.Resource{Kind: rbac.KindUser}, rbac.ActionRead) {
		return nil, forbidden()
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items, nil
}

func (s *Service) UpdateUser(ctx context.Context, session Session, id int64, input UserUpdateInput) (map[string]any, error) {
	if !rbac.Can(session.Actor(), rbac.Resource{Kind: rbac.KindUser, OwnerID: id}, rbac.ActionUpdate) {
		return nil, forbidden()
	}
	trimmed := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	input.Email = trimmed(input.Email)
	input.Username = trimmed(input.Username)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("User")
		}
		return nil, err
	}

	if input.Email != nil || input.Username != nil {
		var emailValue, usernameValue string
		if input.Email != nil {
			emailValue = *input.Email
		}
		if input.Username != nil {
			usernameValue = *input.Username
		}
		exists, err := s.store.UserExists(ctx, emailValue, usernameValue, id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errUserExists
		}
	}

	update := store.UserUpdate{
		Email:       input.Email,
		Username:    input.Username,
		FullName:    input.FullName,
		IsActive:    input.IsActive,
		IsSuperuser: input.IsSuperuser,
	}
	if input.Role != nil {
		role := string(rbac.Normalize(*input.Role))
		update.Role = &role
	}
	if input.Password != nil {
		hash, err := s.passwords.HashPassword(*input.Password)
		if err != nil {
			return nil, err
		}
		update.HashedPassword = &hash
	}
	user, err := s.store.UpdateUser(ctx, id, update)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("User")
		}
		return nil, err
	}
	if input.Role != nil || input.IsSuperuser != nil {
		if user, err = s.syncProjects(ctx, user); err != nil {
			return nil, err
		}
	}
	return userPayload(user), nil
}

// syncProjects reapplies the project policy after a role change, so a
// user promoted to director or superuser holds every project.
func (s *Service) syncProjects(ctx context.Context, user store.User) (store.User, error) {
	projects := rbac.ResolveProjects(actorFor(user), user.Projects)
	if slices.Equal(projects, user.Projects) {
		return user, nil
	}
	if err := s.store.ReplaceUserProjects(ctx, user.ID, projects); err != nil {
		return store.User{}, err
	}
	user.Projects = projects
	return user, nil
}

// AssignProjects replaces the target's projects. Directors and superusers
// always end up with every project, whatever was requested.
func (s *Service) AssignProjects(ctx context.Context, session Session, targetID int64, input ProjectsInput) (map[string]any, error) {
	if !rbac.Can(session.Actor(), rbac.Resource{Kind: rbac.KindUser, OwnerID: targetID}, rbac.ActionAssignProjects) {
		return nil, forbidden()
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	target, err := s.store.GetUserByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("User")
		}
		return nil, err
	}
	projects := rbac.ResolveProjects(actorFor(target), input.Projects)
	if err := s.store.ReplaceUserProjects(ctx, targetID, projects); err != nil {
		return nil, err
	}
	updated, err := s.store.GetUserByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info("projects assigned", "actor_id", session.User.ID, "target_id", targetID, "projects", projects)
	return userPayload(updated), nil
}

// SearchUsers backs @mention autocomplete.
func (s *Service) SearchUsers(ctx context.Context, query string) ([]map[string]any, error) {
	prefix := strings.TrimPrefix(strings.TrimSpace(query), "@")
	users, err := s.store.SearchUsers(ctx, prefix, userSuggestionLimit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userSuggestion(user))
	}
	return items, nil
}

func (s *Service) ListMentions(ctx context.Context, session Session) ([]map[string]any, error) {
	mentions, err := s.store.ListMentionsForUser(ctx, session.User.ID, mentionListLimit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(mentions))
	for _, m := range mentions {
		items = append(items, mentionPayload(m))
	}
	return items, nil
}

func (s *Service) Projects() []string {
	return rbac.Projects()
}

// Search runs a full-text query scoped like report listing.
func (s *Service) Search(ctx context.Context, session Session, text string, limit int) search.Response {
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	q := search.Query{Text: text, Limit: limit}
	if !session.User.IsSuperuser {
		ownerID := session.User.ID
		q.OwnerID = &ownerID
	}
	return s.search.Search(ctx, q)
}

// notifyMentions mails every mentioned active user except the actor. It
// runs after the write committed; failures are logged only.
func (s *Service) notifyMentions(ctx context.Context, actor store.User, names []string, report store.Report, text string, inComment bool) {
	if s.mailer == nil || !s.mailer.IsConfigured() || len(names) == 0 {
		return
	}
	users, err := s.store.ListMentionedUsers(ctx, names)
	if err != nil {
		s.log(ctx).Warn("resolve mentioned users failed", "error", err)
		return
	}
	actorName := actor.FullName
	if actorName == "" {
		actorName = actor.Username
	}
	reportURL := ""
	if base := strings.TrimRight(s.cfg.PublicBaseURL, "/"); base != "" {
		reportURL = fmt.Sprintf("%s/reports/%d", base, report.ID)
	}
	for _, user := range users {
		if user.ID == actor.ID || !user.IsActive || user.Email == "" {
			continue
		}
		recipient := user.FullName
		if recipient == "" {
			recipient = user.Username
		}
		err := s.mailer.SendMentionNotification(user.Email, email.MentionData{
			RecipientName: recipient,
			ActorName:     actorName,
			ReportTitle:   report.Title,
			ReportURL:     reportURL,
			Excerpt:       text,
			InComment:     inComment,
		})
		if err != nil {
			s.log(ctx).Warn("mention notification failed", "user_id", user.ID, "error", err)
		}
	}
}
