package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reportdesk/internal/auth"
	"reportdesk/internal/authpw"
	"reportdesk/internal/blob"
	"reportdesk/internal/config"
	"reportdesk/internal/email"
	"reportdesk/internal/export"
	"reportdesk/internal/rbac"
	"reportdesk/internal/search"
	"reportdesk/internal/store"
	"reportdesk/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	User         store.User
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Actor() rbac.Actor {
	return actorFor(s.User)
}

func actorFor(user store.User) rbac.Actor {
	return rbac.Actor{ID: user.ID, Role: rbac.Normalize(user.Role), IsSuperuser: user.IsSuperuser}
}

type dataStore interface {
	Ping(context.Context) error

	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, int64) (store.User, error)
	GetUserByLogin(context.Context, string) (store.User, error)
	UserExists(context.Context, string, string, int64) (bool, error)
	CountUsers(context.Context) (int, error)
	ListUsers(context.Context) ([]store.User, error)
	SearchUsers(context.Context, string, int) ([]store.User, error)
	UpdateUser(context.Context, int64, store.UserUpdate) (store.User, error)
	ReplaceUserProjects(context.Context, int64, []string) error

	ListReports(context.Context, store.ReportFilter) ([]store.Report, int, error)
	GetReport(context.Context, int64) (store.Report, error)
	CreateReport(context.Context, store.Report, []store.Attachment, []string) (store.Report, error)
	UpdateReport(context.Context, int64, store.ReportUpdate, []store.Attachment) (store.Report, error)
	DeleteReport(context.Context, int64) ([]store.Attachment, error)
	AddAttachments(context.Context, int64, []store.Attachment) ([]store.Attachment, error)
	GetAttachment(context.Context, int64, int64) (store.Attachment, error)
	DeleteAttachment(context.Context, int64, int64) error

	GetComment(context.Context, int64) (store.Comment, error)
	ListComments(context.Context, int64) ([]store.Comment, error)
	CreateComment(context.Context, store.Comment, []string) (store.Comment, error)
	UpdateComment(context.Context, int64, string, []string) (store.Comment, error)
	DeleteComment(context.Context, int64) error

	ListMentionsForUser(context.Context, int64, int) ([]store.Mention, error)
	ListMentionedUsers(context.Context, []string) ([]store.User, error)
}

// sessionStore keeps refresh sessions and the access token deny list.
// Both the Postgres store and the Redis store satisfy it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, int64, time.Time) error
	LookupRefreshSession(context.Context, string) (int64, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

// searchIndex is the part of the search service the use cases drive.
type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexReport(search.ReportRecord)
	IndexComment(search.CommentRecord)
	DeleteReport(int64, []int64)
	DeleteComments([]int64)
}

type mentionMailer interface {
	IsConfigured() bool
	SendMentionNotification(to string, data email.MentionData) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	blobs     blob.Store
	search    searchIndex
	exporter  *export.Service
	mailer    mentionMailer
	logger    *slog.Logger
	now       func() time.Time
}

// Dependencies are the collaborators wired in by main. Sessions and
// Mailer are optional; refresh sessions fall back to Postgres.
type Dependencies struct {
	Store    *store.PostgresStore
	Sessions sessionStore
	Blobs    blob.Store
	Search   *search.Service
	Exporter *export.Service
	Mailer   *email.Service
	Logger   *slog.Logger
}

func New(cfg config.Config, deps Dependencies) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		passwords: authpw.NewService(deps.Store),
		blobs:     deps.Blobs,
		exporter:  deps.Exporter,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if svc.sessions == nil {
		svc.sessions = deps.Store
	}
	if deps.Mailer != nil {
		svc.mailer = deps.Mailer
	}
	if deps.Search != nil {
		svc.search = deps.Search
	} else {
		svc.search = search.NewService(nil, nil, deps.Logger)
	}
	if svc.exporter == nil {
		svc.exporter = export.NewService(export.Options{ChromePath: cfg.ChromePath, PandocPath: cfg.PandocPath})
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return s.logger.With("request_id", id)
	}
	return s.logger
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap creates the configured superuser when no user exists yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		return nil
	}
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	username := s.cfg.AdminUsername
	if username == "" {
		username = "admin"
	}
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Email:       s.cfg.AdminEmail,
		Username:    username,
		Password:    s.cfg.AdminPassword,
		FullName:    "Administrator",
		Role:        string(rbac.RoleAdmin),
		IsSuperuser: true,
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if _, err := s.syncProjects(ctx, user); err != nil {
		return fmt.Errorf("bootstrap admin projects: %w", err)
	}
	s.logger.Info("created bootstrap superuser", "user_id", user.ID, "username", user.Username)
	return nil
}

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Username string `json:"username" validate:"required,min=2,max=50,username"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	FullName string `json:"full_name" validate:"max=100"`
}

// Register creates a self-service account. It always gets the default
// role; roles are changed by a superuser through UpdateUser.
func (s *Service) Register(ctx context.Context, input RegisterInput) (map[string]any, error) {
	input.Email = strings.TrimSpace(input.Email)
	input.Username = strings.TrimSpace(input.Username)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Email:    input.Email,
		Username: input.Username,
		Password: input.Password,
		FullName: input.FullName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrUserExists) {
			return nil, errUserExists
		}
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) Login(ctx context.Context, login, password string) (Session, error) {
	user, err := s.passwords.Authenticate(ctx, login, password)
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrInvalidCredentials):
			return Session{}, errInvalidCredentials
		case errors.Is(err, authpw.ErrInactive):
			return Session{}, errAccountInactive
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh exchanges a live refresh token for a new session. The old
// refresh token is revoked whatever happens next.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, errUnauthorized
	}
	hash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, errUnauthorized
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, errUnauthorized
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, errAccountInactive
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		JTI:      jti,
		Exp:      exp.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		User:         user,
		JTI:          jti,
		ExpiresAt:    exp,
	}, nil
}

// SessionFromToken authenticates a bearer token. The user is reloaded on
// every call so deactivation and role changes apply immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, errAccountInactive
	}
	return Session{
		Token:     token,
		User:      user,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes what it can. Errors are ignored so a client can always
// drop its credentials.
func (s *Service) Logout(ctx context.Context, session *Session, refreshToken string) {
	if session != nil && session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.log(ctx).Warn("revoke access token failed", "error", err)
		}
	}
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log(ctx).Warn("revoke refresh session failed", "error", err)
		}
	}
}

func (s *Service) sessionPayload(session Session) map[string]any {
	return map[string]any{
		"access_token":  session.Token,
		"refresh_token": session.RefreshToken,
		"token_type":    "bearer",
		"expires_in":    int64(s.cfg.AccessTTL / time.Second),
		"user":          userPayload(session.User),
	}
}
