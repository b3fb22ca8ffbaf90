// Package authpw provides password registration and sign-in.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"reportdesk/internal/rbac"
	"reportdesk/internal/store"
)

const MinPasswordLength = 8

var (
	ErrUserExists         = errors.New("email or username already registered")
	ErrInvalidCredentials = errors.New("incorrect login or password")
	ErrInactive           = errors.New("inactive user")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// UserStore is the part of the persistence layer sign-up and sign-in need.
type UserStore interface {
	UserExists(ctx context.Context, email, username string, exceptID int64) (bool, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByLogin(ctx context.Context, login string) (store.User, error)
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// RegisterRequest contains sign-up parameters
type RegisterRequest struct {
	Email       string
	Username    string
	Password    string
	FullName    string
	// Role and IsSuperuser come from trusted callers only; self-service
	// sign-up leaves them unset.
	Role        string
	IsSuperuser bool
}

// Register creates an active account. An empty role becomes the default
// role; an unknown one is rejected.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	email := strings.TrimSpace(req.Email)
	username := strings.TrimSpace(req.Username)
	if email == "" || username == "" || req.Password == "" {
		return store.User{}, errors.New("email, username and password are required")
	}
	if len(req.Password) < MinPasswordLength {
		return store.User{}, ErrWeakPassword
	}
	role := rbac.DefaultRole
	if req.Role != "" {
		parsed, ok := rbac.ParseRole(req.Role)
		if !ok {
			return store.User{}, fmt.Errorf("unknown role %q", req.Role)
		}
		role = parsed
	}

	exists, err := s.store.UserExists(ctx, email, username, 0)
	if err != nil {
		return store.User{}, err
	}
	if exists {
		return store.User{}, ErrUserExists
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.CreateUser(ctx, store.User{
		Email:          email,
		Username:       username,
		HashedPassword: hash,
		FullName:       strings.TrimSpace(req.FullName),
		Role:           string(role),
		IsActive:       true,
		IsSuperuser:    req.IsSuperuser,
	})
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate resolves login as an email or a username and checks the
// password. Unknown users and wrong passwords are indistinguishable.
func (s *Service) Authenticate(ctx context.Context, login, password string) (store.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, err
	}
	if !VerifyPassword(password, user.HashedPassword) {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return store.User{}, ErrInactive
	}
	return user, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
