package authpw

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"reportdesk/internal/store"
)

// mockUserStore is an in-memory UserStore keyed by id.
type mockUserStore struct {
	users  map[int64]store.User
	nextID int64
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[int64]store.User)}
}

func (m *mockUserStore) UserExists(ctx context.Context, email, username string, exceptID int64) (bool, error) {
	for id, u := range m.users {
		if id == exceptID {
			continue
		}
		if strings.EqualFold(u.Email, email) || u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	m.nextID++
	user.ID = m.nextID
	m.users[user.ID] = user
	return user, nil
}

func (m *mockUserStore) GetUserByLogin(ctx context.Context, login string) (store.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, login) || u.Username == login {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func newTestService(m *mockUserStore) *Service {
	svc := NewService(m)
	svc.cost = bcrypt.MinCost
	return svc
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMockUserStore())

	t.Run("successful register", func(t *testing.T) {
		user, err := svc.Register(ctx, RegisterRequest{
			Email:    "test@example.com",
			Username: "tester",
			Password: "password123",
			FullName: "Test User",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID == 0 || user.Role != "analyst" || !user.IsActive {
			t.Fatalf("unexpected user: %+v", user)
		}
		if user.HashedPassword == "password123" || !VerifyPassword("password123", user.HashedPassword) {
			t.Fatal("expected stored password to be a bcrypt hash of the input")
		}
	})

	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"duplicate email", RegisterRequest{Email: "TEST@example.com", Username: "other", Password: "password123"}, ErrUserExists},
		{"duplicate username", RegisterRequest{Email: "new@example.com", Username: "tester", Password: "password123"}, ErrUserExists},
		{"short password", RegisterRequest{Email: "a@example.com", Username: "a", Password: "short"}, ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("missing fields", func(t *testing.T) {
		if _, err := svc.Register(ctx, RegisterRequest{}); err == nil {
			t.Error("expected error for missing fields")
		}
	})

	t.Run("explicit and unknown role", func(t *testing.T) {
		user, err := svc.Register(ctx, RegisterRequest{Email: "m@example.com", Username: "mgr", Password: "password123", Role: "Manager"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Role != "manager" {
			t.Fatalf("expected manager, got %q", user.Role)
		}
		if _, err := svc.Register(ctx, RegisterRequest{Email: "x@example.com", Username: "x", Password: "password123", Role: "overlord"}); err == nil {
			t.Fatal("expected unknown role to be rejected")
		}
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	m := newMockUserStore()
	svc := newTestService(m)

	registered, err := svc.Register(ctx, RegisterRequest{Email: "test@example.com", Username: "tester", Password: "password123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, login := range []string{"test@example.com", "TEST@EXAMPLE.COM", "tester"} {
		user, err := svc.Authenticate(ctx, login, "password123")
		if err != nil {
			t.Fatalf("Authenticate(%q) error = %v", login, err)
		}
		if user.ID != registered.ID {
			t.Fatalf("Authenticate(%q) returned user %d", login, user.ID)
		}
	}

	if _, err := svc.Authenticate(ctx, "tester", "wrongpassword"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	inactive := m.users[registered.ID]
	inactive.IsActive = false
	m.users[registered.ID] = inactive
	if _, err := svc.Authenticate(ctx, "tester", "password123"); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}
