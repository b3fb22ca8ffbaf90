package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `u.id, u.email, u.username, u.hashed_password, u.full_name, u.role, u.is_active, u.is_superuser, u.created_at,
	COALESCE((SELECT string_agg(up.project, ',' ORDER BY up.project) FROM user_projects up WHERE up.user_id = u.id), '')`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var projects string
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.HashedPassword,
		&user.FullName,
		&user.Role,
		&user.IsActive,
		&user.IsSuperuser,
		&user.CreatedAt,
		&projects,
	); err != nil {
		return User{}, err
	}
	user.Projects = splitProjects(projects)
	return user, nil
}

func splitProjects(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, ",")
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, username, hashed_password, full_name, role, is_active, is_superuser)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		user.Email,
		user.Username,
		user.HashedPassword,
		user.FullName,
		user.Role,
		user.IsActive,
		user.IsSuperuser,
	).Scan(&id)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id)
	return scanUser(row)
}

// GetUserByLogin matches either the email (case-insensitive) or the
// exact username.
func (s *PostgresStore) GetUserByLogin(ctx context.Context, login string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE LOWER(u.email) = LOWER($1) OR u.username = $1
		ORDER BY (LOWER(u.email) = LOWER($1)) DESC
		LIMIT 1
	`, login)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.username = $1`, username)
	return scanUser(row)
}

// UserExists reports whether the email or the username is already taken,
// ignoring the user with id exceptID.
func (s *PostgresStore) UserExists(ctx context.Context, email, username string, exceptID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM users
			WHERE (LOWER(email) = LOWER($1) OR username = $2) AND id <> $3
		)
	`, email, username, exceptID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users u ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// SearchUsers returns active users whose username starts with prefix.
func (s *PostgresStore) SearchUsers(ctx context.Context, prefix string, limit int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE u.is_active AND u.username ILIKE $1 || '%'
		ORDER BY u.username
		LIMIT $2
	`, escapeLike(prefix), limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id int64, update UserUpdate) (User, error) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Email != nil {
		add("email", *update.Email)
	}
	if update.Username != nil {
		add("username", *update.Username)
	}
	if update.FullName != nil {
		add("full_name", *update.FullName)
	}
	if update.HashedPassword != nil {
		add("hashed_password", *update.HashedPassword)
	}
	if update.Role != nil {
		add("role", *update.Role)
	}
	if update.IsActive != nil {
		add("is_active", *update.IsActive)
	}
	if update.IsSuperuser != nil {
		add("is_superuser", *update.IsSuperuser)
	}
	if len(sets) > 0 {
		args = append(args, id)
		query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return User{}, fmt.Errorf("update user: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return User{}, sql.ErrNoRows
		}
	}
	return s.GetUserByID(ctx, id)
}

// ReplaceUserProjects sets the user's project rows to exactly projects.
func (s *PostgresStore) ReplaceUserProjects(ctx context.Context, userID int64, projects []string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_projects WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear user projects: %w", err)
		}
		if len(projects) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_projects (user_id, project)
			SELECT $1::bigint, p FROM unnest($2::text[]) AS p
			ON CONFLICT DO NOTHING
		`, userID, projects); err != nil {
			return fmt.Errorf("insert user projects: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the owning user id of a live refresh
// session, or sql.ErrNoRows.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// escapeLike quotes LIKE metacharacters so user input matches literally.
func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
