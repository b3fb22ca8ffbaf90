package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrParentMismatch is returned when a reply names a parent comment that
// does not exist on the same report.
var ErrParentMismatch = errors.New("parent comment not in report")

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Usernames that match no user are skipped by the join.
func replaceReportMentions(ctx context.Context, q querier, reportID int64, usernames []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM mentions WHERE report_id = $1`, reportID); err != nil {
		return fmt.Errorf("clear report mentions: %w", err)
	}
	if len(usernames) == 0 {
		return nil
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO mentions (user_id, report_id)
		SELECT u.id, $1::bigint FROM users u WHERE u.username = ANY($2::text[])
		ON CONFLICT DO NOTHING
	`, reportID, usernames); err != nil {
		return fmt.Errorf("insert report mentions: %w", err)
	}
	return nil
}

func replaceCommentMentions(ctx context.Context, q querier, commentID int64, usernames []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM mentions WHERE comment_id = $1`, commentID); err != nil {
		return fmt.Errorf("clear comment mentions: %w", err)
	}
	if len(usernames) == 0 {
		return nil
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO mentions (user_id, comment_id)
		SELECT u.id, $1::bigint FROM users u WHERE u.username = ANY($2::text[])
		ON CONFLICT DO NOTHING
	`, commentID, usernames); err != nil {
		return fmt.Errorf("insert comment mentions: %w", err)
	}
	return nil
}

// ListMentionsForUser returns the user's most recent mentions. Comment
// mentions carry the comment's report id and title as well.
func (s *PostgresStore) ListMentionsForUser(ctx context.Context, userID int64, limit int) ([]Mention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, COALESCE(m.report_id, c.report_id), m.comment_id, COALESCE(r.title, ''), m.created_at
		FROM mentions m
		LEFT JOIN comments c ON c.id = m.comment_id
		LEFT JOIN reports r ON r.id = COALESCE(m.report_id, c.report_id)
		WHERE m.user_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	defer rows.Close()

	items := make([]Mention, 0)
	for rows.Next() {
		var m Mention
		var reportID, commentID sql.NullInt64
		if err := rows.Scan(&m.ID, &m.UserID, &reportID, &commentID, &m.ReportTitle, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		if reportID.Valid {
			id := reportID.Int64
			m.ReportID = &id
		}
		if commentID.Valid {
			id := commentID.Int64
			m.CommentID = &id
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// ListMentionedUsers resolves usernames to users, skipping unknown names.
func (s *PostgresStore) ListMentionedUsers(ctx context.Context, usernames []string) ([]User, error) {
	if len(usernames) == 0 {
		return []User{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.username = ANY($1::text[]) ORDER BY u.id`, usernames)
	if err != nil {
		return nil, fmt.Errorf("list mentioned users: %w", err)
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
