package store

import (
	"context"
	"database/sql"
	"fmt"
)

const commentColumns = `c.id, c.content, c.user_id, c.report_id, c.parent_id, u.username, u.full_name, c.created_at, c.updated_at`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var c Comment
	var parentID sql.NullInt64
	if err := row.Scan(
		&c.ID,
		&c.Content,
		&c.UserID,
		&c.ReportID,
		&parentID,
		&c.AuthorUsername,
		&c.AuthorFullName,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Comment{}, err
	}
	if parentID.Valid {
		id := parentID.Int64
		c.ParentID = &id
	}
	return c, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id int64) (Comment, error) {
	return scanComment(s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.id = $1
	`, id))
}

// ListComments returns every comment of the report as a flat list,
// newest first. Tree assembly happens in the caller.
func (s *PostgresStore) ListComments(ctx context.Context, reportID int64) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.report_id = $1
		ORDER BY c.created_at DESC, c.id DESC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// CreateComment inserts the comment and its mention rows together. The
// parent, when set, must belong to the same report; the guard is part of
// the INSERT so a concurrent parent delete cannot slip through.
func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment, mentions []string) (Comment, error) {
	var id int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO comments (content, user_id, report_id, parent_id)
			SELECT $1::text, $2::bigint, $3::bigint, $4::bigint
			WHERE $4::bigint IS NULL
				OR EXISTS(SELECT 1 FROM comments p WHERE p.id = $4::bigint AND p.report_id = $3::bigint)
			RETURNING id
		`, comment.Content, comment.UserID, comment.ReportID, comment.ParentID).Scan(&id)
		if err != nil {
			if isNoRows(err) {
				return ErrParentMismatch
			}
			return fmt.Errorf("insert comment: %w", err)
		}
		return replaceCommentMentions(ctx, tx, id, mentions)
	})
	if err != nil {
		return Comment{}, err
	}
	return s.GetComment(ctx, id)
}

func (s *PostgresStore) UpdateComment(ctx context.Context, id int64, content string, mentions []string) (Comment, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE comments SET content = $2, updated_at = NOW() WHERE id = $1`, id, content)
		if err != nil {
			return fmt.Errorf("update comment: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return replaceCommentMentions(ctx, tx, id, mentions)
	})
	if err != nil {
		return Comment{}, err
	}
	return s.GetComment(ctx, id)
}

// DeleteComment removes the comment; replies and mentions go with it
// through ON DELETE CASCADE.
func (s *PostgresStore) DeleteComment(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
