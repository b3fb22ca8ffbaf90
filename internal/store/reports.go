package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const reportColumns = `r.id, r.title, r.content, r.user_id, u.username, r.created_at, r.updated_at`

func scanReport(row interface{ Scan(...any) error }) (Report, error) {
	var report Report
	err := row.Scan(
		&report.ID,
		&report.Title,
		&report.Content,
		&report.UserID,
		&report.OwnerUsername,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	return report, err
}

// ListReports applies the filter, orders newest first and returns one
// page plus the total number of matching rows.
func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]Report, int, error) {
	where, args := reportFilterClause(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM reports r`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Skip)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM reports r
		JOIN users u ON u.id = r.user_id
		%s
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT $%d OFFSET $%d
	`, reportColumns, where, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]Report, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		report.Attachments = []Attachment{}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, total, nil
}

func reportFilterClause(filter ReportFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		conds = append(conds, fmt.Sprintf("r.user_id = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(r.title ILIKE $%d OR r.content ILIKE $%d)", n, n))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) GetReport(ctx context.Context, id int64) (Report, error) {
	report, err := scanReport(s.db.QueryRowContext(ctx, `
		SELECT `+reportColumns+`
		FROM reports r
		JOIN users u ON u.id = r.user_id
		WHERE r.id = $1
	`, id))
	if err != nil {
		return Report{}, err
	}
	attachments, err := listAttachments(ctx, s.db, id)
	if err != nil {
		return Report{}, err
	}
	report.Attachments = attachments
	return report, nil
}

// CreateReport inserts the report, its attachment rows and its mention
// rows in one transaction.
func (s *PostgresStore) CreateReport(ctx context.Context, report Report, attachments []Attachment, mentions []string) (Report, error) {
	var id int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO reports (title, content, user_id)
			VALUES ($1, $2, $3)
			RETURNING id
		`, report.Title, report.Content, report.UserID).Scan(&id); err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		if _, err := insertAttachments(ctx, tx, id, attachments); err != nil {
			return err
		}
		return replaceReportMentions(ctx, tx, id, mentions)
	})
	if err != nil {
		return Report{}, err
	}
	return s.GetReport(ctx, id)
}

func (s *PostgresStore) UpdateReport(ctx context.Context, id int64, update ReportUpdate, attachments []Attachment) (Report, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE reports
			SET title = COALESCE($2, title),
				content = COALESCE($3, content),
				updated_at = NOW()
			WHERE id = $1
		`, id, update.Title, update.Content)
		if err != nil {
			return fmt.Errorf("update report: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		if _, err := insertAttachments(ctx, tx, id, attachments); err != nil {
			return err
		}
		if update.Content != nil {
			return replaceReportMentions(ctx, tx, id, update.Mentions)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	return s.GetReport(ctx, id)
}

// DeleteReport removes the report and, through FK cascades, its
// attachments, comments and mentions. The deleted attachment rows are
// returned so the caller can remove the stored files.
func (s *PostgresStore) DeleteReport(ctx context.Context, id int64) ([]Attachment, error) {
	var attachments []Attachment
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		attachments, err = listAttachments(ctx, tx, id)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete report: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attachments, nil
}

func (s *PostgresStore) AddAttachments(ctx context.Context, reportID int64, attachments []Attachment) ([]Attachment, error) {
	var created []Attachment
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var locked int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM reports WHERE id = $1 FOR UPDATE`, reportID).Scan(&locked); err != nil {
			return err
		}
		var err error
		created, err = insertAttachments(ctx, tx, reportID, attachments)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE reports SET updated_at = NOW() WHERE id = $1`, reportID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetAttachment returns the attachment only if it belongs to reportID.
func (s *PostgresStore) GetAttachment(ctx context.Context, reportID, attachmentID int64) (Attachment, error) {
	var a Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_path, content_type, size_bytes, report_id, created_at
		FROM attachments
		WHERE id = $1 AND report_id = $2
	`, attachmentID, reportID).Scan(&a.ID, &a.Filename, &a.FilePath, &a.ContentType, &a.SizeBytes, &a.ReportID, &a.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return a, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, reportID, attachmentID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1 AND report_id = $2`, attachmentID, reportID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func listAttachments(ctx context.Context, q querier, reportID int64) ([]Attachment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, filename, file_path, content_type, size_bytes, report_id, created_at
		FROM attachments
		WHERE report_id = $1
		ORDER BY id
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.Filename, &a.FilePath, &a.ContentType, &a.SizeBytes, &a.ReportID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func insertAttachments(ctx context.Context, q querier, reportID int64, attachments []Attachment) ([]Attachment, error) {
	created := make([]Attachment, 0, len(attachments))
	for _, a := range attachments {
		a.ReportID = reportID
		if err := q.QueryRowContext(ctx, `
			INSERT INTO attachments (filename, file_path, content_type, size_bytes, report_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, a.Filename, a.FilePath, a.ContentType, a.SizeBytes, reportID).Scan(&a.ID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
		created = append(created, a)
	}
	return created, nil
}
