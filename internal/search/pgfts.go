package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over reports and comments using plainto_tsquery
// and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = normalizeQuery(q)
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	unionSQL, args := pgftsUnion(q)

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+unionSQL+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, report_id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC, id DESC
		LIMIT %d OFFSET %d`, unionSQL, q.Limit, q.Offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.ReportID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// pgftsUnion builds the scoped report and comment sub-queries. $1 is the
// query text, $2 the owner id when scoped.
func pgftsUnion(q Query) (string, []any) {
	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	reportWhere := "r.fts @@ " + tsQuery
	commentWhere := "c.fts @@ " + tsQuery
	if q.OwnerID != nil {
		args = append(args, *q.OwnerID)
		reportWhere += " AND r.user_id = $2"
		commentWhere += " AND r.user_id = $2"
	}

	reports := fmt.Sprintf(`
		SELECT 'report'::text AS type, r.id, r.id AS report_id, r.title,
			ts_headline('english', coalesce(r.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(r.fts, %s) AS rank
		FROM reports r
		WHERE %s`, tsQuery, tsQuery, reportWhere)
	comments := fmt.Sprintf(`
		SELECT 'comment'::text AS type, c.id, c.report_id, r.title,
			ts_headline('english', coalesce(c.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(c.fts, %s) AS rank
		FROM comments c
		JOIN reports r ON r.id = c.report_id
		WHERE %s`, tsQuery, tsQuery, commentWhere)
	return reports + " UNION ALL " + comments, args
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ReportRecord, []CommentRecord, error) {
	reportRows, err := p.db.QueryContext(ctx, `SELECT id, title, content, user_id FROM reports`)
	if err != nil {
		return nil, nil, fmt.Errorf("load reports: %w", err)
	}
	defer reportRows.Close()

	reports := make([]ReportRecord, 0)
	for reportRows.Next() {
		var r ReportRecord
		if err := reportRows.Scan(&r.ID, &r.Title, &r.Content, &r.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := reportRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate reports: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.report_id, r.title, r.user_id
		FROM comments c
		JOIN reports r ON r.id = c.report_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Content, &c.ReportID, &c.ReportTitle, &c.ReportOwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}
	return reports, comments, nil
}
