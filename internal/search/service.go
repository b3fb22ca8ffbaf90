package search

import (
	"context"
	"log/slog"
	"strings"
)

type indexBackend interface {
	Searcher
	Indexer
	IndexReports(records []ReportRecord) error
	IndexComments(records []CommentRecord) error
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]ReportRecord, []CommentRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  indexBackend
	pgfts  Searcher
	loader recordLoader
	logger *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	s := &Service{logger: logger}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
		s.loader = pgfts
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalizeQuery(q)
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch search failed, falling back to postgres", "error", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) enabled() bool {
	return s.meili != nil && s.meili.Healthy()
}

// IndexReport pushes the report to Meilisearch. Failures are logged; the
// Postgres fallback always sees committed rows.
func (s *Service) IndexReport(r ReportRecord) {
	if !s.enabled() {
		return
	}
	if err := s.meili.IndexReport(r); err != nil {
		s.logger.Warn("index report failed", "report_id", r.ID, "error", err)
	}
}

func (s *Service) IndexComment(c CommentRecord) {
	if !s.enabled() {
		return
	}
	if err := s.meili.IndexComment(c); err != nil {
		s.logger.Warn("index comment failed", "comment_id", c.ID, "error", err)
	}
}

// DeleteReport removes the report and the given comments from the index.
func (s *Service) DeleteReport(id int64, commentIDs []int64) {
	if !s.enabled() {
		return
	}
	if err := s.meili.DeleteReport(id); err != nil {
		s.logger.Warn("unindex report failed", "report_id", id, "error", err)
	}
	s.DeleteComments(commentIDs)
}

func (s *Service) DeleteComments(ids []int64) {
	if !s.enabled() {
		return
	}
	for _, id := range ids {
		if err := s.meili.DeleteComment(id); err != nil {
			s.logger.Warn("unindex comment failed", "comment_id", id, "error", err)
		}
	}
}

// ReindexAllFromPG pushes every report and comment from PostgreSQL into
// Meilisearch. Called at boot so an empty or stale index catches up.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.enabled() || s.loader == nil {
		return
	}
	reports, comments, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexReports(reports); err != nil {
		s.logger.Warn("reindex reports failed", "error", err)
	}
	if err := s.meili.IndexComments(comments); err != nil {
		s.logger.Warn("reindex comments failed", "error", err)
	}
	s.logger.Info("search reindexed", "reports", len(reports), "comments", len(comments))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
