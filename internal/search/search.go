package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultReport  ResultType = "report"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       int64      `json:"id"`
	ReportID int64      `json:"report_id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
}

// Query describes a search request. A nil OwnerID searches everything;
// otherwise only that user's reports and the comments on them match.
type Query struct {
	Text    string
	Limit   int
	Offset  int
	OwnerID *int64
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexReport(r ReportRecord) error
	IndexComment(c CommentRecord) error
	DeleteReport(id int64) error
	DeleteComment(id int64) error
}

// ReportRecord is the data we index for a report.
type ReportRecord struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	OwnerID int64  `json:"ownerId"`
}

// CommentRecord is the data we index for a comment. ReportOwnerID drives
// visibility, not the author.
type CommentRecord struct {
	ID            int64  `json:"id"`
	Content       string `json:"content"`
	ReportID      int64  `json:"reportId"`
	ReportTitle   string `json:"reportTitle"`
	ReportOwnerID int64  `json:"reportOwnerId"`
}

const defaultLimit = 20

func normalizeQuery(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
