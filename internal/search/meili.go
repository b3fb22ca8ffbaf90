package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxReports  = "reportdesk_reports"
	idxComments = "reportdesk_comments"

	healthCooldown = 10 * time.Second
)

// Meili implements Searcher and Indexer via Meilisearch. Health is probed
// on demand, at most once per healthCooldown.
type Meili struct {
	client meili.ServiceManager
	logger *slog.Logger

	mu         sync.Mutex
	healthy    bool
	checkedAt  time.Time
	configured bool
	now        func() time.Time
}

// NewMeili creates a Meilisearch client and configures indexes when the
// server is reachable. An unreachable server is retried on later calls.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		now:    time.Now,
	}
	if !m.Healthy() {
		logger.Warn("meilisearch unavailable", "url", url)
	}
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxReports,
			filterable: []string{"ownerId"},
			searchable: []string{"title", "content"},
		},
		{
			uid:        idxComments,
			filterable: []string{"reportOwnerId", "reportId"},
			searchable: []string{"content", "reportTitle"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.logger.Debug("create index (may already exist)", "index", idx.uid, "error", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", "index", idx.uid, "error", err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("update searchable attributes", "index", idx.uid, "error", err)
		}
	}
}

// Healthy reports whether Meilisearch is reachable. Index settings are
// applied the first time the server answers.
func (m *Meili) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.checkedAt.IsZero() && m.now().Sub(m.checkedAt) < healthCooldown {
		return m.healthy
	}
	_, err := m.client.Health()
	m.checkedAt = m.now()
	wasHealthy := m.healthy
	m.healthy = err == nil
	if m.healthy && !m.configured {
		m.configureIndexes()
		m.configured = true
	} else if m.healthy && !wasHealthy {
		m.logger.Info("meilisearch recovered")
	}
	return m.healthy
}

func (m *Meili) markUnhealthy() {
	m.mu.Lock()
	m.healthy = false
	m.checkedAt = m.now()
	m.mu.Unlock()
}

// Search queries both indexes and concatenates the hits, reports first.
func (m *Meili) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	q = normalizeQuery(q)

	queries := []*meili.SearchRequest{
		m.searchRequest(idxReports, q, "ownerId"),
		m.searchRequest(idxComments, q, "reportOwnerId"),
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.markUnhealthy()
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func (m *Meili) searchRequest(uid string, q Query, ownerField string) *meili.SearchRequest {
	sr := &meili.SearchRequest{
		IndexUID:              uid,
		Query:                 q.Text,
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		AttributesToCrop:      []string{"content"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filter := ownerFilter(ownerField, q.OwnerID); filter != "" {
		sr.Filter = filter
	}
	return sr
}

func ownerFilter(field string, ownerID *int64) string {
	if ownerID == nil {
		return ""
	}
	return fmt.Sprintf("%s = %d", field, *ownerID)
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxReports:
		return ResultReport
	case idxComments:
		return ResultComment
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp, ID: decodeInt64(hit, "id")}
	switch rtyp {
	case ResultReport:
		r.ReportID = r.ID
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	case ResultComment:
		r.ReportID = decodeInt64(hit, "reportId")
		r.Title = decodeString(hit, "reportTitle")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// decodeInt64 accepts both JSON numbers and numeric strings.
func decodeInt64(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		v, _ := n.Int64()
		return v
	}
	v, _ := strconv.ParseInt(decodeString(hit, key), 10, 64)
	return v
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexReport(r ReportRecord) error {
	return m.IndexReports([]ReportRecord{r})
}

func (m *Meili) IndexComment(c CommentRecord) error {
	return m.IndexComments([]CommentRecord{c})
}

func (m *Meili) DeleteReport(id int64) error {
	_, err := m.client.Index(idxReports).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}

func (m *Meili) DeleteComment(id int64) error {
	_, err := m.client.Index(idxComments).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}

// IndexReports bulk-indexes reports.
func (m *Meili) IndexReports(records []ReportRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReports).AddDocuments(records, nil)
	return err
}

// IndexComments bulk-indexes comments.
func (m *Meili) IndexComments(records []CommentRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxComments).AddDocuments(records, nil)
	return err
}
