package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"reportdesk/internal/blob"
	"reportdesk/internal/export"
	"reportdesk/internal/mention"
	"reportdesk/internal/rbac"
	"reportdesk/internal/search"
	"reportdesk/internal/store"
	"reportdesk/internal/thread"
	"reportdesk/internal/validate"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Upload is one file received in a multipart request.
type Upload struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

type ReportInput struct {
	Title   *string `json:"title" validate:"omitempty,max=255"`
	Content *string `json:"content"`
}

// Pagination is a normalized skip/limit pair.
type Pagination struct {
	Skip  int
	Limit int
}

// NormalizePagination applies the listing defaults and caps.
func NormalizePagination(skip, limit int) Pagination {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return Pagination{Skip: skip, Limit: limit}
}

func pageEnvelope(items any, total int, p Pagination) map[string]any {
	pages := 0
	if total > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return map[string]any{
		"items": items,
		"total": total,
		"page":  p.Skip/p.Limit + 1,
		"size":  p.Limit,
		"pages": pages,
	}
}

// ListReports returns one page of reports visible to the session user.
// Superusers see every report, everyone else only their own.
func (s *Service) ListReports(ctx context.Context, session Session, p Pagination, query string) (map[string]any, error) {
	p = NormalizePagination(p.Skip, p.Limit)
	filter := store.ReportFilter{Search: strings.TrimSpace(query), Skip: p.Skip, Limit: p.Limit}
	if !session.User.IsSuperuser {
		ownerID := session.User.ID
		filter.OwnerID = &ownerID
	}
	reports, total, err := s.store.ListReports(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		items = append(items, reportPayload(report))
	}
	return pageEnvelope(items, total, p), nil
}

// loadReport fetches a report and checks action against it.
func (s *Service) loadReport(ctx context.Context, session Session, id int64, kind rbac.Kind, action rbac.Action) (store.Report, error) {
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Report{}, notFound("Report")
		}
		return store.Report{}, err
	}
	if !rbac.Can(session.Actor(), rbac.Resource{Kind: kind, OwnerID: report.UserID}, action) {
		return store.Report{}, forbidden()
	}
	return report, nil
}

func (s *Service) GetReport(ctx context.Context, session Session, id int64) (map[string]any, error) {
	report, err := s.loadReport(ctx, session, id, rbac.KindReport, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return reportPayload(report), nil
}

func (s *Service) CreateReport(ctx context.Context, session Session, input ReportInput, uploads []Upload) (map[string]any, error) {
	title := ""
	if input.Title != nil {
		title = strings.TrimSpace(*input.Title)
	}
	if title == "" {
		return nil, validationError("Title is required", validate.Errors{{Field: "title", Message: "title is required"}})
	}
	input.Title = &title
	if err := validateInput(input); err != nil {
		return nil, err
	}
	content := ""
	if input.Content != nil {
		content = *input.Content
	}

	attachments, err := s.saveUploads(ctx, uploads)
	if err != nil {
		return nil, err
	}
	report, err := s.store.CreateReport(ctx, store.Report{
		Title:   title,
		Content: content,
		UserID:  session.User.ID,
	}, attachments, mention.Extract(content))
	if err != nil {
		s.removeBlobs(ctx, attachments)
		return nil, err
	}

	s.search.IndexReport(reportRecord(report))
	s.notifyMentions(ctx, session.User, mention.Extract(content), report, content, false)
	return reportPayload(report), nil
}

// UpdateReport applies a partial change and appends any uploaded files.
// Mention rows follow the new content; only newly mentioned users are
// notified.
func (s *Service) UpdateReport(ctx context.Context, session Session, id int64, input ReportInput, uploads []Upload) (map[string]any, error) {
	existing, err := s.loadReport(ctx, session, id, rbac.KindReport, rbac.ActionUpdate)
	if err != nil {
		return nil, err
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, validationError("Title must not be empty", validate.Errors{{Field: "title", Message: "title must not be empty"}})
		}
		input.Title = &title
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	update := store.ReportUpdate{Title: input.Title, Content: input.Content}
	if input.Content != nil {
		update.Mentions = mention.Extract(*input.Content)
	}

	attachments, err := s.saveUploads(ctx, uploads)
	if err != nil {
		return nil, err
	}
	report, err := s.store.UpdateReport(ctx, id, update, attachments)
	if err != nil {
		s.removeBlobs(ctx, attachments)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Report")
		}
		return nil, err
	}

	s.search.IndexReport(reportRecord(report))
	if report.Title != existing.Title {
		s.reindexComments(ctx, report)
	}
	if input.Content != nil {
		added := newNames(mention.Extract(existing.Content), update.Mentions)
		s.notifyMentions(ctx, session.User, added, report, report.Content, false)
	}
	return reportPayload(report), nil
}

// reindexComments refreshes the report title carried by each comment's
// search document.
func (s *Service) reindexComments(ctx context.Context, report store.Report) {
	comments, err := s.store.ListComments(ctx, report.ID)
	if err != nil {
		s.log(ctx).Warn("list comments for reindex failed", "report_id", report.ID, "error", err)
		return
	}
	for _, comment := range comments {
		s.search.IndexComment(commentRecord(comment, report))
	}
}

// DeleteReport removes the rows first and the stored files after. A file
// that cannot be removed is logged and left behind.
func (s *Service) DeleteReport(ctx context.Context, session Session, id int64) error {
	if _, err := s.loadReport(ctx, session, id, rbac.KindReport, rbac.ActionDelete); err != nil {
		return err
	}
	comments, err := s.store.ListComments(ctx, id)
	if err != nil {
		return err
	}
	removed, err := s.store.DeleteReport(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Report")
		}
		return err
	}
	s.removeBlobs(ctx, removed)

	commentIDs := make([]int64, 0, len(comments))
	for _, c := range comments {
		commentIDs = append(commentIDs, c.ID)
	}
	s.search.DeleteReport(id, commentIDs)
	return nil
}

func (s *Service) AddAttachments(ctx context.Context, session Session, reportID int64, uploads []Upload) ([]map[string]any, error) {
	if _, err := s.loadReport(ctx, session, reportID, rbac.KindAttachment, rbac.ActionCreate); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, validationError("At least one file is required", nil)
	}
	attachments, err := s.saveUploads(ctx, uploads)
	if err != nil {
		return nil, err
	}
	created, err := s.store.AddAttachments(ctx, reportID, attachments)
	if err != nil {
		s.removeBlobs(ctx, attachments)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Report")
		}
		return nil, err
	}
	return attachmentsPayload(created), nil
}

// OpenAttachment returns the attachment row and a reader over its file.
// The caller closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, session Session, reportID, attachmentID int64) (store.Attachment, io.ReadCloser, error) {
	if _, err := s.loadReport(ctx, session, reportID, rbac.KindAttachment, rbac.ActionRead); err != nil {
		return store.Attachment{}, nil, err
	}
	attachment, err := s.store.GetAttachment(ctx, reportID, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Attachment{}, nil, notFound("Attachment")
		}
		return store.Attachment{}, nil, err
	}
	rc, err := s.blobs.Open(ctx, attachment.FilePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return store.Attachment{}, nil, notFound("File")
		}
		return store.Attachment{}, nil, err
	}
	return attachment, rc, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, session Session, reportID, attachmentID int64) error {
	if _, err := s.loadReport(ctx, session, reportID, rbac.KindAttachment, rbac.ActionDelete); err != nil {
		return err
	}
	attachment, err := s.store.GetAttachment(ctx, reportID, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Attachment")
		}
		return err
	}
	if err := s.store.DeleteAttachment(ctx, reportID, attachmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Attachment")
		}
		return err
	}
	s.removeBlobs(ctx, []store.Attachment{attachment})
	return nil
}

// UploadInline stores an image referenced from report markdown. The
// returned url is served without authentication.
func (s *Service) UploadInline(ctx context.Context, upload Upload) (map[string]any, error) {
	rc, err := upload.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	contentType, body, err := blob.Sniff(rc)
	if err != nil {
		return nil, err
	}
	if !blob.IsImage(contentType) {
		return nil, domainError(http.StatusBadRequest, "UNSUPPORTED_MEDIA", "Only image uploads are allowed", map[string]any{"content_type": contentType})
	}
	key := blob.NewInlineKey(s.now(), upload.Filename)
	if err := s.blobs.Save(ctx, key, body, upload.Size, contentType); err != nil {
		return nil, err
	}
	alt := strings.TrimSuffix(path.Base(upload.Filename), path.Ext(upload.Filename))
	return map[string]any{
		"url": strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/api/uploads/" + key,
		"alt": alt,
	}, nil
}

// OpenInline serves a file stored by UploadInline. Only inline keys are
// reachable this way.
func (s *Service) OpenInline(ctx context.Context, key string) (string, io.ReadCloser, error) {
	if !strings.HasPrefix(key, "inline/") {
		return "", nil, notFound("File")
	}
	rc, err := s.blobs.Open(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
			return "", nil, notFound("File")
		}
		return "", nil, err
	}
	contentType, body, err := blob.Sniff(rc)
	if err != nil {
		rc.Close()
		return "", nil, err
	}
	return contentType, readCloser{Reader: body, Closer: rc}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func (s *Service) ExportReport(ctx context.Context, session Session, id int64, format string, includeComments bool) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", map[string]any{"format": format})
	}
	report, err := s.loadReport(ctx, session, id, rbac.KindReport, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	doc := export.Document{
		Title:     report.Title,
		Content:   report.Content,
		Author:    report.OwnerUsername,
		CreatedAt: report.CreatedAt,
		UpdatedAt: report.UpdatedAt,
	}
	if includeComments {
		comments, err := s.store.ListComments(ctx, id)
		if err != nil {
			return nil, err
		}
		doc.Comments = thread.Build(comments)
	}
	result, err := s.exporter.Export(ctx, doc, parsed, includeComments)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export format is not available on this server", map[string]any{"format": string(parsed)})
		}
		return nil, err
	}
	return result, nil
}

// saveUploads writes every upload to blob storage. On failure the files
// already written are removed and nothing is returned.
func (s *Service) saveUploads(ctx context.Context, uploads []Upload) ([]store.Attachment, error) {
	saved := make([]store.Attachment, 0, len(uploads))
	for _, upload := range uploads {
		attachment, err := s.saveUpload(ctx, upload)
		if err != nil {
			s.removeBlobs(ctx, saved)
			return nil, err
		}
		saved = append(saved, attachment)
	}
	return saved, nil
}

func (s *Service) saveUpload(ctx context.Context, upload Upload) (store.Attachment, error) {
	rc, err := upload.Open()
	if err != nil {
		return store.Attachment{}, err
	}
	defer rc.Close()

	contentType, body, err := blob.Sniff(rc)
	if err != nil {
		return store.Attachment{}, err
	}
	counter := &countingReader{r: body}
	key := blob.NewKey(s.now(), upload.Filename)
	if err := s.blobs.Save(ctx, key, counter, upload.Size, contentType); err != nil {
		return store.Attachment{}, err
	}
	filename := path.Base(strings.ReplaceAll(upload.Filename, `\`, "/"))
	if filename == "." || filename == "/" {
		filename = path.Base(key)
	}
	return store.Attachment{
		Filename:    filename,
		FilePath:    key,
		ContentType: contentType,
		SizeBytes:   counter.n,
	}, nil
}

func (s *Service) removeBlobs(ctx context.Context, attachments []store.Attachment) {
	// Cleanup runs even when the request was cancelled.
	ctx = context.WithoutCancel(ctx)
	for _, a := range attachments {
		if err := s.blobs.Delete(ctx, a.FilePath); err != nil {
			s.log(ctx).Warn("remove stored file failed", "key", a.FilePath, "error", err)
		}
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func reportRecord(report store.Report) search.ReportRecord {
	return search.ReportRecord{
		ID:      report.ID,
		Title:   report.Title,
		Content: report.Content,
		OwnerID: report.UserID,
	}
}

// newNames returns the entries of next that are not in prev.
func newNames(prev, next []string) []string {
	seen := make(map[string]bool, len(prev))
	for _, name := range prev {
		seen[name] = true
	}
	out := make([]string, 0, len(next))
	for _, name := range next {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}
