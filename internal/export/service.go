package export

import (
	"context"
	"fmt"
	"time"

	"reportdesk/internal/thread"
)

// Options locate the external converters. Empty ChromePath lets chromedp
// search the usual install locations.
type Options struct {
	ChromePath string
	PandocPath string
	Timeout    time.Duration
}

// Service provides report export functionality
type Service struct {
	opts Options
	pdf  func(ctx context.Context, html string, opts Options) ([]byte, error)
	docx func(ctx context.Context, html string, opts Options) ([]byte, error)
}

func NewService(opts Options) *Service {
	if opts.PandocPath == "" {
		opts.PandocPath = "pandoc"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Service{opts: opts, pdf: renderPDF, docx: renderDOCX}
}

// Export renders doc in the requested format. Comments are included only
// when includeComments is set.
func (s *Service) Export(ctx context.Context, doc Document, format Format, includeComments bool) (*Result, error) {
	contentHTML, err := MarkdownToHTML(doc.Content)
	if err != nil {
		return nil, err
	}
	data := TemplateData{
		Title:        doc.Title,
		ContentHTML:  contentHTML,
		Author:       doc.Author,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		ShowComments: includeComments,
	}
	if includeComments {
		data.Comments = doc.Comments
		data.CommentCount = thread.Count(doc.Comments)
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	base := sanitizeFilename(doc.Title)
	switch format {
	case FormatHTML, "":
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		data, err := s.pdf(ctx, html, s.opts)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
	case FormatDOCX:
		data, err := s.docx(ctx, html, s.opts)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: base + ".docx",
			MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	result := make([]rune, 0, len(title))
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result = append(result, r)
		case r == ' ':
			result = append(result, '-')
		case r == '-', r == '_':
			result = append(result, r)
		}
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if len(result) == 0 {
		return "report"
	}
	return string(result)
}
