// Package export renders reports to HTML, PDF and DOCX.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"reportdesk/internal/thread"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name case-insensitively; empty means HTML.
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case "":
		return FormatHTML, nil
	case FormatHTML, FormatPDF, FormatDOCX:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// Document is a report ready for export. Content is markdown.
type Document struct {
	Title     string
	Content   string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Comments  []*thread.Node
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates headless Chrome is not available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is not available.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
