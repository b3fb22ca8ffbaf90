package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"reportdesk/internal/thread"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
}).ParseFS(templateFS, "templates/report.html"))

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title        string
	ContentHTML  template.HTML
	Author       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ShowComments bool
	Comments     []*thread.Node
	CommentCount int
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
