package app

import (
	"fmt"
	"time"

	"reportdesk/internal/store"
	"reportdesk/internal/thread"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func userPayload(user store.User) map[string]any {
	projects := user.Projects
	if projects == nil {
		projects = []string{}
	}
	return map[string]any{
		"id":           user.ID,
		"email":        user.Email,
		"username":     user.Username,
		"full_name":    user.FullName,
		"role":         user.Role,
		"is_active":    user.IsActive,
		"is_superuser": user.IsSuperuser,
		"projects":     projects,
		"created_at":   formatTime(user.CreatedAt),
	}
}

// userSuggestion is the reduced shape used for mention autocomplete.
func userSuggestion(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"username":  user.Username,
		"full_name": user.FullName,
	}
}

func attachmentPayload(a store.Attachment) map[string]any {
	return map[string]any{
		"id":           a.ID,
		"filename":     a.Filename,
		"content_type": a.ContentType,
		"size_bytes":   a.SizeBytes,
		"report_id":    a.ReportID,
		"created_at":   formatTime(a.CreatedAt),
		"url":          fmt.Sprintf("/api/reports/%d/attachments/%d", a.ReportID, a.ID),
	}
}

func attachmentsPayload(items []store.Attachment) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, a := range items {
		out = append(out, attachmentPayload(a))
	}
	return out
}

func reportPayload(report store.Report) map[string]any {
	return map[string]any{
		"id":             report.ID,
		"title":          report.Title,
		"content":        report.Content,
		"user_id":        report.UserID,
		"owner_username": report.OwnerUsername,
		"created_at":     formatTime(report.CreatedAt),
		"updated_at":     formatTime(report.UpdatedAt),
		"attachments":    attachmentsPayload(report.Attachments),
	}
}

func commentPayload(c store.Comment) map[string]any {
	var parentID any
	if c.ParentID != nil {
		parentID = *c.ParentID
	}
	return map[string]any{
		"id":        c.ID,
		"content":   c.Content,
		"user_id":   c.UserID,
		"report_id": c.ReportID,
		"parent_id": parentID,
		"author": map[string]any{
			"id":        c.UserID,
			"username":  c.AuthorUsername,
			"full_name": c.AuthorFullName,
		},
		"created_at": formatTime(c.CreatedAt),
		"updated_at": formatTime(c.UpdatedAt),
		"replies":    []map[string]any{},
	}
}

func commentTreePayload(nodes []*thread.Node) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		item := commentPayload(node.Comment)
		item["replies"] = commentTreePayload(node.Replies)
		out = append(out, item)
	}
	return out
}

func mentionPayload(m store.Mention) map[string]any {
	var reportID, commentID any
	if m.ReportID != nil {
		reportID = *m.ReportID
	}
	if m.CommentID != nil {
		commentID = *m.CommentID
	}
	return map[string]any{
		"id":           m.ID,
		"report_id":    reportID,
		"comment_id":   commentID,
		"report_title": m.ReportTitle,
		"created_at":   formatTime(m.CreatedAt),
	}
}
