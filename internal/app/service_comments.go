package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"reportdesk/internal/mention"
	"reportdesk/internal/rbac"
	"reportdesk/internal/search"
	"reportdesk/internal/store"
	"reportdesk/internal/thread"
)

type CommentInput struct {
	Content  string `json:"content" validate:"max=10000"`
	ParentID *int64 `json:"parent_id"`
}

// reportForComments checks the report exists; commenting is open to
// every authenticated user.
func (s *Service) reportForComments(ctx context.Context, session Session, reportID int64, action rbac.Action) (store.Report, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Report{}, notFound("Report")
		}
		return store.Report{}, err
	}
	if !rbac.Can(session.Actor(), rbac.Resource{Kind: rbac.KindComment, OwnerID: session.User.ID}, action) {
		return store.Report{}, forbidden()
	}
	return report, nil
}

// ListComments returns the report's comments as a tree, newest first at
// every level.
func (s *Service) ListComments(ctx context.Context, session Session, reportID int64) ([]map[string]any, error) {
	if _, err := s.reportForComments(ctx, session, reportID, rbac.ActionRead); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return commentTreePayload(thread.Build(comments)), nil
}

func (s *Service) CreateComment(ctx context.Context, session Session, reportID int64, input CommentInput) (map[string]any, error) {
	report, err := s.reportForComments(ctx, session, reportID, rbac.ActionCreate)
	if err != nil {
		return nil, err
	}
	content, err := commentContent(input)
	if err != nil {
		return nil, err
	}
	names := mention.Extract(content)
	comment, err := s.store.CreateComment(ctx, store.Comment{
		Content:  content,
		UserID:   session.User.ID,
		ReportID: reportID,
		ParentID: input.ParentID,
	}, names)
	if err != nil {
		if errors.Is(err, store.ErrParentMismatch) {
			return nil, errInvalidParent
		}
		return nil, err
	}

	s.search.IndexComment(commentRecord(comment, report))
	s.notifyMentions(ctx, session.User, names, report, content, true)
	return commentPayload(comment), nil
}

// loadComment resolves a comment under its report; a comment owned by
// another report is reported as missing.
func (s *Service) loadComment(ctx context.Context, session Session, reportID, commentID int64, action rbac.Action) (store.Comment, store.Report, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, store.Report{}, notFound("Report")
		}
		return store.Comment{}, store.Report{}, err
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, store.Report{}, notFound("Comment")
		}
		return store.Comment{}, store.Report{}, err
	}
	if comment.ReportID != reportID {
		return store.Comment{}, store.Report{}, notFound("Comment")
	}
	if !rbac.Can(session.Actor(), rbac.Resource{Kind: rbac.KindComment, OwnerID: comment.UserID}, action) {
		return store.Comment{}, store.Report{}, forbidden()
	}
	return comment, report, nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, reportID, commentID int64, input CommentInput) (map[string]any, error) {
	existing, report, err := s.loadComment(ctx, session, reportID, commentID, rbac.ActionUpdate)
	if err != nil {
		return nil, err
	}
	content, err := commentContent(input)
	if err != nil {
		return nil, err
	}
	names := mention.Extract(content)
	comment, err := s.store.UpdateComment(ctx, commentID, content, names)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Comment")
		}
		return nil, err
	}

	s.search.IndexComment(commentRecord(comment, report))
	s.notifyMentions(ctx, session.User, newNames(mention.Extract(existing.Content), names), report, content, true)
	return commentPayload(comment), nil
}

// DeleteComment removes the comment and, by cascade, its replies.
func (s *Service) DeleteComment(ctx context.Context, session Session, reportID, commentID int64) error {
	if _, _, err := s.loadComment(ctx, session, reportID, commentID, rbac.ActionDelete); err != nil {
		return err
	}
	all, err := s.store.ListComments(ctx, reportID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Comment")
		}
		return err
	}
	s.search.DeleteComments(subtreeIDs(all, commentID))
	return nil
}

func commentContent(input CommentInput) (string, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return "", validationError("Content is required", nil)
	}
	if err := validateInput(input); err != nil {
		return "", err
	}
	return content, nil
}

// subtreeIDs returns rootID and the ids of every descendant in comments.
func subtreeIDs(comments []store.Comment, rootID int64) []int64 {
	children := make(map[int64][]int64, len(comments))
	for _, c := range comments {
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c.ID)
		}
	}
	ids := []int64{rootID}
	for i := 0; i < len(ids); i++ {
		ids = append(ids, children[ids[i]]...)
	}
	return ids
}

func commentRecord(comment store.Comment, report store.Report) search.CommentRecord {
	return search.CommentRecord{
		ID:            comment.ID,
		Content:       comment.Content,
		ReportID:      report.ID,
		ReportTitle:   report.Title,
		ReportOwnerID: report.UserID,
	}
}
