package store

import "time"

type User struct {
	ID             int64
	Email          string
	Username       string
	HashedPassword string
	FullName       string
	Role           string
	IsActive       bool
	IsSuperuser    bool
	CreatedAt      time.Time
	Projects       []string
}

type Report struct {
	ID            int64
	Title         string
	Content       string
	UserID        int64
	OwnerUsername string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Attachments   []Attachment
}

type Attachment struct {
	ID          int64
	Filename    string
	FilePath    string
	ContentType string
	SizeBytes   int64
	ReportID    int64
	CreatedAt   time.Time
}

type Comment struct {
	ID             int64
	Content        string
	UserID         int64
	ReportID       int64
	ParentID       *int64
	AuthorUsername string
	AuthorFullName string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Mention targets exactly one of ReportID or CommentID. ReportID is
// filled for comment mentions too when listed, so callers can link back.
type Mention struct {
	ID          int64
	UserID      int64
	ReportID    *int64
	CommentID   *int64
	ReportTitle string
	CreatedAt   time.Time
}

// ReportFilter selects reports for listing. A nil OwnerID means every
// report is eligible.
type ReportFilter struct {
	OwnerID *int64
	Search  string
	Skip    int
	Limit   int
}

// UserUpdate carries the fields to change; nil fields are left alone.
type UserUpdate struct {
	Email          *string
	Username       *string
	FullName       *string
	HashedPassword *string
	Role           *string
	IsActive       *bool
	IsSuperuser    *bool
}

// ReportUpdate carries optional title/content changes. Mentions replaces
// the report's mention rows and is applied only when Content is set.
type ReportUpdate struct {
	Title    *string
	Content  *string
	Mentions []string
}
