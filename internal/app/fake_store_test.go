package app

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"reportdesk/internal/authpw"
	"reportdesk/internal/blob"
	"reportdesk/internal/config"
	"reportdesk/internal/email"
	"reportdesk/internal/export"
	"reportdesk/internal/search"
	"reportdesk/internal/store"
)

// fakeStore answers GetUserByID from users unless getUserByIDFn is set.
// Every other method defaults to a zero result.
type fakeStore struct {
	mu    sync.Mutex
	users map[int64]store.User

	pingFn                 func(context.Context) error
	createUserFn           func(context.Context, store.User) (store.User, error)
	getUserByIDFn          func(context.Context, int64) (store.User, error)
	getUserByLoginFn       func(context.Context, string) (store.User, error)
	userExistsFn           func(context.Context, string, string, int64) (bool, error)
	countUsersFn           func(context.Context) (int, error)
	listUsersFn            func(context.Context) ([]store.User, error)
	searchUsersFn          func(context.Context, string, int) ([]store.User, error)
	updateUserFn           func(context.Context, int64, store.UserUpdate) (store.User, error)
	replaceUserProjectsFn  func(context.Context, int64, []string) error
	listReportsFn          func(context.Context, store.ReportFilter) ([]store.Report, int, error)
	getReportFn            func(context.Context, int64) (store.Report, error)
	createReportFn         func(context.Context, store.Report, []store.Attachment, []string) (store.Report, error)
	updateReportFn         func(context.Context, int64, store.ReportUpdate, []store.Attachment) (store.Report, error)
	deleteReportFn         func(context.Context, int64) ([]store.Attachment, error)
	addAttachmentsFn       func(context.Context, int64, []store.Attachment) ([]store.Attachment, error)
	getAttachmentFn        func(context.Context, int64, int64) (store.Attachment, error)
	deleteAttachmentFn     func(context.Context, int64, int64) error
	getCommentFn           func(context.Context, int64) (store.Comment, error)
	listCommentsFn         func(context.Context, int64) ([]store.Comment, error)
	createCommentFn        func(context.Context, store.Comment, []string) (store.Comment, error)
	updateCommentFn        func(context.Context, int64, string, []string) (store.Comment, error)
	deleteCommentFn        func(context.Context, int64) error
	listMentionsForUserFn  func(context.Context, int64, int) ([]store.Mention, error)
	listMentionedUsersFn   func(context.Context, []string) ([]store.User, error)
	lookupRefreshSessionFn func(context.Context, string) (int64, error)
	isRevokedFn            func(context.Context, string) (bool, error)

	revokedRefresh []string
	revokedAccess  []string
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	user.ID = 100
	return user, nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByLogin(ctx context.Context, login string) (store.User, error) {
	if f.getUserByLoginFn != nil {
		return f.getUserByLoginFn(ctx, login)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) UserExists(ctx context.Context, email, username string, exceptID int64) (bool, error) {
	if f.userExistsFn != nil {
		return f.userExistsFn(ctx, email, username, exceptID)
	}
	return false, nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	if f.countUsersFn != nil {
		return f.countUsersFn(ctx)
	}
	return len(f.users), nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) SearchUsers(ctx context.Context, prefix string, limit int) ([]store.User, error) {
	if f.searchUsersFn != nil {
		return f.searchUsersFn(ctx, prefix, limit)
	}
	return nil, nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, id int64, update store.UserUpdate) (store.User, error) {
	if f.updateUserFn != nil {
		return f.updateUserFn(ctx, id, update)
	}
	return f.GetUserByID(ctx, id)
}

func (f *fakeStore) ReplaceUserProjects(ctx context.Context, userID int64, projects []string) error {
	if f.replaceUserProjectsFn != nil {
		return f.replaceUserProjectsFn(ctx, userID, projects)
	}
	return nil
}

func (f *fakeStore) ListReports(ctx context.Context, filter store.ReportFilter) ([]store.Report, int, error) {
	if f.listReportsFn != nil {
		return f.listReportsFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeStore) GetReport(ctx context.Context, id int64) (store.Report, error) {
	if f.getReportFn != nil {
		return f.getReportFn(ctx, id)
	}
	return store.Report{}, sql.ErrNoRows
}

func (f *fakeStore) CreateReport(ctx context.Context, report store.Report, attachments []store.Attachment, mentions []string) (store.Report, error) {
	if f.createReportFn != nil {
		return f.createReportFn(ctx, report, attachments, mentions)
	}
	report.ID = 1
	report.Attachments = attachments
	return report, nil
}

func (f *fakeStore) UpdateReport(ctx context.Context, id int64, update store.ReportUpdate, attachments []store.Attachment) (store.Report, error) {
	if f.updateReportFn != nil {
		return f.updateReportFn(ctx, id, update, attachments)
	}
	return f.GetReport(ctx, id)
}

func (f *fakeStore) DeleteReport(ctx context.Context, id int64) ([]store.Attachment, error) {
	if f.deleteReportFn != nil {
		return f.deleteReportFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) AddAttachments(ctx context.Context, reportID int64, attachments []store.Attachment) ([]store.Attachment, error) {
	if f.addAttachmentsFn != nil {
		return f.addAttachmentsFn(ctx, reportID, attachments)
	}
	return attachments, nil
}

func (f *fakeStore) GetAttachment(ctx context.Context, reportID, attachmentID int64) (store.Attachment, error) {
	if f.getAttachmentFn != nil {
		return f.getAttachmentFn(ctx, reportID, attachmentID)
	}
	return store.Attachment{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteAttachment(ctx context.Context, reportID, attachmentID int64) error {
	if f.deleteAttachmentFn != nil {
		return f.deleteAttachmentFn(ctx, reportID, attachmentID)
	}
	return nil
}

func (f *fakeStore) GetComment(ctx context.Context, id int64) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, id)
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) ListComments(ctx context.Context, reportID int64) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, reportID)
	}
	return nil, nil
}

func (f *fakeStore) CreateComment(ctx context.Context, comment store.Comment, mentions []string) (store.Comment, error) {
	if f.createCommentFn != nil {
		return f.createCommentFn(ctx, comment, mentions)
	}
	comment.ID = 1
	return comment, nil
}

func (f *fakeStore) UpdateComment(ctx context.Context, id int64, content string, mentions []string) (store.Comment, error) {
	if f.updateCommentFn != nil {
		return f.updateCommentFn(ctx, id, content, mentions)
	}
	comment, err := f.GetComment(ctx, id)
	comment.Content = content
	return comment, err
}

func (f *fakeStore) DeleteComment(ctx context.Context, id int64) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) ListMentionsForUser(ctx context.Context, userID int64, limit int) ([]store.Mention, error) {
	if f.listMentionsForUserFn != nil {
		return f.listMentionsForUserFn(ctx, userID, limit)
	}
	return nil, nil
}

func (f *fakeStore) ListMentionedUsers(ctx context.Context, usernames []string) ([]store.User, error) {
	if f.listMentionedUsersFn != nil {
		return f.listMentionedUsersFn(ctx, usernames)
	}
	return nil, nil
}

func (f *fakeStore) SaveRefreshSession(context.Context, string, int64, time.Time) error {
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, hash string) (int64, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, hash)
	}
	return 0, sql.ErrNoRows
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedRefresh = append(f.revokedRefresh, hash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedAccess = append(f.revokedAccess, jti)
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isRevokedFn != nil {
		return f.isRevokedFn(ctx, jti)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, revoked := range f.revokedAccess {
		if revoked == jti {
			return true, nil
		}
	}
	return false, nil
}

// fakeIndex records search writes.
type fakeIndex struct {
	reports  []search.ReportRecord
	comments []search.CommentRecord
	deleted  []int64
}

func (f *fakeIndex) Search(context.Context, search.Query) search.Response {
	return search.Response{Results: []search.Result{}}
}

func (f *fakeIndex) IndexReport(r search.ReportRecord) { f.reports = append(f.reports, r) }

func (f *fakeIndex) IndexComment(c search.CommentRecord) { f.comments = append(f.comments, c) }

func (f *fakeIndex) DeleteReport(id int64, commentIDs []int64) {
	f.deleted = append(f.deleted, commentIDs...)
}

func (f *fakeIndex) DeleteComments(ids []int64) { f.deleted = append(f.deleted, ids...) }

type sentMention struct {
	to   string
	data email.MentionData
}

type fakeMailer struct {
	sent []sentMention
}

func (m *fakeMailer) IsConfigured() bool { return true }

func (m *fakeMailer) SendMentionNotification(to string, data email.MentionData) error {
	m.sent = append(m.sent, sentMention{to: to, data: data})
	return nil
}

var (
	alice = store.User{ID: 1, Email: "alice@example.com", Username: "alice", FullName: "Alice A", Role: "analyst", IsActive: true}
	bob   = store.User{ID: 2, Email: "bob@example.com", Username: "bob", FullName: "Bob B", Role: "manager", IsActive: true}
	root  = store.User{ID: 3, Email: "root@example.com", Username: "root", FullName: "Root", Role: "admin", IsActive: true, IsSuperuser: true}
)

func newFakeStore(users ...store.User) *fakeStore {
	fs := &fakeStore{users: make(map[int64]store.User)}
	for _, u := range users {
		fs.users[u.ID] = u
	}
	return fs
}

func newTestService(fs *fakeStore) *Service {
	logger := slog.New(slog.DiscardHandler)
	return &Service{
		cfg: config.Config{
			JWTSecret:      "test-secret",
			AccessTTL:      time.Hour,
			RefreshTTL:     24 * time.Hour,
			MaxUploadBytes: 1 << 20,
		},
		store:     fs,
		sessions:  fs,
		passwords: authpw.NewService(fs),
		blobs:     blob.NewDiskStoreFs(afero.NewMemMapFs()),
		search:    search.NewService(nil, nil, logger),
		exporter:  export.NewService(export.Options{}),
		logger:    logger,
		now:       time.Now,
	}
}

// tokenFor issues an access token for user through the real session path.
func tokenFor(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}
