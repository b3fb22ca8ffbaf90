package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"reportdesk/internal/auth"
	"reportdesk/internal/blob"
	"reportdesk/internal/rbac"
	"reportdesk/internal/store"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func upload(name string, data []byte) Upload {
	return Upload{
		Filename: name,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return de.Code
}

func TestNormalizePagination(t *testing.T) {
	tests := []struct {
		skip, limit         int
		wantSkip, wantLimit int
	}{
		{skip: 0, limit: 0, wantSkip: 0, wantLimit: 10},
		{skip: -5, limit: 20, wantSkip: 0, wantLimit: 20},
		{skip: 30, limit: 500, wantSkip: 30, wantLimit: 100},
		{skip: 10, limit: -1, wantSkip: 10, wantLimit: 10},
	}
	for _, tc := range tests {
		got := NormalizePagination(tc.skip, tc.limit)
		if got.Skip != tc.wantSkip || got.Limit != tc.wantLimit {
			t.Errorf("NormalizePagination(%d, %d) = %+v, want skip=%d limit=%d", tc.skip, tc.limit, got, tc.wantSkip, tc.wantLimit)
		}
	}
}

func TestListReportsScopesNonSuperusersToOwnReports(t *testing.T) {
	var seen []store.ReportFilter
	fs := newFakeStore(alice, root)
	fs.listReportsFn = func(_ context.Context, filter store.ReportFilter) ([]store.Report, int, error) {
		seen = append(seen, filter)
		return []store.Report{{ID: 7, Title: "Q3", UserID: alice.ID}}, 35, nil
	}
	svc := newTestService(fs)

	payload, err := svc.ListReports(context.Background(), Session{User: alice}, Pagination{Skip: 20, Limit: 10}, " budget ")
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if seen[0].OwnerID == nil || *seen[0].OwnerID != alice.ID {
		t.Fatalf("expected owner filter for alice, got %+v", seen[0].OwnerID)
	}
	if seen[0].Search != "budget" {
		t.Fatalf("expected trimmed search, got %q", seen[0].Search)
	}
	if payload["page"] != 3 || payload["pages"] != 4 || payload["size"] != 10 || payload["total"] != 35 {
		t.Fatalf("unexpected page envelope: %+v", payload)
	}

	if _, err := svc.ListReports(context.Background(), Session{User: root}, Pagination{}, ""); err != nil {
		t.Fatalf("list reports as superuser: %v", err)
	}
	if seen[1].OwnerID != nil {
		t.Fatalf("expected no owner filter for superuser")
	}
	if seen[1].Limit != 10 {
		t.Fatalf("expected default limit 10, got %d", seen[1].Limit)
	}
}

func TestEmptyListHasZeroPages(t *testing.T) {
	svc := newTestService(newFakeStore(alice))
	payload, err := svc.ListReports(context.Background(), Session{User: alice}, Pagination{}, "")
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if payload["pages"] != 0 || payload["page"] != 1 {
		t.Fatalf("expected page 1 of 0, got %+v", payload)
	}
}

func TestReportAccessIsOwnerOrSuperuser(t *testing.T) {
	fs := newFakeStore(alice, bob, root)
	fs.getReportFn = func(_ context.Context, id int64) (store.Report, error) {
		if id != 5 {
			return store.Report{}, sql.ErrNoRows
		}
		return store.Report{ID: 5, Title: "Alice only", UserID: alice.ID}, nil
	}
	svc := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.GetReport(ctx, Session{User: alice}, 5); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.GetReport(ctx, Session{User: root}, 5); err != nil {
		t.Fatalf("superuser read: %v", err)
	}
	if _, err := svc.GetReport(ctx, Session{User: bob}, 5); domainCode(t, err) != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for non-owner, got %v", err)
	}
	if err := svc.DeleteReport(ctx, Session{User: bob}, 5); domainCode(t, err) != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN delete for non-owner, got %v", err)
	}
	if _, err := svc.GetReport(ctx, Session{User: alice}, 9); domainCode(t, err) != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestCreateThenDeleteReportLeavesNoFiles(t *testing.T) {
	mem := afero.NewMemMapFs()
	var stored store.Report
	fs := newFakeStore(alice)
	fs.createReportFn = func(_ context.Context, report store.Report, attachments []store.Attachment, mentions []string) (store.Report, error) {
		report.ID = 11
		for i := range attachments {
			attachments[i].ID = int64(i + 1)
			attachments[i].ReportID = report.ID
		}
		report.Attachments = attachments
		stored = report
		if !reflect.DeepEqual(mentions, []string{"bob"}) {
			t.Fatalf("expected mentions [bob], got %v", mentions)
		}
		return report, nil
	}
	fs.getReportFn = func(context.Context, int64) (store.Report, error) { return stored, nil }
	fs.deleteReportFn = func(context.Context, int64) ([]store.Attachment, error) { return stored.Attachments, nil }
	svc := newTestService(fs)
	svc.blobs = blob.NewDiskStoreFs(mem)
	ctx := context.Background()

	title := "Weekly"
	content := "ping @bob."
	payload, err := svc.CreateReport(ctx, Session{User: alice}, ReportInput{Title: &title, Content: &content}, []Upload{
		upload("notes.txt", []byte("hello")),
		upload("chart.png", pngHeader),
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	if len(payload["attachments"].([]map[string]any)) != 2 {
		t.Fatalf("expected 2 attachments in payload")
	}
	for _, a := range stored.Attachments {
		if ok, _ := afero.Exists(mem, a.FilePath); !ok {
			t.Fatalf("expected stored file %s", a.FilePath)
		}
	}
	if stored.Attachments[1].ContentType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %q", stored.Attachments[1].ContentType)
	}
	if stored.Attachments[0].SizeBytes != 5 {
		t.Fatalf("expected size 5, got %d", stored.Attachments[0].SizeBytes)
	}

	if err := svc.DeleteReport(ctx, Session{User: alice}, 11); err != nil {
		t.Fatalf("delete report: %v", err)
	}
	for _, a := range stored.Attachments {
		if ok, _ := afero.Exists(mem, a.FilePath); ok {
			t.Fatalf("expected %s removed", a.FilePath)
		}
	}
}

func TestCreateReportRemovesFilesWhenInsertFails(t *testing.T) {
	mem := afero.NewMemMapFs()
	var keys []string
	fs := newFakeStore(alice)
	fs.createReportFn = func(_ context.Context, _ store.Report, attachments []store.Attachment, _ []string) (store.Report, error) {
		for _, a := range attachments {
			keys = append(keys, a.FilePath)
		}
		return store.Report{}, errors.New("insert failed")
	}
	svc := newTestService(fs)
	svc.blobs = blob.NewDiskStoreFs(mem)

	title := "Broken"
	_, err := svc.CreateReport(context.Background(), Session{User: alice}, ReportInput{Title: &title}, []Upload{upload("a.txt", []byte("a"))})
	if err == nil {
		t.Fatalf("expected create to fail")
	}
	if len(keys) != 1 {
		t.Fatalf("expected one saved file before insert, got %d", len(keys))
	}
	if ok, _ := afero.Exists(mem, keys[0]); ok {
		t.Fatalf("expected orphan file %s removed", keys[0])
	}
}

func TestCreateReportRequiresTitle(t *testing.T) {
	svc := newTestService(newFakeStore(alice))
	blank := "   "
	_, err := svc.CreateReport(context.Background(), Session{User: alice}, ReportInput{Title: &blank}, nil)
	if domainCode(t, err) != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestUpdateReportNotifiesOnlyNewMentions(t *testing.T) {
	existing := store.Report{ID: 4, Title: "Plan", Content: "cc @bob", UserID: alice.ID}
	carol := store.User{ID: 9, Email: "carol@example.com", Username: "carol", IsActive: true}
	var asked []string
	fs := newFakeStore(alice, bob, carol)
	fs.getReportFn = func(context.Context, int64) (store.Report, error) { return existing, nil }
	fs.updateReportFn = func(_ context.Context, _ int64, update store.ReportUpdate, _ []store.Attachment) (store.Report, error) {
		updated := existing
		updated.Content = *update.Content
		return updated, nil
	}
	fs.listMentionedUsersFn = func(_ context.Context, names []string) ([]store.User, error) {
		asked = names
		return []store.User{carol}, nil
	}
	mailer := &fakeMailer{}
	svc := newTestService(fs)
	svc.mailer = mailer

	content := "cc @bob and @carol"
	if _, err := svc.UpdateReport(context.Background(), Session{User: alice}, 4, ReportInput{Content: &content}, nil); err != nil {
		t.Fatalf("update report: %v", err)
	}
	if !reflect.DeepEqual(asked, []string{"carol"}) {
		t.Fatalf("expected only carol looked up, got %v", asked)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "carol@example.com" {
		t.Fatalf("expected one mail to carol, got %+v", mailer.sent)
	}
}

func TestUpdateReportRenameReindexesComments(t *testing.T) {
	existing := store.Report{ID: 4, Title: "Plan", Content: "body", UserID: alice.ID}
	parent := int64(1)
	fs := newFakeStore(alice)
	fs.getReportFn = func(context.Context, int64) (store.Report, error) { return existing, nil }
	fs.updateReportFn = func(_ context.Context, _ int64, update store.ReportUpdate, _ []store.Attachment) (store.Report, error) {
		updated := existing
		if update.Title != nil {
			updated.Title = *update.Title
		}
		return updated, nil
	}
	fs.listCommentsFn = func(context.Context, int64) ([]store.Comment, error) {
		return []store.Comment{
			{ID: 1, Content: "first", ReportID: 4, UserID: bob.ID},
			{ID: 2, Content: "reply", ReportID: 4, UserID: alice.ID, ParentID: &parent},
		}, nil
	}
	index := &fakeIndex{}
	svc := newTestService(fs)
	svc.search = index

	content := "body edited"
	if _, err := svc.UpdateReport(context.Background(), Session{User: alice}, 4, ReportInput{Content: &content}, nil); err != nil {
		t.Fatalf("update report: %v", err)
	}
	if len(index.comments) != 0 {
		t.Fatalf("expected comments untouched when the title is unchanged, got %+v", index.comments)
	}

	title := "Plan v2"
	if _, err := svc.UpdateReport(context.Background(), Session{User: alice}, 4, ReportInput{Title: &title}, nil); err != nil {
		t.Fatalf("rename report: %v", err)
	}
	if len(index.comments) != 2 {
		t.Fatalf("expected both comments reindexed, got %+v", index.comments)
	}
	for _, c := range index.comments {
		if c.ReportTitle != "Plan v2" || c.ReportID != 4 || c.ReportOwnerID != alice.ID {
			t.Fatalf("stale comment record %+v", c)
		}
	}
}

func TestMentionMailSkipsActorAndInactiveUsers(t *testing.T) {
	dave := store.User{ID: 10, Email: "dave@example.com", Username: "dave", IsActive: false}
	fs := newFakeStore(alice, bob)
	fs.getReportFn = func(context.Context, int64) (store.Report, error) {
		return store.Report{ID: 1, Title: "R", UserID: bob.ID}, nil
	}
	fs.listMentionedUsersFn = func(context.Context, []string) ([]store.User, error) {
		return []store.User{alice, bob, dave}, nil
	}
	mailer := &fakeMailer{}
	svc := newTestService(fs)
	svc.mailer = mailer
	svc.cfg.PublicBaseURL = "https://reports.example.com/"

	_, err := svc.CreateComment(context.Background(), Session{User: alice}, 1, CommentInput{Content: "@alice @bob @dave look"})
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != bob.Email {
		t.Fatalf("expected only bob notified, got %+v", mailer.sent)
	}
	data := mailer.sent[0].data
	if !data.InComment || data.ReportURL != "https://reports.example.com/reports/1" || data.ActorName != "Alice A" {
		t.Fatalf("unexpected mention data: %+v", data)
	}
}

func TestCreateCommentWithForeignParentIsInvalidParent(t *testing.T) {
	fs := newFakeStore(alice)
	fs.getReportFn = func(context.Context, int64) (store.Report, error) { return store.Report{ID: 2, UserID: alice.ID}, nil }
	fs.createCommentFn = func(context.Context, store.Comment, []string) (store.Comment, error) {
		return store.Comment{}, store.ErrParentMismatch
	}
	svc := newTestService(fs)

	parent := int64(99)
	_, err := svc.CreateComment(context.Background(), Session{User: alice}, 2, CommentInput{Content: "reply", ParentID: &parent})
	if domainCode(t, err) != "INVALID_PARENT" {
		t.Fatalf("expected INVALID_PARENT, got %v", err)
	}
}

func TestCommentChangesAreAuthorOnly(t *testing.T) {
	fs := newFakeStore(alice, bob, root)
	fs.getReportFn = func(_ context.Context, id int64) (store.Report, error) {
		return store.Report{ID: id, UserID: alice.ID}, nil
	}
	fs.getCommentFn = func(context.Context, int64) (store.Comment, error) {
		return store.Comment{ID: 8, ReportID: 1, UserID: bob.ID, Content: "mine"}, nil
	}
	svc := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.UpdateComment(ctx, Session{User: root}, 1, 8, CommentInput{Content: "edit"}); domainCode(t, err) != "FORBIDDEN" {
		t.Fatalf("expected superuser denied, got %v", err)
	}
	if err := svc.DeleteComment(ctx, Session{User: alice}, 1, 8); domainCode(t, err) != "FORBIDDEN" {
		t.Fatalf("expected report owner denied, got %v", err)
	}
	if _, err := svc.UpdateComment(ctx, Session{User: bob}, 2, 8, CommentInput{Content: "edit"}); domainCode(t, err) != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND for comment of another report, got %v", err)
	}
	if _, err := svc.UpdateComment(ctx, Session{User: bob}, 1, 8, CommentInput{Content: "edit"}); err != nil {
		t.Fatalf("author update: %v", err)
	}
}

func TestSubtreeIDs(t *testing.T) {
	p := func(id int64) *int64 { return &id }
	comments := []store.Comment{
		{ID: 1},
		{ID: 2, ParentID: p(1)},
		{ID: 3, ParentID: p(2)},
		{ID: 4},
		{ID: 5, ParentID: p(1)},
	}
	got := subtreeIDs(comments, 1)
	if !reflect.DeepEqual(got, []int64{1, 2, 5, 3}) {
		t.Fatalf("unexpected subtree: %v", got)
	}
}

func TestAssignProjects(t *testing.T) {
	director := store.User{ID: 20, Username: "dina", Role: "director", IsActive: true}
	developer := store.User{ID: 21, Username: "dev", Role: "developer", IsActive: true}

	tests := []struct {
		name      string
		actor     store.User
		target    int64
		requested []string
		wantCode  string
		want      []string
	}{
		{name: "analyst cannot assign", actor: alice, target: developer.ID, requested: []string{"MDI"}, wantCode: "FORBIDDEN"},
		{name: "manager assigns requested", actor: bob, target: developer.ID, requested: []string{"MDI", "HIMS", "MDI"}, want: []string{"MDI", "HIMS"}},
		{name: "director target gets everything", actor: bob, target: director.ID, requested: []string{"MDI"}, want: rbac.Projects()},
		{name: "superuser may assign", actor: root, target: developer.ID, requested: []string{}, want: []string{}},
		{name: "unknown project rejected", actor: bob, target: developer.ID, requested: []string{"Nope"}, wantCode: "VALIDATION_ERROR"},
		{name: "missing target", actor: bob, target: 404, requested: []string{"MDI"}, wantCode: "NOT_FOUND"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var replaced []string
			fs := newFakeStore(alice, bob, root, director, developer)
			fs.replaceUserProjectsFn = func(_ context.Context, _ int64, projects []string) error {
				replaced = projects
				return nil
			}
			svc := newTestService(fs)

			_, err := svc.AssignProjects(context.Background(), Session{User: tc.actor}, tc.target, ProjectsInput{Projects: tc.requested})
			if tc.wantCode != "" {
				if domainCode(t, err) != tc.wantCode {
					t.Fatalf("expected %s, got %v", tc.wantCode, err)
				}
				if replaced != nil {
					t.Fatalf("expected no write on failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("assign projects: %v", err)
			}
			if !reflect.DeepEqual(replaced, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, replaced)
			}
		})
	}
}

func TestUpdateUserRejectsTakenUsername(t *testing.T) {
	fs := newFakeStore(alice, root)
	fs.userExistsFn = func(_ context.Context, email, username string, exceptID int64) (bool, error) {
		if email != "" || username != "bob" || exceptID != alice.ID {
			t.Fatalf("unexpected exists check %q %q %d", email, username, exceptID)
		}
		return true, nil
	}
	svc := newTestService(fs)

	name := " bob "
	_, err := svc.UpdateUser(context.Background(), Session{User: root}, alice.ID, UserUpdateInput{Username: &name})
	if domainCode(t, err) != "USER_EXISTS" {
		t.Fatalf("expected USER_EXISTS, got %v", err)
	}
	if _, err := svc.UpdateUser(context.Background(), Session{User: alice}, alice.ID, UserUpdateInput{}); domainCode(t, err) != "FORBIDDEN" {
		t.Fatalf("expected non-superuser denied, got %v", err)
	}
}

func TestUpdateUserRoleChangeSyncsProjects(t *testing.T) {
	director := "director"
	developer := "developer"
	yes := true

	tests := []struct {
		name  string
		input UserUpdateInput
		want  []string
	}{
		{name: "promoted to director", input: UserUpdateInput{Role: &director}, want: rbac.Projects()},
		{name: "made superuser", input: UserUpdateInput{IsSuperuser: &yes}, want: rbac.Projects()},
		{name: "plain role keeps projects", input: UserUpdateInput{Role: &developer}, want: nil},
		{name: "no role change", input: UserUpdateInput{}, want: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := alice
			target.Projects = []string{"MDI"}
			var replaced []string
			fs := newFakeStore(target, root)
			fs.updateUserFn = func(_ context.Context, _ int64, update store.UserUpdate) (store.User, error) {
				updated := target
				if update.Role != nil {
					updated.Role = *update.Role
				}
				if update.IsSuperuser != nil {
					updated.IsSuperuser = *update.IsSuperuser
				}
				return updated, nil
			}
			fs.replaceUserProjectsFn = func(_ context.Context, _ int64, projects []string) error {
				replaced = projects
				return nil
			}
			svc := newTestService(fs)

			payload, err := svc.UpdateUser(context.Background(), Session{User: root}, target.ID, tc.input)
			if err != nil {
				t.Fatalf("update user: %v", err)
			}
			if !reflect.DeepEqual(replaced, tc.want) {
				t.Fatalf("expected projects write %v, got %v", tc.want, replaced)
			}
			wantPayload := tc.want
			if wantPayload == nil {
				wantPayload = target.Projects
			}
			if !reflect.DeepEqual(payload["projects"], wantPayload) {
				t.Fatalf("expected payload projects %v, got %v", wantPayload, payload["projects"])
			}
		})
	}
}

func TestUploadInlineAcceptsOnlyImages(t *testing.T) {
	svc := newTestService(newFakeStore(alice))
	svc.cfg.PublicBaseURL = "http://cdn.local"

	if _, err := svc.UploadInline(context.Background(), upload("notes.txt", []byte("plain text"))); domainCode(t, err) != "UNSUPPORTED_MEDIA" {
		t.Fatalf("expected UNSUPPORTED_MEDIA, got %v", err)
	}

	payload, err := svc.UploadInline(context.Background(), upload("diagram.png", pngHeader))
	if err != nil {
		t.Fatalf("upload inline: %v", err)
	}
	url, _ := payload["url"].(string)
	if !strings.HasPrefix(url, "http://cdn.local/api/uploads/inline/") || !strings.HasSuffix(url, "/diagram.png") {
		t.Fatalf("unexpected url %q", url)
	}
	if payload["alt"] != "diagram" {
		t.Fatalf("expected alt diagram, got %v", payload["alt"])
	}

	key := strings.TrimPrefix(url, "http://cdn.local/api/uploads/")
	contentType, rc, err := svc.OpenInline(context.Background(), key)
	if err != nil {
		t.Fatalf("open inline: %v", err)
	}
	defer rc.Close()
	if contentType != "image/png" {
		t.Fatalf("expected image/png, got %q", contentType)
	}
	if _, _, err := svc.OpenInline(context.Background(), "2024/01/x/secret.txt"); domainCode(t, err) != "NOT_FOUND" {
		t.Fatalf("expected non-inline key hidden, got %v", err)
	}
}

func TestRefreshRotatesAndRevokesOldToken(t *testing.T) {
	fs := newFakeStore(alice)
	fs.lookupRefreshSessionFn = func(_ context.Context, hash string) (int64, error) {
		if hash != auth.HashToken("old-refresh") {
			t.Fatalf("expected hashed lookup, got %q", hash)
		}
		return alice.ID, nil
	}
	svc := newTestService(fs)

	session, err := svc.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if session.RefreshToken == "" || session.RefreshToken == "old-refresh" {
		t.Fatalf("expected a new refresh token")
	}
	if len(fs.revokedRefresh) != 1 || fs.revokedRefresh[0] != auth.HashToken("old-refresh") {
		t.Fatalf("expected old refresh token revoked, got %v", fs.revokedRefresh)
	}
	if _, err := svc.Refresh(context.Background(), ""); domainCode(t, err) != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED for empty token, got %v", err)
	}
}

func TestSessionFromTokenRejectsInactiveAndRevoked(t *testing.T) {
	fs := newFakeStore(alice)
	svc := newTestService(fs)
	session, err := svc.issueSession(context.Background(), alice)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	if _, err := svc.SessionFromToken(context.Background(), session.Token); err != nil {
		t.Fatalf("valid token: %v", err)
	}

	inactive := alice
	inactive.IsActive = false
	fs.users[alice.ID] = inactive
	if _, err := svc.SessionFromToken(context.Background(), session.Token); domainCode(t, err) != "ACCOUNT_INACTIVE" {
		t.Fatalf("expected ACCOUNT_INACTIVE, got %v", err)
	}
	fs.users[alice.ID] = alice

	svc.Logout(context.Background(), &session, session.RefreshToken)
	if _, err := svc.SessionFromToken(context.Background(), session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked token rejected, got %v", err)
	}
}

func TestBootstrapCreatesSuperuserOnlyOnEmptyTable(t *testing.T) {
	var created []store.User
	fs := newFakeStore()
	fs.createUserFn = func(_ context.Context, user store.User) (store.User, error) {
		created = append(created, user)
		user.ID = 1
		return user, nil
	}
	var granted []string
	fs.replaceUserProjectsFn = func(_ context.Context, userID int64, projects []string) error {
		if userID != 1 {
			t.Fatalf("unexpected projects target %d", userID)
		}
		granted = projects
		return nil
	}
	svc := newTestService(fs)
	svc.cfg.AdminEmail = "admin@example.com"
	svc.cfg.AdminPassword = "change-me-now"

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(created) != 1 || !created[0].IsSuperuser || created[0].Role != "admin" || created[0].Username != "admin" {
		t.Fatalf("unexpected bootstrap user: %+v", created)
	}
	if !reflect.DeepEqual(granted, rbac.Projects()) {
		t.Fatalf("expected bootstrap superuser granted every project, got %v", granted)
	}

	fs.countUsersFn = func(context.Context) (int, error) { return 1, nil }
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected no second superuser")
	}
}

func TestExportMapsErrors(t *testing.T) {
	fs := newFakeStore(alice)
	fs.getReportFn = func(context.Context, int64) (store.Report, error) {
		return store.Report{ID: 1, Title: "Q3 Summary", Content: "# Heading", UserID: alice.ID}, nil
	}
	svc := newTestService(fs)

	if _, err := svc.ExportReport(context.Background(), Session{User: alice}, 1, "odt", false); domainCode(t, err) != "UNSUPPORTED_FORMAT" {
		t.Fatalf("expected UNSUPPORTED_FORMAT, got %v", err)
	}
	result, err := svc.ExportReport(context.Background(), Session{User: alice}, 1, "", true)
	if err != nil {
		t.Fatalf("export html: %v", err)
	}
	if result.Filename != "Q3-Summary.html" || !bytes.Contains(result.Data, []byte("<h1")) {
		t.Fatalf("unexpected export %q", result.Filename)
	}
}

func TestMapErrorStatuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: forbidden(), status: http.StatusForbidden, code: "FORBIDDEN"},
		{err: sql.ErrNoRows, status: http.StatusNotFound, code: "NOT_FOUND"},
		{err: auth.ErrExpiredToken, status: http.StatusUnauthorized, code: "TOKEN_EXPIRED"},
		{err: auth.ErrInvalidToken, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{err: &http.MaxBytesError{Limit: 10}, status: http.StatusRequestEntityTooLarge, code: "PAYLOAD_TOO_LARGE"},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tc := range tests {
		status, code, _, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
