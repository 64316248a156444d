package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"betareader/pkg/domain"
	"betareader/pkg/store"
)

type testEnv struct {
	app   *App
	store *store.GormStore
}

func newTestApp(t *testing.T, admins ...string) testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.NewGormStore(fmt.Sprintf("sqlite:file:app_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	sessions, err := store.NewJWTSessionStore("0123456789abcdef0123456789abcdef", time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	a, err := New(Config{Store: s, Sessions: sessions, AdminEmails: admins})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return testEnv{app: a, store: s}
}

func (e testEnv) signUp(t *testing.T, email string) (domain.User, string) {
	t.Helper()
	ctx := context.Background()
	code := "code-" + email
	if err := e.app.CreateInviteCode(ctx, code); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	user, token, err := e.app.SignUp(ctx, SignUpInput{Name: "Reader", Email: email, Password: "pw", InviteCode: code})
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return user, token
}

func strPtr(s string) *string { return &s }

func TestSignUpValidatesAndOpensSession(t *testing.T) {
	env := newTestApp(t)
	ctx := context.Background()
	if err := env.app.CreateInviteCode(ctx, "ABC"); err != nil {
		t.Fatalf("create invite: %v", err)
	}

	if _, _, err := env.app.SignUp(ctx, SignUpInput{Name: " ", Email: "a@example.com", Password: "pw", InviteCode: "ABC"}); !errors.Is(err, ErrMissingSignupFields) {
		t.Fatalf("expected missing fields, got %v", err)
	}
	if _, _, err := env.app.SignUp(ctx, SignUpInput{Name: "A", Email: "a@example.com", Password: "pw", InviteCode: "NOPE"}); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected invalid invite, got %v", err)
	}

	user, token, err := env.app.SignUp(ctx, SignUpInput{Name: " Ann ", Email: " Ann@Example.COM ", Password: "pw", InviteCode: " ABC "})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Name != "Ann" || user.Email != "ann@example.com" || user.IsAdmin {
		t.Fatalf("unexpected user %+v", user)
	}
	got, ok, err := env.app.UserFromToken(ctx, token)
	if err != nil || !ok || got.ID != user.ID {
		t.Fatalf("token lookup: %+v ok=%v err=%v", got, ok, err)
	}

	if _, _, err := env.app.SignUp(ctx, SignUpInput{Name: "B", Email: "b@example.com", Password: "pw", InviteCode: "ABC"}); !errors.Is(err, ErrInviteUsed) {
		t.Fatalf("expected used invite, got %v", err)
	}
	if err := env.app.CreateInviteCode(ctx, "DEF"); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, _, err := env.app.SignUp(ctx, SignUpInput{Name: "A", Email: "ann@example.com", Password: "pw", InviteCode: "DEF"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected taken email, got %v", err)
	}
}

func TestSignUpGrantsConfiguredAdmins(t *testing.T) {
	env := newTestApp(t, "Boss@Example.com")
	boss, _ := env.signUp(t, "boss@example.com")
	reader, _ := env.signUp(t, "reader@example.com")
	if !boss.IsAdmin || reader.IsAdmin {
		t.Fatalf("unexpected admin flags boss=%v reader=%v", boss.IsAdmin, reader.IsAdmin)
	}
}

func TestLoginAndLogout(t *testing.T) {
	env := newTestApp(t)
	ctx := context.Background()
	env.signUp(t, "reader@example.com")

	for _, tc := range []struct{ email, password string }{
		{"reader@example.com", "wrong"},
		{"nobody@example.com", "pw"},
		{"", ""},
	} {
		if _, _, err := env.app.Login(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%q: expected invalid credentials, got %v", tc.email, err)
		}
	}

	_, token, err := env.app.Login(ctx, "  READER@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := env.app.Logout(token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok, err := env.app.UserFromToken(ctx, token); err != nil || ok {
		t.Fatalf("expected logged-out token to be rejected, ok=%v err=%v", ok, err)
	}
}

func TestReaderSettingsClampAndIgnore(t *testing.T) {
	env := newTestApp(t)
	ctx := context.Background()
	user, _ := env.signUp(t, "reader@example.com")

	got, err := env.app.ReaderSettings(ctx, user.ID)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if got.Theme != domain.ThemePaper || got.FontScale != 1.0 || got.LineHeight != 1.65 {
		t.Fatalf("unexpected defaults %+v", got)
	}

	big, small, tall := 5.0, 0.1, 9.0
	got, err = env.app.UpdateReaderSettings(ctx, user.ID, SettingsUpdate{Theme: strPtr("night"), FontScale: &big, LineHeight: &tall})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Theme != domain.ThemeNight || got.FontScale != 1.6 || got.LineHeight != 2.4 {
		t.Fatalf("unexpected clamped settings %+v", got)
	}

	got, err = env.app.UpdateReaderSettings(ctx, user.ID, SettingsUpdate{Theme: strPtr("neon"), FontScale: &small})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Theme != domain.ThemeNight || got.FontScale != 0.75 || got.LineHeight != 2.4 {
		t.Fatalf("unexpected settings %+v", got)
	}

	stored, err := env.app.ReaderSettings(ctx, user.ID)
	if err != nil || stored != got {
		t.Fatalf("expected stored %+v, got %+v err=%v", got, stored, err)
	}
}

func TestResourceValidation(t *testing.T) {
	env := newTestApp(t)
	ctx := context.Background()
	user, _ := env.signUp(t, "reader@example.com")

	checks := []struct {
		want string
		err  error
	}{
		{"Missing chapterId", env.app.SaveProgress(ctx, user.ID, "  ", 3)},
		{"Missing cfi", env.app.SaveEpubProgress(ctx, user.ID, EpubLocation{})},
		{"Missing chapterId or text", second(env.app.AddNote(ctx, user.ID, NoteInput{ChapterID: "ch1", Text: " "}))},
		{"Missing text", second(env.app.AddEpubNote(ctx, user.ID, EpubNoteInput{EpubLocation: EpubLocation{CFI: "epubcfi(/6/2)"}}))},
		{"Invalid scope", second(env.app.SubmitFeedback(ctx, user.ID, FeedbackInput{Scope: "other", Text: "x"}))},
		{"chapterId required for chapter feedback", second(env.app.SubmitFeedback(ctx, user.ID, FeedbackInput{Scope: "chapter", Text: "typo"}))},
		{"Text required", second(env.app.SubmitFeedback(ctx, user.ID, FeedbackInput{Scope: "general", Text: "  "}))},
		{"Missing code", env.app.CreateInviteCode(ctx, " ")},
		{"Invalid status", env.app.SetFeedbackStatus(ctx, 1, "done")},
	}
	for _, c := range checks {
		var vErr *ValidationError
		if !errors.As(c.err, &vErr) || vErr.Message != c.want {
			t.Fatalf("expected validation error %q, got %v", c.want, c.err)
		}
	}
	if err := env.app.EditNote(ctx, user.ID, 1, NoteEdit{Text: ""}); err == nil || err.Error() != "Missing text" {
		t.Fatalf("expected missing text, got %v", err)
	}
}

func second(_ int64, err error) error { return err }

func TestBookmarksAreOwnerScoped(t *testing.T) {
	env := newTestApp(t)
	ctx := context.Background()
	alice, _ := env.signUp(t, "alice@example.com")
	bob, _ := env.signUp(t, "bob@example.com")

	id, err := env.app.AddBookmark(ctx, alice.ID, BookmarkInput{ChapterID: " ch1 ", PositionSeconds: 12.5, Label: strPtr("  ")})
	if err != nil {
		t.Fatalf("add bookmark: %v", err)
	}
	items, err := env.app.ListBookmarks(ctx, alice.ID, "ch1")
	if err != nil || len(items) != 1 {
		t.Fatalf("list: %v %v", items, err)
	}
	if items[0].ChapterID != "ch1" || items[0].Label != nil {
		t.Fatalf("expected trimmed chapter and null label, got %+v", items[0])
	}

	if err := env.app.DeleteBookmark(ctx, bob.ID, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for foreign delete, got %v", err)
	}
	if err := env.app.DeleteBookmark(ctx, alice.ID, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestEditNoteKeepsUnsetFields(t *testing.T) {
	env := newTestApp(t)
	ctx := context.Background()
	user, _ := env.signUp(t, "reader@example.com")

	id, err := env.app.AddNote(ctx, user.ID, NoteInput{ChapterID: "ch1", Text: "first", Type: strPtr("typo"), Severity: strPtr("low"), Spoiler: true})
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	err = env.app.EditNote(ctx, user.ID, id, NoteEdit{
		Text:     " second ",
		Severity: domain.Patch[*string]{Set: true, Value: strPtr(" ")},
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	notes, err := env.app.ListNotes(ctx, user.ID, "")
	if err != nil || len(notes) != 1 {
		t.Fatalf("list: %v %v", notes, err)
	}
	n := notes[0]
	if n.Text != "second" || n.Type == nil || *n.Type != "typo" || n.Severity != nil || !n.Spoiler {
		t.Fatalf("unexpected note %+v", n)
	}
}

func TestEpubNoteExcerptIsStoredVerbatim(t *testing.T) {
	env := newTestApp(t)
	ctx := context.Background()
	user, _ := env.signUp(t, "reader@example.com")

	excerpts := []struct {
		in   string
		want *string
	}{
		{"  if a<b then the hero wins ", strPtr("if a<b then the hero wins")},
		{"Tom &amp; Jerry", strPtr("Tom &amp; Jerry")},
		{"x <3 y", strPtr("x <3 y")},
		{"<p>It was <em>dark</em>.</p>", strPtr("<p>It was <em>dark</em>.</p>")},
		{"   ", nil},
	}
	for _, tc := range excerpts {
		in, want := tc.in, tc.want
		id, err := env.app.AddEpubNote(ctx, user.ID, EpubNoteInput{
			EpubLocation: EpubLocation{CFI: "epubcfi(/6/4)"},
			Text:         "nice",
			Excerpt:      strPtr(in),
		})
		if err != nil {
			t.Fatalf("add epub note %q: %v", in, err)
		}
		notes, err := env.app.ListEpubNotes(ctx, user.ID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var got *string
		for _, n := range notes {
			if n.ID == id {
				got = n.Excerpt
			}
		}
		switch {
		case want == nil && got != nil:
			t.Fatalf("%q: expected nil, got %q", in, *got)
		case want != nil && (got == nil || *got != *want):
			t.Fatalf("%q: expected %q, got %v", in, *want, got)
		}
	}
}

func TestFeedbackFlow(t *testing.T) {
	env := newTestApp(t)
	ctx := context.Background()
	user, _ := env.signUp(t, "reader@example.com")

	summary, err := env.app.MyFeedback(ctx, user.ID)
	if err != nil || summary.Count != 0 || summary.LatestCreatedAt != nil {
		t.Fatalf("unexpected empty summary %+v err=%v", summary, err)
	}
	id, err := env.app.SubmitFeedback(ctx, user.ID, FeedbackInput{Scope: "chapter", ChapterID: strPtr("ch2"), Text: "typo", DraftVersion: strPtr("v3")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	summary, err = env.app.MyFeedback(ctx, user.ID)
	if err != nil || summary.Count != 1 || summary.LatestCreatedAt == nil {
		t.Fatalf("unexpected summary %+v err=%v", summary, err)
	}

	if err := env.app.SetFeedbackStatus(ctx, id, " TRIAGED "); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := env.app.SetFeedbackStatus(ctx, id+100, "fixed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	all, err := env.app.ListFeedback(ctx)
	if err != nil || len(all) != 1 || all[0].Status != domain.FeedbackTriaged {
		t.Fatalf("unexpected feedback %+v err=%v", all, err)
	}
}

func TestInviteCodesAdmin(t *testing.T) {
	env := newTestApp(t)
	ctx := context.Background()
	if err := env.app.CreateInviteCode(ctx, "ZZZ"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.app.CreateInviteCode(ctx, " ZZZ "); !errors.Is(err, ErrInviteExists) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	env.signUp(t, "reader@example.com")

	codes, err := env.app.ListInviteCodes(ctx)
	if err != nil || len(codes) != 2 {
		t.Fatalf("list: %+v %v", codes, err)
	}
	if codes[0].Code != "ZZZ" || codes[0].UsedAt != nil || codes[1].UsedAt == nil {
		t.Fatalf("expected unused code first, got %+v", codes)
	}
}
