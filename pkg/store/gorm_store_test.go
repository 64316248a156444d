package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"betareader/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := NewGormStore(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *GormStore, code, email string) domain.User {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateInviteCode(ctx, code); err != nil {
		t.Fatalf("create invite %s: %v", code, err)
	}
	u, err := s.SignUp(ctx, domain.User{Name: "Reader", Email: email, PasswordHash: "hash"}, code)
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return u
}

func strPtr(s string) *string { return &s }

func TestSignUpConsumesInvite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "ALPHA", "a@example.com")
	if u.ID == 0 {
		t.Fatalf("expected assigned user id")
	}
	if u.Settings.Theme != domain.ThemePaper || u.Settings.FontScale != domain.DefaultFontScale {
		t.Fatalf("expected default reader settings, got %+v", u.Settings)
	}

	codes, err := s.ListInviteCodes(ctx)
	if err != nil {
		t.Fatalf("list invites: %v", err)
	}
	if len(codes) != 1 || codes[0].UsedAt == nil || codes[0].UsedByEmail == nil || *codes[0].UsedByEmail != "a@example.com" {
		t.Fatalf("expected consumed invite, got %+v", codes)
	}

	_, err = s.SignUp(ctx, domain.User{Name: "B", Email: "b@example.com", PasswordHash: "hash"}, "ALPHA")
	if !errors.Is(err, ErrInviteUsed) {
		t.Fatalf("expected ErrInviteUsed, got %v", err)
	}
	_, err = s.SignUp(ctx, domain.User{Name: "B", Email: "b@example.com", PasswordHash: "hash"}, "NOPE")
	if !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid, got %v", err)
	}
}

func TestSignUpRejectsTakenEmailWithoutConsumingInvite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "ALPHA", "a@example.com")
	if err := s.CreateInviteCode(ctx, "BETA"); err != nil {
		t.Fatalf("create invite: %v", err)
	}

	_, err := s.SignUp(ctx, domain.User{Name: "Again", Email: "a@example.com", PasswordHash: "hash"}, "BETA")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	codes, err := s.ListInviteCodes(ctx)
	if err != nil {
		t.Fatalf("list invites: %v", err)
	}
	if codes[0].Code != "BETA" || codes[0].UsedAt != nil {
		t.Fatalf("expected BETA unused and listed first, got %+v", codes)
	}
}

// SQLite serializes these transactions, so losers fail at the initial
// used_at check. TestSignUpLosesInviteClaimedMidTransaction covers the
// conditional claim.
func TestConcurrentSignUpsShareOneInvite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateInviteCode(ctx, "ONCE"); err != nil {
		t.Fatalf("create invite: %v", err)
	}

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.SignUp(ctx, domain.User{
				Name:         "Racer",
				Email:        fmt.Sprintf("r%d@example.com", i),
				PasswordHash: "hash",
			}, "ONCE")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInviteUsed) {
				t.Errorf("unexpected signup error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one signup, got %d", successes)
	}
}

func TestSignUpLosesInviteClaimedMidTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateInviteCode(ctx, "RACE"); err != nil {
		t.Fatalf("create invite: %v", err)
	}

	// Claim the invite from inside the signup transaction, after the user
	// insert and before the invite is marked used.
	err := s.db.Callback().Create().After("gorm:create").Register("test:claim_invite", func(db *gorm.DB) {
		if db.Error != nil || db.Statement.Table != "users" {
			return
		}
		db.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE invite_codes SET used_at = ?, used_by_email = ? WHERE code = ?", time.Now().UTC(), "other@example.com", "RACE")
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err = s.SignUp(ctx, domain.User{Name: "Late", Email: "late@example.com", PasswordHash: "hash"}, "RACE")
	if !errors.Is(err, ErrInviteUsed) {
		t.Fatalf("expected ErrInviteUsed, got %v", err)
	}
	if _, ok, err := s.GetUserByEmail(ctx, "late@example.com"); err != nil || ok {
		t.Fatalf("user insert should roll back: ok=%v err=%v", ok, err)
	}
	codes, err := s.ListInviteCodes(ctx)
	if err != nil {
		t.Fatalf("list invites: %v", err)
	}
	if len(codes) != 1 || codes[0].UsedAt != nil {
		t.Fatalf("claim made inside the failed transaction should roll back: %+v", codes)
	}
}

func TestCreateInviteCodeDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateInviteCode(ctx, "DUP"); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if err := s.CreateInviteCode(ctx, "DUP"); !errors.Is(err, ErrInviteExists) {
		t.Fatalf("expected ErrInviteExists, got %v", err)
	}
}

func TestUpsertProgressKeepsOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "ALPHA", "a@example.com")

	for _, pos := range []float64{10, 20} {
		if err := s.UpsertProgress(ctx, domain.ListeningProgress{UserID: u.ID, ChapterID: "ch1", PositionSeconds: pos}); err != nil {
			t.Fatalf("upsert progress: %v", err)
		}
	}
	items, err := s.ListProgress(ctx, u.ID)
	if err != nil {
		t.Fatalf("list progress: %v", err)
	}
	if len(items) != 1 || items[0].PositionSeconds != 20 {
		t.Fatalf("expected one row at 20s, got %+v", items)
	}
}

func TestUpsertEpubProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "ALPHA", "a@example.com")

	if _, ok, err := s.GetEpubProgress(ctx, u.ID); err != nil || ok {
		t.Fatalf("expected no epub progress, ok=%v err=%v", ok, err)
	}
	if err := s.UpsertEpubProgress(ctx, domain.EpubProgress{UserID: u.ID, CFI: "epubcfi(/6/2)", ChapterTitle: strPtr("One")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertEpubProgress(ctx, domain.EpubProgress{UserID: u.ID, CFI: "epubcfi(/6/4)"}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	p, ok, err := s.GetEpubProgress(ctx, u.ID)
	if err != nil || !ok {
		t.Fatalf("get epub progress: ok=%v err=%v", ok, err)
	}
	if p.CFI != "epubcfi(/6/4)" || p.ChapterTitle != nil {
		t.Fatalf("expected latest write to win, got %+v", p)
	}
}

func TestOwnedResourcesAreScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "A", "alice@example.com")
	bob := seedUser(t, s, "B", "bob@example.com")

	id, err := s.CreateBookmark(ctx, domain.Bookmark{UserID: alice.ID, ChapterID: "ch1", PositionSeconds: 5})
	if err != nil {
		t.Fatalf("create bookmark: %v", err)
	}
	if _, err := s.CreateBookmark(ctx, domain.Bookmark{UserID: alice.ID, ChapterID: "ch2", PositionSeconds: 9, Label: strPtr("later")}); err != nil {
		t.Fatalf("create bookmark: %v", err)
	}

	if err := s.DeleteBookmark(ctx, bob.ID, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign delete to be ErrNotFound, got %v", err)
	}
	if items, _ := s.ListBookmarks(ctx, bob.ID, ""); len(items) != 0 {
		t.Fatalf("expected bob to see nothing, got %+v", items)
	}

	all, err := s.ListBookmarks(ctx, alice.ID, "")
	if err != nil {
		t.Fatalf("list bookmarks: %v", err)
	}
	if len(all) != 2 || all[0].ChapterID != "ch2" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	filtered, err := s.ListBookmarks(ctx, alice.ID, "ch1")
	if err != nil {
		t.Fatalf("list bookmarks: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != id {
		t.Fatalf("expected chapter filter, got %+v", filtered)
	}

	if err := s.DeleteBookmark(ctx, alice.ID, id); err != nil {
		t.Fatalf("delete own bookmark: %v", err)
	}
	if err := s.DeleteBookmark(ctx, alice.ID, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to be ErrNotFound, got %v", err)
	}
}

func TestUpdateNoteAppliesOnlySetFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")
	other := seedUser(t, s, "B", "b@example.com")

	id, err := s.CreateNote(ctx, domain.Note{
		UserID:    u.ID,
		ChapterID: "ch1",
		Type:      strPtr("typo"),
		Severity:  strPtr("low"),
		Text:      "first",
	})
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	before, _ := s.ListNotes(ctx, u.ID, "")

	err = s.UpdateNote(ctx, u.ID, id, domain.NotePatch{
		Text:    "second",
		Spoiler: domain.Patch[bool]{Set: true, Value: true},
		Type:    domain.Patch[*string]{Set: true},
	})
	if err != nil {
		t.Fatalf("update note: %v", err)
	}
	notes, err := s.ListNotes(ctx, u.ID, "ch1")
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	n := notes[0]
	if n.Text != "second" || !n.Spoiler || n.Type != nil {
		t.Fatalf("unexpected note after update: %+v", n)
	}
	if n.Severity == nil || *n.Severity != "low" {
		t.Fatalf("expected severity untouched, got %v", n.Severity)
	}
	if n.UpdatedAt.Before(before[0].UpdatedAt) {
		t.Fatalf("expected updatedAt to move forward")
	}

	if err := s.UpdateNote(ctx, other.ID, id, domain.NotePatch{Text: "hijack"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign update to be ErrNotFound, got %v", err)
	}
}

func TestEpubNotesExcerptPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	id, err := s.CreateEpubNote(ctx, domain.EpubNote{UserID: u.ID, CFI: "epubcfi(/6/2)", Excerpt: strPtr("old"), Text: "t"})
	if err != nil {
		t.Fatalf("create epub note: %v", err)
	}
	if err := s.UpdateEpubNote(ctx, u.ID, id, domain.NotePatch{Text: "t2"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	notes, _ := s.ListEpubNotes(ctx, u.ID)
	if notes[0].Excerpt == nil || *notes[0].Excerpt != "old" || notes[0].Text != "t2" {
		t.Fatalf("expected excerpt kept, got %+v", notes[0])
	}
	if err := s.UpdateEpubNote(ctx, u.ID, id, domain.NotePatch{Text: "t3", Excerpt: domain.Patch[*string]{Set: true, Value: strPtr("new")}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	notes, _ = s.ListEpubNotes(ctx, u.ID)
	if *notes[0].Excerpt != "new" {
		t.Fatalf("expected excerpt replaced, got %+v", notes[0])
	}
	if err := s.DeleteEpubNote(ctx, u.ID, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestFeedbackLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	first, err := s.CreateFeedback(ctx, domain.Feedback{UserID: u.ID, Scope: domain.ScopeGeneral, Text: "hello"})
	if err != nil {
		t.Fatalf("create feedback: %v", err)
	}
	if _, err := s.CreateFeedback(ctx, domain.Feedback{UserID: u.ID, Scope: domain.ScopeChapter, ChapterID: strPtr("ch1"), Text: "typo"}); err != nil {
		t.Fatalf("create feedback: %v", err)
	}

	items, err := s.ListFeedback(ctx)
	if err != nil {
		t.Fatalf("list feedback: %v", err)
	}
	if len(items) != 2 || items[0].Scope != domain.ScopeChapter || items[1].Status != domain.FeedbackNew {
		t.Fatalf("unexpected feedback list: %+v", items)
	}

	if err := s.UpdateFeedbackStatus(ctx, first, domain.FeedbackFixed); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := s.UpdateFeedbackStatus(ctx, 9999, domain.FeedbackFixed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	mine, err := s.ListFeedbackByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 2 || mine[1].Status != domain.FeedbackFixed {
		t.Fatalf("unexpected own feedback: %+v", mine)
	}
}

func TestProgressSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "A", "alice@example.com")
	bob := seedUser(t, s, "B", "bob@example.com")

	for _, p := range []domain.ListeningProgress{
		{UserID: alice.ID, ChapterID: "ch1", PositionSeconds: 10},
		{UserID: alice.ID, ChapterID: "ch2", PositionSeconds: 30},
	} {
		if err := s.UpsertProgress(ctx, p); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	summaries, err := s.ProgressSummaries(ctx)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected two users, got %d", len(summaries))
	}
	if summaries[0].UserID != alice.ID || summaries[0].ChaptersStarted != 2 {
		t.Fatalf("unexpected alice summary: %+v", summaries[0])
	}
	if summaries[0].Latest == nil || summaries[0].Latest.ChapterID != "ch2" {
		t.Fatalf("expected latest ch2, got %+v", summaries[0].Latest)
	}
	if summaries[1].UserID != bob.ID || summaries[1].ChaptersStarted != 0 || summaries[1].Latest != nil {
		t.Fatalf("unexpected bob summary: %+v", summaries[1])
	}
}

func TestUpdateReaderSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	want := domain.ReaderSettings{Theme: domain.ThemeNight, FontScale: 1.25, LineHeight: 2}
	got, err := s.UpdateReaderSettings(ctx, u.ID, func(current domain.ReaderSettings) domain.ReaderSettings {
		if current.Theme != domain.ThemePaper || current.LineHeight != domain.DefaultLineHeight {
			t.Errorf("expected stored defaults, got %+v", current)
		}
		return want
	})
	if err != nil || got != want {
		t.Fatalf("update settings: got %+v err=%v", got, err)
	}
	stored, ok, err := s.GetUserByID(ctx, u.ID)
	if err != nil || !ok {
		t.Fatalf("get user: ok=%v err=%v", ok, err)
	}
	if stored.Settings != want {
		t.Fatalf("expected %+v, got %+v", want, stored.Settings)
	}
	_, err = s.UpdateReaderSettings(ctx, 9999, func(cur domain.ReaderSettings) domain.ReaderSettings { return cur })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateReaderSettingsIsReadModifyWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	// Each writer changes one field of what it reads; none may be lost.
	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateReaderSettings(ctx, u.ID, func(cur domain.ReaderSettings) domain.ReaderSettings {
				if i == 0 {
					cur.Theme = domain.ThemeNight
					return cur
				}
				cur.FontScale += 0.5
				return cur
			})
			if err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	stored, _, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	want := domain.DefaultFontScale + 0.5*(writers-1)
	if stored.Settings.Theme != domain.ThemeNight || stored.Settings.FontScale != want {
		t.Fatalf("lost update: got %+v, want theme night and font scale %v", stored.Settings, want)
	}
}
