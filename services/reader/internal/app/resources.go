package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"betareader/pkg/domain"
	"betareader/pkg/store"
)

// ListProgress returns every chapter position saved by userID.
func (a *App) ListProgress(ctx context.Context, userID int64) ([]domain.ListeningProgress, error) {
	items, err := a.store.ListProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return items, nil
}

// SaveProgress records the playback position of a chapter, replacing any
// earlier position.
func (a *App) SaveProgress(ctx context.Context, userID int64, chapterID string, position float64) error {
	chapterID = text(chapterID)
	if chapterID == "" {
		return invalid("Missing chapterId")
	}
	err := a.store.UpsertProgress(ctx, domain.ListeningProgress{
		UserID:          userID,
		ChapterID:       chapterID,
		PositionSeconds: position,
	})
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// EpubProgress returns the saved reading location, if any.
func (a *App) EpubProgress(ctx context.Context, userID int64) (domain.EpubProgress, bool, error) {
	p, ok, err := a.store.GetEpubProgress(ctx, userID)
	if err != nil {
		return domain.EpubProgress{}, false, fmt.Errorf("get epub progress: %w", err)
	}
	return p, ok, nil
}

// EpubLocation identifies a place in the EPUB.
type EpubLocation struct {
	CFI          string
	ChapterHref  *string
	ChapterTitle *string
}

// SaveEpubProgress replaces the reader's EPUB location.
func (a *App) SaveEpubProgress(ctx context.Context, userID int64, loc EpubLocation) error {
	cfi := text(loc.CFI)
	if cfi == "" {
		return invalid("Missing cfi")
	}
	err := a.store.UpsertEpubProgress(ctx, domain.EpubProgress{
		UserID:       userID,
		CFI:          cfi,
		ChapterHref:  optionalText(loc.ChapterHref),
		ChapterTitle: optionalText(loc.ChapterTitle),
	})
	if err != nil {
		return fmt.Errorf("save epub progress: %w", err)
	}
	return nil
}

// ListBookmarks lists audio bookmarks newest first, optionally for one
// chapter.
func (a *App) ListBookmarks(ctx context.Context, userID int64, chapterID string) ([]domain.Bookmark, error) {
	items, err := a.store.ListBookmarks(ctx, userID, text(chapterID))
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return items, nil
}

// BookmarkInput is a new audio bookmark.
type BookmarkInput struct {
	ChapterID       string
	PositionSeconds float64
	Label           *string
}

// AddBookmark stores a bookmark and returns its id.
func (a *App) AddBookmark(ctx context.Context, userID int64, in BookmarkInput) (int64, error) {
	chapterID := text(in.ChapterID)
	if chapterID == "" {
		return 0, invalid("Missing chapterId")
	}
	id, err := a.store.CreateBookmark(ctx, domain.Bookmark{
		UserID:          userID,
		ChapterID:       chapterID,
		PositionSeconds: in.PositionSeconds,
		Label:           optionalText(in.Label),
	})
	if err != nil {
		return 0, fmt.Errorf("create bookmark: %w", err)
	}
	return id, nil
}

// DeleteBookmark removes one of the reader's bookmarks.
func (a *App) DeleteBookmark(ctx context.Context, userID, id int64) error {
	return notFound(a.store.DeleteBookmark(ctx, userID, id), "delete bookmark")
}

// ListNotes lists audio notes newest first, optionally for one chapter.
func (a *App) ListNotes(ctx context.Context, userID int64, chapterID string) ([]domain.Note, error) {
	items, err := a.store.ListNotes(ctx, userID, text(chapterID))
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return items, nil
}

// NoteInput is a new audio note.
type NoteInput struct {
	ChapterID       string
	PositionSeconds float64
	Text            string
	Type            *string
	Severity        *string
	Spoiler         bool
}

// AddNote stores an audio note and returns its id.
func (a *App) AddNote(ctx context.Context, userID int64, in NoteInput) (int64, error) {
	chapterID := text(in.ChapterID)
	body := text(in.Text)
	if chapterID == "" || body == "" {
		return 0, invalid("Missing chapterId or text")
	}
	id, err := a.store.CreateNote(ctx, domain.Note{
		UserID:          userID,
		ChapterID:       chapterID,
		PositionSeconds: in.PositionSeconds,
		Type:            optionalText(in.Type),
		Severity:        optionalText(in.Severity),
		Spoiler:         in.Spoiler,
		Text:            body,
	})
	if err != nil {
		return 0, fmt.Errorf("create note: %w", err)
	}
	return id, nil
}

// NoteEdit changes a note. Text is always replaced; the other fields only
// when Set.
type NoteEdit struct {
	Text     string
	Type     domain.Patch[*string]
	Severity domain.Patch[*string]
	Spoiler  domain.Patch[bool]
	Excerpt  domain.Patch[*string]
}

func (e NoteEdit) patch() (domain.NotePatch, error) {
	body := text(e.Text)
	if body == "" {
		return domain.NotePatch{}, invalid("Missing text")
	}
	p := domain.NotePatch{Text: body, Spoiler: e.Spoiler}
	if e.Type.Set {
		p.Type = domain.Patch[*string]{Set: true, Value: optionalText(e.Type.Value)}
	}
	if e.Severity.Set {
		p.Severity = domain.Patch[*string]{Set: true, Value: optionalText(e.Severity.Value)}
	}
	if e.Excerpt.Set {
		p.Excerpt = domain.Patch[*string]{Set: true, Value: optionalText(e.Excerpt.Value)}
	}
	return p, nil
}

// EditNote updates one of the reader's audio notes. Excerpt edits are
// ignored for audio notes.
func (a *App) EditNote(ctx context.Context, userID, id int64, edit NoteEdit) error {
	p, err := edit.patch()
	if err != nil {
		return err
	}
	p.Excerpt = domain.Patch[*string]{}
	return notFound(a.store.UpdateNote(ctx, userID, id, p), "update note")
}

// DeleteNote removes one of the reader's audio notes.
func (a *App) DeleteNote(ctx context.Context, userID, id int64) error {
	return notFound(a.store.DeleteNote(ctx, userID, id), "delete note")
}

// ListEpubBookmarks lists EPUB bookmarks newest first.
func (a *App) ListEpubBookmarks(ctx context.Context, userID int64) ([]domain.EpubBookmark, error) {
	items, err := a.store.ListEpubBookmarks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list epub bookmarks: %w", err)
	}
	return items, nil
}

// EpubBookmarkInput is a new EPUB bookmark.
type EpubBookmarkInput struct {
	EpubLocation
	Label *string
}

// AddEpubBookmark stores an EPUB bookmark and returns its id.
func (a *App) AddEpubBookmark(ctx context.Context, userID int64, in EpubBookmarkInput) (int64, error) {
	cfi := text(in.CFI)
	if cfi == "" {
		return 0, invalid("Missing cfi")
	}
	id, err := a.store.CreateEpubBookmark(ctx, domain.EpubBookmark{
		UserID:       userID,
		CFI:          cfi,
		ChapterHref:  optionalText(in.ChapterHref),
		ChapterTitle: optionalText(in.ChapterTitle),
		Label:        optionalText(in.Label),
	})
	if err != nil {
		return 0, fmt.Errorf("create epub bookmark: %w", err)
	}
	return id, nil
}

// DeleteEpubBookmark removes one of the reader's EPUB bookmarks.
func (a *App) DeleteEpubBookmark(ctx context.Context, userID, id int64) error {
	return notFound(a.store.DeleteEpubBookmark(ctx, userID, id), "delete epub bookmark")
}

// ListEpubNotes lists EPUB notes newest first.
func (a *App) ListEpubNotes(ctx context.Context, userID int64) ([]domain.EpubNote, error) {
	items, err := a.store.ListEpubNotes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list epub notes: %w", err)
	}
	return items, nil
}

// EpubNoteInput is a new EPUB note. Excerpt may be an HTML fragment.
type EpubNoteInput struct {
	EpubLocation
	Text     string
	Type     *string
	Severity *string
	Spoiler  bool
	Excerpt  *string
}

// AddEpubNote stores an EPUB note and returns its id.
func (a *App) AddEpubNote(ctx context.Context, userID int64, in EpubNoteInput) (int64, error) {
	cfi := text(in.CFI)
	if cfi == "" {
		return 0, invalid("Missing cfi")
	}
	body := text(in.Text)
	if body == "" {
		return 0, invalid("Missing text")
	}
	id, err := a.store.CreateEpubNote(ctx, domain.EpubNote{
		UserID:       userID,
		CFI:          cfi,
		ChapterHref:  optionalText(in.ChapterHref),
		ChapterTitle: optionalText(in.ChapterTitle),
		Type:         optionalText(in.Type),
		Severity:     optionalText(in.Severity),
		Spoiler:      in.Spoiler,
		Excerpt:      optionalText(in.Excerpt),
		Text:         body,
	})
	if err != nil {
		return 0, fmt.Errorf("create epub note: %w", err)
	}
	return id, nil
}

// EditEpubNote updates one of the reader's EPUB notes.
func (a *App) EditEpubNote(ctx context.Context, userID, id int64, edit NoteEdit) error {
	p, err := edit.patch()
	if err != nil {
		return err
	}
	return notFound(a.store.UpdateEpubNote(ctx, userID, id, p), "update epub note")
}

// DeleteEpubNote removes one of the reader's EPUB notes.
func (a *App) DeleteEpubNote(ctx context.Context, userID, id int64) error {
	return notFound(a.store.DeleteEpubNote(ctx, userID, id), "delete epub note")
}

// FeedbackInput is a feedback submission.
type FeedbackInput struct {
	Scope        string
	ChapterID    *string
	Text         string
	DraftVersion *string
}

// SubmitFeedback stores feedback with status new and returns its id.
func (a *App) SubmitFeedback(ctx context.Context, userID int64, in FeedbackInput) (int64, error) {
	scope := domain.FeedbackScope(text(in.Scope))
	if scope != domain.ScopeChapter && scope != domain.ScopeGeneral {
		return 0, invalid("Invalid scope")
	}
	chapterID := optionalText(in.ChapterID)
	if scope == domain.ScopeChapter && chapterID == nil {
		return 0, invalid("chapterId required for chapter feedback")
	}
	body := text(in.Text)
	if body == "" {
		return 0, invalid("Text required")
	}
	id, err := a.store.CreateFeedback(ctx, domain.Feedback{
		UserID:       userID,
		Scope:        scope,
		ChapterID:    chapterID,
		Status:       domain.FeedbackNew,
		DraftVersion: optionalText(in.DraftVersion),
		Text:         body,
	})
	if err != nil {
		return 0, fmt.Errorf("create feedback: %w", err)
	}
	return id, nil
}

// FeedbackSummary is what a reader sees about their own submissions.
type FeedbackSummary struct {
	Count           int        `json:"count"`
	LatestCreatedAt *time.Time `json:"latestCreatedAt"`
}

// MyFeedback summarises the reader's submissions.
func (a *App) MyFeedback(ctx context.Context, userID int64) (FeedbackSummary, error) {
	items, err := a.store.ListFeedbackByUser(ctx, userID)
	if err != nil {
		return FeedbackSummary{}, fmt.Errorf("list feedback: %w", err)
	}
	out := FeedbackSummary{Count: len(items)}
	if len(items) > 0 {
		latest := items[0].CreatedAt
		out.LatestCreatedAt = &latest
	}
	return out, nil
}

// notFound maps a store miss to ErrNotFound and wraps anything else.
func notFound(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
