package store

import (
	"context"
	"errors"

	"betareader/pkg/domain"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrInviteInvalid = errors.New("invalid invite code")
	ErrInviteUsed    = errors.New("invite code already used")
	ErrInviteExists  = errors.New("invite code already exists")
)

// Store defines persistence operations for readers and their reading state.
// Every per-reader lookup is scoped by userID; a record owned by someone else
// is reported as ErrNotFound.
type Store interface {
	// users and invites
	SignUp(ctx context.Context, user domain.User, inviteCode string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, bool, error)
	UpdateReaderSettings(ctx context.Context, userID int64, fn func(domain.ReaderSettings) domain.ReaderSettings) (domain.ReaderSettings, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListInviteCodes(ctx context.Context) ([]domain.InviteCode, error)
	CreateInviteCode(ctx context.Context, code string) error

	// audio progress
	ListProgress(ctx context.Context, userID int64) ([]domain.ListeningProgress, error)
	UpsertProgress(ctx context.Context, p domain.ListeningProgress) error
	ProgressSummaries(ctx context.Context) ([]domain.ProgressSummary, error)

	// epub progress
	GetEpubProgress(ctx context.Context, userID int64) (domain.EpubProgress, bool, error)
	UpsertEpubProgress(ctx context.Context, p domain.EpubProgress) error

	// audio bookmarks and notes
	ListBookmarks(ctx context.Context, userID int64, chapterID string) ([]domain.Bookmark, error)
	CreateBookmark(ctx context.Context, b domain.Bookmark) (int64, error)
	DeleteBookmark(ctx context.Context, userID, id int64) error
	ListNotes(ctx context.Context, userID int64, chapterID string) ([]domain.Note, error)
	CreateNote(ctx context.Context, n domain.Note) (int64, error)
	UpdateNote(ctx context.Context, userID, id int64, patch domain.NotePatch) error
	DeleteNote(ctx context.Context, userID, id int64) error

	// epub bookmarks and notes
	ListEpubBookmarks(ctx context.Context, userID int64) ([]domain.EpubBookmark, error)
	CreateEpubBookmark(ctx context.Context, b domain.EpubBookmark) (int64, error)
	DeleteEpubBookmark(ctx context.Context, userID, id int64) error
	ListEpubNotes(ctx context.Context, userID int64) ([]domain.EpubNote, error)
	CreateEpubNote(ctx context.Context, n domain.EpubNote) (int64, error)
	UpdateEpubNote(ctx context.Context, userID, id int64, patch domain.NotePatch) error
	DeleteEpubNote(ctx context.Context, userID, id int64) error

	// feedback
	CreateFeedback(ctx context.Context, f domain.Feedback) (int64, error)
	ListFeedbackByUser(ctx context.Context, userID int64) ([]domain.Feedback, error)
	ListFeedback(ctx context.Context) ([]domain.Feedback, error)
	UpdateFeedbackStatus(ctx context.Context, id int64, status domain.FeedbackStatus) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID int64) (string, error)
	// GetUserIDByToken reports false for unknown, expired or revoked tokens.
	// An error means the backing store could not be consulted.
	GetUserIDByToken(token string) (int64, bool, error)
	DeleteSession(token string) error
}
