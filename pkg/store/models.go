package store

import "time"

// GORM models used for persistence.
type InviteCodeModel struct {
	Code        string `gorm:"primaryKey;size:64"`
	UsedAt      *time.Time
	UsedByEmail *string   `gorm:"size:255"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (InviteCodeModel) TableName() string { return "invite_codes" }

type UserModel struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	Name             string    `gorm:"size:120;not null"`
	Email            string    `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash     string    `gorm:"size:255;not null"`
	IsAdmin          bool      `gorm:"not null;default:false"`
	CreatedAt        time.Time `gorm:"not null"`
	ReaderTheme      string    `gorm:"size:12;not null;default:paper"`
	ReaderFontScale  float64   `gorm:"not null;default:1.0"`
	ReaderLineHeight float64   `gorm:"not null;default:1.65"`
}

func (UserModel) TableName() string { return "users" }

type ListeningProgressModel struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	UserID          int64     `gorm:"not null;uniqueIndex:uq_progress_user_chapter"`
	ChapterID       string    `gorm:"size:64;not null;uniqueIndex:uq_progress_user_chapter"`
	PositionSeconds float64   `gorm:"not null;default:0"`
	UpdatedAt       time.Time `gorm:"not null;index"`
}

func (ListeningProgressModel) TableName() string { return "listening_progress" }

type EpubProgressModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	UserID       int64  `gorm:"not null;uniqueIndex"`
	CFI          string `gorm:"column:cfi;type:text;not null"`
	ChapterHref  *string
	ChapterTitle *string
	UpdatedAt    time.Time `gorm:"not null"`
}

func (EpubProgressModel) TableName() string { return "epub_progress" }

type BookmarkModel struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	UserID          int64     `gorm:"not null;index"`
	ChapterID       string    `gorm:"size:64;not null"`
	PositionSeconds float64   `gorm:"not null"`
	Label           *string   `gorm:"size:200"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (BookmarkModel) TableName() string { return "bookmarks" }

type NoteModel struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	UserID          int64     `gorm:"not null;index"`
	ChapterID       string    `gorm:"size:64;not null"`
	PositionSeconds float64   `gorm:"not null"`
	NoteType        *string   `gorm:"size:30"`
	Severity        *string   `gorm:"size:10"`
	Spoiler         bool      `gorm:"not null;default:false"`
	Text            string    `gorm:"type:text;not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (NoteModel) TableName() string { return "notes" }

type EpubBookmarkModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	UserID       int64  `gorm:"not null;index"`
	CFI          string `gorm:"column:cfi;type:text;not null"`
	ChapterHref  *string
	ChapterTitle *string
	Label        *string   `gorm:"size:200"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (EpubBookmarkModel) TableName() string { return "epub_bookmarks" }

type EpubNoteModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	UserID       int64  `gorm:"not null;index"`
	CFI          string `gorm:"column:cfi;type:text;not null"`
	ChapterHref  *string
	ChapterTitle *string
	NoteType     *string `gorm:"size:30"`
	Severity     *string `gorm:"size:10"`
	Spoiler      bool    `gorm:"not null;default:false"`
	Excerpt      *string
	Text         string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (EpubNoteModel) TableName() string { return "epub_notes" }

type FeedbackModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	UserID       int64     `gorm:"not null;index"`
	Scope        string    `gorm:"size:20;not null"`
	ChapterID    *string   `gorm:"size:64"`
	Status       string    `gorm:"size:10;not null;default:new"`
	DraftVersion *string   `gorm:"size:40"`
	Text         string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

func (FeedbackModel) TableName() string { return "feedback" }
