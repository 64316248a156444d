package domain

import "time"

type FeedbackScope string

const (
	ScopeChapter FeedbackScope = "chapter"
	ScopeGeneral FeedbackScope = "general"
)

type FeedbackStatus string

const (
	FeedbackNew     FeedbackStatus = "new"
	FeedbackTriaged FeedbackStatus = "triaged"
	FeedbackFixed   FeedbackStatus = "fixed"
)

type ReaderTheme string

const (
	ThemePaper ReaderTheme = "paper"
	ThemeWhite ReaderTheme = "white"
	ThemeNight ReaderTheme = "night"
)

// Reader settings bounds and defaults.
const (
	MinFontScale      = 0.75
	MaxFontScale      = 1.6
	MinLineHeight     = 1.2
	MaxLineHeight     = 2.4
	DefaultFontScale  = 1.0
	DefaultLineHeight = 1.65
)

type InviteCode struct {
	Code        string     `json:"code"`
	UsedAt      *time.Time `json:"usedAt"`
	UsedByEmail *string    `json:"usedByEmail"`
}

type User struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"-"`
	IsAdmin      bool           `json:"isAdmin"`
	Settings     ReaderSettings `json:"-"`
	CreatedAt    time.Time      `json:"-"`
}

type ReaderSettings struct {
	Theme      ReaderTheme `json:"theme"`
	FontScale  float64     `json:"fontScale"`
	LineHeight float64     `json:"lineHeight"`
}

type ListeningProgress struct {
	UserID          int64     `json:"-"`
	ChapterID       string    `json:"chapterId"`
	PositionSeconds float64   `json:"positionSeconds"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type EpubProgress struct {
	UserID       int64     `json:"-"`
	CFI          string    `json:"cfi"`
	ChapterHref  *string   `json:"chapterHref"`
	ChapterTitle *string   `json:"chapterTitle"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Bookmark struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"-"`
	ChapterID       string    `json:"chapterId"`
	PositionSeconds float64   `json:"positionSeconds"`
	Label           *string   `json:"label"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Note struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"-"`
	ChapterID       string    `json:"chapterId"`
	PositionSeconds float64   `json:"positionSeconds"`
	Type            *string   `json:"type"`
	Severity        *string   `json:"severity"`
	Spoiler         bool      `json:"spoiler"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type EpubBookmark struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"-"`
	CFI          string    `json:"cfi"`
	ChapterHref  *string   `json:"chapterHref"`
	ChapterTitle *string   `json:"chapterTitle"`
	Label        *string   `json:"label"`
	CreatedAt    time.Time `json:"createdAt"`
}

type EpubNote struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"-"`
	CFI          string    `json:"cfi"`
	ChapterHref  *string   `json:"chapterHref"`
	ChapterTitle *string   `json:"chapterTitle"`
	Type         *string   `json:"type"`
	Severity     *string   `json:"severity"`
	Spoiler      bool      `json:"spoiler"`
	Excerpt      *string   `json:"excerpt"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Patch is an optional field of a partial update.
type Patch[T any] struct {
	Set   bool
	Value T
}

// NotePatch carries an edit to an audio or EPUB note. Text is always replaced;
// other fields only when Set.
type NotePatch struct {
	Text     string
	Type     Patch[*string]
	Severity Patch[*string]
	Spoiler  Patch[bool]
	Excerpt  Patch[*string]
}

type Feedback struct {
	ID           int64          `json:"id"`
	UserID       int64          `json:"userId"`
	Scope        FeedbackScope  `json:"scope"`
	ChapterID    *string        `json:"chapterId"`
	Status       FeedbackStatus `json:"status"`
	DraftVersion *string        `json:"draftVersion"`
	Text         string         `json:"text"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// ProgressSummary is the admin view of one reader's listening activity.
type ProgressSummary struct {
	UserID          int64              `json:"userId"`
	Name            string             `json:"name"`
	Email           string             `json:"email"`
	CreatedAt       time.Time          `json:"createdAt"`
	ChaptersStarted int                `json:"chaptersStarted"`
	Latest          *ListeningProgress `json:"latest"`
}
