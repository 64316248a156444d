package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"betareader/pkg/domain"
)

const migrateLockID int64 = 51723104

// sqliteScheme selects the embedded SQLite driver, e.g. "sqlite:reader.db".
const sqliteScheme = "sqlite:"

var allModels = []any{
	&InviteCodeModel{},
	&UserModel{},
	&ListeningProgressModel{},
	&EpubProgressModel{},
	&BookmarkModel{},
	&NoteModel{},
	&EpubBookmarkModel{},
	&EpubNoteModel{},
	&FeedbackModel{},
}

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB

	bookmarks     owned[BookmarkModel]
	notes         owned[NoteModel]
	epubBookmarks owned[EpubBookmarkModel]
	epubNotes     owned[EpubNoteModel]
	progress      owned[ListeningProgressModel]
	epubProgress  owned[EpubProgressModel]
	feedback      owned[FeedbackModel]
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{Logger: gormLog, TranslateError: true}

	if path, ok := strings.CutPrefix(dsn, sqliteScheme); ok {
		db, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// SQLite allows one writer; serialize through a single connection.
		sqlDB.SetMaxOpenConns(1)
		if err := db.AutoMigrate(allModels...); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		return newGormStore(db), nil
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(allModels...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return newGormStore(db), nil
}

func newGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:            db,
		bookmarks:     newOwned[BookmarkModel](db),
		notes:         newOwned[NoteModel](db),
		epubBookmarks: newOwned[EpubBookmarkModel](db),
		epubNotes:     newOwned[EpubNoteModel](db),
		progress:      newOwned[ListeningProgressModel](db),
		epubProgress:  newOwned[EpubProgressModel](db),
		feedback:      newOwned[FeedbackModel](db),
	}
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SignUp consumes inviteCode and inserts user in one transaction.
func (s *GormStore) SignUp(ctx context.Context, user domain.User, inviteCode string) (domain.User, error) {
	model := userToModel(user)
	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var invite InviteCodeModel
		if err := query.Where("code = ?", inviteCode).First(&invite).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInviteInvalid
			}
			return err
		}
		if invite.UsedAt != nil {
			return ErrInviteUsed
		}

		var count int64
		if err := tx.Model(&UserModel{}).Where("email = ?", model.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		if err := tx.Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrEmailTaken
			}
			return err
		}

		res := tx.Model(&InviteCodeModel{}).
			Where("code = ? AND used_at IS NULL", inviteCode).
			Updates(map[string]any{
				"used_at":       now,
				"used_by_email": model.Email,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInviteUsed
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UpdateReaderSettings reads the user's settings, applies fn and writes the
// result back in one transaction. The row is locked on Postgres.
func (s *GormStore) UpdateReaderSettings(ctx context.Context, userID int64, fn func(domain.ReaderSettings) domain.ReaderSettings) (domain.ReaderSettings, error) {
	var next domain.ReaderSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var model UserModel
		err := query.First(&model, "id = ?", userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		next = fn(userFromModel(model).Settings)
		return tx.Model(&UserModel{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"reader_theme":       string(next.Theme),
				"reader_font_scale":  next.FontScale,
				"reader_line_height": next.LineHeight,
			}).Error
	})
	if err != nil {
		return domain.ReaderSettings{}, err
	}
	return next, nil
}

// ListUsers returns all users in signup order.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// ListInviteCodes returns unused codes first, then by code.
func (s *GormStore) ListInviteCodes(ctx context.Context) ([]domain.InviteCode, error) {
	var models []InviteCodeModel
	if err := s.db.WithContext(ctx).
		Order("CASE WHEN used_at IS NULL THEN 0 ELSE 1 END").
		Order("code ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.InviteCode, 0, len(models))
	for _, m := range models {
		res = append(res, domain.InviteCode{Code: m.Code, UsedAt: m.UsedAt, UsedByEmail: m.UsedByEmail})
	}
	return res, nil
}

func (s *GormStore) CreateInviteCode(ctx context.Context, code string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&InviteCodeModel{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrInviteExists
	}
	model := InviteCodeModel{Code: code, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrInviteExists
		}
		return err
	}
	return nil
}

func (s *GormStore) ListProgress(ctx context.Context, userID int64) ([]domain.ListeningProgress, error) {
	var models []ListeningProgressModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ListeningProgress, 0, len(models))
	for _, m := range models {
		res = append(res, progressFromModel(m))
	}
	return res, nil
}

// UpsertProgress keeps one row per (user, chapter).
func (s *GormStore) UpsertProgress(ctx context.Context, p domain.ListeningProgress) error {
	model := ListeningProgressModel{
		UserID:          p.UserID,
		ChapterID:       p.ChapterID,
		PositionSeconds: p.PositionSeconds,
		UpdatedAt:       time.Now().UTC(),
	}
	return s.progress.upsert(ctx, &model,
		[]string{"user_id", "chapter_id"},
		[]string{"position_seconds", "updated_at"},
	)
}

// ProgressSummaries builds the admin progress view. Users and progress rows
// are loaded concurrently.
func (s *GormStore) ProgressSummaries(ctx context.Context) ([]domain.ProgressSummary, error) {
	var (
		users []domain.User
		rows  []ListeningProgressModel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.ListUsers(gctx)
		return err
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Order("updated_at DESC, id DESC").Find(&rows).Error
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load progress summaries: %w", err)
	}

	counts := make(map[int64]int, len(users))
	latest := make(map[int64]*domain.ListeningProgress, len(users))
	for _, row := range rows {
		counts[row.UserID]++
		if _, ok := latest[row.UserID]; !ok {
			p := progressFromModel(row)
			latest[row.UserID] = &p
		}
	}
	res := make([]domain.ProgressSummary, 0, len(users))
	for _, u := range users {
		res = append(res, domain.ProgressSummary{
			UserID:          u.ID,
			Name:            u.Name,
			Email:           u.Email,
			CreatedAt:       u.CreatedAt,
			ChaptersStarted: counts[u.ID],
			Latest:          latest[u.ID],
		})
	}
	return res, nil
}

func (s *GormStore) GetEpubProgress(ctx context.Context, userID int64) (domain.EpubProgress, bool, error) {
	var model EpubProgressModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.EpubProgress{}, false, nil
		}
		return domain.EpubProgress{}, false, err
	}
	return domain.EpubProgress{
		UserID:       model.UserID,
		CFI:          model.CFI,
		ChapterHref:  model.ChapterHref,
		ChapterTitle: model.ChapterTitle,
		UpdatedAt:    model.UpdatedAt,
	}, true, nil
}

// UpsertEpubProgress keeps one row per user.
func (s *GormStore) UpsertEpubProgress(ctx context.Context, p domain.EpubProgress) error {
	model := EpubProgressModel{
		UserID:       p.UserID,
		CFI:          p.CFI,
		ChapterHref:  p.ChapterHref,
		ChapterTitle: p.ChapterTitle,
		UpdatedAt:    time.Now().UTC(),
	}
	return s.epubProgress.upsert(ctx, &model,
		[]string{"user_id"},
		[]string{"cfi", "chapter_href", "chapter_title", "updated_at"},
	)
}

func (s *GormStore) ListBookmarks(ctx context.Context, userID int64, chapterID string) ([]domain.Bookmark, error) {
	models, err := s.bookmarks.list(ctx, userID, map[string]string{"chapter_id": chapterID})
	if err != nil {
		return nil, err
	}
	res := make([]domain.Bookmark, 0, len(models))
	for _, m := range models {
		res = append(res, bookmarkFromModel(m))
	}
	return res, nil
}

func (s *GormStore) CreateBookmark(ctx context.Context, b domain.Bookmark) (int64, error) {
	model := BookmarkModel{
		UserID:          b.UserID,
		ChapterID:       b.ChapterID,
		PositionSeconds: b.PositionSeconds,
		Label:           b.Label,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.bookmarks.create(ctx, &model); err != nil {
		return 0, err
	}
	return model.ID, nil
}

func (s *GormStore) DeleteBookmark(ctx context.Context, userID, id int64) error {
	return s.bookmarks.delete(ctx, userID, id)
}

func (s *GormStore) ListNotes(ctx context.Context, userID int64, chapterID string) ([]domain.Note, error) {
	models, err := s.notes.list(ctx, userID, map[string]string{"chapter_id": chapterID})
	if err != nil {
		return nil, err
	}
	res := make([]domain.Note, 0, len(models))
	for _, m := range models {
		res = append(res, noteFromModel(m))
	}
	return res, nil
}

func (s *GormStore) CreateNote(ctx context.Context, n domain.Note) (int64, error) {
	now := time.Now().UTC()
	model := NoteModel{
		UserID:          n.UserID,
		ChapterID:       n.ChapterID,
		PositionSeconds: n.PositionSeconds,
		NoteType:        n.Type,
		Severity:        n.Severity,
		Spoiler:         n.Spoiler,
		Text:            n.Text,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.notes.create(ctx, &model); err != nil {
		return 0, err
	}
	return model.ID, nil
}

func (s *GormStore) UpdateNote(ctx context.Context, userID, id int64, patch domain.NotePatch) error {
	return s.notes.update(ctx, userID, id, func(m *NoteModel) {
		m.Text = patch.Text
		if patch.Type.Set {
			m.NoteType = patch.Type.Value
		}
		if patch.Severity.Set {
			m.Severity = patch.Severity.Value
		}
		if patch.Spoiler.Set {
			m.Spoiler = patch.Spoiler.Value
		}
		m.UpdatedAt = time.Now().UTC()
	})
}

func (s *GormStore) DeleteNote(ctx context.Context, userID, id int64) error {
	return s.notes.delete(ctx, userID, id)
}

func (s *GormStore) ListEpubBookmarks(ctx context.Context, userID int64) ([]domain.EpubBookmark, error) {
	models, err := s.epubBookmarks.list(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	res := make([]domain.EpubBookmark, 0, len(models))
	for _, m := range models {
		res = append(res, domain.EpubBookmark{
			ID:           m.ID,
			UserID:       m.UserID,
			CFI:          m.CFI,
			ChapterHref:  m.ChapterHref,
			ChapterTitle: m.ChapterTitle,
			Label:        m.Label,
			CreatedAt:    m.CreatedAt,
		})
	}
	return res, nil
}

func (s *GormStore) CreateEpubBookmark(ctx context.Context, b domain.EpubBookmark) (int64, error) {
	model := EpubBookmarkModel{
		UserID:       b.UserID,
		CFI:          b.CFI,
		ChapterHref:  b.ChapterHref,
		ChapterTitle: b.ChapterTitle,
		Label:        b.Label,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.epubBookmarks.create(ctx, &model); err != nil {
		return 0, err
	}
	return model.ID, nil
}

func (s *GormStore) DeleteEpubBookmark(ctx context.Context, userID, id int64) error {
	return s.epubBookmarks.delete(ctx, userID, id)
}

func (s *GormStore) ListEpubNotes(ctx context.Context, userID int64) ([]domain.EpubNote, error) {
	models, err := s.epubNotes.list(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	res := make([]domain.EpubNote, 0, len(models))
	for _, m := range models {
		res = append(res, epubNoteFromModel(m))
	}
	return res, nil
}

func (s *GormStore) CreateEpubNote(ctx context.Context, n domain.EpubNote) (int64, error) {
	now := time.Now().UTC()
	model := EpubNoteModel{
		UserID:       n.UserID,
		CFI:          n.CFI,
		ChapterHref:  n.ChapterHref,
		ChapterTitle: n.ChapterTitle,
		NoteType:     n.Type,
		Severity:     n.Severity,
		Spoiler:      n.Spoiler,
		Excerpt:      n.Excerpt,
		Text:         n.Text,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.epubNotes.create(ctx, &model); err != nil {
		return 0, err
	}
	return model.ID, nil
}

func (s *GormStore) UpdateEpubNote(ctx context.Context, userID, id int64, patch domain.NotePatch) error {
	return s.epubNotes.update(ctx, userID, id, func(m *EpubNoteModel) {
		m.Text = patch.Text
		if patch.Type.Set {
			m.NoteType = patch.Type.Value
		}
		if patch.Severity.Set {
			m.Severity = patch.Severity.Value
		}
		if patch.Spoiler.Set {
			m.Spoiler = patch.Spoiler.Value
		}
		if patch.Excerpt.Set {
			m.Excerpt = patch.Excerpt.Value
		}
		m.UpdatedAt = time.Now().UTC()
	})
}

func (s *GormStore) DeleteEpubNote(ctx context.Context, userID, id int64) error {
	return s.epubNotes.delete(ctx, userID, id)
}

func (s *GormStore) CreateFeedback(ctx context.Context, f domain.Feedback) (int64, error) {
	status := f.Status
	if status == "" {
		status = domain.FeedbackNew
	}
	model := FeedbackModel{
		UserID:       f.UserID,
		Scope:        string(f.Scope),
		ChapterID:    f.ChapterID,
		Status:       string(status),
		DraftVersion: f.DraftVersion,
		Text:         f.Text,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.feedback.create(ctx, &model); err != nil {
		return 0, err
	}
	return model.ID, nil
}

func (s *GormStore) ListFeedbackByUser(ctx context.Context, userID int64) ([]domain.Feedback, error) {
	models, err := s.feedback.list(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	return feedbackFromModels(models), nil
}

// ListFeedback returns every reader's feedback, newest first.
func (s *GormStore) ListFeedback(ctx context.Context) ([]domain.Feedback, error) {
	var models []FeedbackModel
	if err := s.db.WithContext(ctx).Order(newestFirst).Find(&models).Error; err != nil {
		return nil, err
	}
	return feedbackFromModels(models), nil
}

func (s *GormStore) UpdateFeedbackStatus(ctx context.Context, id int64, status domain.FeedbackStatus) error {
	res := s.db.WithContext(ctx).Model(&FeedbackModel{}).
		Where("id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func userToModel(u domain.User) UserModel {
	settings := u.Settings
	if settings.Theme == "" {
		settings.Theme = domain.ThemePaper
	}
	if settings.FontScale == 0 {
		settings.FontScale = domain.DefaultFontScale
	}
	if settings.LineHeight == 0 {
		settings.LineHeight = domain.DefaultLineHeight
	}
	return UserModel{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		PasswordHash:     u.PasswordHash,
		IsAdmin:          u.IsAdmin,
		CreatedAt:        u.CreatedAt,
		ReaderTheme:      string(settings.Theme),
		ReaderFontScale:  settings.FontScale,
		ReaderLineHeight: settings.LineHeight,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		IsAdmin:      m.IsAdmin,
		CreatedAt:    m.CreatedAt,
		Settings: domain.ReaderSettings{
			Theme:      domain.ReaderTheme(m.ReaderTheme),
			FontScale:  m.ReaderFontScale,
			LineHeight: m.ReaderLineHeight,
		},
	}
}

func progressFromModel(m ListeningProgressModel) domain.ListeningProgress {
	return domain.ListeningProgress{
		UserID:          m.UserID,
		ChapterID:       m.ChapterID,
		PositionSeconds: m.PositionSeconds,
		UpdatedAt:       m.UpdatedAt,
	}
}

func bookmarkFromModel(m BookmarkModel) domain.Bookmark {
	return domain.Bookmark{
		ID:              m.ID,
		UserID:          m.UserID,
		ChapterID:       m.ChapterID,
		PositionSeconds: m.PositionSeconds,
		Label:           m.Label,
		CreatedAt:       m.CreatedAt,
	}
}

func noteFromModel(m NoteModel) domain.Note {
	return domain.Note{
		ID:              m.ID,
		UserID:          m.UserID,
		ChapterID:       m.ChapterID,
		PositionSeconds: m.PositionSeconds,
		Type:            m.NoteType,
		Severity:        m.Severity,
		Spoiler:         m.Spoiler,
		Text:            m.Text,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func epubNoteFromModel(m EpubNoteModel) domain.EpubNote {
	return domain.EpubNote{
		ID:           m.ID,
		UserID:       m.UserID,
		CFI:          m.CFI,
		ChapterHref:  m.ChapterHref,
		ChapterTitle: m.ChapterTitle,
		Type:         m.NoteType,
		Severity:     m.Severity,
		Spoiler:      m.Spoiler,
		Excerpt:      m.Excerpt,
		Text:         m.Text,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func feedbackFromModels(models []FeedbackModel) []domain.Feedback {
	res := make([]domain.Feedback, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Feedback{
			ID:           m.ID,
			UserID:       m.UserID,
			Scope:        domain.FeedbackScope(m.Scope),
			ChapterID:    m.ChapterID,
			Status:       domain.FeedbackStatus(m.Status),
			DraftVersion: m.DraftVersion,
			Text:         m.Text,
			CreatedAt:    m.CreatedAt,
		})
	}
	return res
}
