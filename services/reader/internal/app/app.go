package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"betareader/pkg/auth"
	"betareader/pkg/domain"
	"betareader/pkg/store"
)

// Config holds the collaborators of the application service.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	// AdminEmails are made admins at signup.
	AdminEmails []string
}

// App is the reader-facing service: identity, reading state and admin views.
type App struct {
	store    store.Store
	sessions store.SessionStore
	admins   map[string]struct{}
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if email = normalizeEmail(email); email != "" {
			admins[email] = struct{}{}
		}
	}
	return &App{store: cfg.Store, sessions: cfg.Sessions, admins: admins}, nil
}

// SignUpInput is the registration form.
type SignUpInput struct {
	Name       string
	Email      string
	Password   string
	InviteCode string
}

// SignUp registers a reader against an unused invite code and opens a
// session for them.
func (a *App) SignUp(ctx context.Context, in SignUpInput) (domain.User, string, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	code := strings.TrimSpace(in.InviteCode)
	if name == "" || email == "" || in.Password == "" || code == "" {
		return domain.User{}, "", ErrMissingSignupFields
	}
	hash, err := auth.HashPassword(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return domain.User{}, "", invalid("Password too long")
	}
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	_, isAdmin := a.admins[email]
	user, err := a.store.SignUp(ctx, domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		Settings:     defaultSettings(),
	}, code)
	switch {
	case errors.Is(err, store.ErrInviteInvalid):
		return domain.User{}, "", ErrInviteInvalid
	case errors.Is(err, store.ErrInviteUsed):
		return domain.User{}, "", ErrInviteUsed
	case errors.Is(err, store.ErrEmailTaken):
		return domain.User{}, "", ErrEmailTaken
	case err != nil:
		return domain.User{}, "", fmt.Errorf("sign up: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// Login checks credentials and opens a session.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// Logout ends the session behind token.
func (a *App) Logout(token string) error {
	if token == "" {
		return nil
	}
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// UserFromToken resolves a session token. Unknown, expired and revoked
// tokens, and tokens whose user no longer exists, report false.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, bool, error) {
	if token == "" {
		return domain.User{}, false, nil
	}
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		return domain.User{}, false, nil
	}
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("fetch user: %w", err)
	}
	return user, ok, nil
}

// SettingsUpdate carries a partial reader-settings change. Nil fields are
// left alone.
type SettingsUpdate struct {
	Theme      *string
	FontScale  *float64
	LineHeight *float64
}

// ReaderSettings returns the stored settings of userID.
func (a *App) ReaderSettings(ctx context.Context, userID int64) (domain.ReaderSettings, error) {
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.ReaderSettings{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.ReaderSettings{}, ErrNotFound
	}
	return withDefaults(user.Settings), nil
}

// UpdateReaderSettings applies a partial update. Unknown themes are
// ignored and numeric values are clamped into range.
func (a *App) UpdateReaderSettings(ctx context.Context, userID int64, upd SettingsUpdate) (domain.ReaderSettings, error) {
	next, err := a.store.UpdateReaderSettings(ctx, userID, func(current domain.ReaderSettings) domain.ReaderSettings {
		return applySettings(withDefaults(current), upd)
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.ReaderSettings{}, ErrNotFound
	}
	if err != nil {
		return domain.ReaderSettings{}, fmt.Errorf("update reader settings: %w", err)
	}
	return next, nil
}

func applySettings(s domain.ReaderSettings, upd SettingsUpdate) domain.ReaderSettings {
	if upd.Theme != nil {
		switch t := domain.ReaderTheme(*upd.Theme); t {
		case domain.ThemePaper, domain.ThemeWhite, domain.ThemeNight:
			s.Theme = t
		}
	}
	if upd.FontScale != nil {
		s.FontScale = clamp(*upd.FontScale, domain.MinFontScale, domain.MaxFontScale)
	}
	if upd.LineHeight != nil {
		s.LineHeight = clamp(*upd.LineHeight, domain.MinLineHeight, domain.MaxLineHeight)
	}
	return s
}

func defaultSettings() domain.ReaderSettings {
	return domain.ReaderSettings{
		Theme:      domain.ThemePaper,
		FontScale:  domain.DefaultFontScale,
		LineHeight: domain.DefaultLineHeight,
	}
}

func withDefaults(s domain.ReaderSettings) domain.ReaderSettings {
	def := defaultSettings()
	if s.Theme == "" {
		s.Theme = def.Theme
	}
	if s.FontScale == 0 {
		s.FontScale = def.FontScale
	}
	if s.LineHeight == 0 {
		s.LineHeight = def.LineHeight
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// text trims free text.
func text(s string) string {
	return strings.TrimSpace(s)
}

// optionalText trims s and maps empty values to nil.
func optionalText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
