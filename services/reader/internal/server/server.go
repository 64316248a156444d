package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"betareader/internal/metrics"
	"betareader/internal/ratelimit"
	"betareader/internal/util"
	"betareader/pkg/storage"
	"betareader/services/reader/internal/app"
	"betareader/services/reader/internal/audio"
	"betareader/services/reader/internal/content"
	"betareader/services/reader/internal/security"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Library *content.Library
	Audio   *audio.Proxy
	Assets  storage.ObjectStore
	// Redis backs the signup/login limiters and the security alerter. Both
	// are disabled without it.
	Redis *redis.Client

	BookFileBase             string
	SessionCookieName        string
	SessionCookieSecure      bool
	SessionTTL               time.Duration
	FrontendOrigin           string
	TrustedProxies           *util.TrustedProxies
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	GlobalRateLimitPerMinute int
	MetricsEnabled           bool
}

// Server exposes the reader HTTP API.
type Server struct {
	app            *app.App
	library        *content.Library
	audio          *audio.Proxy
	assets         storage.ObjectStore
	mux            *http.ServeMux
	bookFileBase   string
	cookieName     string
	cookieSecure   bool
	sessionTTL     time.Duration
	frontendOrigin string
	trusted        *util.TrustedProxies
	globalLimit    int
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
	alerter        *security.AuditAlerter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil || cfg.Library == nil || cfg.Audio == nil || cfg.Assets == nil {
		return nil, errors.New("server: app, library, audio and assets are required")
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "br_session"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.BookFileBase == "" {
		cfg.BookFileBase = "book"
	}
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 10
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 20
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if cfg.Redis == nil {
			return nil, nil
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "betareader:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		library:        cfg.Library,
		audio:          cfg.Audio,
		assets:         cfg.Assets,
		mux:            http.NewServeMux(),
		bookFileBase:   cfg.BookFileBase,
		cookieName:     cfg.SessionCookieName,
		cookieSecure:   cfg.SessionCookieSecure,
		sessionTTL:     cfg.SessionTTL,
		frontendOrigin: cfg.FrontendOrigin,
		trusted:        cfg.TrustedProxies,
		globalLimit:    cfg.GlobalRateLimitPerMinute,
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
		alerter:        security.NewAuditAlerter(cfg.Redis, "betareader:alerts"),
	}
	s.routes(cfg.MetricsEnabled)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	// WithRequestLog reads r.Pattern, so it has to sit directly on the mux.
	var h http.Handler = util.WithRequestLog(s.mux)
	if s.globalLimit > 0 {
		h = httprate.Limit(
			s.globalLimit,
			time.Minute,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return s.clientIP(r), nil
			}),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				s.audit(r, "reader.request", "rate_limited")
				writeError(w, http.StatusTooManyRequests, "too many requests")
			}),
		)(h)
	}
	h = util.WithCORS(s.frontendOrigin, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRecover(h)
	return util.WithRequestID(h)
}

func (s *Server) routes(metricsEnabled bool) {
	s.mux.HandleFunc("/", s.handleNotFound)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	if metricsEnabled {
		s.mux.Handle("/metrics", metrics.Handler())
	}

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))
	s.mux.HandleFunc("/api/auth/me", s.handleMe)
	s.mux.Handle("/api/me/reader-settings", s.authenticated(s.handleReaderSettings))

	// book content
	s.mux.Handle("/api/build-info", s.authenticated(s.handleBuildInfo))
	s.mux.Handle("/api/book/downloads", s.authenticated(s.handleDownloads))
	s.mux.Handle("/downloads/{filename}", s.authenticated(s.handleDownloadFile))
	s.mux.Handle("/api/book/epub", s.authenticated(s.handleEpub))
	s.mux.Handle("/api/audio/manifest", s.authenticated(s.handleManifest))
	s.mux.Handle("/api/audio/stream/{chapterId}", s.authenticated(s.handleAudioStream))
	s.mux.Handle("/api/audio/synced-text/{chapterId}", s.authenticated(s.handleSyncedText))

	// reading state
	s.mux.Handle("/api/progress", s.authenticated(s.handleProgress))
	s.mux.Handle("/api/bookmarks", s.authenticated(s.handleBookmarks))
	s.mux.Handle("/api/bookmarks/{id}", s.authenticated(s.handleBookmarkByID))
	s.mux.Handle("/api/notes", s.authenticated(s.handleNotes))
	s.mux.Handle("/api/notes/{id}", s.authenticated(s.handleNoteByID))
	s.mux.Handle("/api/epub/progress", s.authenticated(s.handleEpubProgress))
	s.mux.Handle("/api/epub/bookmarks", s.authenticated(s.handleEpubBookmarks))
	s.mux.Handle("/api/epub/bookmarks/{id}", s.authenticated(s.handleEpubBookmarkByID))
	s.mux.Handle("/api/epub/notes", s.authenticated(s.handleEpubNotes))
	s.mux.Handle("/api/epub/notes/{id}", s.authenticated(s.handleEpubNoteByID))
	s.mux.Handle("/api/feedback", s.authenticated(s.handleFeedback))
	s.mux.Handle("/api/feedback/mine", s.authenticated(s.handleMyFeedback))

	// admin
	s.mux.Handle("/api/admin/invites", s.adminOnly(s.handleAdminInvites))
	s.mux.Handle("/api/admin/feedback", s.adminOnly(s.handleAdminFeedback))
	s.mux.Handle("/api/admin/feedback/{id}", s.adminOnly(s.handleAdminFeedbackByID))
	s.mux.Handle("/api/admin/progress", s.adminOnly(s.handleAdminProgress))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeCreated(w http.ResponseWriter, id int64) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

// writeAppError maps service errors to responses. Anything unexpected is
// logged and reported as a bare 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *app.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Message)
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrMissingSignupFields),
		errors.Is(err, app.ErrInviteInvalid),
		errors.Is(err, app.ErrInviteUsed),
		errors.Is(err, app.ErrEmailTaken),
		errors.Is(err, app.ErrInviteExists):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := s.clientIP(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	metrics.RecordSecurityEvent(event, outcome)
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	ok, retryAfter := limiter.Allow(r.Context(), key)
	if ok {
		return true
	}
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}

// pathID parses the {id} wildcard. A malformed id cannot name a record, so
// it is reported as not found.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "Not found")
		return 0, false
	}
	return id, true
}
