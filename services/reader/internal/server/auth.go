package server

import (
	"net/http"
	"time"

	"betareader/internal/util"
	"betareader/pkg/domain"
	"betareader/services/reader/internal/app"
)

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok, err := s.authorize(r)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if !ok {
			s.audit(r, "reader.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "Unauthenticated")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok, err := s.authorize(r)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if !ok {
			s.audit(r, "reader.admin.authorize", "fail", "reason", "unauthenticated")
			writeError(w, http.StatusUnauthorized, "Unauthenticated")
			return
		}
		if !user.IsAdmin {
			s.audit(r, "reader.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		s.audit(r, "reader.admin.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

// authorize resolves the session cookie. An error means the session
// backend could not be consulted.
func (s *Server) authorize(r *http.Request) (domain.User, bool, error) {
	token := s.sessionToken(r)
	if token == "" {
		return domain.User{}, false, nil
	}
	return s.app.UserFromToken(r.Context(), token)
}

func (s *Server) sessionToken(r *http.Request) string {
	c, err := r.Cookie(s.cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL / time.Second),
		Expires:  time.Now().Add(s.sessionTTL),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

type signupRequest struct {
	Name       optString `json:"name"`
	Email      optString `json:"email"`
	Password   optString `json:"password"`
	InviteCode optString `json:"inviteCode"`
}

type loginRequest struct {
	Email    optString `json:"email"`
	Password optString `json:"password"`
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "reader.signup", "rate_limited")
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "reader.signup", "fail", "reason", "invalid_json")
		return
	}
	user, token, err := s.app.SignUp(r.Context(), app.SignUpInput{
		Name:       req.Name.String(),
		Email:      req.Email.String(),
		Password:   req.Password.String(),
		InviteCode: req.InviteCode.String(),
	})
	if err != nil {
		s.audit(r, "reader.signup", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "reader.signup", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeOK(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "reader.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "reader.login", "fail", "reason", "invalid_json")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email.String(), req.Password.String())
	if err != nil {
		s.audit(r, "reader.login", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "reader.login", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeOK(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Logout(s.sessionToken(r)); err != nil {
		s.audit(r, "reader.logout", "fail", "user_id", user.ID)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "reader.logout", "success", "user_id", user.ID)
	s.clearSessionCookie(w)
	writeOK(w)
}

type meResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *domain.User `json:"user,omitempty"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, ok, err := s.authorize(r)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("session lookup failed", "err", err)
	}
	if err != nil || !ok {
		writeJSON(w, http.StatusOK, meResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Authenticated: true, User: &user})
}

type readerSettingsRequest struct {
	Theme      optString `json:"theme"`
	FontScale  optNumber `json:"fontScale"`
	LineHeight optNumber `json:"lineHeight"`
}

func (s *Server) handleReaderSettings(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.app.ReaderSettings(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req readerSettingsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		settings, err := s.app.UpdateReaderSettings(r.Context(), user.ID, app.SettingsUpdate{
			Theme:      req.Theme.Value,
			FontScale:  req.FontScale.Ptr(),
			LineHeight: req.LineHeight.Ptr(),
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		methodNotAllowed(w)
	}
}
