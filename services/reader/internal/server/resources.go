package server

import (
	"net/http"
	"time"

	"betareader/pkg/domain"
	"betareader/services/reader/internal/app"
)

type progressRequest struct {
	ChapterID       optString `json:"chapterId"`
	PositionSeconds optNumber `json:"positionSeconds"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListProgress(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, items)
	case http.MethodPost:
		var req progressRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.app.SaveProgress(r.Context(), user.ID, req.ChapterID.String(), req.PositionSeconds.Float()); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeOK(w)
	default:
		methodNotAllowed(w)
	}
}

type epubLocationRequest struct {
	CFI          optString `json:"cfi"`
	ChapterHref  optString `json:"chapterHref"`
	ChapterTitle optString `json:"chapterTitle"`
}

func (e epubLocationRequest) location() app.EpubLocation {
	return app.EpubLocation{
		CFI:          e.CFI.String(),
		ChapterHref:  e.ChapterHref.Value,
		ChapterTitle: e.ChapterTitle.Value,
	}
}

type epubProgressResponse struct {
	CFI          *string    `json:"cfi"`
	ChapterHref  *string    `json:"chapterHref"`
	ChapterTitle *string    `json:"chapterTitle"`
	UpdatedAt    *time.Time `json:"updatedAt"`
}

func (s *Server) handleEpubProgress(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		p, ok, err := s.app.EpubProgress(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, epubProgressResponse{})
			return
		}
		writeJSON(w, http.StatusOK, epubProgressResponse{
			CFI:          &p.CFI,
			ChapterHref:  p.ChapterHref,
			ChapterTitle: p.ChapterTitle,
			UpdatedAt:    &p.UpdatedAt,
		})
	case http.MethodPost:
		var req epubLocationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.app.SaveEpubProgress(r.Context(), user.ID, req.location()); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeOK(w)
	default:
		methodNotAllowed(w)
	}
}

type bookmarkRequest struct {
	ChapterID       optString `json:"chapterId"`
	PositionSeconds optNumber `json:"positionSeconds"`
	Label           optString `json:"label"`
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListBookmarks(r.Context(), user.ID, r.URL.Query().Get("chapterId"))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, items)
	case http.MethodPost:
		var req bookmarkRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id, err := s.app.AddBookmark(r.Context(), user.ID, app.BookmarkInput{
			ChapterID:       req.ChapterID.String(),
			PositionSeconds: req.PositionSeconds.Float(),
			Label:           req.Label.Value,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeCreated(w, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookmarkByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.app.DeleteBookmark(r.Context(), user.ID, id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w)
}

type noteRequest struct {
	ChapterID       optString `json:"chapterId"`
	PositionSeconds optNumber `json:"positionSeconds"`
	Text            optString `json:"text"`
	Type            optString `json:"type"`
	Severity        optString `json:"severity"`
	Spoiler         optBool   `json:"spoiler"`
}

type noteEditRequest struct {
	Text     optString `json:"text"`
	Type     optString `json:"type"`
	Severity optString `json:"severity"`
	Spoiler  optBool   `json:"spoiler"`
	Excerpt  optString `json:"excerpt"`
}

func (e noteEditRequest) edit() app.NoteEdit {
	return app.NoteEdit{
		Text:     e.Text.String(),
		Type:     domain.Patch[*string]{Set: e.Type.Set, Value: e.Type.Value},
		Severity: domain.Patch[*string]{Set: e.Severity.Set, Value: e.Severity.Value},
		Spoiler:  domain.Patch[bool]{Set: e.Spoiler.Set, Value: e.Spoiler.Value},
		Excerpt:  domain.Patch[*string]{Set: e.Excerpt.Set, Value: e.Excerpt.Value},
	}
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListNotes(r.Context(), user.ID, r.URL.Query().Get("chapterId"))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, items)
	case http.MethodPost:
		var req noteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id, err := s.app.AddNote(r.Context(), user.ID, app.NoteInput{
			ChapterID:       req.ChapterID.String(),
			PositionSeconds: req.PositionSeconds.Float(),
			Text:            req.Text.String(),
			Type:            req.Type.Value,
			Severity:        req.Severity.Value,
			Spoiler:         req.Spoiler.Value,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeCreated(w, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleNoteByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPut:
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req noteEditRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.app.EditNote(r.Context(), user.ID, id, req.edit()); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeOK(w)
	case http.MethodDelete:
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := s.app.DeleteNote(r.Context(), user.ID, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeOK(w)
	default:
		methodNotAllowed(w)
	}
}

type epubBookmarkRequest struct {
	epubLocationRequest
	Label optString `json:"label"`
}

func (s *Server) handleEpubBookmarks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListEpubBookmarks(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, items)
	case http.MethodPost:
		var req epubBookmarkRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id, err := s.app.AddEpubBookmark(r.Context(), user.ID, app.EpubBookmarkInput{
			EpubLocation: req.location(),
			Label:        req.Label.Value,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeCreated(w, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleEpubBookmarkByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.app.DeleteEpubBookmark(r.Context(), user.ID, id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeOK(w)
}

type epubNoteRequest struct {
	epubLocationRequest
	Text     optString `json:"text"`
	Type     optString `json:"type"`
	Severity optString `json:"severity"`
	Spoiler  optBool   `json:"spoiler"`
	Excerpt  optString `json:"excerpt"`
}

func (s *Server) handleEpubNotes(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListEpubNotes(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, items)
	case http.MethodPost:
		var req epubNoteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id, err := s.app.AddEpubNote(r.Context(), user.ID, app.EpubNoteInput{
			EpubLocation: req.location(),
			Text:         req.Text.String(),
			Type:         req.Type.Value,
			Severity:     req.Severity.Value,
			Spoiler:      req.Spoiler.Value,
			Excerpt:      req.Excerpt.Value,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeCreated(w, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleEpubNoteByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPut:
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req noteEditRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.app.EditEpubNote(r.Context(), user.ID, id, req.edit()); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeOK(w)
	case http.MethodDelete:
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := s.app.DeleteEpubNote(r.Context(), user.ID, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeOK(w)
	default:
		methodNotAllowed(w)
	}
}

type feedbackRequest struct {
	Scope        optString `json:"scope"`
	ChapterID    optString `json:"chapterId"`
	Text         optString `json:"text"`
	DraftVersion optString `json:"draftVersion"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.app.SubmitFeedback(r.Context(), user.ID, app.FeedbackInput{
		Scope:        req.Scope.String(),
		ChapterID:    req.ChapterID.Value,
		Text:         req.Text.String(),
		DraftVersion: req.DraftVersion.Value,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeCreated(w, id)
}

func (s *Server) handleMyFeedback(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	summary, err := s.app.MyFeedback(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeItems[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
