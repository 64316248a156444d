package server

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"betareader/internal/util"
	"betareader/pkg/domain"
	"betareader/pkg/storage"
	"betareader/services/reader/internal/audio"
	"betareader/services/reader/internal/content"
)

const epubContentType = "application/epub+zip"

func (s *Server) handleBuildInfo(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.library.BuildInfo(r.Context()))
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	manifest, err := s.library.Manifest(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (s *Server) handleSyncedText(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	doc, err := s.library.SyncedText(r.Context(), r.PathValue("chapterId"))
	switch {
	case errors.Is(err, content.ErrInvalidChapter):
		writeError(w, http.StatusBadRequest, "Invalid chapter")
	case errors.Is(err, content.ErrSyncedTextNotFound):
		writeError(w, http.StatusNotFound, "No synced text for this chapter")
	case err != nil:
		writeAppError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}

func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	chapterID := r.PathValue("chapterId")
	resp, err := s.audio.Open(r.Context(), chapterID, r.Header.Get("Range"))
	if err != nil {
		var upstream *audio.UpstreamError
		switch {
		case errors.Is(err, audio.ErrUnknownChapter):
			writeError(w, http.StatusNotFound, "Unknown chapter")
		case errors.Is(err, audio.ErrSourceNotAllowed):
			util.LoggerFromContext(r.Context()).Warn("audio source rejected", "chapter_id", chapterID)
			writeError(w, http.StatusBadRequest, "Audio source not allowed")
		case errors.As(err, &upstream):
			util.LoggerFromContext(r.Context()).Warn("audio upstream failed", "chapter_id", chapterID, "err", upstream.Err)
			writeError(w, http.StatusBadGateway, "Failed to fetch audio: "+upstream.Err.Error())
		default:
			writeAppError(w, r, err)
		}
		return
	}
	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	n := s.audio.Relay(r.Context(), w, resp)
	util.LoggerFromContext(r.Context()).Debug("audio relayed",
		"chapter_id", chapterID,
		"user_id", user.ID,
		"status", resp.StatusCode,
		"bytes", n,
	)
}

type downloadsResponse struct {
	Epub *string `json:"epub"`
	PDF  *string `json:"pdf"`
}

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var out downloadsResponse
	for ext, dst := range map[string]**string{".epub": &out.Epub, ".pdf": &out.PDF} {
		name := s.bookFileBase + ext
		ok, err := s.assets.Exists(r.Context(), name)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if ok {
			link := "/downloads/" + name
			*dst = &link
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	name := r.PathValue("filename")
	s.serveAsset(w, r, name, "attachment", "", "Not found")
}

func (s *Server) handleEpub(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	s.serveAsset(w, r, s.bookFileBase+".epub", "inline", epubContentType, "EPUB not available")
}

// serveAsset streams a stored book file with Range support.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, name, disposition, contentType, missing string) {
	file, info, err := s.assets.Open(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, missing)
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer file.Close()

	if contentType == "" {
		contentType = info.ContentType
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" && filepath.Ext(name) == ".epub" {
		contentType = epubContentType
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	http.ServeContent(w, r, name, info.ModTime, file)
}
