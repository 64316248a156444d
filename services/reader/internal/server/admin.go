package server

import (
	"net/http"

	"betareader/pkg/domain"
)

type inviteRequest struct {
	Code optString `json:"code"`
}

type feedbackStatusRequest struct {
	Status optString `json:"status"`
}

func (s *Server) handleAdminInvites(w http.ResponseWriter, r *http.Request, admin domain.User) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListInviteCodes(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, items)
	case http.MethodPost:
		var req inviteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.app.CreateInviteCode(r.Context(), req.Code.String()); err != nil {
			s.audit(r, "reader.admin.invite.create", "fail", "user_id", admin.ID, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "reader.admin.invite.create", "success", "user_id", admin.ID)
		writeOK(w)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminFeedback(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListFeedback(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeItems(w, items)
}

func (s *Server) handleAdminFeedbackByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req feedbackStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.SetFeedbackStatus(r.Context(), id, req.Status.String()); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "reader.admin.feedback.update", "success", "user_id", admin.ID, "feedback_id", id)
	writeOK(w)
}

func (s *Server) handleAdminProgress(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ProgressOverview(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeItems(w, items)
}
