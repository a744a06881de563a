package server

import (
	"net/http"

	"annolab/internal/store"
)

type createClaimRequest struct {
	TaskID int64 `json:"task_id"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createClaimRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	request, err := s.claims.Create(r.Context(), s.actor(r), body.TaskID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"request": request})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	filter := store.RequestFilter{}
	var err error
	if filter.TaskID, err = queryInt64(r, "task_id"); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task_id")
		return
	}
	if filter.RequestedBy, err = queryInt64(r, "requested_by"); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid requested_by")
		return
	}
	if filter.ProjectID, err = queryInt64(r, "project_id"); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid project_id")
		return
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := store.RequestStatus(raw)
		filter.Status = &status
	}
	requests, svcErr := s.claims.List(r.Context(), s.actor(r), filter)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	request, svcErr := s.claims.Approve(r.Context(), s.actor(r), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"request": request})
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	request, svcErr := s.claims.Reject(r.Context(), s.actor(r), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"request": request})
}
