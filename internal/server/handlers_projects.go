package server

import (
	"net/http"

	"annolab/internal/services"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.writeServiceError(w, services.Wrap(services.ErrStorage, "api", "list projects", "", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

type createProjectRequest struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	AnnotatorIDs []int64 `json:"annotator_ids"`
	ReviewerIDs  []int64 `json:"reviewer_ids"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if !s.actor(r).IsOps() {
		s.writeError(w, http.StatusForbidden, "operations role required")
		return
	}
	var body createProjectRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name required")
		return
	}
	project, err := s.store.CreateProject(r.Context(), body.Name, body.Description, body.AnnotatorIDs, body.ReviewerIDs)
	if err != nil {
		s.writeServiceError(w, services.Wrap(services.ErrStorage, "api", "create project", "", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"project": project})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	project, svcErr := s.store.GetProject(r.Context(), id)
	if svcErr != nil {
		s.writeServiceError(w, services.Wrap(services.ErrStorage, "api", "get project", "", svcErr))
		return
	}
	if project == nil {
		s.writeError(w, http.StatusNotFound, "project not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	batches, svcErr := s.store.ListBatches(r.Context(), id)
	if svcErr != nil {
		s.writeServiceError(w, services.Wrap(services.ErrStorage, "api", "list batches", "", svcErr))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

type createBatchRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	if !s.actor(r).IsOps() {
		s.writeError(w, http.StatusForbidden, "operations role required")
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	var body createBatchRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name required")
		return
	}
	project, svcErr := s.store.GetProject(r.Context(), id)
	if svcErr != nil {
		s.writeServiceError(w, services.Wrap(services.ErrStorage, "api", "create batch", "load project", svcErr))
		return
	}
	if project == nil {
		s.writeError(w, http.StatusNotFound, "project not found")
		return
	}
	batch, svcErr := s.store.CreateBatch(r.Context(), id, body.Name)
	if svcErr != nil {
		s.writeServiceError(w, services.Wrap(services.ErrStorage, "api", "create batch", "", svcErr))
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"batch": batch})
}
