package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"annolab/internal/store"
)

func (s *Server) handleListSpecs(w http.ResponseWriter, r *http.Request) {
	specs, err := s.workflow.ListSpecs(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"specs": specs})
}

type createSpecRequest struct {
	SpecKey     string `json:"spec_key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	APIEndpoint string `json:"api_endpoint"`
	NodeType    string `json:"node_type"`
}

func (s *Server) handleCreateSpec(w http.ResponseWriter, r *http.Request) {
	var body createSpecRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	spec, err := s.workflow.CreateSpec(r.Context(), s.actor(r), body.SpecKey, body.Name, body.Description, body.APIEndpoint, store.NodeType(body.NodeType))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"spec": spec})
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	projectID, err := queryInt64(r, "project_id")
	if err != nil || projectID == nil {
		s.writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	instances, svcErr := s.workflow.ListInstances(r.Context(), *projectID)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

type createInstanceRequest struct {
	ProjectID int64          `json:"project_id"`
	SpecKey   string         `json:"spec_key"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var body createInstanceRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	instance, err := s.workflow.CreateInstance(r.Context(), s.actor(r), body.ProjectID, body.SpecKey, body.Payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"instance": instance})
}

type nodeUpdateRequest struct {
	OwnerID *int64         `json:"owner_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleTriggerNode(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	var body nodeUpdateRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	instance, err := s.workflow.Trigger(r.Context(), uid, body.OwnerID, body.Payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instance": instance})
}

func (s *Server) handleCompleteNode(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	var body nodeUpdateRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	instance, err := s.workflow.Complete(r.Context(), uid, body.Payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instance": instance})
}

func (s *Server) handleSkipNode(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	instance, err := s.workflow.Skip(r.Context(), uid)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instance": instance})
}

func (s *Server) handleBuildWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	result, svcErr := s.workflow.BuildDefault(r.Context(), s.actor(r), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]any{
		"created":       result.Created,
		"instance_uids": result.InstanceUIDs,
		"existing":      result.Existing,
	})
}
