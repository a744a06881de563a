package server

import (
	"net/http"

	"annolab/internal/pipeline"
)

func (s *Server) handleQueueNext(w http.ResponseWriter, r *http.Request) {
	batchID, err := queryInt64(r, "batch_id")
	if err != nil || batchID == nil {
		s.writeError(w, http.StatusBadRequest, "batch_id query parameter required")
		return
	}
	task, svcErr := s.pipeline.GetNext(r.Context(), s.actor(r), *batchID)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	if task == nil {
		// No claimable work is a normal outcome, not an error.
		s.writeJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task": pipeline.NewTaskView(task)})
}

func (s *Server) handleMyTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.pipeline.MyTasks(r.Context(), s.actor(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": pipeline.NewTaskViews(tasks)})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, svcErr := s.pipeline.Claim(r.Context(), s.actor(r), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task": pipeline.NewTaskView(task)})
}

type draftRequest struct {
	Draft map[string]any `json:"draft"`
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var body draftRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, svcErr := s.pipeline.SaveDraft(r.Context(), s.actor(r), id, body.Draft)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task": pipeline.NewTaskView(task)})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, svcErr := s.pipeline.Skip(r.Context(), s.actor(r), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task": pipeline.NewTaskView(task)})
}

func (s *Server) handleUnskip(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, svcErr := s.pipeline.Unskip(r.Context(), s.actor(r), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task": pipeline.NewTaskView(task)})
}

type submitRequest struct {
	Response map[string]any `json:"response"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var body submitRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, svcErr := s.pipeline.Submit(r.Context(), s.actor(r), id, body.Response)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task": pipeline.NewTaskView(task)})
}

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	projectID, err := queryInt64(r, "project_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid project_id")
		return
	}
	tasks, svcErr := s.pipeline.ReviewQueue(r.Context(), s.actor(r), projectID)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": pipeline.NewTaskViews(tasks)})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	outcome, svcErr := s.pipeline.Approve(r.Context(), s.actor(r), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"task":          pipeline.NewTaskView(outcome.Task),
		"project_ready": outcome.ProjectReady,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	outcome, svcErr := s.pipeline.Reject(r.Context(), s.actor(r), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"task":        pipeline.NewTaskView(outcome.Task),
		"returned_to": outcome.ReturnedTo,
	})
}
