package server

import (
	"net/http"
	"time"

	"annolab/internal/pipeline"
	"annolab/internal/store"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{}
	var err error
	if filter.BatchID, err = queryInt64(r, "batch_id"); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid batch_id")
		return
	}
	if filter.ProjectID, err = queryInt64(r, "project_id"); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid project_id")
		return
	}
	if filter.ClaimedBy, err = queryInt64(r, "claimed_by"); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid claimed_by")
		return
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := store.ParseTaskStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage, ok := store.ParseStage(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid stage")
			return
		}
		filter.Stage = &stage
	}

	tasks, svcErr := s.pipeline.ListTasks(r.Context(), filter)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": pipeline.NewTaskViews(tasks)})
}

type createTaskRequest struct {
	BatchID int64          `json:"batch_id"`
	Content map[string]any `json:"content"`
	DueAt   *time.Time     `json:"due_at,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := s.pipeline.CreateTask(r.Context(), s.actor(r), body.BatchID, body.Content, body.DueAt)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"task": pipeline.NewTaskView(task)})
}

type createTasksRequest struct {
	BatchID int64            `json:"batch_id"`
	Tasks   []map[string]any `json:"tasks"`
	DueAt   *time.Time       `json:"due_at,omitempty"`
}

func (s *Server) handleCreateTasks(w http.ResponseWriter, r *http.Request) {
	var body createTasksRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ids, err := s.pipeline.CreateTasks(r.Context(), s.actor(r), body.BatchID, body.Tasks, body.DueAt)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"task_ids": ids})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, svcErr := s.pipeline.GetTask(r.Context(), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task": pipeline.NewTaskView(task)})
}

func (s *Server) handleTaskAnnotations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	annotations, svcErr := s.pipeline.TaskAnnotations(r.Context(), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"annotations": annotations})
}
