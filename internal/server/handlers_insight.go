package server

import "net/http"

func (s *Server) handleEfficiency(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	projectID, err := queryInt64(r, "project_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid project_id")
		return
	}

	// Annotators may only look at their own score; ops may inspect anyone.
	actor := s.actor(r)
	subject := actor.ID
	if userID != nil {
		subject = *userID
	}
	if subject != actor.ID && !actor.IsOps() {
		s.writeError(w, http.StatusForbidden, "cannot inspect another user's efficiency")
		return
	}

	score, svcErr := s.insight.Efficiency(r.Context(), subject, projectID)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    subject,
		"efficiency": score,
	})
}

func (s *Server) handleAnnotatorReport(w http.ResponseWriter, r *http.Request) {
	if !s.actor(r).IsOps() {
		s.writeError(w, http.StatusForbidden, "operations role required")
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	report, svcErr := s.insight.AnnotatorReport(r.Context(), id)
	if svcErr != nil {
		s.writeServiceError(w, svcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"annotators": report})
}
