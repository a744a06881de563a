package pipeline

import (
	"context"
	"log/slog"

	"annolab/internal/identity"
	"annolab/internal/insight"
	"annolab/internal/logging"
	"annolab/internal/services"
	"annolab/internal/store"
)

// Service drives task lifecycle transitions on top of the entity store.
// Permission and roster decisions live here; the store only enforces the
// conditional predicates that keep concurrent writers consistent.
type Service struct {
	store     *store.Store
	evaluator *insight.Evaluator
	logger    *slog.Logger
}

// NewService builds the pipeline service.
func NewService(st *store.Store, evaluator *insight.Evaluator, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		evaluator: evaluator,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}
}

// projectForTask loads the project owning a task and fails with ErrNotFound
// when the task or its project chain is missing.
func (s *Service) projectForTask(ctx context.Context, taskID int64) (*store.Project, error) {
	project, err := s.store.ProjectForTask(ctx, taskID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "load project", "", err)
	}
	if project == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "load project", "task has no project", nil)
	}
	return project, nil
}

// requireAnnotator checks that the actor may take annotation work on the
// project. Ops-tier actors bypass the roster.
func requireAnnotator(actor identity.Actor, project *store.Project, operation string) error {
	if actor.IsOps() {
		return nil
	}
	if actor.Role != identity.RoleAnnotator {
		return services.Wrap(services.ErrPermissionDenied, "pipeline", operation, "annotator role required", nil)
	}
	if !project.HasAnnotator(actor.ID) {
		return services.Wrap(services.ErrPermissionDenied, "pipeline", operation, "not on project annotator roster", nil)
	}
	return nil
}

// requireReviewer checks that the actor may act on the review queue. A
// non-nil project also enforces its reviewer roster; ops-tier actors
// bypass both checks.
func requireReviewer(actor identity.Actor, project *store.Project, operation string) error {
	if actor.IsOps() {
		return nil
	}
	if !actor.CanReview() {
		return services.Wrap(services.ErrPermissionDenied, "pipeline", operation, "reviewer role required", nil)
	}
	if project != nil && !project.HasReviewer(actor.ID) {
		return services.Wrap(services.ErrPermissionDenied, "pipeline", operation, "not on project reviewer roster", nil)
	}
	return nil
}

// requireOps checks for an operations-tier actor.
func requireOps(actor identity.Actor, operation string) error {
	if actor.IsOps() {
		return nil
	}
	return services.Wrap(services.ErrPermissionDenied, "pipeline", operation, "operations role required", nil)
}
