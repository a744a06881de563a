package pipeline

import (
	"context"

	"annolab/internal/identity"
	"annolab/internal/logging"
	"annolab/internal/services"
	"annolab/internal/store"
)

// ReviewOutcome describes the result of a review decision.
type ReviewOutcome struct {
	Task *store.Task
	// ProjectReady is set when an approval completed the last open task and
	// flipped the project to ready_for_export.
	ProjectReady bool
	// ReturnedTo carries the annotator a rejection re-owned the task to, nil
	// when the task fell back to the unowned pool.
	ReturnedTo *int64
}

// ReviewQueue lists review-stage tasks assigned to the caller or unassigned.
// Scoping to a project also enforces that project's reviewer roster.
func (s *Service) ReviewQueue(ctx context.Context, actor identity.Actor, projectID *int64) ([]*store.Task, error) {
	if err := requireReviewer(actor, nil, "review queue"); err != nil {
		return nil, err
	}
	if projectID != nil {
		project, err := s.store.GetProject(ctx, *projectID)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "pipeline", "review queue", "load project", err)
		}
		if project == nil {
			return nil, services.Wrap(services.ErrNotFound, "pipeline", "review queue", "project not found", nil)
		}
		if err := requireReviewer(actor, project, "review queue"); err != nil {
			return nil, err
		}
	}
	tasks, err := s.store.ReviewQueue(ctx, actor.ID, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "review queue", "", err)
	}
	return tasks, nil
}

// Approve accepts a submitted task, completing it. When the approval
// completes the project's last open task the project is marked
// ready_for_export; the flip happens at most once across concurrent
// approvals.
func (s *Service) Approve(ctx context.Context, actor identity.Actor, taskID int64) (ReviewOutcome, error) {
	if err := requireReviewer(actor, nil, "approve"); err != nil {
		return ReviewOutcome{}, err
	}
	ctx = services.WithTaskID(ctx, taskID)
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return ReviewOutcome{}, services.Wrap(services.ErrStorage, "pipeline", "approve", "load task", err)
	}
	if task == nil {
		return ReviewOutcome{}, services.Wrap(services.ErrNotFound, "pipeline", "approve", "task not found", nil)
	}
	project, err := s.projectForTask(ctx, taskID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	ctx = services.WithProjectID(ctx, project.ID)
	if err := requireReviewer(actor, project, "approve"); err != nil {
		return ReviewOutcome{}, err
	}

	applied, err := s.store.ApproveTask(ctx, taskID)
	if err != nil {
		return ReviewOutcome{}, services.Wrap(services.ErrStorage, "pipeline", "approve", "", err)
	}
	if !applied {
		return ReviewOutcome{}, services.Wrap(services.ErrConflict, "pipeline", "approve", "task is not awaiting review", nil)
	}
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("task approved", logging.Int64("reviewer_id", actor.ID))

	outcome := ReviewOutcome{}
	outcome.Task, err = s.store.GetTask(ctx, taskID)
	if err != nil {
		return ReviewOutcome{}, services.Wrap(services.ErrStorage, "pipeline", "approve", "reload task", err)
	}

	ready, err := s.evaluator.ProjectReady(ctx, project.ID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	if ready {
		flipped, err := s.store.MarkProjectReady(ctx, project.ID)
		if err != nil {
			return ReviewOutcome{}, services.Wrap(services.ErrStorage, "pipeline", "approve", "mark project ready", err)
		}
		if flipped {
			outcome.ProjectReady = true
			logger.Info("project ready for export")
		}
	}
	return outcome, nil
}

// Reject returns a submitted task to the annotation stage, re-owned by the
// author of its most recent annotation with rework_count incremented. A
// review-stage task without annotations should not exist; if one does, it
// falls back to the unowned pool.
func (s *Service) Reject(ctx context.Context, actor identity.Actor, taskID int64) (ReviewOutcome, error) {
	if err := requireReviewer(actor, nil, "reject"); err != nil {
		return ReviewOutcome{}, err
	}
	ctx = services.WithTaskID(ctx, taskID)
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return ReviewOutcome{}, services.Wrap(services.ErrStorage, "pipeline", "reject", "load task", err)
	}
	if task == nil {
		return ReviewOutcome{}, services.Wrap(services.ErrNotFound, "pipeline", "reject", "task not found", nil)
	}
	project, err := s.projectForTask(ctx, taskID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	ctx = services.WithProjectID(ctx, project.ID)
	if err := requireReviewer(actor, project, "reject"); err != nil {
		return ReviewOutcome{}, err
	}

	result, err := s.store.RejectTask(ctx, taskID)
	if err != nil {
		return ReviewOutcome{}, services.Wrap(services.ErrStorage, "pipeline", "reject", "", err)
	}
	if !result.Applied {
		return ReviewOutcome{}, services.Wrap(services.ErrConflict, "pipeline", "reject", "task is not awaiting review", nil)
	}

	logger := logging.WithContext(ctx, s.logger)
	if result.Owner == nil {
		logger.Warn("rejected task had no annotation on record; returned to unowned pool")
	} else {
		logger.Info("task rejected for rework", logging.Int64("returned_to", *result.Owner))
	}

	outcome := ReviewOutcome{ReturnedTo: result.Owner}
	outcome.Task, err = s.store.GetTask(ctx, taskID)
	if err != nil {
		return ReviewOutcome{}, services.Wrap(services.ErrStorage, "pipeline", "reject", "reload task", err)
	}
	return outcome, nil
}
