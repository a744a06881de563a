package pipeline

import (
	"context"

	"annolab/internal/identity"
	"annolab/internal/logging"
	"annolab/internal/services"
	"annolab/internal/store"
)

// GetNext claims the oldest eligible task in the batch for the actor. A nil
// task with a nil error means the batch has no claimable work. When another
// caller wins the race for a candidate, the next oldest is tried until the
// batch is drained.
func (s *Service) GetNext(ctx context.Context, actor identity.Actor, batchID int64) (*store.Task, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "get next", "load batch", err)
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "get next", "batch not found", nil)
	}
	project, err := s.store.ProjectForBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "get next", "load project", err)
	}
	if project == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "get next", "batch has no project", nil)
	}
	if err := requireAnnotator(actor, project, "get next"); err != nil {
		return nil, err
	}

	for {
		candidate, err := s.store.OldestClaimable(ctx, batchID)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "pipeline", "get next", "find candidate", err)
		}
		if candidate == nil {
			return nil, nil
		}
		won, err := s.store.TryClaim(ctx, candidate.ID, actor.ID)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "pipeline", "get next", "claim candidate", err)
		}
		if won {
			s.logger.Info("task auto-claimed",
				logging.Int64(logging.FieldTaskID, candidate.ID),
				logging.Int64(logging.FieldUserID, actor.ID),
				logging.Int64(logging.FieldBatchID, batchID))
			return s.store.GetTask(ctx, candidate.ID)
		}
		// Lost the race; the candidate now belongs to someone else, so the
		// next iteration sees a different oldest task.
	}
}

// Claim takes explicit ownership of a task. Claiming an unowned pending task
// races through the same conditional write as GetNext. A task owned by
// another annotator yields ErrConflict, steering roster members to the claim
// request protocol; ops-tier actors reassign directly.
func (s *Service) Claim(ctx context.Context, actor identity.Actor, taskID int64) (*store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "claim", "load task", err)
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "claim", "task not found", nil)
	}
	if task.Stage != store.StageL1 {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "claim", "task is past the annotation stage", nil)
	}

	project, err := s.projectForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := requireAnnotator(actor, project, "claim"); err != nil {
		return nil, err
	}

	if task.ClaimedBy != nil {
		if *task.ClaimedBy == actor.ID {
			return task, nil
		}
		if actor.IsOps() {
			applied, err := s.store.ReassignOwner(ctx, taskID, actor.ID)
			if err != nil {
				return nil, services.Wrap(services.ErrStorage, "pipeline", "claim", "reassign owner", err)
			}
			if !applied {
				return nil, services.Wrap(services.ErrConflict, "pipeline", "claim", "task state changed during reassignment", nil)
			}
			s.logger.Info("task reassigned by operations",
				logging.Int64(logging.FieldTaskID, taskID),
				logging.Int64(logging.FieldUserID, actor.ID))
			return s.store.GetTask(ctx, taskID)
		}
		return nil, services.Wrap(services.ErrConflict, "pipeline", "claim", "task is owned; file a claim request", nil)
	}

	won, err := s.store.TryClaim(ctx, taskID, actor.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "claim", "conditional claim", err)
	}
	if !won {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "claim", "task was claimed concurrently", nil)
	}
	s.logger.Info("task claimed",
		logging.Int64(logging.FieldTaskID, taskID),
		logging.Int64(logging.FieldUserID, actor.ID))
	return s.store.GetTask(ctx, taskID)
}

// SaveDraft stores an in-flight response on a task the actor owns. Drafts
// never create annotation rows.
func (s *Service) SaveDraft(ctx context.Context, actor identity.Actor, taskID int64, draft map[string]any) (*store.Task, error) {
	if len(draft) == 0 {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "save draft", "draft payload required", nil)
	}
	task, err := s.requireOwnedTask(ctx, actor, taskID, "save draft")
	if err != nil {
		return nil, err
	}
	applied, err := s.store.SaveDraft(ctx, task.ID, actor.ID, draft)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "save draft", "", err)
	}
	if !applied {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "save draft", "task is not in progress", nil)
	}
	return s.store.GetTask(ctx, taskID)
}

// Skip parks an in-progress task without releasing ownership.
func (s *Service) Skip(ctx context.Context, actor identity.Actor, taskID int64) (*store.Task, error) {
	task, err := s.requireOwnedTask(ctx, actor, taskID, "skip")
	if err != nil {
		return nil, err
	}
	applied, err := s.store.SetSkipped(ctx, task.ID, actor.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "skip", "", err)
	}
	if !applied {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "skip", "task is not in progress", nil)
	}
	return s.store.GetTask(ctx, taskID)
}

// Unskip returns a skipped task to in-progress for its owner.
func (s *Service) Unskip(ctx context.Context, actor identity.Actor, taskID int64) (*store.Task, error) {
	task, err := s.requireOwnedTask(ctx, actor, taskID, "unskip")
	if err != nil {
		return nil, err
	}
	applied, err := s.store.SetUnskipped(ctx, task.ID, actor.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "unskip", "", err)
	}
	if !applied {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "unskip", "task is not skipped", nil)
	}
	return s.store.GetTask(ctx, taskID)
}

// Submit records the actor's response as an immutable annotation and moves
// the task into the review stage, releasing ownership.
func (s *Service) Submit(ctx context.Context, actor identity.Actor, taskID int64, response map[string]any) (*store.Task, error) {
	if len(response) == 0 {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "submit", "response payload required", nil)
	}
	task, err := s.requireOwnedTask(ctx, actor, taskID, "submit")
	if err != nil {
		return nil, err
	}
	applied, err := s.store.SubmitTask(ctx, task.ID, actor.ID, response)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "submit", "", err)
	}
	if !applied {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "submit", "task is not in progress", nil)
	}
	s.logger.Info("task submitted for review",
		logging.Int64(logging.FieldTaskID, taskID),
		logging.Int64(logging.FieldUserID, actor.ID))
	return s.store.GetTask(ctx, taskID)
}

// MyTasks lists the actor's open work in claim order, oldest first.
func (s *Service) MyTasks(ctx context.Context, actor identity.Actor) ([]*store.Task, error) {
	tasks, err := s.store.MyTasks(ctx, actor.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "my tasks", "", err)
	}
	return tasks, nil
}

// requireOwnedTask loads a task and insists the actor currently owns it.
func (s *Service) requireOwnedTask(ctx context.Context, actor identity.Actor, taskID int64, operation string) (*store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", operation, "load task", err)
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", operation, "task not found", nil)
	}
	if task.ClaimedBy == nil || *task.ClaimedBy != actor.ID {
		return nil, services.Wrap(services.ErrPermissionDenied, "pipeline", operation, "caller does not own this task", nil)
	}
	return task, nil
}
