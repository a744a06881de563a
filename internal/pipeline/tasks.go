package pipeline

import (
	"context"
	"time"

	"annolab/internal/identity"
	"annolab/internal/logging"
	"annolab/internal/services"
	"annolab/internal/store"
)

// CreateTask inserts a single pending first-stage task into a batch.
// Operations-tier only; annotators receive work, they do not mint it.
func (s *Service) CreateTask(ctx context.Context, actor identity.Actor, batchID int64, content map[string]any, dueAt *time.Time) (*store.Task, error) {
	if err := requireOps(actor, "create task"); err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "create task", "content required", nil)
	}
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "create task", "load batch", err)
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "create task", "batch not found", nil)
	}
	task, err := s.store.InsertTask(ctx, store.NewTask{
		BatchID: batchID,
		Content: content,
		Stage:   store.StageL1,
		DueAt:   dueAt,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "create task", "", err)
	}
	return task, nil
}

// CreateTasks bulk-inserts pending tasks into a batch in one transaction,
// preserving input order.
func (s *Service) CreateTasks(ctx context.Context, actor identity.Actor, batchID int64, contents []map[string]any, dueAt *time.Time) ([]int64, error) {
	if err := requireOps(actor, "create tasks"); err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "create tasks", "at least one task required", nil)
	}
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "create tasks", "load batch", err)
	}
	if batch == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "create tasks", "batch not found", nil)
	}
	tasks := make([]store.NewTask, 0, len(contents))
	for _, content := range contents {
		if len(content) == 0 {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "create tasks", "every task needs content", nil)
		}
		tasks = append(tasks, store.NewTask{
			BatchID: batchID,
			Content: content,
			Stage:   store.StageL1,
			DueAt:   dueAt,
		})
	}
	ids, err := s.store.InsertTasks(ctx, tasks)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "create tasks", "", err)
	}
	s.logger.Info("tasks created",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int("count", len(ids)))
	return ids, nil
}

// GetTask fetches one task.
func (s *Service) GetTask(ctx context.Context, taskID int64) (*store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "get task", "", err)
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "get task", "task not found", nil)
	}
	return task, nil
}

// ListTasks returns tasks matching the filter in creation order.
func (s *Service) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "list tasks", "", err)
	}
	return tasks, nil
}

// TaskAnnotations lists a task's immutable annotation history.
func (s *Service) TaskAnnotations(ctx context.Context, taskID int64) ([]*store.Annotation, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "task annotations", "load task", err)
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "task annotations", "task not found", nil)
	}
	annotations, err := s.store.ListAnnotations(ctx, taskID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "task annotations", "", err)
	}
	return annotations, nil
}

// TaskView is the task shape surfaced to the HTTP API and CLI, with derived
// aging fields.
type TaskView struct {
	ID               int64            `json:"id"`
	BatchID          int64            `json:"batch_id"`
	Status           store.TaskStatus `json:"status"`
	Stage            store.Stage      `json:"pipeline_stage"`
	Content          map[string]any   `json:"content"`
	ClaimedBy        *int64           `json:"claimed_by_id,omitempty"`
	ClaimedAt        *time.Time       `json:"claimed_at,omitempty"`
	AssignedReviewer *int64           `json:"assigned_reviewer_id,omitempty"`
	DueAt            *time.Time       `json:"due_at,omitempty"`
	ReworkCount      int              `json:"rework_count"`
	DraftResponse    map[string]any   `json:"draft_response,omitempty"`
	AgeDays          int              `json:"age_days"`
	RemainingDays    *int             `json:"remaining_days,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NewTaskView derives the API task shape from a stored task.
func NewTaskView(task *store.Task) TaskView {
	return newTaskViewAt(task, time.Now().UTC())
}

func newTaskViewAt(task *store.Task, now time.Time) TaskView {
	view := TaskView{
		ID:               task.ID,
		BatchID:          task.BatchID,
		Status:           task.Status,
		Stage:            task.Stage,
		Content:          task.Content,
		ClaimedBy:        task.ClaimedBy,
		ClaimedAt:        task.ClaimedAt,
		AssignedReviewer: task.AssignedReviewer,
		DueAt:            task.DueAt,
		ReworkCount:      task.ReworkCount,
		DraftResponse:    task.DraftResponse,
		CreatedAt:        task.CreatedAt,
		UpdatedAt:        task.UpdatedAt,
	}
	if !task.CreatedAt.IsZero() {
		view.AgeDays = int(now.Sub(task.CreatedAt).Hours() / 24)
		if view.AgeDays < 0 {
			view.AgeDays = 0
		}
	}
	if task.DueAt != nil {
		remaining := int(task.DueAt.Sub(now).Hours() / 24)
		view.RemainingDays = &remaining
	}
	return view
}

// NewTaskViews maps stored tasks into the API shape.
func NewTaskViews(tasks []*store.Task) []TaskView {
	now := time.Now().UTC()
	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, newTaskViewAt(task, now))
	}
	return views
}
