package insight

import (
	"context"
	"log/slog"

	"annolab/internal/logging"
	"annolab/internal/services"
	"annolab/internal/store"
)

// Evaluator computes derived readiness and efficiency signals from the task
// and annotation tables. It owns no state of its own; every call reads the
// store fresh.
type Evaluator struct {
	store  *store.Store
	logger *slog.Logger
}

// NewEvaluator builds an evaluator backed by the given store.
func NewEvaluator(st *store.Store, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:  st,
		logger: logging.NewComponentLogger(logger, "insight"),
	}
}

// ProjectReady reports whether every task under the project has completed.
// A project with no tasks is never ready.
func (e *Evaluator) ProjectReady(ctx context.Context, projectID int64) (bool, error) {
	total, completed, err := e.store.TaskTally(ctx, projectID)
	if err != nil {
		return false, services.Wrap(services.ErrStorage, "insight", "project ready", "tally tasks", err)
	}
	return total > 0 && completed == total, nil
}

// Efficiency returns the annotator's first-pass acceptance rate as a
// percentage: completed tasks they last annotated minus reworked ones, over
// completed. An annotator with no completed work scores 100.
func (e *Evaluator) Efficiency(ctx context.Context, userID int64, projectID *int64) (float64, error) {
	completed, reworked, err := e.store.EfficiencyTally(ctx, userID, projectID)
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, "insight", "efficiency", "tally annotations", err)
	}
	if completed == 0 {
		return 100.0, nil
	}
	return float64(completed-reworked) / float64(completed) * 100.0, nil
}

// AnnotatorStats summarizes one roster member's standing within a project.
type AnnotatorStats struct {
	UserID     int64   `json:"user_id"`
	Claimed    int     `json:"claimed"`
	InProgress int     `json:"in_progress"`
	Skipped    int     `json:"skipped"`
	Drafts     int     `json:"drafts"`
	Annotated  int     `json:"annotated"`
	Accepted   int     `json:"accepted"`
	Reworked   int     `json:"reworked"`
	Efficiency float64 `json:"efficiency"`
}

// AnnotatorReport builds per-annotator standings for every member of the
// project roster.
func (e *Evaluator) AnnotatorReport(ctx context.Context, projectID int64) ([]AnnotatorStats, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "insight", "annotator report", "load project", err)
	}
	if project == nil {
		return nil, services.Wrap(services.ErrNotFound, "insight", "annotator report", "project not found", nil)
	}

	report := make([]AnnotatorStats, 0, len(project.AnnotatorIDs))
	for _, userID := range project.AnnotatorIDs {
		stats := AnnotatorStats{UserID: userID}

		claimant := userID
		tasks, err := e.store.ListTasks(ctx, store.TaskFilter{ProjectID: &projectID, ClaimedBy: &claimant})
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "insight", "annotator report", "list tasks", err)
		}
		stats.Claimed = len(tasks)
		for _, task := range tasks {
			switch task.Status {
			case store.TaskInProgress:
				stats.InProgress++
			case store.TaskSkipped:
				stats.Skipped++
			}
			if len(task.DraftResponse) > 0 {
				stats.Drafts++
			}
		}

		annotated, err := e.store.AnnotatedTaskIDs(ctx, userID, projectID)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "insight", "annotator report", "annotated tasks", err)
		}
		stats.Annotated = len(annotated)

		completed, reworked, err := e.store.EfficiencyTally(ctx, userID, &projectID)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "insight", "annotator report", "tally annotations", err)
		}
		stats.Accepted = completed
		stats.Reworked = reworked
		if completed == 0 {
			stats.Efficiency = 100.0
		} else {
			stats.Efficiency = float64(completed-reworked) / float64(completed) * 100.0
		}

		report = append(report, stats)
	}
	return report, nil
}
