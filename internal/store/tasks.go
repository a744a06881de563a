package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = "id, batch_id, status, pipeline_stage, content, claimed_by_id, claimed_at, assigned_reviewer_id, due_at, rework_count, draft_response, created_at, updated_at"

// NewTask describes a task to insert.
type NewTask struct {
	BatchID int64
	Content map[string]any
	Stage   Stage
	DueAt   *time.Time
}

// InsertTask creates a single pending task.
func (s *Store) InsertTask(ctx context.Context, task NewTask) (*Task, error) {
	ids, err := s.InsertTasks(ctx, []NewTask{task})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, ids[0])
}

// InsertTasks creates tasks in bulk inside one transaction, preserving the
// given order as creation order.
func (s *Store) InsertTasks(ctx context.Context, tasks []NewTask) ([]int64, error) {
	ids := make([]int64, 0, len(tasks))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, task := range tasks {
			stage := task.Stage
			if stage == "" {
				stage = StageL1
			}
			contentJSON, err := marshalJSONMap(task.Content, true)
			if err != nil {
				return err
			}
			timestamp := nowTimestamp()
			res, err := tx.ExecContext(
				ctx,
				`INSERT INTO tasks (batch_id, status, pipeline_stage, content, due_at, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				task.BatchID, TaskPending, stage, contentJSON, nullableTime(task.DueAt), timestamp, timestamp,
			)
			if err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("last insert id: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetTask fetches a task by identifier. Returns nil when absent.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// TaskFilter narrows ListTasks results. Nil fields are ignored.
type TaskFilter struct {
	BatchID          *int64
	ProjectID        *int64
	Status           *TaskStatus
	Stage            *Stage
	ClaimedBy        *int64
	AssignedReviewer *int64
}

// ListTasks returns tasks matching the filter in strict creation order.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var (
		clauses []string
		args    []any
	)
	if filter.ProjectID != nil {
		clauses = append(clauses, `batch_id IN (SELECT id FROM batches WHERE project_id = ?)`)
		args = append(args, *filter.ProjectID)
	}
	if filter.BatchID != nil {
		clauses = append(clauses, `batch_id = ?`)
		args = append(args, *filter.BatchID)
	}
	if filter.Status != nil {
		clauses = append(clauses, `status = ?`)
		args = append(args, *filter.Status)
	}
	if filter.Stage != nil {
		clauses = append(clauses, `pipeline_stage = ?`)
		args = append(args, *filter.Stage)
	}
	if filter.ClaimedBy != nil {
		clauses = append(clauses, `claimed_by_id = ?`)
		args = append(args, *filter.ClaimedBy)
	}
	if filter.AssignedReviewer != nil {
		clauses = append(clauses, `assigned_reviewer_id = ?`)
		args = append(args, *filter.AssignedReviewer)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` WHERE ` + clause
		} else {
			query += ` AND ` + clause
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// OldestClaimable returns the oldest pending, unowned L1 task in a batch,
// or nil when the batch has no eligible work.
func (s *Store) OldestClaimable(ctx context.Context, batchID int64) (*Task, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks
         WHERE batch_id = ? AND status = ? AND claimed_by_id IS NULL AND pipeline_stage = ?
         ORDER BY created_at, id LIMIT 1`,
		batchID, TaskPending, StageL1,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oldest claimable: %w", err)
	}
	return task, nil
}

// TryClaim performs the atomic test-and-set that gives a task exactly one
// owner. It succeeds only while the task is pending, unowned, and in L1;
// a lost race reports false with no error.
func (s *Store) TryClaim(ctx context.Context, taskID, userID int64) (bool, error) {
	now := nowTimestamp()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET claimed_by_id = ?, claimed_at = ?, status = ?, updated_at = ?
         WHERE id = ? AND status = ? AND claimed_by_id IS NULL AND pipeline_stage = ?`,
		userID, now, TaskInProgress, now,
		taskID, TaskPending, StageL1,
	)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReassignOwner forcibly moves ownership of an L1 task, for operations-tier
// reassignment. The task must still be in L1.
func (s *Store) ReassignOwner(ctx context.Context, taskID, userID int64) (bool, error) {
	now := nowTimestamp()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET claimed_by_id = ?, claimed_at = ?, status = ?, updated_at = ?
         WHERE id = ? AND pipeline_stage = ? AND status IN (?, ?, ?)`,
		userID, now, TaskInProgress, now,
		taskID, StageL1, TaskPending, TaskInProgress, TaskSkipped,
	)
	if err != nil {
		return false, fmt.Errorf("reassign task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SaveDraft stores an unsubmitted partial response on an owned L1 task.
func (s *Store) SaveDraft(ctx context.Context, taskID, userID int64, draft map[string]any) (bool, error) {
	draftJSON, err := marshalJSONMap(draft, true)
	if err != nil {
		return false, err
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET draft_response = ?, updated_at = ?
         WHERE id = ? AND claimed_by_id = ? AND pipeline_stage = ? AND status = ?`,
		draftJSON, nowTimestamp(),
		taskID, userID, StageL1, TaskInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("save draft: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetSkipped toggles an owned in-progress L1 task to skipped. The owner is
// kept so the task stays revisitable.
func (s *Store) SetSkipped(ctx context.Context, taskID, userID int64) (bool, error) {
	return s.toggleSkip(ctx, taskID, userID, TaskInProgress, TaskSkipped)
}

// SetUnskipped returns a skipped task to in-progress for the same owner.
func (s *Store) SetUnskipped(ctx context.Context, taskID, userID int64) (bool, error) {
	return s.toggleSkip(ctx, taskID, userID, TaskSkipped, TaskInProgress)
}

func (s *Store) toggleSkip(ctx context.Context, taskID, userID int64, from, to TaskStatus) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET status = ?, updated_at = ?
         WHERE id = ? AND claimed_by_id = ? AND pipeline_stage = ? AND status = ?`,
		to, nowTimestamp(),
		taskID, userID, StageL1, from,
	)
	if err != nil {
		return false, fmt.Errorf("toggle skip: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SubmitTask appends an annotation and moves the task to the review stage,
// detaching the owner and clearing the draft. The annotation insert and the
// stage transition commit together or not at all.
func (s *Store) SubmitTask(ctx context.Context, taskID, userID int64, response map[string]any) (bool, error) {
	responseJSON, err := marshalJSONMap(response, true)
	if err != nil {
		return false, err
	}
	submitted := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowTimestamp()
		res, err := tx.ExecContext(
			ctx,
			`UPDATE tasks
             SET pipeline_stage = ?, status = ?, claimed_by_id = NULL, claimed_at = NULL,
                 draft_response = NULL, updated_at = ?
             WHERE id = ? AND claimed_by_id = ? AND pipeline_stage = ? AND status = ?`,
			StageReview, TaskPending, now,
			taskID, userID, StageL1, TaskInProgress,
		)
		if err != nil {
			return fmt.Errorf("submit transition: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO annotations (task_id, user_id, response, pipeline_stage, created_at)
             VALUES (?, ?, ?, ?, ?)`,
			taskID, userID, responseJSON, StageL1, now,
		); err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
		submitted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return submitted, nil
}

// ApproveTask completes a review-stage task. Conditional on the task still
// sitting in pending/Review so concurrent reviewers cannot double-apply.
func (s *Store) ApproveTask(ctx context.Context, taskID int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET pipeline_stage = ?, status = ?, updated_at = ?
         WHERE id = ? AND pipeline_stage = ? AND status = ?`,
		StageDone, TaskCompleted, nowTimestamp(),
		taskID, StageReview, TaskPending,
	)
	if err != nil {
		return false, fmt.Errorf("approve task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RejectResult reports the outcome of a rework transition.
type RejectResult struct {
	Applied bool
	// Owner is the annotator the task was returned to, nil when no prior
	// annotation existed and the task fell back to the unowned pool.
	Owner *int64
}

// RejectTask sends a review-stage task back to L1 for rework, re-owned by the
// most recent annotation's author, incrementing rework_count and clearing the
// draft. The owner lookup and the transition share one transaction so the
// rework target cannot drift.
func (s *Store) RejectTask(ctx context.Context, taskID int64) (RejectResult, error) {
	result := RejectResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var author sql.NullInt64
		err := tx.QueryRowContext(
			ctx,
			`SELECT user_id FROM annotations WHERE task_id = ? ORDER BY id DESC LIMIT 1`,
			taskID,
		).Scan(&author)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("latest annotation: %w", err)
		}

		now := nowTimestamp()
		var res sql.Result
		if author.Valid {
			res, err = tx.ExecContext(
				ctx,
				`UPDATE tasks
                 SET pipeline_stage = ?, status = ?, claimed_by_id = ?, claimed_at = ?,
                     rework_count = rework_count + 1, draft_response = NULL, updated_at = ?
                 WHERE id = ? AND pipeline_stage = ? AND status = ?`,
				StageL1, TaskInProgress, author.Int64, now, now,
				taskID, StageReview, TaskPending,
			)
		} else {
			res, err = tx.ExecContext(
				ctx,
				`UPDATE tasks
                 SET pipeline_stage = ?, status = ?, claimed_by_id = NULL, claimed_at = NULL,
                     rework_count = rework_count + 1, draft_response = NULL, updated_at = ?
                 WHERE id = ? AND pipeline_stage = ? AND status = ?`,
				StageL1, TaskPending, now,
				taskID, StageReview, TaskPending,
			)
		}
		if err != nil {
			return fmt.Errorf("reject transition: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		result.Applied = true
		if author.Valid {
			owner := author.Int64
			result.Owner = &owner
		}
		return nil
	})
	if err != nil {
		return RejectResult{}, err
	}
	return result, nil
}

// ReviewQueue returns pending review-stage tasks assigned to the reviewer or
// unassigned, oldest update first, optionally scoped to one project.
func (s *Store) ReviewQueue(ctx context.Context, reviewerID int64, projectID *int64) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
        WHERE pipeline_stage = ? AND status = ?
          AND (assigned_reviewer_id = ? OR assigned_reviewer_id IS NULL)`
	args := []any{StageReview, TaskPending, reviewerID}
	if projectID != nil {
		query += ` AND batch_id IN (SELECT id FROM batches WHERE project_id = ?)`
		args = append(args, *projectID)
	}
	query += ` ORDER BY updated_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("review queue: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MyTasks returns the caller's active (in-progress or skipped) L1 tasks
// ordered by claim time.
func (s *Store) MyTasks(ctx context.Context, userID int64) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks
         WHERE claimed_by_id = ? AND status IN (?, ?)
         ORDER BY claimed_at, id`,
		userID, TaskInProgress, TaskSkipped,
	)
	if err != nil {
		return nil, fmt.Errorf("my tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// TaskTally counts a project's tasks and how many have completed.
func (s *Store) TaskTally(ctx context.Context, projectID int64) (total, completed int, err error) {
	err = s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
         FROM tasks WHERE batch_id IN (SELECT id FROM batches WHERE project_id = ?)`,
		TaskCompleted, projectID,
	).Scan(&total, &completed)
	if err != nil {
		return 0, 0, fmt.Errorf("task tally: %w", err)
	}
	return total, completed, nil
}

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		id          int64
		batchID     int64
		statusStr   string
		stageStr    string
		contentRaw  sql.NullString
		claimedBy   sql.NullInt64
		claimedRaw  sql.NullString
		reviewerID  sql.NullInt64
		dueRaw      sql.NullString
		reworkCount int
		draftRaw    sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&id, &batchID, &statusStr, &stageStr, &contentRaw, &claimedBy, &claimedRaw,
		&reviewerID, &dueRaw, &reworkCount, &draftRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	content, err := unmarshalJSONMap(contentRaw)
	if err != nil {
		return nil, err
	}
	draft, err := unmarshalJSONMap(draftRaw)
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:               id,
		BatchID:          batchID,
		Status:           TaskStatus(statusStr),
		Stage:            Stage(stageStr),
		Content:          content,
		ClaimedBy:        intPtr(claimedBy),
		ClaimedAt:        timePtr(claimedRaw),
		AssignedReviewer: intPtr(reviewerID),
		DueAt:            timePtr(dueRaw),
		ReworkCount:      reworkCount,
		DraftResponse:    draft,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}
