package store

import (
	"context"
	"database/sql"
	"fmt"
)

const annotationColumns = "id, task_id, user_id, response, pipeline_stage, created_at"

// ListAnnotations returns a task's annotations in submission order.
func (s *Store) ListAnnotations(ctx context.Context, taskID int64) ([]*Annotation, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+annotationColumns+` FROM annotations WHERE task_id = ? ORDER BY id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var annotations []*Annotation
	for rows.Next() {
		annotation, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, annotation)
	}
	return annotations, rows.Err()
}

// EfficiencyTally counts completed tasks whose most recent annotation belongs
// to the given user, and how many of those went through rework. An optional
// project narrows the census.
func (s *Store) EfficiencyTally(ctx context.Context, userID int64, projectID *int64) (completed, reworked int, err error) {
	query := `SELECT COUNT(1), COALESCE(SUM(CASE WHEN t.rework_count > 0 THEN 1 ELSE 0 END), 0)
        FROM tasks t
        WHERE t.status = ?
          AND (SELECT a.user_id FROM annotations a WHERE a.task_id = t.id ORDER BY a.id DESC LIMIT 1) = ?`
	args := []any{TaskCompleted, userID}
	if projectID != nil {
		query += ` AND t.batch_id IN (SELECT id FROM batches WHERE project_id = ?)`
		args = append(args, *projectID)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&completed, &reworked); err != nil {
		return 0, 0, fmt.Errorf("efficiency tally: %w", err)
	}
	return completed, reworked, nil
}

// AnnotatedTaskIDs returns the set of task ids within a project that the user
// has ever submitted an annotation for.
func (s *Store) AnnotatedTaskIDs(ctx context.Context, userID, projectID int64) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT DISTINCT a.task_id FROM annotations a
         JOIN tasks t ON t.id = a.task_id
         WHERE a.user_id = ? AND t.batch_id IN (SELECT id FROM batches WHERE project_id = ?)`,
		userID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("annotated task ids: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func scanAnnotation(scanner rowScanner) (*Annotation, error) {
	var (
		id          int64
		taskID      int64
		userID      int64
		responseRaw sql.NullString
		stageStr    string
		createdRaw  string
	)
	if err := scanner.Scan(&id, &taskID, &userID, &responseRaw, &stageStr, &createdRaw); err != nil {
		return nil, err
	}
	response, err := unmarshalJSONMap(responseRaw)
	if err != nil {
		return nil, err
	}
	annotation := &Annotation{
		ID:       id,
		TaskID:   taskID,
		UserID:   userID,
		Response: response,
		Stage:    Stage(stageStr),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		annotation.CreatedAt = created
	}
	return annotation, nil
}
