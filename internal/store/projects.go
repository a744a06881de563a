package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const projectColumns = "id, name, description, status, annotator_ids, reviewer_ids, created_at, updated_at"

// CreateProject inserts a project with its annotator/reviewer rosters.
func (s *Store) CreateProject(ctx context.Context, name, description string, annotators, reviewers []int64) (*Project, error) {
	annotatorJSON, err := marshalIDList(annotators)
	if err != nil {
		return nil, err
	}
	reviewerJSON, err := marshalIDList(reviewers)
	if err != nil {
		return nil, err
	}
	timestamp := nowTimestamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO projects (name, description, status, annotator_ids, reviewer_ids, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		name, description, ProjectActive, annotatorJSON, reviewerJSON, timestamp, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetProject(ctx, id)
}

// GetProject fetches a project by identifier. Returns nil when absent.
func (s *Store) GetProject(ctx context.Context, id int64) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// MarkProjectReady flips a project to ready_for_export. Returns true only on
// the write that performed the flip, so callers can signal exactly once.
func (s *Store) MarkProjectReady(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		ProjectReadyForExport, nowTimestamp(), id, ProjectReadyForExport,
	)
	if err != nil {
		return false, fmt.Errorf("mark project ready: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ProjectForBatch resolves the owning project of a batch. Returns nil when
// either the batch or the project is absent.
func (s *Store) ProjectForBatch(ctx context.Context, batchID int64) (*Project, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil || batch == nil {
		return nil, err
	}
	return s.GetProject(ctx, batch.ProjectID)
}

// ProjectForTask resolves the owning project of a task via its batch.
func (s *Store) ProjectForTask(ctx context.Context, taskID int64) (*Project, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT p.id, p.name, p.description, p.status, p.annotator_ids, p.reviewer_ids, p.created_at, p.updated_at
         FROM projects p
         JOIN batches b ON b.project_id = p.id
         JOIN tasks t ON t.batch_id = b.id
         WHERE t.id = ?`,
		taskID,
	)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("project for task: %w", err)
	}
	return project, nil
}

const batchColumns = "id, project_id, name, created_at, updated_at"

// CreateBatch inserts a batch under a project.
func (s *Store) CreateBatch(ctx context.Context, projectID int64, name string) (*Batch, error) {
	timestamp := nowTimestamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO batches (project_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		projectID, name, timestamp, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetBatch(ctx, id)
}

// GetBatch fetches a batch by identifier. Returns nil when absent.
func (s *Store) GetBatch(ctx context.Context, id int64) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns a project's batches ordered by creation time.
func (s *Store) ListBatches(ctx context.Context, projectID int64) ([]*Batch, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+batchColumns+` FROM batches WHERE project_id = ? ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func scanProject(scanner rowScanner) (*Project, error) {
	var (
		id            int64
		name          string
		description   string
		status        string
		annotatorsRaw string
		reviewersRaw  string
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(&id, &name, &description, &status, &annotatorsRaw, &reviewersRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	annotators, err := unmarshalIDList(annotatorsRaw)
	if err != nil {
		return nil, err
	}
	reviewers, err := unmarshalIDList(reviewersRaw)
	if err != nil {
		return nil, err
	}
	project := &Project{
		ID:           id,
		Name:         name,
		Description:  description,
		Status:       ProjectStatus(status),
		AnnotatorIDs: annotators,
		ReviewerIDs:  reviewers,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		project.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		project.UpdatedAt = updated
	}
	return project, nil
}

func scanBatch(scanner rowScanner) (*Batch, error) {
	var (
		id         int64
		projectID  int64
		name       string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&id, &projectID, &name, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	batch := &Batch{ID: id, ProjectID: projectID, Name: name}
	if created, err := parseTimeString(createdRaw); err == nil {
		batch.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		batch.UpdatedAt = updated
	}
	return batch, nil
}
