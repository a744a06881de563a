package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const requestColumns = "id, task_id, requested_by_id, current_assignee_id, status, approved_by_id, created_at, updated_at"

// ErrDuplicateRequest indicates the requester already has a pending claim
// request for the task. Enforced by a partial unique index so concurrent
// creates cannot slip a duplicate through.
var ErrDuplicateRequest = errors.New("duplicate pending claim request")

// InsertClaimRequest creates a pending transfer proposal, snapshotting the
// task's current owner.
func (s *Store) InsertClaimRequest(ctx context.Context, taskID, requestedBy int64, currentAssignee *int64) (*ClaimRequest, error) {
	timestamp := nowTimestamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO claim_requests (task_id, requested_by_id, current_assignee_id, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, requestedBy, nullableInt(currentAssignee), RequestPending, timestamp, timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRequest
		}
		return nil, fmt.Errorf("insert claim request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetClaimRequest(ctx, id)
}

// GetClaimRequest fetches a claim request by identifier. Returns nil when absent.
func (s *Store) GetClaimRequest(ctx context.Context, id int64) (*ClaimRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM claim_requests WHERE id = ?`, id)
	request, err := scanClaimRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get claim request: %w", err)
	}
	return request, nil
}

// RequestFilter narrows ListClaimRequests results. Nil fields are ignored.
// Participant restricts to requests where the user is requester or assignee,
// which is how non-ops listings are scoped.
type RequestFilter struct {
	Status      *RequestStatus
	TaskID      *int64
	RequestedBy *int64
	ProjectID   *int64
	Participant *int64
}

// ListClaimRequests returns claim requests matching the filter, newest first.
func (s *Store) ListClaimRequests(ctx context.Context, filter RequestFilter) ([]*ClaimRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM claim_requests`
	var (
		clauses []string
		args    []any
	)
	if filter.Status != nil {
		clauses = append(clauses, `status = ?`)
		args = append(args, *filter.Status)
	}
	if filter.TaskID != nil {
		clauses = append(clauses, `task_id = ?`)
		args = append(args, *filter.TaskID)
	}
	if filter.RequestedBy != nil {
		clauses = append(clauses, `requested_by_id = ?`)
		args = append(args, *filter.RequestedBy)
	}
	if filter.ProjectID != nil {
		clauses = append(clauses, `task_id IN (
			SELECT t.id FROM tasks t
			JOIN batches b ON b.id = t.batch_id
			WHERE b.project_id = ?)`)
		args = append(args, *filter.ProjectID)
	}
	if filter.Participant != nil {
		clauses = append(clauses, `(requested_by_id = ? OR current_assignee_id = ?)`)
		args = append(args, *filter.Participant, *filter.Participant)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` WHERE ` + clause
		} else {
			query += ` AND ` + clause
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list claim requests: %w", err)
	}
	defer rows.Close()

	var requests []*ClaimRequest
	for rows.Next() {
		request, err := scanClaimRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

// ApproveOutcome reports how an approval transaction resolved.
type ApproveOutcome int

const (
	// ApproveApplied means the request was approved and ownership moved.
	ApproveApplied ApproveOutcome = iota
	// ApproveNotPending means the request had already been resolved.
	ApproveNotPending
	// ApproveOwnerDrift means the task's owner no longer matches the
	// snapshot taken at request creation.
	ApproveOwnerDrift
)

// ApproveClaimRequest marks the request approved and transfers task ownership
// to the requester in one transaction. The task's current owner is
// re-validated against the request snapshot inside the same transaction; any
// drift aborts the approval.
func (s *Store) ApproveClaimRequest(ctx context.Context, requestID, approverID int64) (ApproveOutcome, error) {
	outcome := ApproveNotPending
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			taskID      int64
			requestedBy int64
			assignee    sql.NullInt64
			status      string
		)
		err := tx.QueryRowContext(
			ctx,
			`SELECT task_id, requested_by_id, current_assignee_id, status FROM claim_requests WHERE id = ?`,
			requestID,
		).Scan(&taskID, &requestedBy, &assignee, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("claim request %d: %w", requestID, sql.ErrNoRows)
		}
		if err != nil {
			return fmt.Errorf("read claim request: %w", err)
		}
		if RequestStatus(status) != RequestPending {
			outcome = ApproveNotPending
			return nil
		}

		var currentOwner sql.NullInt64
		err = tx.QueryRowContext(ctx, `SELECT claimed_by_id FROM tasks WHERE id = ?`, taskID).Scan(&currentOwner)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %d: %w", taskID, sql.ErrNoRows)
		}
		if err != nil {
			return fmt.Errorf("read task owner: %w", err)
		}
		if currentOwner.Valid != assignee.Valid || (currentOwner.Valid && currentOwner.Int64 != assignee.Int64) {
			outcome = ApproveOwnerDrift
			return nil
		}

		now := nowTimestamp()
		res, err := tx.ExecContext(
			ctx,
			`UPDATE tasks
             SET claimed_by_id = ?, claimed_at = ?, status = ?, updated_at = ?
             WHERE id = ? AND pipeline_stage = ? AND status IN (?, ?, ?)`,
			requestedBy, now, TaskInProgress, now,
			taskID, StageL1, TaskPending, TaskInProgress, TaskSkipped,
		)
		if err != nil {
			return fmt.Errorf("transfer ownership: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Task left L1 since the request was filed.
			outcome = ApproveOwnerDrift
			return nil
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE claim_requests SET status = ?, approved_by_id = ?, updated_at = ? WHERE id = ?`,
			RequestApproved, approverID, now, requestID,
		); err != nil {
			return fmt.Errorf("approve request: %w", err)
		}
		outcome = ApproveApplied
		return nil
	})
	if err != nil {
		return ApproveNotPending, err
	}
	return outcome, nil
}

// RejectClaimRequest closes a pending request without touching the task.
// Returns false when the request was no longer pending.
func (s *Store) RejectClaimRequest(ctx context.Context, requestID, approverID int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE claim_requests SET status = ?, approved_by_id = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		RequestRejected, approverID, nowTimestamp(),
		requestID, RequestPending,
	)
	if err != nil {
		return false, fmt.Errorf("reject claim request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

func scanClaimRequest(scanner rowScanner) (*ClaimRequest, error) {
	var (
		id          int64
		taskID      int64
		requestedBy int64
		assignee    sql.NullInt64
		statusStr   string
		approvedBy  sql.NullInt64
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(&id, &taskID, &requestedBy, &assignee, &statusStr, &approvedBy, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	request := &ClaimRequest{
		ID:              id,
		TaskID:          taskID,
		RequestedBy:     requestedBy,
		CurrentAssignee: intPtr(assignee),
		Status:          RequestStatus(statusStr),
		ApprovedBy:      intPtr(approvedBy),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		request.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		request.UpdatedAt = updated
	}
	return request, nil
}
