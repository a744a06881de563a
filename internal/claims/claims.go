package claims

import (
	"context"
	"errors"
	"log/slog"

	"annolab/internal/identity"
	"annolab/internal/logging"
	"annolab/internal/services"
	"annolab/internal/store"
)

// Service implements the claim request protocol: a roster annotator proposes
// taking over an owned task, and the current owner or an operations-tier
// actor decides. Approval transfers ownership in one transaction that
// re-validates the owner recorded when the request was filed.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService builds the claim request service.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logging.NewComponentLogger(logger, "claims"),
	}
}

// Create files a claim request for an owned task. The task's current owner is
// snapshotted on the request so approval can detect drift.
func (s *Service) Create(ctx context.Context, actor identity.Actor, taskID int64) (*store.ClaimRequest, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "claims", "create", "load task", err)
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "claims", "create", "task not found", nil)
	}
	if task.Stage != store.StageL1 {
		return nil, services.Wrap(services.ErrConflict, "claims", "create", "task is past the annotation stage", nil)
	}
	if task.ClaimedBy == nil {
		return nil, services.Wrap(services.ErrConflict, "claims", "create", "task is unowned; claim it directly", nil)
	}
	if *task.ClaimedBy == actor.ID {
		return nil, services.Wrap(services.ErrConflict, "claims", "create", "caller already owns this task", nil)
	}

	project, err := s.store.ProjectForTask(ctx, taskID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "claims", "create", "load project", err)
	}
	if project == nil {
		return nil, services.Wrap(services.ErrNotFound, "claims", "create", "task has no project", nil)
	}
	if !actor.IsOps() {
		if actor.Role != identity.RoleAnnotator || !project.HasAnnotator(actor.ID) {
			return nil, services.Wrap(services.ErrPermissionDenied, "claims", "create", "not on project annotator roster", nil)
		}
	}

	request, err := s.store.InsertClaimRequest(ctx, taskID, actor.ID, task.ClaimedBy)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRequest) {
			return nil, services.Wrap(services.ErrConflict, "claims", "create", "you already have a pending request for this task", err)
		}
		return nil, services.Wrap(services.ErrStorage, "claims", "create", "", err)
	}
	s.logger.Info("claim request filed",
		logging.Int64(logging.FieldTaskID, taskID),
		logging.Int64(logging.FieldUserID, actor.ID),
		logging.Int64("request_id", request.ID))
	return request, nil
}

// List returns claim requests visible to the actor. Operations-tier actors
// see everything matching the filter; everyone else sees requests they filed
// or requests against tasks they owned when the request was made.
func (s *Service) List(ctx context.Context, actor identity.Actor, filter store.RequestFilter) ([]*store.ClaimRequest, error) {
	if !actor.IsOps() {
		filter.Participant = &actor.ID
	}
	requests, err := s.store.ListClaimRequests(ctx, filter)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "claims", "list", "", err)
	}
	return requests, nil
}

// Approve grants a pending request, transferring ownership to the requester.
// Only the owner recorded on the request or an operations-tier actor may
// decide. If the task's owner changed since the request was filed, the
// approval fails with a conflict and the request stays pending.
func (s *Service) Approve(ctx context.Context, actor identity.Actor, requestID int64) (*store.ClaimRequest, error) {
	request, err := s.requireDecider(ctx, actor, requestID, "approve")
	if err != nil {
		return nil, err
	}

	outcome, err := s.store.ApproveClaimRequest(ctx, requestID, actor.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "claims", "approve", "", err)
	}
	switch outcome {
	case store.ApproveApplied:
		s.logger.Info("claim request approved",
			logging.Int64("request_id", requestID),
			logging.Int64(logging.FieldTaskID, request.TaskID),
			logging.Int64(logging.FieldUserID, actor.ID))
		return s.store.GetClaimRequest(ctx, requestID)
	case store.ApproveOwnerDrift:
		return nil, services.Wrap(services.ErrConflict, "claims", "approve", "task owner changed since the request was filed", nil)
	default:
		return nil, services.Wrap(services.ErrConflict, "claims", "approve", "request is no longer pending", nil)
	}
}

// Reject declines a pending request, leaving ownership untouched.
func (s *Service) Reject(ctx context.Context, actor identity.Actor, requestID int64) (*store.ClaimRequest, error) {
	request, err := s.requireDecider(ctx, actor, requestID, "reject")
	if err != nil {
		return nil, err
	}

	applied, err := s.store.RejectClaimRequest(ctx, requestID, actor.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "claims", "reject", "", err)
	}
	if !applied {
		return nil, services.Wrap(services.ErrConflict, "claims", "reject", "request is no longer pending", nil)
	}
	s.logger.Info("claim request rejected",
		logging.Int64("request_id", requestID),
		logging.Int64(logging.FieldTaskID, request.TaskID),
		logging.Int64(logging.FieldUserID, actor.ID))
	return s.store.GetClaimRequest(ctx, requestID)
}

// requireDecider loads a request and checks the actor may decide it.
func (s *Service) requireDecider(ctx context.Context, actor identity.Actor, requestID int64, operation string) (*store.ClaimRequest, error) {
	request, err := s.store.GetClaimRequest(ctx, requestID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "claims", operation, "load request", err)
	}
	if request == nil {
		return nil, services.Wrap(services.ErrNotFound, "claims", operation, "request not found", nil)
	}
	if actor.IsOps() {
		return request, nil
	}
	if request.CurrentAssignee != nil && *request.CurrentAssignee == actor.ID {
		return request, nil
	}
	return nil, services.Wrap(services.ErrPermissionDenied, "claims", operation, "only the task owner or operations may decide", nil)
}
