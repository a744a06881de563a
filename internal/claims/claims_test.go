package claims_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"annolab/internal/claims"
	"annolab/internal/identity"
	"annolab/internal/logging"
	"annolab/internal/services"
	"annolab/internal/store"
	"annolab/internal/testsupport"
)

func newService(t *testing.T) (*claims.Service, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return claims.NewService(st, logging.NewNop()), st
}

func annotator(id int64) identity.Actor {
	return identity.Actor{ID: id, Role: identity.RoleAnnotator}
}

func opsManager(id int64) identity.Actor {
	return identity.Actor{ID: id, Role: identity.RoleOpsManager}
}

func seedOwnedTask(t *testing.T, st *store.Store, ownerID int64, roster []int64) *store.Task {
	t.Helper()
	project := testsupport.SeedProject(t, st, "Claims", roster, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)
	if won, err := st.TryClaim(context.Background(), task.ID, ownerID); err != nil || !won {
		t.Fatalf("TryClaim: won=%v err=%v", won, err)
	}
	return task
}

func TestCreateRejectsUnownedTask(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Unowned", []int64{10, 11}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)

	if _, err := svc.Create(ctx, annotator(11), task.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for unowned task, got %v", err)
	}
}

func TestCreateRejectsOwnTask(t *testing.T) {
	svc, st := newService(t)
	task := seedOwnedTask(t, st, 10, []int64{10, 11})

	if _, err := svc.Create(context.Background(), annotator(10), task.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for caller-owned task, got %v", err)
	}
}

func TestCreateEnforcesRoster(t *testing.T) {
	svc, st := newService(t)
	task := seedOwnedTask(t, st, 10, []int64{10, 11})

	if _, err := svc.Create(context.Background(), annotator(99), task.ID); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied off roster, got %v", err)
	}
}

func TestDuplicatePendingRequestConflicts(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	task := seedOwnedTask(t, st, 10, []int64{10, 11, 12})

	request, err := svc.Create(ctx, annotator(11), task.ID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if request.CurrentAssignee == nil || *request.CurrentAssignee != 10 {
		t.Fatalf("expected owner snapshot 10, got %#v", request.CurrentAssignee)
	}

	_, err = svc.Create(ctx, annotator(11), task.ID)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on duplicate request, got %v", err)
	}
	if !strings.Contains(err.Error(), "you already have a pending request for this task") {
		t.Fatalf("conflict should blame the requester's own pending request, got %q", err)
	}

	// The constraint is per requester; another user can still file.
	if _, err := svc.Create(ctx, annotator(12), task.ID); err != nil {
		t.Fatalf("expected a different requester to file, got %v", err)
	}
}

func TestApproveTransfersOwnership(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	task := seedOwnedTask(t, st, 10, []int64{10, 11})

	request, err := svc.Create(ctx, annotator(11), task.ID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The requester cannot decide their own request.
	if _, err := svc.Approve(ctx, annotator(11), request.ID); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied for requester, got %v", err)
	}

	resolved, err := svc.Approve(ctx, annotator(10), request.ID)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if resolved.Status != store.RequestApproved {
		t.Fatalf("expected approved request, got %s", resolved.Status)
	}

	transferred, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if transferred.ClaimedBy == nil || *transferred.ClaimedBy != 11 {
		t.Fatalf("expected ownership at 11, got %#v", transferred.ClaimedBy)
	}

	// Deciding again conflicts; the request is resolved.
	if _, err := svc.Approve(ctx, annotator(10), request.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on resolved request, got %v", err)
	}
}

func TestApproveDetectsOwnerDrift(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	task := seedOwnedTask(t, st, 10, []int64{10, 11, 12})

	request, err := svc.Create(ctx, annotator(11), task.ID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Ownership moves to a third annotator before the decision.
	if ok, err := st.ReassignOwner(ctx, task.ID, 12); err != nil || !ok {
		t.Fatalf("ReassignOwner: ok=%v err=%v", ok, err)
	}

	if _, err := svc.Approve(ctx, opsManager(50), request.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on owner drift, got %v", err)
	}

	unchanged, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if unchanged.ClaimedBy == nil || *unchanged.ClaimedBy != 12 {
		t.Fatalf("expected owner untouched, got %#v", unchanged.ClaimedBy)
	}
}

func TestRejectLeavesOwnershipUntouched(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	task := seedOwnedTask(t, st, 10, []int64{10, 11})

	request, err := svc.Create(ctx, annotator(11), task.ID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resolved, err := svc.Reject(ctx, annotator(10), request.ID)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if resolved.Status != store.RequestRejected {
		t.Fatalf("expected rejected request, got %s", resolved.Status)
	}

	unchanged, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if unchanged.ClaimedBy == nil || *unchanged.ClaimedBy != 10 {
		t.Fatalf("expected ownership retained, got %#v", unchanged.ClaimedBy)
	}
}

func TestListScopesToParticipants(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Scope", []int64{10, 11, 12}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	first := testsupport.SeedTask(t, st, batch.ID, nil)
	second := testsupport.SeedTask(t, st, batch.ID, nil)
	if won, err := st.TryClaim(ctx, first.ID, 10); err != nil || !won {
		t.Fatalf("TryClaim: won=%v err=%v", won, err)
	}
	if won, err := st.TryClaim(ctx, second.ID, 11); err != nil || !won {
		t.Fatalf("TryClaim: won=%v err=%v", won, err)
	}

	if _, err := svc.Create(ctx, annotator(11), first.ID); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Create(ctx, annotator(12), second.ID); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Annotator 10 sees only traffic on their task.
	visible, err := svc.List(ctx, annotator(10), store.RequestFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(visible) != 1 || visible[0].TaskID != first.ID {
		t.Fatalf("unexpected scoped list: %#v", visible)
	}

	// Operations sees everything.
	all, err := svc.List(ctx, opsManager(50), store.RequestFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 requests for ops, got %d", len(all))
	}
}
