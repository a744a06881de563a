package workflow_test

import (
	"context"
	"errors"
	"testing"

	"annolab/internal/identity"
	"annolab/internal/logging"
	"annolab/internal/services"
	"annolab/internal/store"
	"annolab/internal/testsupport"
	"annolab/internal/workflow"
)

func newEngine(t *testing.T) (*workflow.Engine, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	engine := workflow.NewEngine(st, logging.NewNop())
	if err := engine.EnsureSpecs(context.Background()); err != nil {
		t.Fatalf("EnsureSpecs failed: %v", err)
	}
	return engine, st
}

func opsManager(id int64) identity.Actor {
	return identity.Actor{ID: id, Role: identity.RoleOpsManager}
}

func TestEnsureSpecsIsIdempotent(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	// A second pass must not duplicate the catalogue.
	if err := engine.EnsureSpecs(ctx); err != nil {
		t.Fatalf("EnsureSpecs failed: %v", err)
	}

	specs, err := engine.ListSpecs(ctx)
	if err != nil {
		t.Fatalf("ListSpecs failed: %v", err)
	}
	if len(specs) != 6 {
		t.Fatalf("expected 6 seeded specs, got %d", len(specs))
	}
	kinds := map[store.NodeType]bool{}
	for _, spec := range specs {
		kinds[spec.NodeType] = true
	}
	for _, want := range []store.NodeType{store.NodeStart, store.NodeEnd, store.NodeNormal, store.NodeSkipped, store.NodeGroup, store.NodeManual} {
		if !kinds[want] {
			t.Fatalf("missing node type %s in catalogue", want)
		}
	}
}

func TestBuildDefaultCreatesLinkedChain(t *testing.T) {
	engine, st := newEngine(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Chain", []int64{10}, nil)

	result, err := engine.BuildDefault(ctx, opsManager(50), project.ID)
	if err != nil {
		t.Fatalf("BuildDefault failed: %v", err)
	}
	if !result.Created || len(result.InstanceUIDs) != 6 {
		t.Fatalf("unexpected build result: %#v", result)
	}

	instances, err := engine.ListInstances(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(instances) != 6 {
		t.Fatalf("expected 6 nodes, got %d", len(instances))
	}

	// Start is completed on creation; every other node waits.
	if instances[0].NodeType != store.NodeStart || instances[0].Status != store.ActivityCompleted {
		t.Fatalf("unexpected start node: %#v", instances[0])
	}
	for _, node := range instances[1:] {
		if node.Status != store.ActivityPending {
			t.Fatalf("expected pending node, got %#v", node)
		}
	}

	// Each node links to exactly its successor.
	for i, node := range instances {
		if i+1 < len(instances) {
			if len(node.NextInstanceIDs) != 1 || node.NextInstanceIDs[0] != instances[i+1].InstanceUID {
				t.Fatalf("node %d link mismatch: %#v", i, node.NextInstanceIDs)
			}
		} else if len(node.NextInstanceIDs) != 0 {
			t.Fatalf("end node must not link onward: %#v", node.NextInstanceIDs)
		}
	}
	if instances[3].NodeType != store.NodeManual {
		t.Fatalf("expected annotate node to be manual, got %s", instances[3].NodeType)
	}
}

func TestBuildDefaultIsIdempotent(t *testing.T) {
	engine, st := newEngine(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Rebuild", []int64{10}, nil)

	if _, err := engine.BuildDefault(ctx, opsManager(50), project.ID); err != nil {
		t.Fatalf("BuildDefault failed: %v", err)
	}
	again, err := engine.BuildDefault(ctx, opsManager(50), project.ID)
	if err != nil {
		t.Fatalf("repeat BuildDefault failed: %v", err)
	}
	if again.Created || again.Existing != 6 {
		t.Fatalf("expected no-op with existing count, got %#v", again)
	}
}

func TestBuildDefaultRequiresOps(t *testing.T) {
	engine, st := newEngine(t)
	project := testsupport.SeedProject(t, st, "Denied", []int64{10}, nil)

	actor := identity.Actor{ID: 10, Role: identity.RoleAnnotator}
	if _, err := engine.BuildDefault(context.Background(), actor, project.ID); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestCompletionNeverAutoTriggersSuccessor(t *testing.T) {
	engine, st := newEngine(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "NoChainReaction", []int64{10}, nil)

	result, err := engine.BuildDefault(ctx, opsManager(50), project.ID)
	if err != nil {
		t.Fatalf("BuildDefault failed: %v", err)
	}
	configure := result.InstanceUIDs[1]
	assign := result.InstanceUIDs[2]

	owner := int64(10)
	triggered, err := engine.Trigger(ctx, configure, &owner, map[string]any{"dataset": "v1"})
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if triggered.Status != store.ActivityInProgress || triggered.StartDate == nil {
		t.Fatalf("unexpected triggered node: %#v", triggered)
	}
	if triggered.OwnerID == nil || *triggered.OwnerID != 10 {
		t.Fatalf("expected owner recorded, got %#v", triggered.OwnerID)
	}

	completed, err := engine.Complete(ctx, configure, map[string]any{"result": "ok"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != store.ActivityCompleted || completed.EndDate == nil {
		t.Fatalf("unexpected completed node: %#v", completed)
	}
	if completed.Payload["dataset"] != "v1" || completed.Payload["result"] != "ok" {
		t.Fatalf("expected merged payload, got %#v", completed.Payload)
	}

	// The successor must still be pending.
	successor, err := st.GetActivityInstance(ctx, assign)
	if err != nil {
		t.Fatalf("GetActivityInstance failed: %v", err)
	}
	if successor.Status != store.ActivityPending {
		t.Fatalf("successor must stay pending, got %s", successor.Status)
	}
}

func TestTransitionsOnTerminalNodeConflict(t *testing.T) {
	engine, st := newEngine(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Terminal", []int64{10}, nil)

	instance, err := engine.CreateInstance(ctx, opsManager(50), project.ID, "normal", nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if _, err := engine.Skip(ctx, instance.InstanceUID); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}

	if _, err := engine.Trigger(ctx, instance.InstanceUID, nil, nil); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on terminal node, got %v", err)
	}
	if _, err := engine.Complete(ctx, instance.InstanceUID, nil); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on terminal node, got %v", err)
	}

	skipped, err := st.GetActivityInstance(ctx, instance.InstanceUID)
	if err != nil {
		t.Fatalf("GetActivityInstance failed: %v", err)
	}
	if skipped.Status != store.ActivitySkipped {
		t.Fatalf("expected skipped, got %s", skipped.Status)
	}
}

func TestTransitionMissingNodeNotFound(t *testing.T) {
	engine, _ := newEngine(t)

	if _, err := engine.Trigger(context.Background(), "no-such-uid", nil, nil); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
