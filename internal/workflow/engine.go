package workflow

import (
	"context"
	"log/slog"

	"annolab/internal/identity"
	"annolab/internal/logging"
	"annolab/internal/services"
	"annolab/internal/store"
)

// Engine manages the activity catalogue and per-project workflow chains.
// Node completion never auto-triggers successors; next_instance_ids is
// advisory structure for clients walking the chain.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
}

// NewEngine builds the workflow engine.
func NewEngine(st *store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		logger: logging.NewComponentLogger(logger, "workflow"),
	}
}

// seedSpec describes one catalogue entry created at bootstrap.
type seedSpec struct {
	key         string
	name        string
	description string
	nodeType    store.NodeType
}

var seedSpecs = []seedSpec{
	{"start", "Start", "Chain entry node, created completed.", store.NodeStart},
	{"end", "End", "Chain exit node.", store.NodeEnd},
	{"normal", "Normal", "Automatic step driven by a service call.", store.NodeNormal},
	{"skipped", "Skipped", "Placeholder step excluded from execution.", store.NodeSkipped},
	{"group", "Group", "Container grouping related steps.", store.NodeGroup},
	{"manual", "Manual", "Step requiring human action to progress.", store.NodeManual},
}

// EnsureSpecs seeds the activity spec catalogue. Safe to call on every
// startup; existing keys are left alone.
func (e *Engine) EnsureSpecs(ctx context.Context) error {
	for _, seed := range seedSpecs {
		existing, err := e.store.GetActivitySpecByKey(ctx, seed.key)
		if err != nil {
			return services.Wrap(services.ErrStorage, "workflow", "ensure specs", "lookup "+seed.key, err)
		}
		if existing != nil {
			continue
		}
		if _, err := e.store.InsertActivitySpec(ctx, seed.key, seed.name, seed.description, "", seed.nodeType); err != nil {
			return services.Wrap(services.ErrStorage, "workflow", "ensure specs", "insert "+seed.key, err)
		}
		e.logger.Info("activity spec seeded", logging.String("spec_key", seed.key))
	}
	return nil
}

// CreateSpec adds a catalogue entry. Operations-tier only.
func (e *Engine) CreateSpec(ctx context.Context, actor identity.Actor, specKey, name, description, apiEndpoint string, nodeType store.NodeType) (*store.ActivitySpec, error) {
	if !actor.IsOps() {
		return nil, services.Wrap(services.ErrPermissionDenied, "workflow", "create spec", "operations role required", nil)
	}
	if specKey == "" || name == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "create spec", "spec_key and name required", nil)
	}
	existing, err := e.store.GetActivitySpecByKey(ctx, specKey)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "workflow", "create spec", "lookup", err)
	}
	if existing != nil {
		return nil, services.Wrap(services.ErrConflict, "workflow", "create spec", "spec_key already exists", nil)
	}
	spec, err := e.store.InsertActivitySpec(ctx, specKey, name, description, apiEndpoint, nodeType)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "workflow", "create spec", "", err)
	}
	return spec, nil
}

// ListSpecs returns the activity catalogue.
func (e *Engine) ListSpecs(ctx context.Context) ([]*store.ActivitySpec, error) {
	specs, err := e.store.ListActivitySpecs(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "workflow", "list specs", "", err)
	}
	return specs, nil
}

// defaultChain lays out the standard project workflow. The start node is
// created already completed; everything else waits for an explicit trigger.
type chainStep struct {
	specKey  string
	nodeType store.NodeType
	label    string
	status   store.ActivityStatus
}

var defaultChain = []chainStep{
	{"start", store.NodeStart, "Start", store.ActivityCompleted},
	{"normal", store.NodeNormal, "Configure Project / Dataset", store.ActivityPending},
	{"normal", store.NodeNormal, "Assign Annotator", store.ActivityPending},
	{"manual", store.NodeManual, "Annotate", store.ActivityPending},
	{"normal", store.NodeNormal, "Review", store.ActivityPending},
	{"end", store.NodeEnd, "End", store.ActivityPending},
}

// BuildResult reports what BuildDefault produced.
type BuildResult struct {
	Created      bool
	InstanceUIDs []string
	// Existing is the prior node count when the build was a no-op.
	Existing int
}

// BuildDefault creates the standard workflow chain for a project. Idempotent:
// when the project already has instances nothing is created and the existing
// count is reported.
func (e *Engine) BuildDefault(ctx context.Context, actor identity.Actor, projectID int64) (BuildResult, error) {
	if !actor.IsOps() {
		return BuildResult{}, services.Wrap(services.ErrPermissionDenied, "workflow", "build default", "operations role required", nil)
	}
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return BuildResult{}, services.Wrap(services.ErrStorage, "workflow", "build default", "load project", err)
	}
	if project == nil {
		return BuildResult{}, services.Wrap(services.ErrNotFound, "workflow", "build default", "project not found", nil)
	}

	existing, err := e.store.CountActivityInstances(ctx, projectID)
	if err != nil {
		return BuildResult{}, services.Wrap(services.ErrStorage, "workflow", "build default", "count instances", err)
	}
	if existing > 0 {
		return BuildResult{Existing: existing}, nil
	}

	nodes := make([]store.NewInstance, 0, len(defaultChain))
	for _, step := range defaultChain {
		spec, err := e.store.GetActivitySpecByKey(ctx, step.specKey)
		if err != nil {
			return BuildResult{}, services.Wrap(services.ErrStorage, "workflow", "build default", "lookup spec "+step.specKey, err)
		}
		if spec == nil {
			return BuildResult{}, services.Wrap(services.ErrConflict, "workflow", "build default", "spec catalogue not seeded", nil)
		}
		nodes = append(nodes, store.NewInstance{
			ProjectID: projectID,
			SpecID:    spec.ID,
			NodeType:  step.nodeType,
			Status:    step.status,
			Payload:   map[string]any{"label": step.label},
		})
	}

	uids, err := e.store.BuildChain(ctx, nodes)
	if err != nil {
		return BuildResult{}, services.Wrap(services.ErrStorage, "workflow", "build default", "insert chain", err)
	}
	e.logger.Info("default workflow built",
		logging.Int64(logging.FieldProjectID, projectID),
		logging.Int("nodes", len(uids)))
	return BuildResult{Created: true, InstanceUIDs: uids}, nil
}

// CreateInstance adds a single workflow node to a project. Operations-tier.
func (e *Engine) CreateInstance(ctx context.Context, actor identity.Actor, projectID int64, specKey string, payload map[string]any) (*store.ActivityInstance, error) {
	if !actor.IsOps() {
		return nil, services.Wrap(services.ErrPermissionDenied, "workflow", "create instance", "operations role required", nil)
	}
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "workflow", "create instance", "load project", err)
	}
	if project == nil {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "create instance", "project not found", nil)
	}
	spec, err := e.store.GetActivitySpecByKey(ctx, specKey)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "workflow", "create instance", "lookup spec", err)
	}
	if spec == nil {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "create instance", "spec not found", nil)
	}
	instance, err := e.store.InsertActivityInstance(ctx, store.NewInstance{
		ProjectID: projectID,
		SpecID:    spec.ID,
		NodeType:  spec.NodeType,
		Payload:   payload,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "workflow", "create instance", "", err)
	}
	return instance, nil
}

// ListInstances returns a project's workflow nodes in creation order.
func (e *Engine) ListInstances(ctx context.Context, projectID int64) ([]*store.ActivityInstance, error) {
	instances, err := e.store.ListActivityInstances(ctx, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "workflow", "list instances", "", err)
	}
	return instances, nil
}

// Trigger moves a node to in_progress, recording its start time on first
// trigger, optionally assigning an owner, and merging payload keys.
func (e *Engine) Trigger(ctx context.Context, uid string, ownerID *int64, payload map[string]any) (*store.ActivityInstance, error) {
	return e.transition(ctx, "trigger", uid, func(c context.Context) (store.TransitionOutcome, error) {
		return e.store.TriggerInstance(c, store.NodeUpdate{UID: uid, OwnerID: ownerID, Payload: payload})
	})
}

// Complete moves a node to completed with its end time recorded. Successor
// nodes stay untouched.
func (e *Engine) Complete(ctx context.Context, uid string, payload map[string]any) (*store.ActivityInstance, error) {
	return e.transition(ctx, "complete", uid, func(c context.Context) (store.TransitionOutcome, error) {
		return e.store.CompleteInstance(c, store.NodeUpdate{UID: uid, Payload: payload})
	})
}

// Skip marks a non-terminal node skipped.
func (e *Engine) Skip(ctx context.Context, uid string) (*store.ActivityInstance, error) {
	return e.transition(ctx, "skip", uid, func(c context.Context) (store.TransitionOutcome, error) {
		return e.store.SkipInstance(c, uid)
	})
}

func (e *Engine) transition(ctx context.Context, operation, uid string, apply func(context.Context) (store.TransitionOutcome, error)) (*store.ActivityInstance, error) {
	outcome, err := apply(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "workflow", operation, "", err)
	}
	switch outcome {
	case store.TransitionApplied:
		e.logger.Info("workflow node transitioned",
			logging.String("operation", operation),
			logging.String(logging.FieldInstanceUID, uid))
		return e.store.GetActivityInstance(ctx, uid)
	case store.TransitionTerminal:
		return nil, services.Wrap(services.ErrConflict, "workflow", operation, "node already reached a terminal status", nil)
	default:
		return nil, services.Wrap(services.ErrNotFound, "workflow", operation, "node not found", nil)
	}
}
