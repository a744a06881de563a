package pipeline_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"annolab/internal/identity"
	"annolab/internal/insight"
	"annolab/internal/logging"
	"annolab/internal/pipeline"
	"annolab/internal/services"
	"annolab/internal/store"
	"annolab/internal/testsupport"
)

func newService(t *testing.T) (*pipeline.Service, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	evaluator := insight.NewEvaluator(st, logging.NewNop())
	return pipeline.NewService(st, evaluator, logging.NewNop()), st
}

func annotator(id int64) identity.Actor {
	return identity.Actor{ID: id, Role: identity.RoleAnnotator}
}

func reviewer(id int64) identity.Actor {
	return identity.Actor{ID: id, Role: identity.RoleReviewer}
}

func opsManager(id int64) identity.Actor {
	return identity.Actor{ID: id, Role: identity.RoleOpsManager}
}

func TestGetNextClaimsOldestFirst(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "FIFO", []int64{10, 11}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	ids := testsupport.SeedTasks(t, st, batch.ID, 3)

	first, err := svc.GetNext(ctx, annotator(10), batch.ID)
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if first == nil || first.ID != ids[0] {
		t.Fatalf("expected oldest task %d, got %#v", ids[0], first)
	}
	if first.ClaimedBy == nil || *first.ClaimedBy != 10 {
		t.Fatalf("expected claim by 10, got %#v", first.ClaimedBy)
	}

	second, err := svc.GetNext(ctx, annotator(11), batch.ID)
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if second == nil || second.ID != ids[1] {
		t.Fatalf("expected next task %d, got %#v", ids[1], second)
	}
}

func TestGetNextReturnsNilWhenDrained(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Empty", []int64{10}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")

	task, err := svc.GetNext(ctx, annotator(10), batch.ID)
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil on empty batch, got %#v", task)
	}
}

func TestGetNextEnforcesRoster(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Roster", []int64{10}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	testsupport.SeedTasks(t, st, batch.ID, 1)

	if _, err := svc.GetNext(ctx, annotator(99), batch.ID); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied off roster, got %v", err)
	}

	// Ops-tier bypasses the roster.
	task, err := svc.GetNext(ctx, opsManager(50), batch.ID)
	if err != nil {
		t.Fatalf("GetNext for ops failed: %v", err)
	}
	if task == nil {
		t.Fatal("expected ops actor to claim")
	}
}

func TestGetNextConcurrentClaimersGetDistinctTasks(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	roster := []int64{1, 2, 3, 4}
	project := testsupport.SeedProject(t, st, "Race", roster, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	testsupport.SeedTasks(t, st, batch.ID, 4)

	var mu sync.Mutex
	claimed := map[int64]int64{}
	var wg sync.WaitGroup
	for _, userID := range roster {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			task, err := svc.GetNext(ctx, annotator(uid), batch.ID)
			if err != nil {
				t.Errorf("GetNext failed: %v", err)
				return
			}
			if task == nil {
				t.Errorf("annotator %d got no task", uid)
				return
			}
			mu.Lock()
			claimed[task.ID] = uid
			mu.Unlock()
		}(userID)
	}
	wg.Wait()

	if len(claimed) != 4 {
		t.Fatalf("expected 4 distinct tasks claimed, got %d", len(claimed))
	}
}

func TestClaimOwnedTaskSteersToRequests(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Owned", []int64{10, 11}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)

	if _, err := svc.Claim(ctx, annotator(10), task.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	// Re-claiming your own task is a no-op.
	own, err := svc.Claim(ctx, annotator(10), task.ID)
	if err != nil {
		t.Fatalf("idempotent claim failed: %v", err)
	}
	if own.ClaimedBy == nil || *own.ClaimedBy != 10 {
		t.Fatalf("expected claim retained, got %#v", own.ClaimedBy)
	}

	if _, err := svc.Claim(ctx, annotator(11), task.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for owned task, got %v", err)
	}

	// Ops reassign directly.
	reassigned, err := svc.Claim(ctx, opsManager(50), task.ID)
	if err != nil {
		t.Fatalf("ops claim failed: %v", err)
	}
	if reassigned.ClaimedBy == nil || *reassigned.ClaimedBy != 50 {
		t.Fatalf("expected ops ownership, got %#v", reassigned.ClaimedBy)
	}
}

func TestSubmitRequiresOwnership(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Submit", []int64{10, 11}, []int64{20})
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)

	if _, err := svc.Submit(ctx, annotator(10), task.ID, map[string]any{"label": "x"}); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied for unowned submit, got %v", err)
	}

	if _, err := svc.Claim(ctx, annotator(10), task.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := svc.Submit(ctx, annotator(11), task.ID, map[string]any{"label": "x"}); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied for non-owner submit, got %v", err)
	}

	submitted, err := svc.Submit(ctx, annotator(10), task.ID, map[string]any{"label": "x"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if submitted.Stage != store.StageReview || submitted.ClaimedBy != nil {
		t.Fatalf("unexpected submitted task: %#v", submitted)
	}

	// Double submit must conflict: the task is no longer in progress.
	if _, err := svc.Submit(ctx, annotator(10), task.ID, map[string]any{"label": "y"}); !errors.Is(err, services.ErrPermissionDenied) && !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected terminal error on double submit, got %v", err)
	}
}

func TestRejectRoundTrip(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Rework", []int64{10}, []int64{20})
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)

	if _, err := svc.Claim(ctx, annotator(10), task.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := svc.Submit(ctx, annotator(10), task.ID, map[string]any{"label": "first"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	outcome, err := svc.Reject(ctx, reviewer(20), task.ID)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if outcome.ReturnedTo == nil || *outcome.ReturnedTo != 10 {
		t.Fatalf("expected task returned to annotator 10, got %#v", outcome.ReturnedTo)
	}
	if outcome.Task.Stage != store.StageL1 || outcome.Task.Status != store.TaskInProgress {
		t.Fatalf("unexpected rejected task state: %s/%s", outcome.Task.Status, outcome.Task.Stage)
	}
	if outcome.Task.ReworkCount != 1 {
		t.Fatalf("expected rework count 1, got %d", outcome.Task.ReworkCount)
	}

	// The re-owned annotator resubmits without claiming again.
	if _, err := svc.Submit(ctx, annotator(10), task.ID, map[string]any{"label": "second"}); err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	approved, err := svc.Approve(ctx, reviewer(20), task.ID)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Task.Status != store.TaskCompleted || approved.Task.Stage != store.StageDone {
		t.Fatalf("unexpected approved task: %s/%s", approved.Task.Status, approved.Task.Stage)
	}

	annotations, err := svc.TaskAnnotations(ctx, task.ID)
	if err != nil {
		t.Fatalf("TaskAnnotations failed: %v", err)
	}
	if len(annotations) != 2 {
		t.Fatalf("expected 2 annotations, got %d", len(annotations))
	}
}

func TestRejectWithoutAnnotationFallsBackUnowned(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "OrphanReview", []int64{10}, []int64{20})
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)

	if _, err := svc.Claim(ctx, annotator(10), task.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := svc.Submit(ctx, annotator(10), task.ID, map[string]any{"label": "first"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// A review-stage task with no annotation on record should not exist;
	// strip the row to exercise the fallback.
	db, err := sql.Open("sqlite", st.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, `DELETE FROM annotations WHERE task_id = ?`, task.ID); err != nil {
		t.Fatalf("delete annotations: %v", err)
	}

	outcome, err := svc.Reject(ctx, reviewer(20), task.ID)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if outcome.ReturnedTo != nil {
		t.Fatalf("expected no rework owner, got %d", *outcome.ReturnedTo)
	}
	if outcome.Task.Stage != store.StageL1 || outcome.Task.Status != store.TaskPending {
		t.Fatalf("expected pending/L1 fallback, got %s/%s", outcome.Task.Status, outcome.Task.Stage)
	}
	if outcome.Task.ClaimedBy != nil {
		t.Fatalf("expected unowned task, got owner %d", *outcome.Task.ClaimedBy)
	}
	if outcome.Task.ReworkCount != 1 {
		t.Fatalf("expected rework count 1, got %d", outcome.Task.ReworkCount)
	}

	// The fallback leaves the task claimable through the normal queue.
	next, err := svc.GetNext(ctx, annotator(10), batch.ID)
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if next == nil || next.ID != task.ID {
		t.Fatalf("expected task back in queue, got %#v", next)
	}
}

func TestApproveMarksProjectReadyOnce(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Readiness", []int64{10}, []int64{20})
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	ids := testsupport.SeedTasks(t, st, batch.ID, 2)

	for _, id := range ids {
		if _, err := svc.Claim(ctx, annotator(10), id); err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if _, err := svc.Submit(ctx, annotator(10), id, map[string]any{"label": "x"}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	first, err := svc.Approve(ctx, reviewer(20), ids[0])
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if first.ProjectReady {
		t.Fatal("project must not be ready with open tasks")
	}

	second, err := svc.Approve(ctx, reviewer(20), ids[1])
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if !second.ProjectReady {
		t.Fatal("expected readiness signal on final approval")
	}

	refreshed, err := st.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if refreshed.Status != store.ProjectReadyForExport {
		t.Fatalf("expected ready_for_export, got %s", refreshed.Status)
	}
}

func TestReviewQueueRequiresReviewer(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Queue", []int64{10}, []int64{20})
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)

	if _, err := svc.Claim(ctx, annotator(10), task.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := svc.Submit(ctx, annotator(10), task.ID, map[string]any{"label": "x"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := svc.ReviewQueue(ctx, annotator(10), nil); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied for annotator, got %v", err)
	}

	queue, err := svc.ReviewQueue(ctx, reviewer(20), &project.ID)
	if err != nil {
		t.Fatalf("ReviewQueue failed: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != task.ID {
		t.Fatalf("unexpected review queue: %#v", queue)
	}
}

func TestReviewEnforcesProjectRoster(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "RosterReview", []int64{10}, []int64{20})
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)

	if _, err := svc.Claim(ctx, annotator(10), task.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := svc.Submit(ctx, annotator(10), task.ID, map[string]any{"label": "x"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Reviewer 21 holds the role but is not on this project's roster.
	if _, err := svc.ReviewQueue(ctx, reviewer(21), &project.ID); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied off roster, got %v", err)
	}
	if _, err := svc.Approve(ctx, reviewer(21), task.ID); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied on approve, got %v", err)
	}
	if _, err := svc.Reject(ctx, reviewer(21), task.ID); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied on reject, got %v", err)
	}

	// Ops-tier bypasses the roster.
	outcome, err := svc.Approve(ctx, opsManager(50), task.ID)
	if err != nil {
		t.Fatalf("Approve for ops failed: %v", err)
	}
	if outcome.Task.Status != store.TaskCompleted {
		t.Fatalf("expected completed task, got %s", outcome.Task.Status)
	}
}

func TestSkipKeepsTaskOutOfAutoClaim(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Park", []int64{10, 11}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)

	if _, err := svc.Claim(ctx, annotator(10), task.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	skipped, err := svc.Skip(ctx, annotator(10), task.ID)
	if err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	if skipped.Status != store.TaskSkipped || skipped.ClaimedBy == nil || *skipped.ClaimedBy != 10 {
		t.Fatalf("unexpected skipped task: %#v", skipped)
	}

	next, err := svc.GetNext(ctx, annotator(11), batch.ID)
	if err != nil {
		t.Fatalf("GetNext failed: %v", err)
	}
	if next != nil {
		t.Fatalf("skipped task must not be auto-claimable, got %#v", next)
	}

	restored, err := svc.Unskip(ctx, annotator(10), task.ID)
	if err != nil {
		t.Fatalf("Unskip failed: %v", err)
	}
	if restored.Status != store.TaskInProgress {
		t.Fatalf("expected in_progress after unskip, got %s", restored.Status)
	}
}

func TestSaveDraftSurvivesUntilSubmit(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Draft", []int64{10}, []int64{20})
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)

	if _, err := svc.Claim(ctx, annotator(10), task.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	drafted, err := svc.SaveDraft(ctx, annotator(10), task.ID, map[string]any{"label": "partial"})
	if err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	if drafted.DraftResponse["label"] != "partial" {
		t.Fatalf("expected stored draft, got %#v", drafted.DraftResponse)
	}

	// Drafts never create annotation rows.
	annotations, err := svc.TaskAnnotations(ctx, task.ID)
	if err != nil {
		t.Fatalf("TaskAnnotations failed: %v", err)
	}
	if len(annotations) != 0 {
		t.Fatalf("expected no annotations from draft, got %d", len(annotations))
	}

	submitted, err := svc.Submit(ctx, annotator(10), task.ID, map[string]any{"label": "final"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(submitted.DraftResponse) != 0 {
		t.Fatalf("expected draft cleared on submit, got %#v", submitted.DraftResponse)
	}
}

func TestCreateTasksRequiresOps(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	project := testsupport.SeedProject(t, st, "Mint", []int64{10}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")

	contents := []map[string]any{{"text": "a"}, {"text": "b"}}
	if _, err := svc.CreateTasks(ctx, annotator(10), batch.ID, contents, nil); !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected permission denied for annotator, got %v", err)
	}

	ids, err := svc.CreateTasks(ctx, opsManager(50), batch.ID, contents, nil)
	if err != nil {
		t.Fatalf("CreateTasks failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
}
