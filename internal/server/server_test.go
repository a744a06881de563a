package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"annolab/internal/claims"
	"annolab/internal/insight"
	"annolab/internal/logging"
	"annolab/internal/pipeline"
	"annolab/internal/server"
	"annolab/internal/store"
	"annolab/internal/testsupport"
	"annolab/internal/workflow"
)

const (
	annotatorToken = "tok-annotator"
	reviewerToken  = "tok-reviewer"
	opsToken       = "tok-ops"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithToken(annotatorToken, 10, "annotator", "Ada"),
		testsupport.WithToken(reviewerToken, 20, "reviewer", "Rae"),
		testsupport.WithToken(opsToken, 50, "ops_manager", "Omar"),
	)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	evaluator := insight.NewEvaluator(st, logger)
	engine := workflow.NewEngine(st, logger)
	if err := engine.EnsureSpecs(context.Background()); err != nil {
		t.Fatalf("EnsureSpecs failed: %v", err)
	}

	srv, err := server.New(cfg, server.Services{
		Store:    st,
		Pipeline: pipeline.NewService(st, evaluator, logger),
		Claims:   claims.NewService(st, logger),
		Workflow: engine,
		Insight:  evaluator,
	}, logger)
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	decoded := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && resp.ContentLength != 0 {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func seedBatchWithTasks(t *testing.T, st *store.Store, count int) (*store.Project, *store.Batch, []int64) {
	t.Helper()
	project := testsupport.SeedProject(t, st, "API", []int64{10}, []int64{20})
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	ids := testsupport.SeedTasks(t, st, batch.ID, count)
	return project, batch, ids
}

func TestStatusIsPublic(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doRequest(t, ts, http.MethodGet, "/api/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["running"] != true {
		t.Fatalf("unexpected status payload: %#v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doRequest(t, ts, http.MethodGet, "/api/queue/my-tasks", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, ts, http.MethodGet, "/api/queue/my-tasks", "bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with unknown token, got %d", resp.StatusCode)
	}
}

func TestQueueNextClaimsAndDrains(t *testing.T) {
	ts, st := newTestServer(t)
	_, batch, ids := seedBatchWithTasks(t, st, 1)

	path := fmt.Sprintf("/api/queue/next?batch_id=%d", batch.ID)
	resp, body := doRequest(t, ts, http.MethodGet, path, annotatorToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %#v", resp.StatusCode, body)
	}
	task, ok := body["task"].(map[string]any)
	if !ok {
		t.Fatalf("expected task in payload: %#v", body)
	}
	if int64(task["id"].(float64)) != ids[0] {
		t.Fatalf("unexpected task claimed: %#v", task)
	}
	if int64(task["claimed_by_id"].(float64)) != 10 {
		t.Fatalf("expected claim by token actor: %#v", task)
	}

	// Batch drained: task is null, still 200.
	resp, body = doRequest(t, ts, http.MethodGet, path, annotatorToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on drained batch, got %d", resp.StatusCode)
	}
	if body["task"] != nil {
		t.Fatalf("expected null task, got %#v", body["task"])
	}
}

func TestSubmitReviewLifecycleOverHTTP(t *testing.T) {
	ts, st := newTestServer(t)
	_, _, ids := seedBatchWithTasks(t, st, 1)
	taskID := ids[0]

	resp, _ := doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/queue/tasks/%d/claim", taskID), annotatorToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/queue/tasks/%d/submit", taskID), annotatorToken,
		map[string]any{"response": map[string]any{"label": "positive"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d", resp.StatusCode)
	}

	// The review queue shows it for the reviewer.
	resp, body := doRequest(t, ts, http.MethodGet, "/api/queue/review", reviewerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review queue: expected 200, got %d", resp.StatusCode)
	}
	tasks := body["tasks"].([]any)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 review task, got %d", len(tasks))
	}

	resp, body = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/queue/review/%d/approve", taskID), reviewerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", resp.StatusCode)
	}
	if body["project_ready"] != true {
		t.Fatalf("expected readiness signal on only task, got %#v", body)
	}
}

func TestApproveRequiresReviewerRole(t *testing.T) {
	ts, st := newTestServer(t)
	_, _, ids := seedBatchWithTasks(t, st, 1)

	resp, _ := doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/queue/review/%d/approve", ids[0]), annotatorToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for annotator approval, got %d", resp.StatusCode)
	}
}

func TestClaimConflictMapsTo409(t *testing.T) {
	ts, st := newTestServer(t)
	project := testsupport.SeedProject(t, st, "Conflict", []int64{10, 11}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)
	if won, err := st.TryClaim(context.Background(), task.ID, 11); err != nil || !won {
		t.Fatalf("TryClaim: won=%v err=%v", won, err)
	}

	resp, _ := doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/queue/tasks/%d/claim", task.ID), annotatorToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for owned task, got %d", resp.StatusCode)
	}
}

func TestMissingTaskMapsTo404(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doRequest(t, ts, http.MethodGet, "/api/tasks/99999", annotatorToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestClaimRequestFlowOverHTTP(t *testing.T) {
	ts, st := newTestServer(t)
	project := testsupport.SeedProject(t, st, "Requests", []int64{10, 11}, nil)
	batch := testsupport.SeedBatch(t, st, project.ID, "batch-1")
	task := testsupport.SeedTask(t, st, batch.ID, nil)
	if won, err := st.TryClaim(context.Background(), task.ID, 11); err != nil || !won {
		t.Fatalf("TryClaim: won=%v err=%v", won, err)
	}

	resp, body := doRequest(t, ts, http.MethodPost, "/api/requests/claim", annotatorToken,
		map[string]any{"task_id": task.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %#v", resp.StatusCode, body)
	}
	request := body["request"].(map[string]any)
	requestID := int64(request["ID"].(float64))

	// Duplicate pending request conflicts.
	resp, _ = doRequest(t, ts, http.MethodPost, "/api/requests/claim", annotatorToken,
		map[string]any{"task_id": task.ID})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", resp.StatusCode)
	}

	// Ops approves; ownership moves to the requester.
	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/requests/claim/%d/approve", requestID), opsToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on approve, got %d", resp.StatusCode)
	}
	transferred, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if transferred.ClaimedBy == nil || *transferred.ClaimedBy != 10 {
		t.Fatalf("expected ownership at requester, got %#v", transferred.ClaimedBy)
	}
}

func TestListRequestsFiltersByRequesterAndProject(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()
	alpha := testsupport.SeedProject(t, st, "Alpha", []int64{10, 11}, nil)
	beta := testsupport.SeedProject(t, st, "Beta", []int64{10, 11}, nil)
	alphaBatch := testsupport.SeedBatch(t, st, alpha.ID, "batch-a")
	betaBatch := testsupport.SeedBatch(t, st, beta.ID, "batch-b")
	alphaTask := testsupport.SeedTask(t, st, alphaBatch.ID, nil)
	betaTask := testsupport.SeedTask(t, st, betaBatch.ID, nil)

	owner := int64(11)
	for _, taskID := range []int64{alphaTask.ID, betaTask.ID} {
		if won, err := st.TryClaim(ctx, taskID, 11); err != nil || !won {
			t.Fatalf("TryClaim: won=%v err=%v", won, err)
		}
		if _, err := st.InsertClaimRequest(ctx, taskID, 10, &owner); err != nil {
			t.Fatalf("InsertClaimRequest failed: %v", err)
		}
	}

	resp, body := doRequest(t, ts, http.MethodGet,
		fmt.Sprintf("/api/requests/?requested_by=10&project_id=%d", alpha.ID), opsToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %#v", resp.StatusCode, body)
	}
	requests := body["requests"].([]any)
	if len(requests) != 1 {
		t.Fatalf("expected single filtered request, got %d", len(requests))
	}
	first := requests[0].(map[string]any)
	if int64(first["TaskID"].(float64)) != alphaTask.ID {
		t.Fatalf("expected request for task %d, got %#v", alphaTask.ID, first)
	}

	resp, _ = doRequest(t, ts, http.MethodGet, "/api/requests/?requested_by=abc", opsToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on bad requested_by, got %d", resp.StatusCode)
	}
}

func TestWorkflowBuildAndTransitionOverHTTP(t *testing.T) {
	ts, st := newTestServer(t)
	project := testsupport.SeedProject(t, st, "Workflow", []int64{10}, nil)

	resp, body := doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/projects/%d/workflow", project.ID), opsToken, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %#v", resp.StatusCode, body)
	}
	uids := body["instance_uids"].([]any)
	if len(uids) != 6 {
		t.Fatalf("expected 6 nodes, got %d", len(uids))
	}

	// Rebuild is a 200 no-op.
	resp, body = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/projects/%d/workflow", project.ID), opsToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on rebuild, got %d", resp.StatusCode)
	}
	if body["created"] != false {
		t.Fatalf("expected created=false, got %#v", body)
	}

	// Trigger then complete the configure node.
	configure := uids[1].(string)
	resp, _ = doRequest(t, ts, http.MethodPost, "/api/activities/nodes/"+configure+"/trigger", opsToken,
		map[string]any{"payload": map[string]any{"dataset": "v1"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("trigger: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, ts, http.MethodPost, "/api/activities/nodes/"+configure+"/complete", opsToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", resp.StatusCode)
	}

	// Completing again conflicts; the node is terminal.
	resp, _ = doRequest(t, ts, http.MethodPost, "/api/activities/nodes/"+configure+"/complete", opsToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on terminal node, got %d", resp.StatusCode)
	}
}

func TestEfficiencyScopedToSelf(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doRequest(t, ts, http.MethodGet, "/api/insight/efficiency", annotatorToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["efficiency"].(float64) != 100.0 {
		t.Fatalf("expected default 100, got %#v", body)
	}

	resp, _ = doRequest(t, ts, http.MethodGet, "/api/insight/efficiency?user_id=99", annotatorToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 inspecting another user, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, ts, http.MethodGet, "/api/insight/efficiency?user_id=99", opsToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for ops, got %d", resp.StatusCode)
	}
}

func TestProjectEndpointsRequireOpsForWrites(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodPost, "/api/projects/", annotatorToken,
		map[string]any{"name": "Denied"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for annotator, got %d", resp.StatusCode)
	}

	resp, body := doRequest(t, ts, http.MethodPost, "/api/projects/", opsToken,
		map[string]any{"name": "Allowed", "annotator_ids": []int64{10}, "reviewer_ids": []int64{20}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for ops, got %d: %#v", resp.StatusCode, body)
	}
}
