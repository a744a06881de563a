package testsupport

import (
	"context"
	"testing"

	"annolab/internal/config"
	"annolab/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedProject creates a project with the given rosters for tests.
func SeedProject(t testing.TB, st *store.Store, name string, annotators, reviewers []int64) *store.Project {
	t.Helper()

	project, err := st.CreateProject(context.Background(), name, "test project", annotators, reviewers)
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	return project
}

// SeedBatch creates a batch under the given project for tests.
func SeedBatch(t testing.TB, st *store.Store, projectID int64, name string) *store.Batch {
	t.Helper()

	batch, err := st.CreateBatch(context.Background(), projectID, name)
	if err != nil {
		t.Fatalf("store.CreateBatch: %v", err)
	}
	return batch
}

// SeedTask inserts one pending first-stage task for tests.
func SeedTask(t testing.TB, st *store.Store, batchID int64, content map[string]any) *store.Task {
	t.Helper()

	if content == nil {
		content = map[string]any{"text": "sample"}
	}
	task, err := st.InsertTask(context.Background(), store.NewTask{
		BatchID: batchID,
		Content: content,
		Stage:   store.StageL1,
	})
	if err != nil {
		t.Fatalf("store.InsertTask: %v", err)
	}
	return task
}

// SeedTasks inserts several pending tasks in one call and returns their IDs.
func SeedTasks(t testing.TB, st *store.Store, batchID int64, count int) []int64 {
	t.Helper()

	tasks := make([]store.NewTask, 0, count)
	for i := 0; i < count; i++ {
		tasks = append(tasks, store.NewTask{
			BatchID: batchID,
			Content: map[string]any{"index": i},
			Stage:   store.StageL1,
		})
	}
	ids, err := st.InsertTasks(context.Background(), tasks)
	if err != nil {
		t.Fatalf("store.InsertTasks: %v", err)
	}
	return ids
}
