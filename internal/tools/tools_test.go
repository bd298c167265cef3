package tools

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskvoice/taskvoice/internal/history"
	"github.com/taskvoice/taskvoice/internal/task"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	taskStore, err := task.NewStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("task.NewStore: %v", err)
	}
	t.Cleanup(func() { taskStore.Close() })

	historyStore, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.NewStore: %v", err)
	}
	t.Cleanup(func() { historyStore.Close() })

	return Deps{Tasks: taskStore, History: historyStore}
}

func TestCreateTask_Succeeds(t *testing.T) {
	r := NewRegistry()
	deps := testDeps(t)

	env, err := r.Dispatch(context.Background(), deps, "create_task", map[string]any{
		"title": "Call the dentist",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if env.Data["task"] == nil {
		t.Error("expected task payload")
	}
}

func TestCreateTask_MissingTitleFails(t *testing.T) {
	r := NewRegistry()
	deps := testDeps(t)

	env, err := r.Dispatch(context.Background(), deps, "create_task", map[string]any{})
	if err != nil {
		t.Fatalf("Dispatch should not error on validation failure: %v", err)
	}
	if env.Success {
		t.Error("expected failure envelope for missing title")
	}
}

func TestDispatch_UnknownToolErrors(t *testing.T) {
	r := NewRegistry()
	deps := testDeps(t)

	_, err := r.Dispatch(context.Background(), deps, "not_a_tool", nil)
	if err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestDeleteTask_ReturnsSnapshotAndRestorableViaHistory(t *testing.T) {
	r := NewRegistry()
	deps := testDeps(t)
	ctx := context.Background()

	created, err := deps.Tasks.Create(ctx, task.Fields{Title: "Quarterly compliance audit", Priority: task.PriorityHigh})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	env, err := r.Dispatch(ctx, deps, "delete_task", map[string]any{"id": created.ID})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected delete to succeed, got %+v", env)
	}

	deps.History.Append(history.RoleAssistant, "", []history.ToolCallRecord{
		{ID: "call_1", Name: "delete_task", Args: map[string]any{
			"id": created.ID, "title": created.Title, "priority": string(created.Priority),
		}},
	}, nil)

	loadEnv, err := r.Dispatch(ctx, deps, "load_full_history", map[string]any{
		"search_terms": []any{"compliance"},
		"tools":        []any{"delete_task"},
	})
	if err != nil {
		t.Fatalf("Dispatch load_full_history: %v", err)
	}
	matches, _ := loadEnv.Data["matches"].([]map[string]any)
	if len(matches) != 1 {
		t.Fatalf("expected 1 history match, got %+v", loadEnv.Data)
	}
}

func TestSearchTasks_AttachesChangeViewUICommand(t *testing.T) {
	r := NewRegistry()
	deps := testDeps(t)
	ctx := context.Background()

	deps.Tasks.Create(ctx, task.Fields{Title: "Administrative filing"})
	deps.Tasks.Create(ctx, task.Fields{Title: "Buy milk"})

	env, err := r.Dispatch(ctx, deps, "search_tasks", map[string]any{"query": "administrative"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if env.UICommand == nil || env.UICommand.Type != UICommandChangeView {
		t.Fatalf("expected change_view UI command, got %+v", env.UICommand)
	}
	if env.UICommand.SearchQuery != "administrative" {
		t.Errorf("SearchQuery = %q", env.UICommand.SearchQuery)
	}
}

func TestChangeUIView_HasNoTaskStoreSideEffect(t *testing.T) {
	r := NewRegistry()
	deps := testDeps(t)
	ctx := context.Background()

	before, _ := deps.Tasks.Stats(ctx)

	env, err := r.Dispatch(ctx, deps, "change_ui_view", map[string]any{
		"view_mode":   "monthly",
		"target_date": "2025-12-01",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if env.UICommand == nil || env.UICommand.ViewMode != "monthly" {
		t.Fatalf("expected monthly change_view, got %+v", env.UICommand)
	}

	after, _ := deps.Tasks.Stats(ctx)
	if before.Total != after.Total {
		t.Errorf("expected no task store side effect, total went from %d to %d", before.Total, after.Total)
	}
}

func TestUpdateTask_SignificantDeadlineShiftAttachesUICommand(t *testing.T) {
	r := NewRegistry()
	deps := testDeps(t)
	ctx := context.Background()

	created, err := deps.Tasks.Create(ctx, task.Fields{Title: "Ship release"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	initialDeadline := "2025-11-20T10:00:00"
	r.Dispatch(ctx, deps, "update_task", map[string]any{"id": created.ID, "deadline": initialDeadline})

	env, err := r.Dispatch(ctx, deps, "update_task", map[string]any{
		"id":       created.ID,
		"deadline": "2025-12-15T10:00:00",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if env.UICommand == nil {
		t.Error("expected a navigation UI command for a >3 day deadline shift")
	}
}

func TestUpdateMultipleTasks_BulkDeadlineShift(t *testing.T) {
	r := NewRegistry()
	deps := testDeps(t)
	ctx := context.Background()

	d := "2025-11-20T10:00:00"
	deadline, err := time.Parse("2006-01-02T15:04:05", d)
	if err != nil {
		t.Fatalf("time.Parse: %v", err)
	}
	a, _ := deps.Tasks.Create(ctx, task.Fields{Title: "a"})
	b, _ := deps.Tasks.Create(ctx, task.Fields{Title: "b"})
	deps.Tasks.Update(ctx, a.ID, task.Patch{Deadline: &deadline})
	deps.Tasks.Update(ctx, b.ID, task.Patch{Deadline: &deadline})

	env, err := r.Dispatch(ctx, deps, "update_multiple_tasks", map[string]any{
		"ids":                 []any{a.ID, b.ID},
		"deadline_shift_days": float64(10),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if env.UICommand == nil {
		t.Error("expected UI command for a 10-day bulk shift")
	}
}
