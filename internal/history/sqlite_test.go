package history

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history_test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendThenTail_ChronologicalOrder(t *testing.T) {
	s := testStore(t)

	s.Append(RoleUser, "create a task to buy milk", nil, nil)
	s.Append(RoleAssistant, "done", []ToolCallRecord{
		{ID: "call_1", Name: "create_task", Args: map[string]any{"title": "Buy milk"}},
	}, nil)
	s.Append(RoleUser, "", nil, []ToolResultRecord{
		{ToolCallID: "call_1", Name: "create_task", Result: `{"success":true}`},
	})

	got, err := s.Tail(10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[0].Role != RoleUser || got[1].Role != RoleAssistant || got[2].Role != RoleUser {
		t.Errorf("unexpected role order: %+v", got)
	}
	if !got[1].HasToolCalls() {
		t.Error("expected second message to carry tool calls")
	}
	if !got[2].HasToolResults() {
		t.Error("expected third message to carry tool results")
	}
}

func TestTail_RespectsWindowSize(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 5; i++ {
		s.Append(RoleUser, "msg", nil, nil)
	}

	got, err := s.Tail(3)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
}

func TestSearch_MatchesContent(t *testing.T) {
	s := testStore(t)
	s.Append(RoleUser, "what's my quarterly compliance audit status", nil, nil)
	s.Append(RoleUser, "buy milk", nil, nil)

	matches, err := s.Search([]string{"compliance"}, nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
}

func TestSearch_MatchesToolNameAndSurfacesArgs(t *testing.T) {
	s := testStore(t)
	s.Append(RoleAssistant, "", []ToolCallRecord{
		{ID: "call_1", Name: "delete_task", Args: map[string]any{"id": "task-123", "title": "Quarterly audit"}},
	}, nil)

	matches, err := s.Search(nil, []string{"delete_task"}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	args := matches[0].Message.ToolCalls[0].Args
	if args["title"] != "Quarterly audit" {
		t.Errorf("expected surfaced pre-delete snapshot, got %+v", args)
	}
}

func TestClear_WipesLog(t *testing.T) {
	s := testStore(t)
	s.Append(RoleUser, "hello", nil, nil)

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, err := s.Tail(10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d messages after Clear, want 0", len(got))
	}
}
