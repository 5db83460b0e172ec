package store

import (
	"context"
	"testing"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "AL", RoleUser, "what is Kix working on?"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.Append(ctx, "AL", RoleAssistant, "Kix is fixing AL-1."); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.Recent(ctx, "AL", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "what is Kix working on?" {
		t.Errorf("msg[0]: got %s/%s", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != RoleAssistant {
		t.Errorf("msg[1]: got %s/%s", msgs[1].Role, msgs[1].Content)
	}
}

func Test_Store_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 6 {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.Append(ctx, "AL", role, "msg"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "AL", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("want 4 messages, got %d", len(msgs))
	}
}

func Test_Store_ProjectIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "AL", RoleUser, "from AL"); err != nil {
		t.Fatalf("append AL: %v", err)
	}
	if err := s.Append(ctx, "OPS", RoleUser, "from OPS"); err != nil {
		t.Fatalf("append OPS: %v", err)
	}

	msgsAL, err := s.Recent(ctx, "AL", 10)
	if err != nil {
		t.Fatalf("recent AL: %v", err)
	}
	msgsOPS, err := s.Recent(ctx, "OPS", 10)
	if err != nil {
		t.Fatalf("recent OPS: %v", err)
	}

	if len(msgsAL) != 1 || msgsAL[0].Content != "from AL" {
		t.Errorf("AL isolation failed: got %v", msgsAL)
	}
	if len(msgsOPS) != 1 || msgsOPS[0].Content != "from OPS" {
		t.Errorf("OPS isolation failed: got %v", msgsOPS)
	}
}

func Test_Store_OldestFirstOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if err := s.Append(ctx, "AL", RoleUser, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "AL", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for i, want := range contents {
		if msgs[i].Content != want {
			t.Errorf("msg[%d]: want %q, got %q", i, want, msgs[i].Content)
		}
	}
}

func Test_Store_Clear(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "AL", RoleUser, "to be cleared"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "OPS", RoleUser, "survives"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Clear(ctx, "AL"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	msgs, err := s.Recent(ctx, "AL", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("AL history not cleared: %v", msgs)
	}
	other, err := s.Recent(ctx, "OPS", 10)
	if err != nil {
		t.Fatalf("recent OPS: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("OPS history must survive clear of AL")
	}
}
