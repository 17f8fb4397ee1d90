package conversations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/rs/zerolog"
)

// setupTestStore opens a migrated database in a temporary directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "db", "history.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndLoad(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, "work", "openai", "gpt-4o-mini",
		llm.NewMessage(llm.RoleUser, "hi"),
		llm.NewMessage(llm.RoleAssistant, "hello"),
	)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "other", "cohere", "command-r", llm.NewMessage(llm.RoleUser, "elsewhere")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "work", "", ""); err != nil {
		t.Errorf("appending nothing must succeed, got %v", err)
	}

	msgs, err := store.Load(ctx, "work")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Role != llm.RoleAssistant {
		t.Errorf("unexpected messages %+v", msgs)
	}

	msgs, err = store.Load(ctx, "missing")
	if err != nil || len(msgs) != 0 {
		t.Errorf("unknown thread must be empty, got %+v, %v", msgs, err)
	}
}

func TestReset(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_ = store.Append(ctx, "work", "openai", "gpt-4o", llm.NewMessage(llm.RoleUser, "old"))
	if err := store.Reset(ctx, "work"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	_ = store.Append(ctx, "work", "openai", "gpt-4o", llm.NewMessage(llm.RoleUser, "new"))

	msgs, err := store.Load(ctx, "work")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "new" {
		t.Errorf("expected only messages after the reset, got %+v", msgs)
	}
}

func TestThreads(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_ = store.Append(ctx, "a", "openai", "gpt-4o", llm.NewMessage(llm.RoleUser, "1"), llm.NewMessage(llm.RoleAssistant, "2"))
	_ = store.Append(ctx, "b", "openai", "gpt-4o", llm.NewMessage(llm.RoleUser, "1"))
	_ = store.Reset(ctx, "b")

	threads, err := store.Threads(ctx)
	if err != nil {
		t.Fatalf("Threads failed: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %+v", threads)
	}
	counts := map[string]int{}
	for _, th := range threads {
		counts[th.ID] = th.Messages
		if th.UpdatedAt.IsZero() {
			t.Errorf("thread %s has no update time", th.ID)
		}
	}
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("reset markers must not count as messages, got %v", counts)
	}
}

func TestRecorder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	_ = store.Append(ctx, "work", "openai", "gpt-4o", llm.NewMessage(llm.RoleUser, "earlier"), llm.NewMessage(llm.RoleAssistant, "sure"))

	rec, err := Resume(ctx, store, "work")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if rec.History().Len() != 2 {
		t.Fatalf("expected the stored transcript, got %+v", rec.History().Messages())
	}

	turn := llm.StartTurn("next", &llm.GenerateOptions{History: rec.History()})
	turn.Complete(&llm.GenerationResult{Text: "answer"}, nil)
	if err := rec.Save(ctx, "openai", "gpt-4o"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := rec.Save(ctx, "openai", "gpt-4o"); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	msgs, _ := store.Load(ctx, "work")
	if len(msgs) != 4 || msgs[3].Content != "answer" {
		t.Errorf("expected each message saved once, got %+v", msgs)
	}

	if err := rec.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if rec.History().Len() != 0 {
		t.Errorf("reset must clear the live history")
	}
	if msgs, _ := store.Load(ctx, "work"); len(msgs) != 0 {
		t.Errorf("reset must clear the stored thread, got %+v", msgs)
	}
}
