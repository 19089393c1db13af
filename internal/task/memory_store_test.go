package task

import (
	"context"
	"testing"
	"time"

	"MultiAI-Relay/internal/relay"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	yes := true

	base := time.Now().Add(-2 * time.Minute)

	tasks := []*Task{
		{ID: "t1", Prompt: "q1", Mode: relay.ModeComparison, Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Prompt: "q2", Mode: relay.ModeComparison, Status: StatusFailed, MaxRetries: 3},
		{ID: "t3", Prompt: "q3", Mode: relay.ModeComparison, Status: StatusSucceeded, MaxRetries: 3},
	}

	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", relay.Result{Mode: relay.ModeComparison, Responses: map[string]string{"gemini": "ok"}}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].ID != "t3" {
		t.Fatalf("expected newest task first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, Filter{Statuses: []Status{StatusFailed, "bogus", StatusFailed}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	succeeded, err := store.List(ctx, Filter{HasResult: &yes})
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "t3" {
		t.Fatalf("unexpected result list: %+v", succeeded)
	}

	oldest, err := store.List(ctx, Filter{OldestFirst: true, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list oldest first: %v", err)
	}
	if len(oldest) != 2 || oldest[0].ID != "t2" || oldest[1].ID != "t3" {
		t.Fatalf("unexpected ascending page: %+v", oldest)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	yes, no := true, false

	base := time.Now().Add(-3 * time.Minute)
	tasks := []*Task{
		{ID: "a", Prompt: "q1", Mode: relay.ModeComparison, Status: StatusPending, MaxRetries: 3},
		{ID: "b", Prompt: "q2", Mode: relay.ModeComparison, Status: StatusPending, MaxRetries: 3},
		{ID: "c", Prompt: "q3", Mode: relay.ModeComparison, Status: StatusPending, MaxRetries: 3},
	}

	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", relay.Result{Mode: relay.ModeComparison, Responses: map[string]string{"gemini": "ok"}}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["a"].UpdatedAt = base.Unix()
	store.tasks["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, Filter{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Comparison != 3 || stats.Chained != 0 {
		t.Fatalf("unexpected mode counts: %+v", stats)
	}
	if stats.LastUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected last update: %d", stats.LastUpdatedAt)
	}

	withResults, err := store.Stats(ctx, Filter{HasResult: &yes})
	if err != nil {
		t.Fatalf("stats with result: %v", err)
	}
	if withResults.Total != 1 || withResults.Succeeded != 1 {
		t.Fatalf("unexpected stats with result: %+v", withResults)
	}

	withoutResults, err := store.Stats(ctx, Filter{HasResult: &no})
	if err != nil {
		t.Fatalf("stats without result: %v", err)
	}
	if withoutResults.Total != 2 || withoutResults.Pending != 1 || withoutResults.Failed != 1 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}

	failedOnly, err := store.Stats(ctx, Filter{Statuses: []Status{StatusFailed}})
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}

func TestMemoryStoreFiltersByMode(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tasks := []*Task{
		{ID: "cmp", Prompt: "q", Mode: relay.ModeComparison, Status: StatusPending, MaxRetries: 3},
		{ID: "chn", Prompt: "q", Mode: relay.ModeChained, Preset: "1", Status: StatusPending, MaxRetries: 3},
	}
	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
	}

	chained, err := store.List(ctx, Filter{Mode: " Chained "})
	if err != nil {
		t.Fatalf("list chained: %v", err)
	}
	if len(chained) != 1 || chained[0].ID != "chn" {
		t.Fatalf("unexpected chained list: %+v", chained)
	}

	byPreset, err := store.Stats(ctx, Filter{Preset: "1"})
	if err != nil {
		t.Fatalf("stats by preset: %v", err)
	}
	if byPreset.Total != 1 || byPreset.Chained != 1 {
		t.Fatalf("unexpected preset stats: %+v", byPreset)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Task{ID: "x", Prompt: "q", Mode: relay.ModeComparison, Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "x"}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "x")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed task: %+v", claimed)
	}
	if _, err := store.Claim(ctx, "x"); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ := store.Get(ctx, "x")
	if got.Status != StatusPending || got.ErrorCode != string(CodeTaskProcessing) {
		t.Fatalf("non-terminal failure should requeue: %+v", got)
	}

	if _, err := store.Claim(ctx, "x"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "x"); !IsTaskError(err, CodeTaskExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Task{ID: "x", Prompt: "q", Mode: relay.ModeComparison, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "x", relay.Result{Mode: relay.ModeComparison, Responses: map[string]string{"a": "1"}}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	got, _ := store.Get(ctx, "x")
	got.Result.Responses["a"] = "mutated"

	again, _ := store.Get(ctx, "x")
	if again.Result.Responses["a"] != "1" {
		t.Fatalf("stored result was mutated: %+v", again.Result)
	}
	if _, err := store.Claim(ctx, "x"); !IsTaskError(err, CodeTaskCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
}
