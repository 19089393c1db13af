package fanout

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/llm"
)

type scripted struct {
	name   string
	events []llm.Event
	gate   chan struct{}
	calls  atomic.Int32
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Generate(ctx context.Context, _ llm.Request) <-chan llm.Event {
	s.calls.Add(1)
	return llm.Run(ctx, s.name, func(emit llm.Emitter) {
		if s.gate != nil {
			select {
			case <-s.gate:
			case <-ctx.Done():
				return
			}
		}
		for _, ev := range s.events {
			if !emit(ev) {
				return
			}
		}
	})
}

func registry(t *testing.T, handles ...llm.Handle) *llm.Registry {
	t.Helper()
	reg, err := llm.NewRegistry(handles...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func drain(t *testing.T, ch <-chan llm.Event) []llm.Event {
	t.Helper()
	var out []llm.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %+v", out)
		}
	}
}

func TestRunComparisonExample(t *testing.T) {
	a := &scripted{name: "A", events: []llm.Event{llm.TextDelta("A", "Hel"), llm.TextDelta("A", "lo")}}
	b := &scripted{name: "B", events: []llm.Event{llm.FullText("B", "Hi")}}
	mux := New(registry(t,
		llm.Handle{Name: "A", Available: true, Provider: a},
		llm.Handle{Name: "B", Available: true, Provider: b},
	))

	ch, err := mux.Run(context.Background(), llm.Request{Prompt: "Hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := drain(t, ch)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %+v", events)
	}

	var aTexts []string
	for _, ev := range events[:3] {
		if ev.Kind == llm.KindAllDone {
			t.Fatalf("all_done must be last: %+v", events)
		}
		if ev.AI == "a" {
			aTexts = append(aTexts, ev.Text)
		}
	}
	if len(aTexts) != 2 || aTexts[0] != "Hel" || aTexts[1] != "lo" {
		t.Fatalf("per-provider order not preserved: %v", aTexts)
	}

	last := events[3]
	if last.Kind != llm.KindAllDone || last.Results == nil {
		t.Fatalf("expected all_done, got %+v", last)
	}
	want := map[string]string{"a": "Hello", "b": "Hi"}
	for name, text := range want {
		if last.Results.Responses[name] != text {
			t.Fatalf("unexpected results: %+v", last.Results.Responses)
		}
	}
}

func TestRunWithoutProviders(t *testing.T) {
	idle := &scripted{name: "idle"}
	mux := New(registry(t, llm.Handle{Name: "idle", Available: false, Provider: idle}))

	ch, err := mux.Run(context.Background(), llm.Request{Prompt: "Hi"})
	if ch != nil {
		t.Fatalf("expected nil channel on configuration error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeNoProviders || !xerrors.IsConfiguration(err) {
		t.Fatalf("expected no providers error, got %v", err)
	}
	if idle.calls.Load() != 0 {
		t.Fatalf("no adapter should be invoked")
	}
}

func TestRunSkipsUnavailableAndKeepsErrors(t *testing.T) {
	ok := &scripted{name: "ok", events: []llm.Event{llm.TextDelta("ok", "fine")}}
	bad := &scripted{name: "bad", events: []llm.Event{llm.Failure("bad", "rate limited")}}
	off := &scripted{name: "off"}
	mux := New(registry(t,
		llm.Handle{Name: "ok", Available: true, Provider: ok},
		llm.Handle{Name: "bad", Available: true, Provider: bad},
		llm.Handle{Name: "off", Available: false, Provider: off},
	), WithConcurrency(1))

	ch, err := mux.Run(context.Background(), llm.Request{Prompt: "Hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := drain(t, ch)
	if off.calls.Load() != 0 {
		t.Fatalf("unavailable provider should not be called")
	}

	allDone := 0
	for _, ev := range events {
		if ev.Kind == llm.KindAllDone {
			allDone++
		}
	}
	if allDone != 1 || events[len(events)-1].Kind != llm.KindAllDone {
		t.Fatalf("expected exactly one trailing all_done: %+v", events)
	}
	results := events[len(events)-1].Results.Responses
	if len(results) != 2 || results["ok"] != "fine" || results["bad"] != "rate limited" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	gate := make(chan struct{})
	slow := &scripted{name: "slow", gate: gate, events: []llm.Event{llm.TextDelta("slow", "late")}}
	mux := New(registry(t, llm.Handle{Name: "slow", Available: true, Provider: slow}))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := mux.Run(ctx, llm.Request{Prompt: "Hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	for _, ev := range drain(t, ch) {
		if ev.Kind == llm.KindAllDone {
			t.Fatalf("cancelled run must not emit all_done")
		}
	}
	close(gate)
}

func TestRunForwardsInArrivalOrder(t *testing.T) {
	slow := &scripted{name: "slow", gate: make(chan struct{}), events: []llm.Event{llm.TextDelta("slow", "late")}}
	fast := &scripted{name: "fast", events: []llm.Event{llm.TextDelta("fast", "early")}}
	mux := New(registry(t,
		llm.Handle{Name: "slow", Available: true, Provider: slow},
		llm.Handle{Name: "fast", Available: true, Provider: fast},
	))

	ch, err := mux.Run(context.Background(), llm.Request{Prompt: "Hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case first := <-ch:
		if first.Kind != llm.KindTextDelta || first.AI != "fast" || first.Text != "early" {
			t.Fatalf("expected the ungated provider first, got %+v", first)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ungated provider was held back by the gated one")
	}

	close(slow.gate)
	rest := drain(t, ch)
	if len(rest) != 2 {
		t.Fatalf("expected late delta and all_done, got %+v", rest)
	}
	if rest[0].AI != "slow" || rest[0].Text != "late" {
		t.Fatalf("unexpected second event: %+v", rest[0])
	}
	done := rest[1]
	if done.Kind != llm.KindAllDone || done.Results == nil {
		t.Fatalf("expected all_done last, got %+v", done)
	}
	if done.Results.Responses["fast"] != "early" || done.Results.Responses["slow"] != "late" {
		t.Fatalf("unexpected final results: %+v", done.Results.Responses)
	}
}
