package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/llm"
)

func source(events ...llm.Event) <-chan llm.Event {
	ch := make(chan llm.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func sample() []llm.Event {
	return []llm.Event{
		llm.TextDelta("a", "Hel"),
		llm.FullText("b", "Hi"),
		llm.AllDone(llm.FinalResults{Responses: map[string]string{"a": "Hel", "b": "Hi"}}),
	}
}

func TestForwardSSE(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSSESink(rec)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := Forward(context.Background(), source(sample()...), sink); err != nil {
		t.Fatalf("forward: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}
	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %q", rec.Body.String())
	}
	if frames[0] != `data: {"type":"text_delta","ai":"a","text":"Hel"}` {
		t.Fatalf("unexpected first frame: %q", frames[0])
	}
	if frames[2] != `data: {"type":"all_done","status":"all_done","final_results":{"a":"Hel","b":"Hi"}}` {
		t.Fatalf("unexpected last frame: %q", frames[2])
	}
}

func TestForwardLines(t *testing.T) {
	var buf bytes.Buffer
	if err := Forward(context.Background(), source(sample()...), NewLineSink(&buf)); err != nil {
		t.Fatalf("forward: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("unexpected lines: %q", buf.String())
	}
	var ev llm.Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != llm.KindFullText || !ev.Simulated || ev.Text != "Hi" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestForwardDrainsAfterWriteFailure(t *testing.T) {
	events := make(chan llm.Event)
	consumed := make(chan int, 1)
	go func() {
		n := 0
		for _, ev := range sample() {
			events <- ev
			n++
		}
		close(events)
		consumed <- n
	}()

	writes := 0
	sink := SinkFunc(func([]byte) error {
		writes++
		return errors.New("broken pipe")
	})
	err := Forward(context.Background(), events, sink)
	if xerrors.CodeOf(err) != xerrors.CodeTransport {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if writes != 1 {
		t.Fatalf("delivery should stop after the first failure, got %d writes", writes)
	}
	if n := <-consumed; n != 3 {
		t.Fatalf("source should be drained, producer sent %d", n)
	}
}
