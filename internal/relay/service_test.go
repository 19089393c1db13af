package relay

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"MultiAI-Relay/internal/chain"
	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/llm"
	"MultiAI-Relay/internal/transcript"
)

type stubProvider struct {
	name   string
	chunks []string
	full   bool
	block  bool
	calls  atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, req llm.Request) <-chan llm.Event {
	s.calls.Add(1)
	return llm.Run(ctx, s.name, func(emit llm.Emitter) {
		if s.block {
			<-ctx.Done()
			return
		}
		for _, c := range s.chunks {
			if s.full {
				emit(llm.FullText(s.name, c))
				continue
			}
			emit(llm.TextDelta(s.name, c))
		}
	})
}

func newService(t *testing.T, opts []Option, providers ...*stubProvider) *Service {
	t.Helper()
	handles := make([]llm.Handle, 0, len(providers))
	for _, p := range providers {
		handles = append(handles, llm.Handle{Name: p.name, Available: true, Provider: p})
	}
	handles = append(handles, llm.Handle{Name: "claude"})
	reg, err := llm.NewRegistry(handles...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	catalog, err := chain.NewCatalog(chain.Preset{Key: "ab", Description: "a then b", Steps: []chain.Step{
		{Provider: "a", TaskDescription: "t1"},
		{Provider: "claude", TaskDescription: "t2"},
		{Provider: "b", TaskDescription: "t3"},
	}})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return NewService(reg, catalog, opts...)
}

func TestRunComparison(t *testing.T) {
	a := &stubProvider{name: "a", chunks: []string{"Hel", "lo"}}
	b := &stubProvider{name: "b", chunks: []string{"Hi"}, full: true}
	svc := newService(t, nil, a, b)

	res, err := svc.Run(context.Background(), Request{Prompt: " Hi ", Mode: "Comparison"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Mode != ModeComparison || res.Responses["a"] != "Hello" || res.Responses["b"] != "Hi" || len(res.Responses) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunChainedWritesTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation_log.txt")
	log, err := transcript.Open(path)
	if err != nil {
		t.Fatalf("open transcript: %v", err)
	}
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)
	a := &stubProvider{name: "a", chunks: []string{"X"}}
	b := &stubProvider{name: "b", chunks: []string{"Y"}}
	svc := newService(t, []Option{WithTranscript(log), WithClock(func() time.Time { return at })}, a, b)

	res, err := svc.Run(context.Background(), Request{Prompt: "Q", Mode: ModeChained, Preset: "ab"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Steps) != 3 || res.Steps[0].Response != "X" || !res.Steps[1].Skipped || res.Steps[2].Response != "Y" {
		t.Fatalf("unexpected steps: %+v", res.Steps)
	}

	var records []transcript.Record
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		records, err = transcript.Parse(f)
		f.Close()
		if err == nil && len(records) == 1 {
			break
		}
	}
	if len(records) != 1 {
		t.Fatalf("expected one transcript record, got %d", len(records))
	}
	rec := records[0]
	if rec.Mode != transcript.ModeChained || rec.Preset != "ab" || len(rec.Steps) != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Steps[2].Prompt != "Previous context: 'X'\n\nYour specific task is: 't3'" {
		t.Fatalf("unexpected reconstructed prompt: %q", rec.Steps[2].Prompt)
	}
}

func TestComparisonTranscriptMatchesFinalResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	log, err := transcript.Open(path)
	if err != nil {
		t.Fatalf("open transcript: %v", err)
	}
	a := &stubProvider{name: "a", chunks: []string{"line\n", "two"}}
	b := &stubProvider{name: "b", chunks: []string{""}, full: true}
	svc := newService(t, []Option{WithTranscript(log)}, a, b)

	events, err := svc.Stream(context.Background(), Request{Prompt: "Hi", Mode: ModeComparison})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var final *llm.FinalResults
	for ev := range events {
		if ev.Kind == llm.KindAllDone {
			final = ev.Results
		}
	}
	if final == nil {
		t.Fatalf("missing all_done")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	records, err := transcript.Parse(bytesReader(data))
	if err != nil || len(records) != 1 {
		t.Fatalf("parse: %v (%d records)", err, len(records))
	}
	got := map[string]string{}
	for _, r := range records[0].Responses {
		got[r.Provider] = r.Text
	}
	if len(got) != len(final.Responses) {
		t.Fatalf("provider sets differ: %v vs %v", got, final.Responses)
	}
	for name, text := range final.Responses {
		if got[name] != text {
			t.Fatalf("transcript text for %s differs: %q vs %q", name, got[name], text)
		}
	}
}

func TestStreamValidation(t *testing.T) {
	a := &stubProvider{name: "a", chunks: []string{"x"}}
	svc := newService(t, nil, a)

	cases := []struct {
		req  Request
		code xerrors.Code
	}{
		{Request{Prompt: "  ", Mode: ModeComparison}, xerrors.CodeInvalidArgument},
		{Request{Prompt: "Q", Mode: "parallel"}, xerrors.CodeInvalidMode},
		{Request{Prompt: "Q", Mode: ModeChained}, xerrors.CodeUnknownPreset},
		{Request{Prompt: "Q", Mode: ModeChained, Preset: "9"}, xerrors.CodeUnknownPreset},
	}
	for _, tc := range cases {
		ch, err := svc.Stream(context.Background(), tc.req)
		if ch != nil || xerrors.CodeOf(err) != tc.code {
			t.Fatalf("%+v: expected %s, got %v", tc.req, tc.code, err)
		}
	}
	if a.calls.Load() != 0 {
		t.Fatalf("configuration errors must not reach providers")
	}
}

func TestStreamWithoutProviders(t *testing.T) {
	svc := newService(t, nil)
	if _, err := svc.Stream(context.Background(), Request{Prompt: "Q", Mode: ModeComparison}); xerrors.CodeOf(err) != xerrors.CodeNoProviders {
		t.Fatalf("expected no providers error, got %v", err)
	}
	providers := svc.Providers()
	if len(providers) != 1 || providers[0].Name != "claude" || providers[0].Available {
		t.Fatalf("unexpected provider status: %+v", providers)
	}
}

func TestRunTimeout(t *testing.T) {
	slow := &stubProvider{name: "a", block: true}
	svc := newService(t, nil, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := svc.Run(ctx, Request{Prompt: "Q", Mode: ModeComparison}); xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }
