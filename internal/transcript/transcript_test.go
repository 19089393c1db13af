package transcript

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func sameRecord(got, want Record) bool {
	if !got.Time.Equal(want.Time) {
		return false
	}
	got.Time, want.Time = time.Time{}, time.Time{}
	return reflect.DeepEqual(got, want)
}

func TestComparisonRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "conversation_log.txt")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.Local)
	first := Record{
		Time:   at,
		Mode:   ModeComparison,
		Prompt: "Hi\nthere",
		Responses: []Response{
			{Provider: "a", Text: "Hello"},
			{Provider: "b", Text: "line one\n\n============================================================\nline two"},
			{Provider: "c", Text: ""},
		},
	}
	if err := log.Append(first); err != nil {
		t.Fatalf("append: %v", err)
	}
	second := Record{Time: at.Add(time.Minute), Mode: ModeComparison, Prompt: "again", Responses: []Response{{Provider: "a", Text: "ok"}}}
	if err := log.Append(second); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(data), "--- Query (COMPARISON) 2024-05-01 10:30:00 ---\nInitial question: 8 bytes\nHi\nthere\n") {
		t.Fatalf("unexpected header: %q", data[:80])
	}

	records, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !sameRecord(records[0], first) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", records[0], first)
	}
	if !records[1].Time.Equal(second.Time) || records[1].Responses[0].Text != "ok" {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestChainedRoundTrip(t *testing.T) {
	rec := Record{
		Time:   time.Date(2024, 5, 1, 11, 0, 0, 0, time.Local),
		Mode:   ModeChained,
		Preset: "2",
		Prompt: "Q",
		Steps: []Step{
			{Number: 1, Provider: "openai", Task: "Summarise (briefly)", Prompt: "Initial question: 'Q'\n\nYour specific task is: 'Summarise (briefly)'", Response: "X"},
			{Number: 2, Provider: "claude", Task: "Critique", Skipped: true},
			{Number: 3, Provider: "gemini", Task: "Refine", Prompt: "Previous context: 'X'", Response: "Y\n"},
		},
	}

	records, err := Parse(bytes.NewReader(Format(rec)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 || !sameRecord(records[0], rec) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", records, rec)
	}
}

func TestParseRejectsTruncatedBlock(t *testing.T) {
	block := Format(Record{Time: time.Now(), Mode: ModeComparison, Prompt: "p", Responses: []Response{{Provider: "a", Text: "hello"}}})
	if _, err := Parse(bytes.NewReader(block[:len(block)-70])); err == nil {
		t.Fatalf("expected error for truncated block")
	}
}

func TestRoundTripProviderNamesWithSpaces(t *testing.T) {
	at := time.Date(2024, 5, 2, 9, 0, 0, 0, time.Local)
	comparison := Record{
		Time:      at,
		Mode:      ModeComparison,
		Prompt:    "hi",
		Responses: []Response{{Provider: "my llm", Text: "hello"}, {Provider: "b", Text: "ok"}},
	}
	chained := Record{
		Time:   at.Add(time.Second),
		Mode:   ModeChained,
		Preset: "1",
		Prompt: "Q",
		Steps: []Step{
			{Number: 1, Provider: "local model", Task: "Draft (short)", Prompt: "p", Response: "r"},
			{Number: 2, Provider: "other one", Task: "Review", Skipped: true},
		},
	}

	data := append(Format(comparison), Format(chained)...)
	records, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !sameRecord(records[0], comparison) {
		t.Fatalf("comparison mismatch:\n got %+v\nwant %+v", records[0], comparison)
	}
	if !sameRecord(records[1], chained) {
		t.Fatalf("chained mismatch:\n got %+v\nwant %+v", records[1], chained)
	}
}
