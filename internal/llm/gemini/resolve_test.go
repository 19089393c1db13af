package gemini

import (
	"context"
	"errors"
	"iter"
	"testing"

	"google.golang.org/genai"
)

type fakeLister struct {
	models []*genai.Model
	err    error
}

func (f fakeLister) All(context.Context) iter.Seq2[*genai.Model, error] {
	return func(yield func(*genai.Model, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		for _, m := range f.models {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func model(name string, actions ...string) *genai.Model {
	return &genai.Model{Name: name, SupportedActions: actions}
}

func TestResolveModel(t *testing.T) {
	lister := fakeLister{models: []*genai.Model{
		model("models/embedding-001", "embedContent"),
		model("models/gemini-1.5-flash-latest", "generateContent"),
		model("models/gemini-2.5-flash-lite", "generateContent", "countTokens"),
	}}

	cases := []struct {
		name      string
		preferred []string
		want      string
	}{
		{"preferred available", []string{"models/gemini-2.5-flash-lite"}, "gemini-2.5-flash-lite"},
		{"first preferred wins", []string{"gemini-1.5-pro-latest", "gemini-1.5-flash-latest"}, "gemini-1.5-flash-latest"},
		{"fallback to first gemini", []string{"gemini-ultra"}, "gemini-1.5-flash-latest"},
	}
	for _, tc := range cases {
		got, err := ResolveModel(context.Background(), lister, tc.preferred...)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestResolveModelErrors(t *testing.T) {
	_, err := ResolveModel(context.Background(), fakeLister{models: []*genai.Model{model("models/embedding-001", "embedContent")}})
	if !errors.Is(err, ErrNoCompatibleModel) {
		t.Fatalf("expected ErrNoCompatibleModel, got %v", err)
	}

	boom := errors.New("permission denied")
	if _, err := ResolveModel(context.Background(), fakeLister{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected listing error, got %v", err)
	}
}
