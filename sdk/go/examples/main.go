package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"MultiAI-Relay/sdk/go/relay"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`{"type":"text_delta","ai":"gemini","text":"Canberra"}`,
			`{"type":"full_text","ai":"openai","text":"The capital is Canberra.","simulated":true}`,
			`{"type":"all_done","final_results":{"gemini":"Canberra","openai":"The capital is Canberra."}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", line)
			w.(http.Flusher).Flush()
		}
	})
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(relay.Run{ID: "run-demo", Mode: "chained", Preset: "2", Status: "pending"})
	})
	mux.HandleFunc("/api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(relay.Run{
			ID:     "run-demo",
			Mode:   "chained",
			Status: "succeeded",
			Result: &relay.Result{Mode: "chained", Steps: []relay.StepResult{
				{AI: "openai", Task: "Summarise the topic", Response: "A short summary."},
				{AI: "claude", Task: "SKIPPED", Response: "This AI is not configured.", Skipped: true},
			}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := relay.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Stream(ctx, relay.Request{Prompt: "What is the capital of Australia?", Mode: "comparison"}, func(ev relay.Event) error {
		switch ev.Type {
		case "all_done":
			fmt.Printf("all done: %s\n", ev.FinalResults)
		default:
			fmt.Printf("[%s] %s: %s\n", ev.Type, ev.AI, ev.Text)
		}
		return nil
	})
	if err != nil {
		panic(err)
	}

	run, err := client.SubmitRun(ctx, relay.RunSubmission{Request: relay.Request{Prompt: "Explain CRDTs", Mode: "chained", Preset: "2"}})
	if err != nil {
		panic(err)
	}
	fmt.Printf("queued run %s (%s)\n", run.ID, run.Status)

	done, err := client.GetRun(ctx, run.ID)
	if err != nil {
		panic(err)
	}
	for i, step := range done.Result.Steps {
		fmt.Printf("step %d %s: %s\n", i+1, step.AI, step.Response)
	}
}
