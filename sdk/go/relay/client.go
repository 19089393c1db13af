package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds unary calls made with a context that carries no
// deadline. Streaming calls are bounded only by their context.
const DefaultRequestTimeout = 15 * time.Second

// maxEventSize is the largest single SSE data line the client accepts.
const maxEventSize = 4 << 20

// Client wraps the HTTP interactions with the relay REST and SSE API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Request describes a run.
type Request struct {
	Prompt string `json:"prompt"`
	Mode   string `json:"mode"`
	Preset string `json:"preset,omitempty"`
}

// StepResult is the outcome of one chain step.
type StepResult struct {
	AI       string `json:"ai"`
	Task     string `json:"task"`
	Response string `json:"response"`
	Skipped  bool   `json:"skipped,omitempty"`
}

// Result is the aggregated outcome of a non-streaming run.
type Result struct {
	Mode      string            `json:"mode"`
	Preset    string            `json:"preset,omitempty"`
	Responses map[string]string `json:"responses,omitempty"`
	Steps     []StepResult      `json:"steps,omitempty"`
}

// Event is one message of a streamed run. FinalResults is set on all_done and
// holds either a provider to text object or {"steps": [...]}.
type Event struct {
	Type         string          `json:"type"`
	Status       string          `json:"status,omitempty"`
	AI           string          `json:"ai,omitempty"`
	Step         int             `json:"step,omitempty"`
	Text         string          `json:"text,omitempty"`
	Simulated    bool            `json:"simulated,omitempty"`
	Error        string          `json:"error,omitempty"`
	Task         string          `json:"task,omitempty"`
	Message      string          `json:"message,omitempty"`
	FinalResults json.RawMessage `json:"final_results,omitempty"`
}

// Run is a queued run as reported by the server.
type Run struct {
	ID         string  `json:"id"`
	Prompt     string  `json:"prompt"`
	Mode       string  `json:"mode"`
	Preset     string  `json:"preset,omitempty"`
	Status     string  `json:"status"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"max_retries"`
	LastError  string  `json:"last_error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// RunSubmission creates a queued run. ID makes the submission idempotent.
type RunSubmission struct {
	ID string `json:"id,omitempty"`
	Request
}

// PresetStep is one step of a chain preset.
type PresetStep struct {
	AI                string `json:"ai"`
	SystemInstruction string `json:"system_instruction"`
	TaskDescription   string `json:"task_description"`
}

// Preset is a named chain.
type Preset struct {
	Key         string       `json:"key"`
	Description string       `json:"description"`
	Chain       []PresetStep `json:"chain"`
}

// Provider reports whether a provider is configured.
type Provider struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Model     string `json:"model,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("relay api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("relay api error (%d): %s", e.StatusCode, e.Message)
}

// ErrStreamIncomplete is returned when a stream ends without an all_done event.
var ErrStreamIncomplete = errors.New("relay: stream ended before all_done")

// NewClient instantiates a client for the relay API. When httpClient is nil a
// client without a global timeout is used so that streams are not cut off.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Stream starts a run and calls fn for every event in arrival order. It
// returns after all_done, or with the first error from fn, the transport or
// ctx. A stream that ends without all_done yields ErrStreamIncomplete.
func (c *Client) Stream(ctx context.Context, req Request, fn func(Event) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/v1/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if ev.Type == "" {
			ev.Type = ev.Status
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Type == "all_done" {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return ErrStreamIncomplete
}

// Query performs a non-streaming run.
func (c *Client) Query(ctx context.Context, req Request) (Result, error) {
	var result Result
	if err := c.post(ctx, "/api/v1/query", req, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// SubmitRun queues a run for asynchronous execution.
func (c *Client) SubmitRun(ctx context.Context, submission RunSubmission) (Run, error) {
	var run Run
	if err := c.post(ctx, "/api/v1/runs", submission, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches a queued run by identifier.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Presets lists the chain presets known to the server.
func (c *Client) Presets(ctx context.Context) ([]Preset, error) {
	var presets []Preset
	if err := c.get(ctx, "/api/v1/presets", &presets); err != nil {
		return nil, err
	}
	return presets, nil
}

// Providers lists the provider configuration status.
func (c *Client) Providers(ctx context.Context) ([]Provider, error) {
	var providers []Provider
	if err := c.get(ctx, "/api/v1/providers", &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		var envelope struct {
			Error *APIError `json:"error"`
		}
		switch {
		case json.Unmarshal(data, &envelope) == nil && envelope.Error != nil:
			apiErr = envelope.Error
		default:
			// flat JSON or plain text bodies from proxies
			_ = json.Unmarshal(data, apiErr)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}
