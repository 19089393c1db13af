package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind 是事件联合类型的判别字段。
type Kind string

const (
	KindTextDelta   Kind = "text_delta"
	KindFullText    Kind = "full_text"
	KindError       Kind = "error"
	KindStepStart   Kind = "step_start"
	KindStepSkipped Kind = "step_skipped"
	KindAllDone     Kind = "all_done"
)

// SkippedTask 与 SkippedMessage 是未配置步骤的固定描述。
const (
	SkippedTask    = "SKIPPED"
	SkippedMessage = "This AI is not configured."
)

// Event 是编排器对外产出的统一事件。
//
// Step 仅在链式模式下非零，从 1 开始计数。
type Event struct {
	Kind      Kind          `json:"type"`
	AI        string        `json:"ai,omitempty"`
	Step      int           `json:"step,omitempty"`
	Text      string        `json:"text,omitempty"`
	Simulated bool          `json:"simulated,omitempty"`
	Error     string        `json:"error,omitempty"`
	Task      string        `json:"task,omitempty"`
	Message   string        `json:"message,omitempty"`
	Results   *FinalResults `json:"final_results,omitempty"`
}

// TextDelta 构造一个增量文本事件。
func TextDelta(ai, text string) Event {
	return Event{Kind: KindTextDelta, AI: ai, Text: text}
}

// FullText 构造一个一次性返回完整文本的事件。
func FullText(ai, text string) Event {
	return Event{Kind: KindFullText, AI: ai, Text: text, Simulated: true}
}

// Failure 构造一个 provider 级别的错误事件。
func Failure(ai, message string) Event {
	return Event{Kind: KindError, AI: ai, Error: message}
}

// StepStart 构造链式步骤开始事件。
func StepStart(step int, ai, task string) Event {
	return Event{Kind: KindStepStart, Step: step, AI: ai, Task: task}
}

// StepSkipped 构造未配置 provider 的跳过事件。
func StepSkipped(step int, ai string) Event {
	return Event{Kind: KindStepSkipped, Step: step, AI: ai, Task: SkippedTask, Message: SkippedMessage}
}

// AllDone 构造终止事件。
func AllDone(results FinalResults) Event {
	return Event{Kind: KindAllDone, Results: &results}
}

// status 返回生命周期事件在线上额外携带的 status 值；内容事件返回空。
func (k Kind) status() Kind {
	switch k {
	case KindStepStart, KindStepSkipped, KindAllDone:
		return k
	default:
		return ""
	}
}

type eventJSON Event

// MarshalJSON 以 type 作为判别字段；生命周期事件同时写出 status，
// 兼容按 status 识别 step_start 与 all_done 的客户端。
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind   Kind `json:"type"`
		Status Kind `json:"status,omitempty"`
		eventJSON
	}{Kind: e.Kind, Status: e.Kind.status(), eventJSON: eventJSON(e)})
}

// UnmarshalJSON 接受 type 或仅有 status 的消息。
func (e *Event) UnmarshalJSON(data []byte) error {
	w := struct {
		Kind   Kind `json:"type"`
		Status Kind `json:"status"`
		*eventJSON
	}{eventJSON: (*eventJSON)(e)}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Kind = w.Kind
	if e.Kind == "" {
		e.Kind = w.Status
	}
	return nil
}

// Validate 检查事件的判别字段与必需载荷。
func (e Event) Validate() error {
	switch e.Kind {
	case KindTextDelta, KindFullText:
		if e.AI == "" {
			return fmt.Errorf("%s event without ai", e.Kind)
		}
	case KindError:
		if e.AI == "" {
			return fmt.Errorf("error event without ai")
		}
	case KindStepStart, KindStepSkipped:
		if e.Step <= 0 {
			return fmt.Errorf("%s event with invalid step %d", e.Kind, e.Step)
		}
	case KindAllDone:
		if e.Results == nil {
			return fmt.Errorf("all_done event without final_results")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Content 返回事件对累积文本的贡献；生命周期事件不贡献内容。
func (e Event) Content() (string, bool) {
	switch e.Kind {
	case KindTextDelta, KindFullText:
		return e.Text, true
	case KindError:
		return e.Error, true
	case KindStepStart, KindStepSkipped, KindAllDone:
		return "", false
	default:
		return "", false
	}
}

// Accumulator 收集单个 provider 或单个链式步骤的完整响应。
type Accumulator struct {
	b strings.Builder
}

// Add 累积事件的内容。
func (a *Accumulator) Add(e Event) {
	text, ok := e.Content()
	if !ok {
		return
	}
	if e.Kind == KindError && a.b.Len() > 0 {
		a.b.WriteString("\n")
	}
	a.b.WriteString(text)
}

func (a *Accumulator) String() string { return a.b.String() }

// StepResult 记录链式模式下单个步骤的结果。
type StepResult struct {
	AI       string `json:"ai"`
	Task     string `json:"task"`
	Response string `json:"response"`
	Skipped  bool   `json:"skipped,omitempty"`
}

// FinalResults 是 all_done 事件携带的汇总结果。
//
// 对比模式只设置 Responses，链式模式只设置 Steps（即使为空）。
type FinalResults struct {
	Responses map[string]string
	Steps     []StepResult
}

// Chained 判断结果是否来自链式模式。
func (r FinalResults) Chained() bool {
	return r.Steps != nil
}

// MarshalJSON 对比模式编码为 {name: text}，链式模式编码为 {"steps": [...]}。
func (r FinalResults) MarshalJSON() ([]byte, error) {
	if r.Chained() {
		return json.Marshal(struct {
			Steps []StepResult `json:"steps"`
		}{Steps: r.Steps})
	}
	if r.Responses == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Responses)
}

// UnmarshalJSON 根据 steps 字段是否为数组区分两种形态。
func (r *FinalResults) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if steps, ok := raw["steps"]; ok && bytes.HasPrefix(bytes.TrimSpace(steps), []byte("[")) {
		r.Responses = nil
		r.Steps = []StepResult{}
		return json.Unmarshal(steps, &r.Steps)
	}
	r.Steps = nil
	r.Responses = make(map[string]string, len(raw))
	for name, value := range raw {
		var text string
		if err := json.Unmarshal(value, &text); err != nil {
			return fmt.Errorf("decode response of %s: %w", name, err)
		}
		r.Responses[name] = text
	}
	return nil
}
