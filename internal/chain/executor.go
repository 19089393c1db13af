// Package chain 实现链式模式：按预设顺序依次调用 provider，
// 每一步的完整输出作为下一步的上下文。
package chain

import (
	"context"
	"fmt"
	"log/slog"

	"MultiAI-Relay/internal/llm"
	"MultiAI-Relay/pkg/logger"
)

// Executor 执行链式预设。
type Executor struct {
	registry *llm.Registry
	catalog  *Catalog
}

// NewExecutor 创建链式执行器。
func NewExecutor(registry *llm.Registry, catalog *Catalog) *Executor {
	return &Executor{registry: registry, catalog: catalog}
}

// Catalog 返回执行器使用的预设目录。
func (e *Executor) Catalog() *Catalog { return e.catalog }

// StepPrompt 构造第 index 步（从 0 开始）发送给 provider 的提示词。
func StepPrompt(index int, original, previous, task string) string {
	if index == 0 {
		return fmt.Sprintf("Initial question: '%s'\n\nYour specific task is: '%s'", original, task)
	}
	return fmt.Sprintf("Previous context: '%s'\n\nYour specific task is: '%s'", previous, task)
}

// Run 执行指定预设。未知预设在调用任何 provider 之前返回 CONFIG_UNKNOWN_PRESET。
//
// 步骤严格串行：第 i+1 步只会在第 i 步的事件通道关闭之后开始。
// 出错步骤的错误文本作为该步的响应，并作为上下文传递给下一步。
func (e *Executor) Run(ctx context.Context, prompt, presetKey string) (<-chan llm.Event, error) {
	preset, err := e.catalog.Lookup(presetKey)
	if err != nil {
		return nil, err
	}
	out := make(chan llm.Event, 16)
	go e.run(ctx, prompt, preset, out)
	return out, nil
}

func (e *Executor) run(ctx context.Context, prompt string, preset Preset, out chan<- llm.Event) {
	defer close(out)

	log := logger.Named("chain")
	send := func(ev llm.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	current := prompt
	steps := make([]llm.StepResult, 0, len(preset.Steps))
	for i, step := range preset.Steps {
		number := i + 1
		h, ok := e.registry.Lookup(step.Provider)
		if !ok || !h.Available {
			if !send(llm.StepSkipped(number, step.Provider)) {
				return
			}
			steps = append(steps, llm.StepResult{AI: step.Provider, Task: step.TaskDescription, Skipped: true})
			continue
		}

		if !send(llm.StepStart(number, h.Name, step.TaskDescription)) {
			return
		}
		req := llm.Request{
			Prompt:            StepPrompt(i, prompt, current, step.TaskDescription),
			SystemInstruction: step.SystemInstruction,
		}
		var acc llm.Accumulator
		for ev := range h.Provider.Generate(ctx, req) {
			ev.AI = h.Name
			ev.Step = number
			if err := ev.Validate(); err != nil {
				log.Warn("丢弃无效事件", slog.String("provider", h.Name), slog.Int("step", number), slog.Any("error", err))
				continue
			}
			acc.Add(ev)
			if !send(ev) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		current = acc.String()
		steps = append(steps, llm.StepResult{AI: h.Name, Task: step.TaskDescription, Response: current})
	}

	send(llm.AllDone(llm.FinalResults{Steps: steps}))
}
