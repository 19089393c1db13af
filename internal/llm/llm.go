package llm

import (
	"context"
	"fmt"
	"strings"
)

// Request 描述一次发送给 provider 的生成请求。
type Request struct {
	Prompt            string
	SystemInstruction string
}

// Provider 定义了调用单个大模型后端的统一接口。
//
// Generate 不返回错误：失败会以单个 error 事件的形式出现在通道中，
// 通道总会被关闭。
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) <-chan Event
}

// InlineSystemInstruction 为不支持 system 角色的后端把角色说明拼接到提示词前面。
func InlineSystemInstruction(instruction, prompt string) string {
	if strings.TrimSpace(instruction) == "" {
		return prompt
	}
	return fmt.Sprintf("SYSTEM INSTRUCTION: %s\n\nTASK: %s", instruction, prompt)
}

// Emitter 把事件写入适配器的输出通道；上下文结束时返回 false。
type Emitter func(Event) bool

// Run 在独立的 goroutine 中执行 fn，并返回其事件通道。
// fn 返回或发生 panic 后通道关闭，panic 会被转换成一个 error 事件。
func Run(ctx context.Context, name string, fn func(emit Emitter)) <-chan Event {
	out := make(chan Event, 16)
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				emit(Failure(name, fmt.Sprintf("%v", r)))
			}
		}()
		fn(emit)
	}()
	return out
}

// Complete 用于非流式后端：完整结果以一个 simulated 的 full_text 事件发出。
func Complete(ctx context.Context, name string, call func(ctx context.Context) (string, error)) <-chan Event {
	return Run(ctx, name, func(emit Emitter) {
		text, err := call(ctx)
		if err != nil {
			emit(Failure(name, err.Error()))
			return
		}
		emit(FullText(name, text))
	})
}

// Unconfigured 返回一个未配置凭证的 provider，它只会产出固定的错误事件。
func Unconfigured(name string) Provider {
	return unconfigured(name)
}

type unconfigured string

func (u unconfigured) Name() string { return string(u) }

func (u unconfigured) Generate(ctx context.Context, _ Request) <-chan Event {
	return Run(ctx, string(u), func(emit Emitter) {
		emit(Failure(string(u), NotConfiguredMessage(string(u))))
	})
}

// NotConfiguredMessage 返回 provider 未配置时的固定提示。
func NotConfiguredMessage(name string) string {
	return fmt.Sprintf("%s is not configured", name)
}
