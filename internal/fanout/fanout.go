// Package fanout 实现对比模式：并发调用所有可用 provider，
// 按到达顺序把它们的事件合并到同一个输出通道。
package fanout

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/llm"
	"MultiAI-Relay/pkg/logger"
)

const defaultBuffer = 64

// item 是共享队列中的元素。done 为 true 时表示 source 的流已经结束，
// 该标记只在本包内部流转，不会转发给调用方。
type item struct {
	source string
	event  llm.Event
	done   bool
}

// Option 配置 Multiplexer。
type Option func(*Multiplexer)

// WithConcurrency 限制同时运行的 provider 数量，<=0 表示不限制。
func WithConcurrency(n int) Option {
	return func(m *Multiplexer) {
		m.concurrency = n
	}
}

// Multiplexer 负责对比模式的扇出与合并。
type Multiplexer struct {
	registry    *llm.Registry
	concurrency int
}

// New 创建 Multiplexer。
func New(registry *llm.Registry, opts ...Option) *Multiplexer {
	m := &Multiplexer{registry: registry}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Run 启动一次对比运行。没有可用 provider 时立即返回配置错误，不启动任何 goroutine。
//
// 返回的通道按到达顺序产出各 provider 的事件，最后产出一个 all_done；
// ctx 结束时通道直接关闭，不产出 all_done。
func (m *Multiplexer) Run(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	active := m.registry.Active()
	if len(active) == 0 {
		return nil, xerrors.New(xerrors.CodeNoProviders, "没有已配置的 AI provider")
	}

	shared := make(chan item, defaultBuffer)
	out := make(chan llm.Event, defaultBuffer)

	go m.forwardAll(ctx, active, req, shared)
	go consume(ctx, active, shared, out)
	return out, nil
}

func (m *Multiplexer) forwardAll(ctx context.Context, active []llm.Handle, req llm.Request, shared chan<- item) {
	var g errgroup.Group
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}
	for _, h := range active {
		g.Go(func() error {
			forward(ctx, h, req, shared)
			return nil
		})
	}
	_ = g.Wait()
}

// forward 把单个 provider 的事件写入共享队列，结束后写入完成标记。
// 事件的 ai 字段统一为注册表中的名称。
func forward(ctx context.Context, h llm.Handle, req llm.Request, shared chan<- item) {
	for ev := range h.Provider.Generate(ctx, req) {
		ev.AI = h.Name
		select {
		case shared <- item{source: h.Name, event: ev}:
		case <-ctx.Done():
			return
		}
	}
	select {
	case shared <- item{source: h.Name, done: true}:
	case <-ctx.Done():
	}
}

func consume(ctx context.Context, active []llm.Handle, shared <-chan item, out chan<- llm.Event) {
	defer close(out)

	log := logger.Named("fanout")
	order := make([]string, 0, len(active))
	responses := make(map[string]*llm.Accumulator, len(active))
	for _, h := range active {
		order = append(order, h.Name)
		responses[h.Name] = &llm.Accumulator{}
	}

	send := func(ev llm.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for remaining := len(active); remaining > 0; {
		var it item
		select {
		case it = <-shared:
		case <-ctx.Done():
			return
		}
		if it.done {
			remaining--
			continue
		}
		if err := it.event.Validate(); err != nil {
			log.Warn("丢弃无效事件", slog.String("provider", it.source), slog.Any("error", err))
			continue
		}
		responses[it.source].Add(it.event)
		if !send(it.event) {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	results := llm.FinalResults{Responses: make(map[string]string, len(order))}
	for _, name := range order {
		results.Responses[name] = responses[name].String()
	}
	send(llm.AllDone(results))
}
