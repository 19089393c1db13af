// Package relay 把对比模式与链式模式组合成统一的运行入口，
// 并负责运行结束后的 transcript、审计日志与指标。
package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"MultiAI-Relay/internal/chain"
	xerrors "MultiAI-Relay/internal/errors"
	"MultiAI-Relay/internal/fanout"
	"MultiAI-Relay/internal/llm"
	"MultiAI-Relay/internal/observability/metrics"
	"MultiAI-Relay/internal/transcript"
	"MultiAI-Relay/pkg/logger"
)

// ProviderStatus 描述 provider 的配置状态。
type ProviderStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Model     string `json:"model,omitempty"`
}

// Service 是编排器的统一入口。
type Service struct {
	registry   *llm.Registry
	catalog    *chain.Catalog
	mux        *fanout.Multiplexer
	chain      *chain.Executor
	transcript *transcript.Log
	now        func() time.Time
	log        *slog.Logger
}

// Option 配置 Service。
type Option func(*Service)

// WithTranscript 在每次运行结束时写入 transcript。
func WithTranscript(log *transcript.Log) Option {
	return func(s *Service) {
		s.transcript = log
	}
}

// WithMultiplexerOptions 透传对比模式的配置。
func WithMultiplexerOptions(opts ...fanout.Option) Option {
	return func(s *Service) {
		s.mux = fanout.New(s.registry, opts...)
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造 Service。
func NewService(registry *llm.Registry, catalog *chain.Catalog, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		catalog:  catalog,
		mux:      fanout.New(registry),
		chain:    chain.NewExecutor(registry, catalog),
		now:      time.Now,
		log:      logger.Named("relay"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Presets 返回可用的链式预设。
func (s *Service) Presets() []chain.Preset {
	return s.catalog.List()
}

// Providers 返回所有 provider 的配置状态。
func (s *Service) Providers() []ProviderStatus {
	handles := s.registry.All()
	out := make([]ProviderStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, ProviderStatus{Name: h.Name, Available: h.Available, Model: h.Model})
	}
	return out
}

// Stream 校验请求并启动运行，返回统一的事件通道。
//
// 配置错误同步返回，此时没有任何 provider 被调用。运行观察到 all_done 后
// 由生产端写入 transcript，与调用方是否仍在读取无关。
func (s *Service) Stream(ctx context.Context, req Request) (<-chan llm.Event, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		metrics.ObserveRejectedRun(string(req.Mode))
		return nil, err
	}

	var (
		events <-chan llm.Event
		err    error
	)
	switch req.Mode {
	case ModeChained:
		events, err = s.chain.Run(ctx, req.Prompt, req.Preset)
	default:
		events, err = s.mux.Run(ctx, llm.Request{Prompt: req.Prompt})
	}
	if err != nil {
		metrics.ObserveRejectedRun(string(req.Mode))
		return nil, err
	}

	out := make(chan llm.Event, 16)
	go s.observe(ctx, req, events, out)
	return out, nil
}

// observe 透传事件，同时记录指标并在运行结束时写入 transcript 与审计日志。
// 即使下游已停止读取，也会读完上游，保证运行自然结束。
func (s *Service) observe(ctx context.Context, req Request, events <-chan llm.Event, out chan<- llm.Event) {
	defer close(out)

	runID := uuid.NewString()
	started := s.now()
	finish := metrics.RunStarted(string(req.Mode))

	var final *llm.FinalResults
	failed := 0
	for ev := range events {
		switch ev.Kind {
		case llm.KindError:
			failed++
			metrics.ObserveProviderEvent(ev.AI, string(ev.Kind))
		case llm.KindTextDelta, llm.KindFullText, llm.KindStepSkipped:
			metrics.ObserveProviderEvent(ev.AI, string(ev.Kind))
		case llm.KindStepStart:
		case llm.KindAllDone:
			final = ev.Results
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	if final == nil {
		finish(metrics.OutcomeCancelled)
		s.log.Warn("运行未完成", slog.String("run_id", runID), slog.String("mode", string(req.Mode)), slog.Any("error", ctx.Err()))
		return
	}
	finish(metrics.OutcomeCompleted)
	s.record(runID, started, req, *final, failed)
}

func (s *Service) record(runID string, started time.Time, req Request, final llm.FinalResults, failed int) {
	duration := s.now().Sub(started)
	providers := make([]string, 0)
	if final.Chained() {
		for _, step := range final.Steps {
			providers = append(providers, step.AI)
		}
	} else {
		for _, h := range s.registry.Active() {
			providers = append(providers, h.Name)
		}
	}

	logger.Audit().Info("运行完成",
		slog.String("run_id", runID),
		slog.String("mode", string(req.Mode)),
		slog.String("preset", req.Preset),
		slog.String("providers", strings.Join(providers, ",")),
		slog.Int("failed", failed),
		slog.Duration("duration", duration),
	)

	if s.transcript == nil {
		return
	}
	if err := s.transcript.Append(s.transcriptRecord(started, req, final)); err != nil {
		s.log.Error("写入 transcript 失败", slog.String("run_id", runID), slog.Any("error", err))
	}
}

// transcriptRecord 根据最终结果重建记录；链式模式的提示词按执行器的规则重新推导。
func (s *Service) transcriptRecord(at time.Time, req Request, final llm.FinalResults) transcript.Record {
	rec := transcript.Record{Time: at, Prompt: req.Prompt}
	if !final.Chained() {
		rec.Mode = transcript.ModeComparison
		for _, h := range s.registry.Active() {
			if text, ok := final.Responses[h.Name]; ok {
				rec.Responses = append(rec.Responses, transcript.Response{Provider: h.Name, Text: text})
			}
		}
		return rec
	}

	rec.Mode = transcript.ModeChained
	rec.Preset = req.Preset
	current := req.Prompt
	for i, step := range final.Steps {
		entry := transcript.Step{Number: i + 1, Provider: step.AI, Task: step.Task, Skipped: step.Skipped}
		if !step.Skipped {
			entry.Prompt = chain.StepPrompt(i, req.Prompt, current, step.Task)
			entry.Response = step.Response
			current = step.Response
		}
		rec.Steps = append(rec.Steps, entry)
	}
	return rec
}

// Run 执行一次非流式运行并返回汇总结果。
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	req = req.Normalize()
	events, err := s.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var final *llm.FinalResults
	for ev := range events {
		if ev.Kind == llm.KindAllDone {
			final = ev.Results
		}
	}
	if final == nil {
		cause := ctx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, cause, "运行超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeTransport, cause, "运行在完成前被取消")
	}
	return resultFrom(req, *final), nil
}
