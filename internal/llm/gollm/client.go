// Package gollm 通过 github.com/teilomillet/gollm 接入 Anthropic 等后端。
package gollm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/teilomillet/gollm"

	"MultiAI-Relay/internal/llm"
)

const (
	defaultProvider  = "anthropic"
	defaultModelName = "claude-3-5-haiku-latest"
	defaultMaxTokens = 2048
)

// Config 描述 gollm 适配器的配置。Name 为空时使用 "claude"。
type Config struct {
	Name      string
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
	Stream    bool
}

// backend 是适配器依赖的 gollm 能力子集。
type backend interface {
	SupportsStreaming() bool
	Generate(ctx context.Context, req llm.Request) (string, error)
	Stream(ctx context.Context, req llm.Request) (llm.PullFunc, func() error, error)
}

// Client 使用 gollm 调用大模型。
type Client struct {
	name    string
	model   string
	stream  bool
	backend backend
}

// NewClient 创建 gollm 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 API Key")
	}
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		provider = defaultProvider
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	instance, err := gollm.NewLLM(
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetAPIKey(apiKey),
		gollm.SetMaxTokens(maxTokens),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 gollm 客户端失败 (%s): %w", provider, err)
	}
	cfg.Model = model
	return newClient(sdkBackend{llm: instance}, cfg), nil
}

func newClient(b backend, cfg Config) *Client {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "claude"
	}
	return &Client{name: name, model: cfg.Model, stream: cfg.Stream, backend: b}
}

// Name 返回 provider 名称。
func (c *Client) Name() string { return c.name }

// Model 返回实际使用的模型名称。
func (c *Client) Model() string { return c.model }

// Generate 调用 gollm。后端不支持流式或未开启流式时返回单个 full_text。
func (c *Client) Generate(ctx context.Context, req llm.Request) <-chan llm.Event {
	if !c.stream || !c.backend.SupportsStreaming() {
		return llm.Complete(ctx, c.name, func(ctx context.Context) (string, error) {
			return c.backend.Generate(ctx, req)
		})
	}
	return llm.Run(ctx, c.name, func(emit llm.Emitter) {
		pull, closeStream, err := c.backend.Stream(ctx, req)
		if err != nil {
			emit(llm.Failure(c.name, err.Error()))
			return
		}
		defer closeStream()
		llm.Drain(ctx, c.name, pull, emit)
	})
}

func buildPrompt(req llm.Request) *gollm.Prompt {
	var opts []gollm.PromptOption
	if instruction := strings.TrimSpace(req.SystemInstruction); instruction != "" {
		opts = append(opts, gollm.WithSystemPrompt(instruction, gollm.CacheTypeEphemeral))
	}
	return gollm.NewPrompt(req.Prompt, opts...)
}

type sdkBackend struct {
	llm gollm.LLM
}

func (b sdkBackend) SupportsStreaming() bool { return b.llm.SupportsStreaming() }

func (b sdkBackend) Generate(ctx context.Context, req llm.Request) (string, error) {
	return b.llm.Generate(ctx, buildPrompt(req))
}

// Stream 在边界处把 io.EOF 转换为正常结束。
func (b sdkBackend) Stream(ctx context.Context, req llm.Request) (llm.PullFunc, func() error, error) {
	stream, err := b.llm.Stream(ctx, buildPrompt(req))
	if err != nil {
		return nil, nil, err
	}
	pull := func() (string, bool, error) {
		token, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if token == nil {
			return "", true, nil
		}
		return token.Text, true, nil
	}
	return pull, stream.Close, nil
}
