package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"MultiAI-Relay/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1/"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 120 * time.Second
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
// DeepSeek 等兼容服务通过 BaseURL 接入。
type Config struct {
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Stream     bool
	MaxRetries int
}

// Client 通过 openai-go SDK 调用 OpenAI 兼容的大模型服务。
type Client struct {
	name   string
	model  string
	stream bool
	client openai.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 API Key")
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(cfg.MaxRetries),
	)

	return &Client{
		name:   name,
		model:  model,
		stream: cfg.Stream,
		client: client,
	}, nil
}

// Name 返回 provider 名称。
func (c *Client) Name() string { return c.name }

// Model 返回实际使用的模型名称。
func (c *Client) Model() string { return c.model }

// Generate 调用 Chat Completions 接口。开启流式时逐段产出 text_delta，
// 否则产出单个 full_text。
func (c *Client) Generate(ctx context.Context, req llm.Request) <-chan llm.Event {
	params := c.buildParams(req)
	if !c.stream {
		return llm.Complete(ctx, c.name, func(ctx context.Context) (string, error) {
			return c.complete(ctx, params)
		})
	}
	return llm.Run(ctx, c.name, func(emit llm.Emitter) {
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		llm.Drain(ctx, c.name, pullChunks(stream), emit)
	})
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("响应中没有有效的 choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) buildParams(req llm.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if instruction := strings.TrimSpace(req.SystemInstruction); instruction != "" {
		messages = append(messages, openai.SystemMessage(instruction))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))
	return openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
}

// pullChunks 把 SSE 流适配为拉取函数，只取第一个 choice 的增量内容。
func pullChunks(stream *ssestream.Stream[openai.ChatCompletionChunk]) llm.PullFunc {
	return func() (string, bool, error) {
		if !stream.Next() {
			return "", false, stream.Err()
		}
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			return "", true, nil
		}
		return chunk.Choices[0].Delta.Content, true, nil
	}
}
