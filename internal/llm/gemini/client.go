// Package gemini 通过 google.golang.org/genai 接入 Gemini 模型。
package gemini

import (
	"context"
	"errors"
	"iter"
	"strings"

	"google.golang.org/genai"

	"MultiAI-Relay/internal/llm"
)

const defaultModelName = "gemini-2.5-flash-lite"

// Config 描述 Gemini 适配器的配置。
//
// NativeSystemInstruction 为 false 时，system 指令以文本形式拼接到提示词前面。
type Config struct {
	APIKey                  string
	Model                   string
	Stream                  bool
	NativeSystemInstruction bool
}

// contentClient 是 genai.Models 中被适配器使用的部分。
type contentClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Client 调用 Gemini 生成内容。
type Client struct {
	models contentClient
	sdk    *genai.Client
	cfg    Config
}

// NewClient 创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	c := newClient(sdk.Models, cfg)
	c.sdk = sdk
	return c, nil
}

func newClient(models contentClient, cfg Config) *Client {
	cfg.Model = strings.TrimPrefix(strings.TrimSpace(cfg.Model), "models/")
	if cfg.Model == "" {
		cfg.Model = defaultModelName
	}
	return &Client{models: models, cfg: cfg}
}

// Models 返回底层 SDK 的模型服务，供 ResolveModel 使用。
func (c *Client) Models() ModelLister {
	if c.sdk == nil {
		return nil
	}
	return c.sdk.Models
}

// UseModel 替换当前模型，仅应在启动阶段调用。
func (c *Client) UseModel(model string) {
	if model = strings.TrimPrefix(strings.TrimSpace(model), "models/"); model != "" {
		c.cfg.Model = model
	}
}

// Name 返回 provider 名称。
func (c *Client) Name() string { return "gemini" }

// Model 返回实际使用的模型名称。
func (c *Client) Model() string { return c.cfg.Model }

// Generate 调用 Gemini。默认以单次调用返回 simulated 的完整文本。
func (c *Client) Generate(ctx context.Context, req llm.Request) <-chan llm.Event {
	contents, config := c.buildContents(req)
	if !c.cfg.Stream {
		return llm.Complete(ctx, c.Name(), func(ctx context.Context) (string, error) {
			resp, err := c.models.GenerateContent(ctx, c.cfg.Model, contents, config)
			if err != nil {
				return "", err
			}
			if resp == nil {
				return "", errors.New("Gemini 返回了空响应")
			}
			return resp.Text(), nil
		})
	}
	return llm.Run(ctx, c.Name(), func(emit llm.Emitter) {
		next, stop := iter.Pull2(c.models.GenerateContentStream(ctx, c.cfg.Model, contents, config))
		defer stop()
		llm.Drain(ctx, c.Name(), pullResponses(next), emit)
	})
}

func (c *Client) buildContents(req llm.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	prompt := req.Prompt
	var config *genai.GenerateContentConfig
	if instruction := strings.TrimSpace(req.SystemInstruction); instruction != "" {
		if c.cfg.NativeSystemInstruction {
			config = &genai.GenerateContentConfig{
				SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(instruction)}},
			}
		} else {
			prompt = llm.InlineSystemInstruction(instruction, prompt)
		}
	}
	return genai.Text(prompt), config
}

// pullResponses 把 iter.Pull2 的结果转换为三态拉取函数。
func pullResponses(next func() (*genai.GenerateContentResponse, error, bool)) llm.PullFunc {
	return func() (string, bool, error) {
		resp, err, ok := next()
		if !ok {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if resp == nil {
			return "", true, nil
		}
		return resp.Text(), true, nil
	}
}
