// Package bootstrap 根据配置组装 provider 注册表与 relay 服务，供守护进程和命令行共用。
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"

	"MultiAI-Relay/internal/chain"
	"MultiAI-Relay/internal/config"
	"MultiAI-Relay/internal/fanout"
	"MultiAI-Relay/internal/llm"
	"MultiAI-Relay/internal/llm/gemini"
	"MultiAI-Relay/internal/llm/gollm"
	"MultiAI-Relay/internal/llm/openai"
	"MultiAI-Relay/internal/relay"
	"MultiAI-Relay/internal/transcript"
	"MultiAI-Relay/pkg/logger"
)

// Status 描述单个 provider 的启动状态。
type Status struct {
	Name      string
	Available bool
	Model     string
	Reason    string
}

// Registry 按配置构建 provider 注册表。缺少凭据或构建失败的 provider
// 以未配置状态注册，不会中断启动。
func Registry(ctx context.Context, cfg *config.Config) (*llm.Registry, []Status, error) {
	log := logger.Named("bootstrap")

	names := providerNames(cfg)
	handles := make([]llm.Handle, 0, len(names))
	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		pc := cfg.Providers[name]
		status := Status{Name: name, Model: pc.Model}
		handle := llm.Handle{Name: name, Model: pc.Model}

		switch key := pc.Credential(); {
		case !pc.IsEnabled():
			status.Reason = "disabled in config"
		case key == "":
			status.Reason = fmt.Sprintf("set %s", pc.APIKeyEnv)
		default:
			provider, model, err := build(ctx, name, pc, key)
			if err != nil {
				log.Warn("provider 初始化失败", slog.String("provider", name), slog.Any("error", err))
				status.Reason = err.Error()
				break
			}
			handle.Provider = provider
			handle.Available = true
			handle.Model = model
			status.Available = true
			status.Model = model
		}
		handles = append(handles, handle)
		statuses = append(statuses, status)
	}

	registry, err := llm.NewRegistry(handles...)
	if err != nil {
		return nil, nil, err
	}
	return registry, statuses, nil
}

// providerNames 返回内置顺序在前、自定义 provider 按名称排序在后的列表。
func providerNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers))
	for _, name := range config.ProviderOrder {
		if _, ok := cfg.Providers[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for name := range cfg.Providers {
		if !slices.Contains(config.ProviderOrder, name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func build(ctx context.Context, name string, pc config.ProviderConfig, key string) (llm.Provider, string, error) {
	switch pc.Kind {
	case config.KindGemini:
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:                  key,
			Model:                   pc.Model,
			Stream:                  pc.Stream,
			NativeSystemInstruction: pc.NativeSystemInstruction,
		})
		if err != nil {
			return nil, "", err
		}
		if pc.ResolveModel {
			model, err := gemini.ResolveModel(ctx, client.Models(), pc.Model)
			if err != nil {
				return nil, "", fmt.Errorf("解析 Gemini 模型失败: %w", err)
			}
			client.UseModel(model)
		}
		return client, client.Model(), nil
	case config.KindOpenAI:
		client, err := openai.NewClient(openai.Config{
			Name:       name,
			APIKey:     key,
			BaseURL:    pc.BaseURL,
			Model:      pc.Model,
			Timeout:    pc.Timeout(),
			Stream:     pc.Stream,
			MaxRetries: pc.MaxRetries,
		})
		if err != nil {
			return nil, "", err
		}
		return client, client.Model(), nil
	case config.KindGollm:
		client, err := gollm.NewClient(gollm.Config{
			Name:      name,
			Provider:  pc.Backend,
			APIKey:    key,
			Model:     pc.Model,
			MaxTokens: pc.MaxTokens,
			Stream:    pc.Stream,
		})
		if err != nil {
			return nil, "", err
		}
		return client, client.Model(), nil
	default:
		return nil, "", fmt.Errorf("未知的适配器类型: %q", pc.Kind)
	}
}

// Relay 组装 relay 服务：注册表、预设目录与 transcript。
func Relay(ctx context.Context, cfg *config.Config) (*relay.Service, []Status, error) {
	registry, statuses, err := Registry(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	catalog, err := Catalog(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []relay.Option{
		relay.WithMultiplexerOptions(fanout.WithConcurrency(cfg.Server.MaxConcurrency)),
	}
	if cfg.Transcript.Path != "" {
		log, err := transcript.Open(cfg.Transcript.Path)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, relay.WithTranscript(log))
	}
	return relay.NewService(registry, catalog, opts...), statuses, nil
}

// Catalog 返回内置预设，配置了 presets_file 时叠加文件中的定义。
func Catalog(cfg *config.Config) (*chain.Catalog, error) {
	return chain.LoadCatalog(cfg.Chain.PresetsFile)
}

// Report 输出启动时的 provider 配置状态。
func Report(w io.Writer, statuses []Status) {
	ready := 0
	fmt.Fprintln(w, "Provider status:")
	for _, s := range statuses {
		if s.Available {
			ready++
			fmt.Fprintf(w, "  %-10s ready (%s)\n", s.Name, s.Model)
			continue
		}
		fmt.Fprintf(w, "  %-10s not configured (%s)\n", s.Name, s.Reason)
	}
	if ready == 0 {
		fmt.Fprintln(w, "No provider is configured; every run will be rejected until an API key is set.")
	}
}
