package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"MultiAI-Relay/internal/bootstrap"
	"MultiAI-Relay/internal/config"
	"MultiAI-Relay/internal/llm"
	"MultiAI-Relay/internal/relay"
	"MultiAI-Relay/pkg/logger"
	relayclient "MultiAI-Relay/sdk/go/relay"
)

// backend runs prompts either in-process or against relayd.
type backend interface {
	// Stream starts a run. wait reports the transport error once the channel closes.
	Stream(ctx context.Context, req relay.Request) (events <-chan llm.Event, wait func() error, err error)
	Presets(ctx context.Context) ([]relayclient.Preset, error)
	Providers(ctx context.Context) ([]relayclient.Provider, error)
}

func newBackend(ctx context.Context, opts *options) (backend, error) {
	if opts.remote != "" {
		client, err := relayclient.NewClient(opts.remote, nil)
		if err != nil {
			return nil, err
		}
		return remoteBackend{client: client}, nil
	}
	return newLocalBackend(ctx, opts)
}

type localBackend struct {
	service *relay.Service
}

func newLocalBackend(ctx context.Context, opts *options) (*localBackend, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	path := opts.configPath
	if path == "" {
		path = config.PathFromEnv()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	logCfg.Format = "text"
	logCfg.OutputPaths = []string{"stderr"}
	logCfg.Level = "warn"
	if opts.verbose {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		return nil, err
	}

	service, _, err := bootstrap.Relay(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &localBackend{service: service}, nil
}

func (b *localBackend) Stream(ctx context.Context, req relay.Request) (<-chan llm.Event, func() error, error) {
	events, err := b.service.Stream(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return events, func() error { return nil }, nil
}

func (b *localBackend) Presets(context.Context) ([]relayclient.Preset, error) {
	presets := b.service.Presets()
	out := make([]relayclient.Preset, 0, len(presets))
	for _, p := range presets {
		item := relayclient.Preset{Key: p.Key, Description: p.Description}
		for _, s := range p.Steps {
			item.Chain = append(item.Chain, relayclient.PresetStep{
				AI:                s.Provider,
				SystemInstruction: s.SystemInstruction,
				TaskDescription:   s.TaskDescription,
			})
		}
		out = append(out, item)
	}
	return out, nil
}

func (b *localBackend) Providers(context.Context) ([]relayclient.Provider, error) {
	statuses := b.service.Providers()
	out := make([]relayclient.Provider, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, relayclient.Provider{Name: s.Name, Available: s.Available, Model: s.Model})
	}
	return out, nil
}

type remoteBackend struct {
	client *relayclient.Client
}

func (b remoteBackend) Stream(ctx context.Context, req relay.Request) (<-chan llm.Event, func() error, error) {
	events := make(chan llm.Event, 16)
	done := make(chan error, 1)
	go func() {
		defer close(events)
		done <- b.client.Stream(ctx, relayclient.Request{
			Prompt: req.Prompt,
			Mode:   string(req.Mode),
			Preset: req.Preset,
		}, func(ev relayclient.Event) error {
			converted, err := toEvent(ev)
			if err != nil {
				return err
			}
			select {
			case events <- converted:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return events, func() error { return <-done }, nil
}

func (b remoteBackend) Presets(ctx context.Context) ([]relayclient.Preset, error) {
	return b.client.Presets(ctx)
}

func (b remoteBackend) Providers(ctx context.Context) ([]relayclient.Provider, error) {
	return b.client.Providers(ctx)
}

// toEvent converts a wire event into the orchestrator's event type. Both share
// the same JSON shape.
func toEvent(ev relayclient.Event) (llm.Event, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return llm.Event{}, err
	}
	var out llm.Event
	if err := json.Unmarshal(data, &out); err != nil {
		return llm.Event{}, fmt.Errorf("decode %s event: %w", ev.Type, err)
	}
	return out, nil
}
