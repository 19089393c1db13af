package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"MultiAI-Relay/internal/bridge"
	"MultiAI-Relay/internal/llm"
	"MultiAI-Relay/internal/relay"
)

func newCompareCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compare [prompt...]",
		Short: "Ask every configured provider the same prompt",
		Long: `Ask every configured provider the same prompt concurrently.

The prompt is taken from the arguments, or from stdin when none are given.

Examples:
  relay compare "What is the capital of Australia?"
  echo "Explain monads" | relay compare --format ndjson`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runPrompt(cmd, opts, relay.Request{Prompt: prompt, Mode: relay.ModeComparison})
		},
	}
}

func newChainCommand(opts *options) *cobra.Command {
	var preset string
	cmd := &cobra.Command{
		Use:   "chain --preset KEY [prompt...]",
		Short: "Run the prompt through a chained preset",
		Long: `Run the prompt through a chained preset. Each step receives the original
prompt and the previous step's answer. Steps whose provider is not configured
are skipped.

Use 'relay presets' to list the available presets.

Examples:
  relay chain --preset 2 "Summarise the history of the printing press"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runPrompt(cmd, opts, relay.Request{Prompt: prompt, Mode: relay.ModeChained, Preset: preset})
		},
	}
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "preset key (required)")
	_ = cmd.MarkFlagRequired("preset")
	return cmd
}

func runPrompt(cmd *cobra.Command, opts *options, req relay.Request) error {
	ctx := commandContext(cmd)
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	b, err := newBackend(ctx, opts)
	if err != nil {
		return err
	}
	events, wait, err := b.Stream(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var renderErr error
	if opts.format == formatNDJSON {
		renderErr = bridge.Forward(ctx, events, bridge.NewLineSink(out))
	} else {
		renderErr = renderText(out, req.Mode == relay.ModeChained, events)
	}
	if err := wait(); err != nil {
		return err
	}
	if renderErr != nil {
		return renderErr
	}
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("run did not finish within %s", opts.timeout)
		}
		return ctx.Err()
	}
	return nil
}

// textRenderer prints a run for a terminal. Chained runs stream live since
// steps are sequential; comparison output is grouped per provider once the
// run completes, as deltas from different providers interleave.
type textRenderer struct {
	w       io.Writer
	chained bool
	order   []string
	acc     map[string]*llm.Accumulator
	err     error
}

func renderText(w io.Writer, chained bool, events <-chan llm.Event) error {
	r := &textRenderer{w: w, chained: chained, acc: make(map[string]*llm.Accumulator)}
	for ev := range events {
		r.handle(ev)
	}
	return r.err
}

func (r *textRenderer) printf(format string, args ...any) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.w, format, args...)
}

func (r *textRenderer) handle(ev llm.Event) {
	switch ev.Kind {
	case llm.KindStepStart:
		r.printf("\n=== Step %d: %s (%s) ===\n", ev.Step, ev.AI, ev.Task)
	case llm.KindStepSkipped:
		r.printf("\n=== Step %d: %s skipped: %s ===\n", ev.Step, ev.AI, ev.Message)
	case llm.KindTextDelta, llm.KindFullText, llm.KindError:
		if r.chained {
			if ev.Kind == llm.KindError {
				r.printf("[error] %s\n", ev.Error)
				return
			}
			r.printf("%s", ev.Text)
			return
		}
		acc, ok := r.acc[ev.AI]
		if !ok {
			acc = &llm.Accumulator{}
			r.acc[ev.AI] = acc
			r.order = append(r.order, ev.AI)
		}
		acc.Add(ev)
	case llm.KindAllDone:
		if r.chained {
			r.printf("\n")
			return
		}
		for _, name := range r.order {
			r.printf("--- %s ---\n%s\n\n", name, r.acc[name].String())
		}
	}
}
