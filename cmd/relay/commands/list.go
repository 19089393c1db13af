package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPresetsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the chained presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			b, err := newBackend(ctx, opts)
			if err != nil {
				return err
			}
			presets, err := b.Presets(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.format == formatNDJSON {
				return writeLines(out, presets)
			}
			for _, p := range presets {
				fmt.Fprintf(out, "%s: %s\n", p.Key, p.Description)
				for i, s := range p.Chain {
					fmt.Fprintf(out, "    %d. %-10s %s\n", i+1, s.AI, s.TaskDescription)
				}
			}
			return nil
		},
	}
}

func newProvidersCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show which providers are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			b, err := newBackend(ctx, opts)
			if err != nil {
				return err
			}
			providers, err := b.Providers(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.format == formatNDJSON {
				return writeLines(out, providers)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATUS\tMODEL")
			for _, p := range providers {
				status := "not configured"
				if p.Available {
					status = "ready"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, status, p.Model)
			}
			return tw.Flush()
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeLines[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}
