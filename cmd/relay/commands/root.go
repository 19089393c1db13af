package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	formatText   = "text"
	formatNDJSON = "ndjson"
)

// options holds the global flags.
type options struct {
	configPath string
	remote     string
	format     string
	timeout    time.Duration
	verbose    bool
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree. Each call returns an independent tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "relay",
		Short: "Ask several AI providers the same question, or chain them",
		Long: `relay sends a prompt to the configured AI providers.

  compare   every configured provider answers the same prompt concurrently
  chain     providers run one after another following a preset, each step
            receiving the previous step's answer as context

Providers are configured through RELAY_CONFIG (default configs/relay.json) and
the GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY and DEEPSEEK_API_KEY
environment variables, optionally loaded from a .env file.

Examples:
  relay compare "Summarise the plot of Hamlet"
  relay chain --preset 3 "Ideas for a weekend project"
  relay --remote http://localhost:8080 compare --format ndjson "hi" | jq .`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.format {
			case formatText, formatNDJSON:
				return nil
			default:
				return fmt.Errorf("unknown format %q (want text or ndjson)", opts.format)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $RELAY_CONFIG or configs/relay.json)")
	flags.StringVar(&opts.remote, "remote", "", "relayd base URL; runs locally when empty")
	flags.StringVar(&opts.format, "format", formatText, "output format: text or ndjson")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "maximum duration of a run")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging to stderr")

	root.AddCommand(newCompareCommand(opts))
	root.AddCommand(newChainCommand(opts))
	root.AddCommand(newPresetsCommand(opts))
	root.AddCommand(newProvidersCommand(opts))
	return root
}

// readPrompt joins the positional arguments, or reads stdin when there are
// none or the only argument is "-".
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.TrimSpace(strings.Join(args, " ")), nil
}
