// Package cli implements the sqlagent command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/duckmesh/sqlagent/internal/app"
	"github.com/duckmesh/sqlagent/internal/config"
	"github.com/duckmesh/sqlagent/internal/observability"
)

const serviceName = "sqlagent"

// BuildFunc constructs the runtime used by ask. Tests swap it for one with a
// scripted transport.
type BuildFunc func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.Runtime, error)

type Options struct {
	Lookup config.LookupFunc
	Stdout io.Writer
	Stderr io.Writer
	Build  BuildFunc
}

type state struct {
	opts   Options
	cfg    config.Config
	logger *slog.Logger
}

type flagValues struct {
	dsn          string
	model        string
	transport    string
	baseURL      string
	region       string
	prompts      string
	logLevel     string
	maxTokens    int
	safetyMargin int
	temperature  float64
}

func NewRootCmd(opts Options) *cobra.Command {
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.Build == nil {
		opts.Build = func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.Runtime, error) {
			return app.Build(ctx, cfg, logger)
		}
	}
	st := &state{opts: opts}
	var flags flagValues

	root := &cobra.Command{
		Use:   "sqlagent",
		Short: "Answer questions about a SQL database with a language model",
		Long: `sqlagent turns a natural-language question into SQL, runs it against the
configured database and asks the model to phrase the result.

Configuration comes from SQLAGENT_* environment variables; flags override them.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(serviceName, opts.Lookup)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg, flags); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			st.cfg = cfg
			st.logger = observability.NewLogger(cfg, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if opts.Stdout != nil {
		root.SetOut(opts.Stdout)
	}
	if opts.Stderr != nil {
		root.SetErr(opts.Stderr)
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.dsn, "dsn", "", "database connection string (empty for in-memory SQLite)")
	pf.StringVarP(&flags.model, "model", "m", "", "model id, e.g. anthropic.claude-v2")
	pf.StringVar(&flags.transport, "transport", "", "llm transport (bedrock|http)")
	pf.StringVar(&flags.baseURL, "base-url", "", "base URL for the http transport")
	pf.StringVar(&flags.region, "region", "", "AWS region for the bedrock transport")
	pf.StringVar(&flags.prompts, "prompts", "", "YAML file overriding the prompt templates")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	pf.IntVar(&flags.maxTokens, "max-tokens", 0, "upper bound on generated tokens per call")
	pf.IntVar(&flags.safetyMargin, "safety-margin", 0, "tokens held back from the context window")
	pf.Float64Var(&flags.temperature, "temperature", 0, "sampling temperature")

	_ = root.RegisterFlagCompletionFunc("transport", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{config.TransportBedrock, config.TransportHTTP}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newAskCommand(st))
	root.AddCommand(newSchemaCommand(st))
	root.AddCommand(newTokensCommand(st))
	root.AddCommand(newWireCommand(st))
	root.AddCommand(newHistoryCommand(st))
	return root
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, flags flagValues) error {
	changed := cmd.Flags().Changed
	if changed("dsn") {
		cfg.Database.DSN = flags.dsn
	}
	if changed("model") {
		cfg.LLM.Model = flags.model
	}
	if changed("transport") {
		cfg.LLM.Transport = strings.ToLower(strings.TrimSpace(flags.transport))
	}
	if changed("base-url") {
		cfg.LLM.BaseURL = flags.baseURL
	}
	if changed("region") {
		cfg.LLM.Region = flags.region
	}
	if changed("prompts") {
		cfg.Prompts.File = flags.prompts
	}
	if changed("max-tokens") {
		cfg.Agent.MaxTokens = flags.maxTokens
	}
	if changed("safety-margin") {
		cfg.Agent.SafetyMargin = flags.safetyMargin
	}
	if changed("temperature") {
		cfg.LLM.Temperature = flags.temperature
	}
	if changed("log-level") {
		var level slog.Level
		if err := level.UnmarshalText([]byte(flags.logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", flags.logLevel, err)
		}
		cfg.Observability.LogLevel = level
	}
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCmd(Options{Stdout: os.Stdout, Stderr: os.Stderr})
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
