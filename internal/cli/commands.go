package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/duckmesh/sqlagent/internal/agent"
	"github.com/duckmesh/sqlagent/internal/app"
	"github.com/duckmesh/sqlagent/internal/database"
	"github.com/duckmesh/sqlagent/internal/history"
	"github.com/duckmesh/sqlagent/internal/llm"
	"github.com/duckmesh/sqlagent/internal/tokens"
)

func newAskCommand(st *state) *cobra.Command {
	var asJSON, showSQL bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := st.opts.Build(cmd.Context(), st.cfg, st.logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			run, err := rt.Agent.AskDetailed(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, runSummary(run))
			}
			if showSQL {
				_, _ = fmt.Fprintf(out, "SQL: %s\n", run.SQL())
				if run.Outcome.Failed() {
					_, _ = fmt.Fprintf(out, "Database error: %v\n", run.Outcome.Err)
				} else {
					_, _ = fmt.Fprintf(out, "Rows: %d\n", len(run.Outcome.Rows))
				}
			}
			_, _ = fmt.Fprintln(out, strings.TrimSpace(run.Answer()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full run as JSON")
	cmd.Flags().BoolVar(&showSQL, "show-sql", false, "print the generated SQL before the answer")
	return cmd
}

type summary struct {
	RunID      string         `json:"run_id"`
	Model      string         `json:"model"`
	Question   string         `json:"question"`
	SQL        string         `json:"sql"`
	Answer     string         `json:"answer"`
	Rows       []database.Row `json:"rows"`
	DBError    string         `json:"db_error,omitempty"`
	Usage      llm.Usage      `json:"usage"`
	DurationMs int64          `json:"duration_ms"`
}

func runSummary(run agent.Run) summary {
	out := summary{
		RunID:      run.ID,
		Model:      run.Model,
		Question:   run.Question,
		SQL:        run.SQL(),
		Answer:     run.Answer(),
		Rows:       run.Outcome.Rows,
		Usage:      run.Usage(),
		DurationMs: run.Duration().Milliseconds(),
	}
	if out.Rows == nil {
		out.Rows = []database.Row{}
	}
	if run.Outcome.Failed() {
		out.DBError = run.Outcome.Err.Error()
	}
	return out
}

func newSchemaCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the schema the agent sends to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.Open(cmd.Context(), st.cfg.Database.DSN, database.Options{Logger: st.logger})
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			schema, err := db.Schema(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "-- dialect: %s\n", db.Dialect().DisplayName())
			if schema != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), schema.String())
			}
			return nil
		},
	}
}

func newTokensCommand(_ *state) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens <model> <text>",
		Short: "Estimate the token count of text for a model",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			text := strings.Join(args[1:], " ")
			registry := tokens.NewRegistry()
			count, err := registry.Count(text, model)
			if err != nil {
				return err
			}
			window, err := registry.ContextWindow(model)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "model: %s\n", model)
			_, _ = fmt.Fprintf(out, "tokens: %d\n", count)
			_, _ = fmt.Fprintf(out, "context_window: %d\n", window)
			return nil
		},
	}
}

// offlineTransport backs an adapter that only composes request bodies.
type offlineTransport struct{}

func (offlineTransport) Invoke(context.Context, llm.Invocation) ([]byte, error) {
	return nil, errors.New("wire inspection does not call the backend")
}

func newWireCommand(st *state) *cobra.Command {
	var rawParams []string
	cmd := &cobra.Command{
		Use:   "wire <model> <prompt>",
		Short: "Print the request body that would be sent for a prompt",
		Long: `Print the provider-specific request body for a prompt without calling the
backend. Parameters use canonical or aliased names; values are parsed as YAML,
so --param temperature=0.2 is a number and --param stop='["END"]' a list.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			defaults := llm.DefaultSettings().With(map[string]any{"temperature": st.cfg.LLM.Temperature})
			adapter, err := llm.NewAdapter(offlineTransport{}, llm.WithDefaults(defaults), llm.WithLogger(st.logger))
			if err != nil {
				return err
			}
			_, wire, err := adapter.ComposeWire(llm.Request{Prompt: strings.Join(args[1:], " "), Params: params}, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), wire)
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "request parameter as key=value (repeatable)")
	return cmd
}

func parseParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))
	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", entry)
		}
		var parsed any
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			return nil, fmt.Errorf("invalid --param %q: %w", entry, err)
		}
		params[key] = parsed
	}
	return params, nil
}

func newHistoryCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived runs",
	}

	var day string
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived runs for a day (UTC)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			when := time.Now().UTC()
			if day != "" {
				parsed, err := time.Parse(time.DateOnly, day)
				if err != nil {
					return fmt.Errorf("invalid --day %q: expected YYYY-MM-DD", day)
				}
				when = parsed
			}
			archive, err := openArchive(cmd.Context(), st)
			if err != nil {
				return err
			}
			objects, err := archive.List(cmd.Context(), when)
			if err != nil {
				return err
			}
			for _, object := range objects {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", object.Key, object.Size)
			}
			return nil
		},
	}
	list.Flags().StringVar(&day, "day", "", "day to list as YYYY-MM-DD (default today)")

	show := &cobra.Command{
		Use:   "show <key>",
		Short: "Print the runs stored under an archive key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(cmd.Context(), st)
			if err != nil {
				return err
			}
			entries, err := archive.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func openArchive(ctx context.Context, st *state) (*history.Archive, error) {
	if !st.cfg.History.Enabled {
		return nil, errors.New("run history is disabled; set SQLAGENT_HISTORY_ENABLED=true")
	}
	return app.OpenArchive(ctx, st.cfg.History, st.logger)
}

func writeJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
