// Package agent answers natural-language questions about a database by
// asking a completion backend for SQL, running it, and asking the backend
// again to phrase the result.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/sqlagent/internal/database"
	"github.com/duckmesh/sqlagent/internal/llm"
	"github.com/duckmesh/sqlagent/internal/observability"
	"github.com/duckmesh/sqlagent/internal/prompt"
	"github.com/duckmesh/sqlagent/internal/tokens"
)

const DefaultDialect = "standard SQL"

// Recorder receives every completed run.
type Recorder interface {
	Record(ctx context.Context, run Run) error
}

type Options struct {
	LLM       llm.Completer
	DB        database.Database
	Templates prompt.Renderer
	Counter   tokens.Counter

	Model        string
	MaxTokens    int
	SafetyMargin int
	// Params are extra canonical or aliased parameters sent with both
	// completion calls. The computed token budget always replaces max_tokens.
	Params  map[string]any
	Dialect string

	Logger   *slog.Logger
	Recorder Recorder
	Now      func() time.Time
}

// Agent is safe for concurrent use; the schema snapshot is taken once in New
// and never refreshed.
type Agent struct {
	llm          llm.Completer
	db           database.Database
	templates    prompt.Renderer
	counter      tokens.Counter
	model        string
	maxTokens    int
	safetyMargin int
	params       map[string]any
	dialect      string
	logger       *slog.Logger
	recorder     Recorder
	now          func() time.Time
	schema       database.Schema
}

func New(ctx context.Context, opts Options) (*Agent, error) {
	if opts.LLM == nil {
		return nil, &ConfigurationError{Reason: "completion backend is required"}
	}
	if opts.DB == nil {
		return nil, &ConfigurationError{Reason: "database is required"}
	}
	if opts.Templates == nil {
		return nil, &ConfigurationError{Reason: "prompt templates are required"}
	}
	if opts.SafetyMargin < 0 {
		return nil, &ConfigurationError{Reason: "safety margin must be >= 0"}
	}

	a := &Agent{
		llm:          opts.LLM,
		db:           opts.DB,
		templates:    opts.Templates,
		counter:      opts.Counter,
		model:        strings.TrimSpace(opts.Model),
		maxTokens:    opts.MaxTokens,
		safetyMargin: opts.SafetyMargin,
		dialect:      opts.Dialect,
		logger:       opts.Logger,
		recorder:     opts.Recorder,
		now:          opts.Now,
	}
	if a.counter == nil {
		a.counter = tokens.NewRegistry()
	}
	if a.model == "" {
		a.model = llm.DefaultModel
	}
	if a.dialect == "" {
		a.dialect = DefaultDialect
	}
	if a.logger == nil {
		a.logger = observability.DiscardLogger()
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.params = make(map[string]any, len(opts.Params))
	for k, v := range opts.Params {
		a.params[k] = v
	}

	if _, err := llm.ParseProvider(a.model); err != nil {
		return nil, &ConfigurationError{Reason: "model " + a.model, Err: err}
	}
	if _, err := a.counter.ContextWindow(a.model); err != nil {
		return nil, &ConfigurationError{Reason: "model " + a.model, Err: err}
	}

	schema, err := a.db.Schema(ctx)
	if err != nil {
		return nil, &ConfigurationError{Reason: "read database schema", Err: err}
	}
	a.schema = schema
	a.logger.InfoContext(ctx, "sql agent ready",
		slog.String("model", a.model),
		slog.Int("schema_bytes", len(schema)),
	)
	return a, nil
}

func (a *Agent) Schema() database.Schema {
	return a.schema
}

func (a *Agent) Model() string {
	return a.model
}

// Ask returns only the synthesized answer.
func (a *Agent) Ask(ctx context.Context, question string) (string, error) {
	run, err := a.AskDetailed(ctx, question)
	if err != nil {
		return "", err
	}
	return run.Answer(), nil
}

// AskDetailed runs the full question flow and returns the run record. On
// failure the partial run is returned together with a *StageError.
func (a *Agent) AskDetailed(ctx context.Context, question string) (Run, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		observability.ObserveAsk("rejected")
		return Run{}, ErrEmptyQuestion
	}

	run := Run{
		ID:        uuid.NewString(),
		Question:  question,
		Model:     a.model,
		StartedAt: a.now(),
		Stage:     StageInit,
	}
	ctx = observability.ContextWithRunID(ctx, run.ID)
	logger := a.logger.With(observability.ContextAttrs(ctx)...)
	logger.InfoContext(ctx, "ask started", slog.String("question", question))

	fail := func(err error) (Run, error) {
		observability.ObserveAsk("failed")
		run.FinishedAt = a.now()
		logger.ErrorContext(ctx, "ask failed",
			slog.String("stage", string(run.Stage)),
			slog.String("error", err.Error()),
		)
		return run, &StageError{Stage: run.Stage, Err: err}
	}

	done := a.enter(&run, StageBuildSQLPrompt)
	sqlPrompt, err := a.templates.Render(prompt.SQLQuery, map[string]string{
		"dialect":  a.dialect,
		"schema":   a.schema.String(),
		"question": question,
	})
	done()
	if err != nil {
		return fail(err)
	}

	done = a.enter(&run, StageGenerateSQL)
	run.SQLGeneration, err = a.generate(ctx, run.Stage, sqlPrompt)
	done()
	if err != nil {
		return fail(err)
	}
	logger.InfoContext(ctx, "sql generated", slog.String("sql", run.SQL()))

	done = a.enter(&run, StageExecuteSQL)
	run.Outcome = a.db.Execute(ctx, run.SQL())
	done()
	switch {
	case run.Outcome.Failed():
		logger.WarnContext(ctx, "continuing with empty results after database failure",
			slog.String("error", run.Outcome.Err.Error()),
		)
	default:
		logger.InfoContext(ctx, "sql executed", slog.Int("rows", len(run.Outcome.Rows)))
	}

	done = a.enter(&run, StageBuildAnswerPrompt)
	answerPrompt, err := a.templates.Render(prompt.SQLAnswer, map[string]string{
		"question":  question,
		"sql_query": run.SQL(),
		"results":   run.Outcome.Format(),
	})
	done()
	if err != nil {
		return fail(err)
	}

	done = a.enter(&run, StageGenerateAnswer)
	run.AnswerGeneration, err = a.generate(ctx, run.Stage, answerPrompt)
	done()
	if err != nil {
		return fail(err)
	}

	run.Stage = StageDone
	run.FinishedAt = a.now()
	if run.Outcome.Failed() {
		observability.ObserveAsk("answered_db_error")
	} else {
		observability.ObserveAsk("answered")
	}
	logger.InfoContext(ctx, "ask finished", slog.Duration("elapsed", run.Duration()))

	if a.recorder != nil {
		if err := a.recorder.Record(ctx, run); err != nil {
			logger.WarnContext(ctx, "record run failed", slog.String("error", err.Error()))
		}
	}
	return run, nil
}

// enter moves run to stage and returns a func that closes the stage timing.
func (a *Agent) enter(run *Run, stage Stage) func() {
	run.Stage = stage
	started := a.now()
	run.Stages = append(run.Stages, StageTiming{Stage: stage, Started: started})
	index := len(run.Stages) - 1
	return func() {
		elapsed := a.now().Sub(started)
		run.Stages[index].Elapsed = elapsed
		observability.ObserveStage(string(stage), elapsed)
	}
}

func (a *Agent) generate(ctx context.Context, stage Stage, text string) (Generation, error) {
	budget, err := tokens.Budget(a.counter, a.model, text, a.maxTokens, a.safetyMargin)
	if err != nil {
		if errors.Is(err, tokens.ErrTokenBudgetExceeded) {
			observability.IncrementBudgetRejection(string(stage))
		}
		return Generation{Prompt: text}, err
	}

	params := make(map[string]any, len(a.params)+1)
	for k, v := range a.params {
		params[k] = v
	}
	params["max_tokens"] = budget

	resp, err := a.llm.Complete(ctx, llm.Request{Prompt: text, Params: params}, a.model)
	if err != nil {
		return Generation{Prompt: text, MaxTokens: budget}, err
	}
	return Generation{
		Prompt:     text,
		Completion: resp.Completion,
		MaxTokens:  budget,
		Usage:      resp.Usage,
	}, nil
}
