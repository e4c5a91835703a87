package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckmesh/sqlagent/internal/database"
	"github.com/duckmesh/sqlagent/internal/llm"
	"github.com/duckmesh/sqlagent/internal/prompt"
	"github.com/duckmesh/sqlagent/internal/tokens"
)

type scriptedLLM struct {
	mu          sync.Mutex
	completions []string
	err         error
	requests    []llm.Request
	models      []string
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request, modelID string) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	s.models = append(s.models, modelID)
	if s.err != nil {
		return llm.Response{}, s.err
	}
	if len(s.completions) == 0 {
		return llm.Response{}, errors.New("no scripted completion left")
	}
	next := s.completions[0]
	s.completions = s.completions[1:]
	return llm.Response{Completion: next, Model: modelID}, nil
}

type failingSchemaDB struct{}

func (failingSchemaDB) Schema(context.Context) (database.Schema, error) {
	return "", errors.New("connection refused")
}

func (failingSchemaDB) Execute(context.Context, string) database.Outcome {
	return database.Outcome{}
}

type recorderFunc func(ctx context.Context, run Run) error

func (f recorderFunc) Record(ctx context.Context, run Run) error { return f(ctx, run) }

// promptCounter charges a fixed cost per prompt kind.
type promptCounter struct {
	window      int
	sqlCost     int
	answerCost  int
	countCalled int
}

func (c *promptCounter) Count(text, _ string) (int, error) {
	c.countCalled++
	if strings.Contains(text, "SQLResult:") {
		return c.answerCost, nil
	}
	return c.sqlCost, nil
}

func (c *promptCounter) ContextWindow(string) (int, error) {
	return c.window, nil
}

func usersDB(t *testing.T, n int) *database.SQL {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "users.db"), database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Execute(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)").Err)
	for i := 0; i < n; i++ {
		require.NoError(t, db.Execute(ctx, fmt.Sprintf("INSERT INTO users (name) VALUES ('user-%d')", i)).Err)
	}
	return db
}

func templates(t *testing.T) *prompt.Library {
	t.Helper()
	lib, err := prompt.Default()
	require.NoError(t, err)
	return lib
}

func TestAskCountsUsers(t *testing.T) {
	backend := &scriptedLLM{completions: []string{"SELECT COUNT(*) AS count FROM users", "There are 42 users."}}
	a, err := New(context.Background(), Options{
		LLM:       backend,
		DB:        usersDB(t, 42),
		Templates: templates(t),
		Model:     "anthropic.claude-v2",
		MaxTokens: 300,
	})
	require.NoError(t, err)
	assert.Contains(t, a.Schema().String(), "CREATE TABLE users")

	run, err := a.AskDetailed(context.Background(), "How many users?")
	require.NoError(t, err)

	assert.Equal(t, "There are 42 users.", run.Answer())
	assert.Equal(t, "SELECT COUNT(*) AS count FROM users", run.SQL())
	assert.Equal(t, "count: 42", run.Outcome.Format())
	assert.Equal(t, StageDone, run.Stage)
	assert.NotEmpty(t, run.ID)

	require.Len(t, backend.requests, 2)
	first := backend.requests[0].Prompt
	assert.Contains(t, first, "standard SQL")
	assert.Contains(t, first, "CREATE TABLE users")
	assert.Contains(t, first, "How many users?")
	second := backend.requests[1].Prompt
	assert.Contains(t, second, "How many users?")
	assert.Contains(t, second, "SELECT COUNT(*) AS count FROM users")
	assert.Contains(t, second, "42")
	assert.Equal(t, []string{"anthropic.claude-v2", "anthropic.claude-v2"}, backend.models)
	assert.Equal(t, 300, backend.requests[0].Params["max_tokens"])
}

func TestStagesFollowFixedOrder(t *testing.T) {
	backend := &scriptedLLM{completions: []string{"SELECT 1 AS one", "one"}}
	a, err := New(context.Background(), Options{LLM: backend, DB: usersDB(t, 0), Templates: templates(t)})
	require.NoError(t, err)

	run, err := a.AskDetailed(context.Background(), "What is one?")
	require.NoError(t, err)

	var stages []Stage
	for _, timing := range run.Stages {
		stages = append(stages, timing.Stage)
	}
	assert.Equal(t, []Stage{
		StageBuildSQLPrompt,
		StageGenerateSQL,
		StageExecuteSQL,
		StageBuildAnswerPrompt,
		StageGenerateAnswer,
	}, stages)
	assert.Equal(t, llm.DefaultModel, run.Model)
}

func TestDatabaseFailureStillProducesAnswer(t *testing.T) {
	backend := &scriptedLLM{completions: []string{"SELECT * FROM nonexistent", "I could not find that table."}}
	a, err := New(context.Background(), Options{LLM: backend, DB: usersDB(t, 3), Templates: templates(t)})
	require.NoError(t, err)

	run, err := a.AskDetailed(context.Background(), "What is in the nonexistent table?")
	require.NoError(t, err)

	assert.True(t, run.Outcome.Failed())
	assert.Equal(t, "I could not find that table.", run.Answer())
	require.Len(t, backend.requests, 2)
	assert.Contains(t, backend.requests[1].Prompt, "SQLResult: \n")
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	backend := &scriptedLLM{}
	a, err := New(context.Background(), Options{LLM: backend, DB: usersDB(t, 0), Templates: templates(t)})
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Empty(t, backend.requests)
}

func TestNewFailsWhenSchemaUnavailable(t *testing.T) {
	_, err := New(context.Background(), Options{LLM: &scriptedLLM{}, DB: failingSchemaDB{}, Templates: templates(t)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewValidatesOptions(t *testing.T) {
	db := usersDB(t, 0)
	cases := []Options{
		{DB: db, Templates: templates(t)},
		{LLM: &scriptedLLM{}, Templates: templates(t)},
		{LLM: &scriptedLLM{}, DB: db},
		{LLM: &scriptedLLM{}, DB: db, Templates: templates(t), Model: "openai.gpt-4"},
		{LLM: &scriptedLLM{}, DB: db, Templates: templates(t), SafetyMargin: -1},
	}
	for i, opts := range cases {
		_, err := New(context.Background(), opts)
		assert.ErrorIs(t, err, ErrConfiguration, "case %d", i)
	}
}

func TestBudgetEnforcedOnSQLGeneration(t *testing.T) {
	backend := &scriptedLLM{completions: []string{"SELECT 1", "one"}}
	counter := &promptCounter{window: 100, sqlCost: 100, answerCost: 10}
	a, err := New(context.Background(), Options{LLM: backend, DB: usersDB(t, 0), Templates: templates(t), Counter: counter})
	require.NoError(t, err)

	run, err := a.AskDetailed(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, tokens.ErrTokenBudgetExceeded)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageGenerateSQL, stageErr.Stage)
	assert.Equal(t, StageGenerateSQL, run.Stage)
	assert.Empty(t, backend.requests)
}

func TestBudgetEnforcedOnAnswerGeneration(t *testing.T) {
	backend := &scriptedLLM{completions: []string{"SELECT 1", "one"}}
	counter := &promptCounter{window: 100, sqlCost: 10, answerCost: 95}
	a, err := New(context.Background(), Options{
		LLM: backend, DB: usersDB(t, 0), Templates: templates(t), Counter: counter, SafetyMargin: 5,
	})
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, tokens.ErrTokenBudgetExceeded)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageGenerateAnswer, stageErr.Stage)
	assert.Len(t, backend.requests, 1)
	assert.Equal(t, 85, backend.requests[0].Params["max_tokens"])
}

func TestBudgetReplacesCallerMaxTokens(t *testing.T) {
	backend := &scriptedLLM{completions: []string{"SELECT 1", "one"}}
	counter := &promptCounter{window: 1000, sqlCost: 10, answerCost: 10}
	a, err := New(context.Background(), Options{
		LLM: backend, DB: usersDB(t, 0), Templates: templates(t), Counter: counter,
		MaxTokens: 50, Params: map[string]any{"max_tokens": 9999, "temperature": 0.2},
	})
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "q")
	require.NoError(t, err)
	for _, req := range backend.requests {
		assert.Equal(t, 50, req.Params["max_tokens"])
		assert.Equal(t, 0.2, req.Params["temperature"])
	}
}

func TestBackendErrorPropagates(t *testing.T) {
	backend := &scriptedLLM{err: llm.ErrAuthentication}
	a, err := New(context.Background(), Options{LLM: backend, DB: usersDB(t, 0), Templates: templates(t)})
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, llm.ErrAuthentication)
}

func TestMissingTemplateVariableIsFatal(t *testing.T) {
	lib, err := prompt.Parse(strings.NewReader(`
templates:
  - id: sql_query
    variables: [question, tenant]
    template: "{question} for {tenant}"
  - id: sql_answer
    variables: [question, sql_query, results]
    template: "{question} {sql_query} {results}"
`))
	require.NoError(t, err)
	backend := &scriptedLLM{}
	a, err := New(context.Background(), Options{LLM: backend, DB: usersDB(t, 0), Templates: lib})
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, prompt.ErrPromptRender)
	assert.Empty(t, backend.requests)
}

func TestRecorderReceivesRunAndFailuresAreIgnored(t *testing.T) {
	var recorded []Run
	recorder := recorderFunc(func(_ context.Context, run Run) error {
		recorded = append(recorded, run)
		return errors.New("bucket unavailable")
	})
	backend := &scriptedLLM{completions: []string{"SELECT 1 AS one", "One."}}
	a, err := New(context.Background(), Options{LLM: backend, DB: usersDB(t, 0), Templates: templates(t), Recorder: recorder})
	require.NoError(t, err)

	answer, err := a.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "One.", answer)
	require.Len(t, recorded, 1)
	assert.Equal(t, "One.", recorded[0].Answer())
}

func TestRunUsageSumsReportedFields(t *testing.T) {
	three, four := 3, 4
	run := Run{
		SQLGeneration:    Generation{Usage: llm.Usage{InputTokens: &three}},
		AnswerGeneration: Generation{Usage: llm.Usage{InputTokens: &four, OutputTokens: &four}},
	}
	usage := run.Usage()
	require.NotNil(t, usage.InputTokens)
	assert.Equal(t, 7, *usage.InputTokens)
	assert.Equal(t, 4, *usage.OutputTokens)
	assert.Nil(t, usage.TotalTokens)
	assert.False(t, Run{}.Usage().Reported())
}
