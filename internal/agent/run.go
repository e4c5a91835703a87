package agent

import (
	"time"

	"github.com/duckmesh/sqlagent/internal/database"
	"github.com/duckmesh/sqlagent/internal/llm"
)

type Stage string

const (
	StageInit              Stage = "INIT"
	StageBuildSQLPrompt    Stage = "BUILD_SQL_PROMPT"
	StageGenerateSQL       Stage = "GENERATE_SQL"
	StageExecuteSQL        Stage = "EXECUTE_SQL"
	StageBuildAnswerPrompt Stage = "BUILD_ANSWER_PROMPT"
	StageGenerateAnswer    Stage = "GENERATE_ANSWER"
	StageDone              Stage = "DONE"
)

type StageTiming struct {
	Stage   Stage         `json:"stage"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Generation is one completion call made during a run.
type Generation struct {
	Prompt     string
	Completion string
	MaxTokens  int
	Usage      llm.Usage
}

// Run is the record of a single ask: every stage entered, both generations
// and the database outcome.
type Run struct {
	ID         string
	Question   string
	Model      string
	StartedAt  time.Time
	FinishedAt time.Time
	Stage      Stage
	Stages     []StageTiming

	SQLGeneration    Generation
	Outcome          database.Outcome
	AnswerGeneration Generation
}

func (r Run) SQL() string {
	return r.SQLGeneration.Completion
}

func (r Run) Answer() string {
	return r.AnswerGeneration.Completion
}

func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Usage sums the usage reported by both generations. Fields neither backend
// reported stay nil.
func (r Run) Usage() llm.Usage {
	return llm.Usage{
		InputTokens:  addReported(r.SQLGeneration.Usage.InputTokens, r.AnswerGeneration.Usage.InputTokens),
		OutputTokens: addReported(r.SQLGeneration.Usage.OutputTokens, r.AnswerGeneration.Usage.OutputTokens),
		TotalTokens:  addReported(r.SQLGeneration.Usage.TotalTokens, r.AnswerGeneration.Usage.TotalTokens),
	}
}

func addReported(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	sum := 0
	if a != nil {
		sum += *a
	}
	if b != nil {
		sum += *b
	}
	return &sum
}
