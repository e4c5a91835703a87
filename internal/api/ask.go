package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/duckmesh/sqlagent/internal/agent"
	"github.com/duckmesh/sqlagent/internal/database"
	"github.com/duckmesh/sqlagent/internal/llm"
	"github.com/duckmesh/sqlagent/internal/prompt"
	"github.com/duckmesh/sqlagent/internal/tokens"
)

const maxAskBodyBytes = 1 << 20

type askRequest struct {
	Question string `json:"question"`
}

type stageResponse struct {
	Stage     agent.Stage `json:"stage"`
	ElapsedMs int64       `json:"elapsed_ms"`
}

type askResponse struct {
	RunID      string          `json:"run_id"`
	Model      string          `json:"model"`
	Question   string          `json:"question"`
	SQL        string          `json:"sql"`
	Answer     string          `json:"answer"`
	RowCount   int             `json:"row_count"`
	Rows       []database.Row  `json:"rows"`
	DBError    string          `json:"db_error,omitempty"`
	Usage      llm.Usage       `json:"usage"`
	Stages     []stageResponse `json:"stages"`
	DurationMs int64           `json:"duration_ms"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "sql agent is not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}

	ctx := r.Context()
	if deps.AskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.AskTimeout)
		defer cancel()
	}

	run, err := deps.Agent.AskDetailed(ctx, request.Question)
	if err != nil {
		status, code, retryable := classifyAskError(err)
		extra := map[string]any{}
		if run.ID != "" {
			extra["run_id"] = run.ID
		}
		var stageErr *agent.StageError
		if errors.As(err, &stageErr) {
			extra["stage"] = stageErr.Stage
		}
		var budgetErr *tokens.BudgetExceededError
		if errors.As(err, &budgetErr) {
			extra["prompt_tokens"] = budgetErr.PromptTokens
			extra["context_window"] = budgetErr.ContextWindow
			extra["safety_margin"] = budgetErr.SafetyMargin
		}
		writeError(r.Context(), w, status, code, err.Error(), retryable, extra)
		return
	}
	writeJSON(w, http.StatusOK, newAskResponse(run))
}

func newAskResponse(run agent.Run) askResponse {
	response := askResponse{
		RunID:      run.ID,
		Model:      run.Model,
		Question:   run.Question,
		SQL:        run.SQL(),
		Answer:     run.Answer(),
		RowCount:   len(run.Outcome.Rows),
		Rows:       run.Outcome.Rows,
		Usage:      run.Usage(),
		Stages:     make([]stageResponse, 0, len(run.Stages)),
		DurationMs: run.Duration().Milliseconds(),
	}
	if response.Rows == nil {
		response.Rows = []database.Row{}
	}
	if run.Outcome.Failed() {
		response.DBError = run.Outcome.Err.Error()
	}
	for _, stage := range run.Stages {
		response.Stages = append(response.Stages, stageResponse{Stage: stage.Stage, ElapsedMs: stage.Elapsed.Milliseconds()})
	}
	return response
}

func classifyAskError(err error) (int, string, bool) {
	var transportErr *llm.TransportError
	switch {
	case errors.Is(err, agent.ErrEmptyQuestion):
		return http.StatusBadRequest, "QUESTION_REQUIRED", false
	case errors.Is(err, tokens.ErrTokenBudgetExceeded):
		return http.StatusUnprocessableEntity, "TOKEN_BUDGET_EXCEEDED", false
	case errors.Is(err, llm.ErrAuthentication):
		return http.StatusBadGateway, "BACKEND_AUTH_FAILED", false
	case errors.Is(err, llm.ErrMalformedResponse):
		return http.StatusBadGateway, "BACKEND_MALFORMED_RESPONSE", true
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, "BACKEND_UNAVAILABLE", true
	case errors.Is(err, prompt.ErrPromptRender):
		return http.StatusInternalServerError, "PROMPT_RENDER_FAILED", false
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "ASK_TIMEOUT", true
	default:
		return http.StatusInternalServerError, "ASK_FAILED", true
	}
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "sql agent is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":  deps.Agent.Model(),
		"schema": deps.Agent.Schema().String(),
	})
}
