package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/duckmesh/sqlagent/internal/history"
	"github.com/duckmesh/sqlagent/internal/storage"
)

type historyObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type historyEntry struct {
	RunID      string          `json:"run_id"`
	Question   string          `json:"question"`
	Model      string          `json:"model"`
	SQL        string          `json:"sql"`
	Answer     string          `json:"answer"`
	DBError    string          `json:"db_error,omitempty"`
	RowCount   int             `json:"row_count"`
	Rows       any             `json:"rows"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
	Usage      any             `json:"usage"`
	Stages     []stageResponse `json:"stages"`
}

func handleListHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "run history is not enabled", false, nil)
		return
	}

	day := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("day")); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DAY", "day must be YYYY-MM-DD", false, map[string]any{"day": raw})
			return
		}
		day = parsed
	}

	objects, err := deps.History.List(r.Context(), day)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_LIST_FAILED", "failed to list run history", true, map[string]any{"details": err.Error()})
		return
	}
	response := make([]historyObject, 0, len(objects))
	for _, object := range objects {
		response = append(response, historyObject{Key: object.Key, Size: object.Size, LastModified: object.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":     day.Format(time.DateOnly),
		"objects": response,
	})
}

func handleGetHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "run history is not enabled", false, nil)
		return
	}

	key := r.PathValue("key")
	entries, err := deps.History.Load(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "HISTORY_NOT_FOUND", "run history object not found", false, map[string]any{"key": key})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_LOAD_FAILED", "failed to load run history", true, map[string]any{"details": err.Error()})
		return
	}

	response := make([]historyEntry, 0, len(entries))
	for _, entry := range entries {
		response = append(response, newHistoryEntry(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "runs": response})
}

func newHistoryEntry(entry history.Entry) historyEntry {
	out := historyEntry{
		RunID:      entry.RunID,
		Question:   entry.Question,
		Model:      entry.Model,
		SQL:        entry.SQL,
		Answer:     entry.Answer,
		DBError:    entry.DBError,
		RowCount:   entry.RowCount,
		Rows:       entry.Rows,
		StartedAt:  entry.StartedAt,
		DurationMs: entry.Duration.Milliseconds(),
		Usage:      entry.Usage,
		Stages:     make([]stageResponse, 0, len(entry.Stages)),
	}
	if len(entry.Rows) == 0 {
		out.Rows = []any{}
	}
	for _, stage := range entry.Stages {
		out.Stages = append(out.Stages, stageResponse{Stage: stage.Stage, ElapsedMs: stage.Elapsed.Milliseconds()})
	}
	return out
}
