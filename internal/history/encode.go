package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/sqlagent/internal/agent"
	"github.com/duckmesh/sqlagent/internal/llm"
)

type runRecord struct {
	RunID           string `parquet:"run_id"`
	Question        string `parquet:"question"`
	Model           string `parquet:"model"`
	SQL             string `parquet:"sql"`
	Answer          string `parquet:"answer"`
	DBError         string `parquet:"db_error"`
	RowCount        int64  `parquet:"row_count"`
	RowsJSON        string `parquet:"rows_json"`
	StagesJSON      string `parquet:"stages_json"`
	StartedAtUnixMs int64  `parquet:"started_at_unix_ms"`
	DurationMs      int64  `parquet:"duration_ms"`
	InputTokens     *int64 `parquet:"input_tokens"`
	OutputTokens    *int64 `parquet:"output_tokens"`
}

type stageRecord struct {
	Stage      agent.Stage `json:"stage"`
	ElapsedMic int64       `json:"elapsed_us"`
}

// Entry is an archived run as read back from storage.
type Entry struct {
	RunID     string              `json:"run_id"`
	Question  string              `json:"question"`
	Model     string              `json:"model"`
	SQL       string              `json:"sql"`
	Answer    string              `json:"answer"`
	DBError   string              `json:"db_error,omitempty"`
	RowCount  int                 `json:"row_count"`
	Rows      json.RawMessage     `json:"rows,omitempty"`
	Stages    []agent.StageTiming `json:"stages"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration_ns"`
	Usage     llm.Usage           `json:"usage"`
}

func Encode(runs []agent.Run) ([]byte, error) {
	if len(runs) == 0 {
		return nil, fmt.Errorf("runs are required")
	}
	records := make([]runRecord, 0, len(runs))
	for _, run := range runs {
		record, err := toRecord(run)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.ID, err)
		}
		records = append(records, record)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[runRecord](buf)
	if _, err := writer.Write(records); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func Decode(data []byte) ([]Entry, error) {
	records, err := parquet.Read[runRecord](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	entries := make([]Entry, 0, len(records))
	for _, record := range records {
		entry, err := fromRecord(record)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", record.RunID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func toRecord(run agent.Run) (runRecord, error) {
	rows, err := json.Marshal(run.Outcome.Rows)
	if err != nil {
		return runRecord{}, fmt.Errorf("marshal rows: %w", err)
	}
	stages := make([]stageRecord, 0, len(run.Stages))
	for _, timing := range run.Stages {
		stages = append(stages, stageRecord{Stage: timing.Stage, ElapsedMic: timing.Elapsed.Microseconds()})
	}
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return runRecord{}, fmt.Errorf("marshal stages: %w", err)
	}

	record := runRecord{
		RunID:           run.ID,
		Question:        run.Question,
		Model:           run.Model,
		SQL:             run.SQL(),
		Answer:          run.Answer(),
		RowCount:        int64(len(run.Outcome.Rows)),
		RowsJSON:        string(rows),
		StagesJSON:      string(stagesJSON),
		StartedAtUnixMs: run.StartedAt.UnixMilli(),
		DurationMs:      run.Duration().Milliseconds(),
	}
	if run.Outcome.Failed() {
		record.DBError = run.Outcome.Err.Error()
	}
	usage := run.Usage()
	record.InputTokens = int64Ptr(usage.InputTokens)
	record.OutputTokens = int64Ptr(usage.OutputTokens)
	return record, nil
}

func fromRecord(record runRecord) (Entry, error) {
	var stages []stageRecord
	if record.StagesJSON != "" {
		if err := json.Unmarshal([]byte(record.StagesJSON), &stages); err != nil {
			return Entry{}, fmt.Errorf("decode stages: %w", err)
		}
	}
	entry := Entry{
		RunID:     record.RunID,
		Question:  record.Question,
		Model:     record.Model,
		SQL:       record.SQL,
		Answer:    record.Answer,
		DBError:   record.DBError,
		RowCount:  int(record.RowCount),
		Rows:      json.RawMessage(record.RowsJSON),
		StartedAt: time.UnixMilli(record.StartedAtUnixMs).UTC(),
		Duration:  time.Duration(record.DurationMs) * time.Millisecond,
		Usage: llm.Usage{
			InputTokens:  intPtr(record.InputTokens),
			OutputTokens: intPtr(record.OutputTokens),
		},
	}
	if entry.Usage.InputTokens != nil && entry.Usage.OutputTokens != nil {
		total := *entry.Usage.InputTokens + *entry.Usage.OutputTokens
		entry.Usage.TotalTokens = &total
	}
	for _, stage := range stages {
		entry.Stages = append(entry.Stages, agent.StageTiming{
			Stage:   stage.Stage,
			Elapsed: time.Duration(stage.ElapsedMic) * time.Microsecond,
		})
	}
	return entry, nil
}

func int64Ptr(v *int) *int64 {
	if v == nil {
		return nil
	}
	out := int64(*v)
	return &out
}

func intPtr(v *int64) *int {
	if v == nil {
		return nil
	}
	out := int(*v)
	return &out
}
