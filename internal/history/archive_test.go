package history

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckmesh/sqlagent/internal/agent"
	"github.com/duckmesh/sqlagent/internal/database"
	"github.com/duckmesh/sqlagent/internal/llm"
	"github.com/duckmesh/sqlagent/internal/storage"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	if m.putErr != nil {
		return storage.ObjectInfo{}, m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func sampleRun() agent.Run {
	started := time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC)
	in, out := 120, 8
	return agent.Run{
		ID:         "2f1d4c8e-run",
		Question:   "How many users?",
		Model:      "anthropic.claude-v2",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Stage:      agent.StageDone,
		Stages: []agent.StageTiming{
			{Stage: agent.StageGenerateSQL, Elapsed: 700 * time.Millisecond},
			{Stage: agent.StageExecuteSQL, Elapsed: 2 * time.Millisecond},
		},
		SQLGeneration: agent.Generation{Completion: "SELECT COUNT(*) AS count FROM users", Usage: llm.Usage{InputTokens: &in}},
		Outcome: database.Outcome{Rows: []database.Row{
			{{Name: "count", Value: int64(42)}},
		}},
		AnswerGeneration: agent.Generation{Completion: "There are 42 users.", Usage: llm.Usage{OutputTokens: &out}},
	}
}

func TestEncodeDecodeRun(t *testing.T) {
	data, err := Encode([]agent.Run{sampleRun()})
	require.NoError(t, err)

	entries, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "2f1d4c8e-run", entry.RunID)
	assert.Equal(t, "SELECT COUNT(*) AS count FROM users", entry.SQL)
	assert.Equal(t, "There are 42 users.", entry.Answer)
	assert.Equal(t, 1, entry.RowCount)
	assert.JSONEq(t, `[{"count":42}]`, string(entry.Rows))
	assert.Equal(t, 1500*time.Millisecond, entry.Duration)
	assert.True(t, entry.StartedAt.Equal(time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC)))
	require.NotNil(t, entry.Usage.TotalTokens)
	assert.Equal(t, 128, *entry.Usage.TotalTokens)
	require.Len(t, entry.Stages, 2)
	assert.Equal(t, agent.StageGenerateSQL, entry.Stages[0].Stage)
	assert.Equal(t, 700*time.Millisecond, entry.Stages[0].Elapsed)
	assert.Empty(t, entry.DBError)
}

func TestEncodeKeepsDatabaseErrorAndMissingUsage(t *testing.T) {
	run := sampleRun()
	run.Outcome = database.Outcome{Err: &database.ExecutionError{SQL: "SELECT * FROM nonexistent", Err: errors.New("no such table: nonexistent")}}
	run.SQLGeneration.Usage = llm.Usage{}
	run.AnswerGeneration.Usage = llm.Usage{}

	data, err := Encode([]agent.Run{run})
	require.NoError(t, err)
	entries, err := Decode(data)
	require.NoError(t, err)

	assert.Contains(t, entries[0].DBError, "no such table")
	assert.Equal(t, 0, entries[0].RowCount)
	assert.False(t, entries[0].Usage.Reported())
}

func TestEncodeRequiresRuns(t *testing.T) {
	_, err := Encode(nil)
	require.Error(t, err)
}

func TestArchiveRecordListLoad(t *testing.T) {
	store := newMemoryStore()
	archive, err := NewArchive(store, nil)
	require.NoError(t, err)

	run := sampleRun()
	require.NoError(t, archive.Record(context.Background(), run))

	objects, err := archive.List(context.Background(), run.StartedAt)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "date=2026-10-16/hour=09/anthropic.claude-v2/run-2f1d4c8e-run.parquet", objects[0].Key)

	entries, err := archive.Load(context.Background(), objects[0].Key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "How many users?", entries[0].Question)

	_, err = archive.Load(context.Background(), "date=2026-10-16/missing.parquet")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestArchiveRecordPropagatesStoreError(t *testing.T) {
	store := newMemoryStore()
	store.putErr = errors.New("bucket unavailable")
	archive, err := NewArchive(store, nil)
	require.NoError(t, err)

	err = archive.Record(context.Background(), sampleRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
}

func TestNewArchiveRequiresStore(t *testing.T) {
	_, err := NewArchive(nil, nil)
	require.Error(t, err)
}
