// Package history archives completed agent runs as parquet objects so they can
// be inspected or loaded into an analytics engine later.
package history

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/duckmesh/sqlagent/internal/agent"
	"github.com/duckmesh/sqlagent/internal/observability"
	"github.com/duckmesh/sqlagent/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

// Archive implements agent.Recorder.
type Archive struct {
	store  storage.ObjectStore
	logger *slog.Logger
}

var _ agent.Recorder = (*Archive)(nil)

func NewArchive(store storage.ObjectStore, logger *slog.Logger) (*Archive, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Archive{store: store, logger: logger}, nil
}

func (a *Archive) Record(ctx context.Context, run agent.Run) error {
	key, err := storage.BuildRunPath(run.Model, run.StartedAt, run.ID)
	if err != nil {
		observability.ObserveHistoryRecord("error")
		return fmt.Errorf("build run path: %w", err)
	}
	data, err := Encode([]agent.Run{run})
	if err != nil {
		observability.ObserveHistoryRecord("error")
		return fmt.Errorf("encode run: %w", err)
	}
	info, err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: parquetContentType})
	if err != nil {
		observability.ObserveHistoryRecord("error")
		return err
	}
	observability.ObserveHistoryRecord("ok")
	a.logger.DebugContext(ctx, "run archived",
		slog.String("run_id", run.ID),
		slog.String("key", info.Key),
		slog.Int64("bytes", info.Size),
	)
	return nil
}

// List returns the archive objects for runs started on day (UTC).
func (a *Archive) List(ctx context.Context, day time.Time) ([]storage.ObjectInfo, error) {
	return a.store.List(ctx, storage.DayPrefix(day)+"/")
}

func (a *Archive) Load(ctx context.Context, key string) ([]Entry, error) {
	reader, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read archive %q: %w", key, err)
	}
	return Decode(data)
}
