package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/duckmesh/sqlagent/internal/observability"
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	Logger          *slog.Logger
}

// SQL is a Database backed by database/sql. Statements on one handle run one
// at a time.
type SQL struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func Open(ctx context.Context, dsn string, opts Options) (*SQL, error) {
	target, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(target.Driver, target.Source)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", target.Dialect, err)
	}

	if target.InMemory() {
		// every pooled connection would see its own empty database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxIdleTime > 0 {
			db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", target.Dialect, err)
	}

	return New(db, target.Dialect, opts.Logger), nil
}

// New wraps an already opened handle.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQL {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &SQL{db: db, dialect: dialect, logger: logger}
}

func (s *SQL) Dialect() Dialect {
	return s.dialect
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) Schema(ctx context.Context) (Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.DebugContext(ctx, "dumping database schema", slog.String("dialect", string(s.dialect)))
	var (
		dump string
		err  error
	)
	switch s.dialect {
	case DialectPostgres:
		dump, err = dumpPostgres(ctx, s.db)
	case DialectSQLite:
		dump, err = dumpStatements(ctx, s.db, sqliteSchemaQuery())
	case DialectDuckDB:
		dump, err = dumpStatements(ctx, s.db, duckdbSchemaQuery())
	default:
		err = fmt.Errorf("unsupported dialect %q", s.dialect)
	}
	if err != nil {
		return "", fmt.Errorf("dump %s schema: %w", s.dialect, err)
	}
	return Schema(dump), nil
}

func (s *SQL) Execute(ctx context.Context, sqlText string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	rows, err := s.query(ctx, sqlText)
	if err != nil {
		observability.ObserveSQLExecution("error", time.Since(start))
		s.logger.WarnContext(ctx, "generated sql failed",
			append(observability.ContextAttrs(ctx),
				slog.String("sql", sqlText),
				slog.String("error", err.Error()),
			)...,
		)
		return Outcome{Err: &ExecutionError{SQL: sqlText, Err: err}}
	}
	observability.ObserveSQLExecution("ok", time.Since(start))
	s.logger.DebugContext(ctx, "generated sql executed",
		append(observability.ContextAttrs(ctx),
			slog.Int("rows", len(rows)),
			slog.Duration("elapsed", time.Since(start)),
		)...,
	)
	return Outcome{Rows: rows}
}

func (s *SQL) query(ctx context.Context, sqlText string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}

	out := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			row[i] = Column{Name: name, Value: normalizeValue(values[i])}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func normalizeValue(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}
