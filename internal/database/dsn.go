package database

import (
	"fmt"
	"strings"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

const memorySQLite = ":memory:"

// DisplayName is the dialect name used in prompts.
func (d Dialect) DisplayName() string {
	switch d {
	case DialectSQLite:
		return "SQLite"
	case DialectPostgres:
		return "PostgreSQL"
	case DialectDuckDB:
		return "DuckDB"
	default:
		return string(d)
	}
}

// Target is a parsed connection string.
type Target struct {
	Dialect Dialect
	Driver  string
	Source  string
}

func (t Target) InMemory() bool {
	return t.Source == "" || t.Source == memorySQLite
}

// ParseDSN picks the driver for a connection string. An empty string selects
// an in-memory SQLite database.
func ParseDSN(dsn string) (Target, error) {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	switch {
	case dsn == "":
		return Target{Dialect: DialectSQLite, Driver: "sqlite", Source: memorySQLite}, nil
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Target{Dialect: DialectPostgres, Driver: "pgx", Source: dsn}, nil
	case strings.HasPrefix(lower, "duckdb://"):
		return Target{Dialect: DialectDuckDB, Driver: "duckdb", Source: dsn[len("duckdb://"):]}, nil
	case strings.HasPrefix(lower, "sqlite://"):
		source := dsn[len("sqlite://"):]
		if source == "" {
			source = memorySQLite
		}
		return Target{Dialect: DialectSQLite, Driver: "sqlite", Source: source}, nil
	case strings.HasPrefix(lower, "file:"):
		return Target{Dialect: DialectSQLite, Driver: "sqlite", Source: dsn}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database dsn %q: expected postgres://, duckdb://, sqlite:// or file:", redact(dsn))
	}
}

// redact drops credentials from URL-shaped connection strings.
func redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return dsn
}
