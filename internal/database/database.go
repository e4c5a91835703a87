// Package database is the boundary between the agent and the SQL engine it
// answers questions against.
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Schema is a textual dump of the tables visible to the agent.
type Schema string

func (s Schema) String() string { return string(s) }

type Database interface {
	Schema(ctx context.Context) (Schema, error)
	// Execute runs sqlText verbatim. Failures are reported through the
	// returned Outcome, never as a panic or separate error.
	Execute(ctx context.Context, sqlText string) Outcome
}

type Column struct {
	Name  string
	Value any
}

// Row keeps columns in the order the engine returned them.
type Row []Column

func (r Row) Get(name string) (any, bool) {
	for _, col := range r {
		if col.Name == name {
			return col.Value, true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(col.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal column %q: %w", col.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r Row) String() string {
	parts := make([]string, 0, len(r))
	for _, col := range r {
		parts = append(parts, col.Name+": "+formatValue(col.Value))
	}
	return strings.Join(parts, ", ")
}

// Outcome is the result of executing generated SQL: either rows or the
// failure that prevented them.
type Outcome struct {
	Rows []Row
	Err  error
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Format renders the rows one per line as "name: value, name: value". A
// failed or empty outcome renders as "".
func (o Outcome) Format() string {
	if o.Failed() || len(o.Rows) == 0 {
		return ""
	}
	lines := make([]string, 0, len(o.Rows))
	for _, row := range o.Rows {
		lines = append(lines, row.String())
	}
	return strings.Join(lines, "\n")
}

type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute sql: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}
