package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

func sqliteSchemaQuery() sq.SelectBuilder {
	return sq.Select("sql").
		From("sqlite_master").
		Where(sq.Eq{"type": "table"}).
		Where(sq.NotLike{"name": "sqlite_%"}).
		Where(sq.NotEq{"sql": nil}).
		OrderBy("name")
}

func duckdbSchemaQuery() sq.SelectBuilder {
	return sq.Select("sql").
		From("duckdb_tables()").
		Where(sq.Eq{"internal": false}).
		OrderBy("schema_name", "table_name")
}

func postgresSchemaQuery() sq.SelectBuilder {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("c.table_name", "c.column_name", "c.data_type", "c.is_nullable").
		From("information_schema.columns c").
		Join("information_schema.tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name").
		Where(sq.Eq{"c.table_schema": "public", "t.table_type": "BASE TABLE"}).
		OrderBy("c.table_name", "c.ordinal_position")
}

// dumpStatements collects engines that keep each table's DDL as text.
func dumpStatements(ctx context.Context, db *sql.DB, builder sq.SelectBuilder) (string, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return "", fmt.Errorf("build schema query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("query schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var statements []string
	for rows.Next() {
		var ddl sql.NullString
		if err := rows.Scan(&ddl); err != nil {
			return "", fmt.Errorf("scan schema row: %w", err)
		}
		if !ddl.Valid || strings.TrimSpace(ddl.String) == "" {
			continue
		}
		statements = append(statements, terminate(ddl.String))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate schema rows: %w", err)
	}
	return strings.Join(statements, "\n"), nil
}

func dumpPostgres(ctx context.Context, db *sql.DB) (string, error) {
	query, args, err := postgresSchemaQuery().ToSql()
	if err != nil {
		return "", fmt.Errorf("build schema query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("query schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		tables  []string
		columns = map[string][]string{}
	)
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return "", fmt.Errorf("scan schema row: %w", err)
		}
		if _, seen := columns[table]; !seen {
			tables = append(tables, table)
		}
		def := column + " " + dataType
		if strings.EqualFold(nullable, "NO") {
			def += " NOT NULL"
		}
		columns[table] = append(columns[table], def)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate schema rows: %w", err)
	}

	statements := make([]string, 0, len(tables))
	for _, table := range tables {
		statements = append(statements, fmt.Sprintf("CREATE TABLE %s (%s);", table, strings.Join(columns[table], ", ")))
	}
	return strings.Join(statements, "\n"), nil
}

func terminate(ddl string) string {
	ddl = strings.TrimSpace(ddl)
	if strings.HasSuffix(ddl, ";") {
		return ddl
	}
	return ddl + ";"
}
