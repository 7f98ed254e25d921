// Package sqlitetool implements the "sqlite" tool variant: opening a
// SQLite database and executing a parameterized query per call (§4.3).
package sqlitetool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"lectic/pkg/header"
	"lectic/pkg/tool"
)

type sqliteConfig struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Usage       string         `yaml:"usage"`
	Sqlite      sqliteSpec     `yaml:"sqlite"`
	Properties  map[string]any `yaml:"properties"`
	Required    []string       `yaml:"required"`
}

type sqliteSpec struct {
	Database string `yaml:"database"`
	Query    string `yaml:"query"`
}

type queryArgs struct {
	Params []any `json:"params"`
}

// Tool holds a single connection to one SQLite file, serializing access
// the way the pack's own DBPool does for SQLite (single writer).
type Tool struct {
	tool.Base
	db    *sql.DB
	query string
}

// New opens the database and builds the "sqlite" variant from its
// ToolSpec. The connection is opened once at construction and reused for
// every call, matching SQLite's single-writer constraint.
func New(ctx context.Context, spec header.ToolSpec) ([]tool.Tool, error) {
	var cfg sqliteConfig
	if err := spec.Node.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("tool: sqlite: %w", err)
	}
	if cfg.Sqlite.Database == "" {
		return nil, fmt.Errorf("tool: sqlite: database is required")
	}
	if cfg.Sqlite.Query == "" {
		return nil, fmt.Errorf("tool: sqlite: query is required")
	}

	db, err := sql.Open("sqlite3", cfg.Sqlite.Database)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite: open %s: %w", cfg.Sqlite.Database, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("tool: sqlite: ping %s: %w", cfg.Sqlite.Database, err)
	}

	name := cfg.Name
	if name == "" {
		name = "sqlite"
	}
	description := cfg.Description
	if description == "" {
		description = "Run a parameterized SQLite query."
	}
	base, err := tool.NewBase(name, description, cfg.Usage, cfg.Properties, cfg.Required)
	if err != nil {
		db.Close()
		return nil, err
	}
	return []tool.Tool{&Tool{Base: base, db: db, query: cfg.Sqlite.Query}}, nil
}

// Close releases the underlying database connection.
func (t *Tool) Close() error { return t.db.Close() }

// Call executes the configured query with the call's "params" bound
// positionally, rendering the result set as a newline-delimited,
// pipe-separated text table.
func (t *Tool) Call(ctx context.Context, args []byte) ([]tool.Result, error) {
	var a queryArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("tool: sqlite: %w", err)
		}
	}

	rows, err := t.db.QueryContext(ctx, t.query, a.Params...)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite: columns: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(cols, "|"))
	sb.WriteByte('\n')

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("tool: sqlite: scan: %w", err)
		}
		cells := make([]string, len(cols))
		for i, v := range vals {
			cells[i] = fmt.Sprint(v)
		}
		sb.WriteString(strings.Join(cells, "|"))
		sb.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tool: sqlite: rows: %w", err)
	}

	return []tool.Result{{Text: sb.String(), Mimetype: "text/plain"}}, nil
}
