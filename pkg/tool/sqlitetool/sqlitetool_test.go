package sqlitetool

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"lectic/pkg/header"
)

func seedDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`create table notes (id integer primary key, body text)`)
	require.NoError(t, err)
	_, err = db.Exec(`insert into notes (id, body) values (1, 'first'), (2, 'second')`)
	require.NoError(t, err)
}

func specFromYAML(t *testing.T, s string) header.ToolSpec {
	t.Helper()
	var spec header.ToolSpec
	require.NoError(t, yaml.Unmarshal([]byte(s), &spec))
	return spec
}

func TestNew_QueryReturnsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "notes.db")
	seedDB(t, dbPath)

	spec := specFromYAML(t, `
sqlite:
  database: `+dbPath+`
  query: "select id, body from notes where id = ?"
properties:
  params:
    type: array
`)
	tools, err := New(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	defer tools[0].(*Tool).Close()

	args, err := json.Marshal(map[string]any{"params": []any{1}})
	require.NoError(t, err)
	results, err := tools[0].Call(context.Background(), args)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Text, "id|body")
	assert.Contains(t, results[0].Text, "1|first")
}

func TestNew_MissingDatabaseErrors(t *testing.T) {
	spec := specFromYAML(t, "sqlite:\n  query: \"select 1\"\n")
	_, err := New(context.Background(), spec)
	assert.Error(t, err)
}

func TestNew_MissingQueryErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "notes.db")
	seedDB(t, dbPath)
	spec := specFromYAML(t, "sqlite:\n  database: "+dbPath+"\n")
	_, err := New(context.Background(), spec)
	assert.Error(t, err)
}
