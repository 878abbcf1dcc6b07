// Package testutil provides shared test helpers: notebook directories, a
// journal database and a fake AnkiConnect server.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/ankisync/internal/ledger"
	"github.com/starford/ankisync/internal/storage"
)

// TestLedger creates a temporary journal database that is automatically
// cleaned up.
func TestLedger(t *testing.T) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestNotebooks creates a temporary notebooks directory with a
// storage.Provider.
func TestNotebooks(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Cell is a compact notebook cell description for WriteNotebook.
type Cell struct {
	Type        string
	Source      string
	Attachments map[string]map[string]string
}

// Markdown returns a markdown Cell.
func Markdown(source string) Cell {
	return Cell{Type: "markdown", Source: source}
}

// WriteNotebook writes an nbformat 4 notebook holding cells to dir/name and
// returns its absolute path.
func WriteNotebook(t *testing.T, dir, name string, cells ...Cell) string {
	t.Helper()
	raw := make([]map[string]any, 0, len(cells))
	for _, c := range cells {
		cell := map[string]any{
			"cell_type": c.Type,
			"metadata":  map[string]any{},
			"source":    c.Source,
		}
		if c.Attachments != nil {
			cell["attachments"] = c.Attachments
		}
		if c.Type == "code" {
			cell["execution_count"] = nil
			cell["outputs"] = []any{}
		}
		raw = append(raw, cell)
	}
	doc := map[string]any{
		"cells":          raw,
		"metadata":       map[string]any{},
		"nbformat":       4,
		"nbformat_minor": 5,
	}
	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ReadNotebook returns the cell sources of the notebook at path, each
// joined into a single string.
func ReadNotebook(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Cells []struct {
			Source json.RawMessage `json:"source"`
		} `json:"cells"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(doc.Cells))
	for i, c := range doc.Cells {
		var s string
		if err := json.Unmarshal(c.Source, &s); err == nil {
			out[i] = s
			continue
		}
		var lines []string
		if err := json.Unmarshal(c.Source, &lines); err != nil {
			t.Fatal(err)
		}
		for _, l := range lines {
			out[i] += l
		}
	}
	return out
}
