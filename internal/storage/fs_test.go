package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempDir(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempDir(t)
	content := []byte(`{"cells": []}`)
	if err := s.Write("deck.ipynb", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("deck.ipynb")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteKeepsFileMode(t *testing.T) {
	s := tempDir(t)
	abs := filepath.Join(s.Root(), "ro.ipynb")
	if err := os.WriteFile(abs, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("ro.ipynb", []byte(`{"cells": []}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestListSortedNotebooksOnly(t *testing.T) {
	s := tempDir(t)
	_ = s.Write("b.ipynb", []byte("{}"))
	_ = s.Write("sub/a.ipynb", []byte("{}"))
	_ = s.Write("a.ipynb", []byte("{}"))
	_ = s.Write("notes.md", []byte("not a notebook"))
	_ = s.Write(".ipynb_checkpoints/a-checkpoint.ipynb", []byte("{}"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a.ipynb", "b.ipynb", "sub/a.ipynb"}
	if len(items) != len(want) {
		t.Fatalf("items = %v, want %v", items, want)
	}
	for i, w := range want {
		if items[i].Path != w {
			t.Errorf("items[%d] = %q, want %q", i, items[i].Path, w)
		}
		if items[i].Checksum == "" {
			t.Errorf("items[%d] has empty checksum", i)
		}
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempDir(t)
	for _, p := range []string{"../../etc/passwd", "../outside.ipynb", "/etc/shadow"} {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := tempDir(t)
	_ = s.Write("atomic.ipynb", []byte("original"))
	if err := s.Write("atomic.ipynb", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.ipynb")
	if string(got) != "updated" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, ".ankisync-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "ankisync-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}
