package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/google/go-cmp/cmp"
)

func TestWriteTableCSVOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.csv")

	first := &models.Table{Headers: []string{"A", "B"}, Rows: [][]string{{"1", "x,y"}, {"2", ""}}}
	if err := WriteTableCSV(path, first); err != nil {
		t.Fatalf("WriteTableCSV() error = %v", err)
	}
	second := &models.Table{Headers: []string{"A"}, Rows: [][]string{{"3"}}}
	if err := WriteTableCSV(path, second); err != nil {
		t.Fatalf("WriteTableCSV() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "A\n3\n" {
		t.Errorf("file content = %q, want %q", got, "A\n3\n")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.csv", "a.CSV", "c.jsonl", ".hidden.csv", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "d.csv"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := ListFiles(dir, ".csv", ".jsonl")
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	want := []string{"a.CSV", "b.csv", "c.jsonl"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListFiles() mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(final, []byte("old\n"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := CreateTemp(final)
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	if _, err := f.WriteString("new\n"); err != nil {
		t.Fatal(err)
	}
	if err := Commit(f, final); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	got, _ := os.ReadFile(final)
	if string(got) != "new\n" {
		t.Errorf("final content = %q, want %q", got, "new\n")
	}

	// a file that can no longer be synced is discarded, the target untouched
	g, err := CreateTemp(final)
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	g.WriteString("lost\n")
	g.Close()
	if err := Commit(g, final); err == nil {
		t.Fatal("Commit() of a closed file should fail")
	}
	got, _ = os.ReadFile(final)
	if string(got) != "new\n" {
		t.Errorf("final content after failed commit = %q, want %q", got, "new\n")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only out.csv (temp files removed)", len(entries))
	}
}
