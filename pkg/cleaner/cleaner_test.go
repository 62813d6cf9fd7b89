package cleaner

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/google/go-cmp/cmp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestClean(t *testing.T) {
	tests := []struct {
		name        string
		in          *models.Table
		wantHeaders []string
		wantRows    [][]string
		wantDropped []string
	}{
		{
			name: "drops empty column and fills sentinel",
			in: &models.Table{
				Headers: []string{"Date", "1 Mo", "2 Mo"},
				Rows:    [][]string{{"01/02/2024", "5.55", ""}, {"01/03/2024", "", "NaN"}},
			},
			wantHeaders: []string{"Date", "1 Mo"},
			wantRows:    [][]string{{"01/02/2024", "5.55"}, {"01/03/2024", "N/A"}},
			wantDropped: []string{"2 Mo"},
		},
		{
			name: "whitespace and NA tokens count as missing",
			in: &models.Table{
				Headers: []string{"A", "B"},
				Rows:    [][]string{{"  ", "x"}, {"null", "None"}, {"#N/A", "y"}},
			},
			wantHeaders: []string{"B"},
			wantRows:    [][]string{{"x"}, {"N/A"}, {"y"}},
			wantDropped: []string{"A"},
		},
		{
			name:        "zero rows keeps headers",
			in:          &models.Table{Headers: []string{"A", "B"}},
			wantHeaders: []string{"A", "B"},
		},
		{
			name: "nothing missing is unchanged",
			in: &models.Table{
				Headers: []string{"A"},
				Rows:    [][]string{{"1"}, {"2"}},
			},
			wantHeaders: []string{"A"},
			wantRows:    [][]string{{"1"}, {"2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dropped := Clean(tt.in, "N/A")
			if diff := cmp.Diff(tt.wantDropped, dropped); diff != "" {
				t.Errorf("dropped mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantHeaders, tt.in.Headers); diff != "" {
				t.Errorf("headers mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantRows, tt.in.Rows); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCleanFileIdempotent(t *testing.T) {
	in := t.TempDir()
	out1 := t.TempDir()
	out2 := t.TempDir()
	src := writeFile(t, in, "rates.csv", "Date,A,B,C\n01/02/2024,1.0,,\n01/03/2024,,2.0,\n01/04/2024,3.0,N/A,\n")

	c := &Cleaner{OutDir: out1, Logger: discardLogger()}
	first := c.CleanFile(src)
	if first.Err != nil {
		t.Fatalf("CleanFile() error = %v", first.Err)
	}
	want := "Date,A,B\n01/02/2024,1.0,N/A\n01/03/2024,N/A,2.0\n01/04/2024,3.0,N/A\n"
	got, _ := os.ReadFile(first.Outputs[0])
	if string(got) != want {
		t.Fatalf("cleaned content = %q, want %q", got, want)
	}

	c.OutDir = out2
	second := c.CleanFile(first.Outputs[0])
	if second.Err != nil {
		t.Fatalf("CleanFile() second pass error = %v", second.Err)
	}
	again, _ := os.ReadFile(second.Outputs[0])
	if string(again) != string(got) {
		t.Errorf("second clean differs:\nfirst  %q\nsecond %q", got, again)
	}
	if first.Hash != second.Hash {
		t.Errorf("hash changed across passes: %s vs %s", first.Hash, second.Hash)
	}
}

func TestCleanFileCustomSentinelAndShortRows(t *testing.T) {
	in := t.TempDir()
	src := writeFile(t, in, "short.csv", "\ufeffDate,A\n01/02/2024\n01/03/2024,4\n")

	c := &Cleaner{OutDir: t.TempDir(), Sentinel: "-", Logger: discardLogger()}
	r := c.CleanFile(src)
	if r.Err != nil {
		t.Fatalf("CleanFile() error = %v", r.Err)
	}
	got, _ := os.ReadFile(r.Outputs[0])
	if want := "Date,A\n01/02/2024,-\n01/03/2024,4\n"; string(got) != want {
		t.Errorf("cleaned content = %q, want %q", got, want)
	}
}

func TestCleanFileErrors(t *testing.T) {
	in := t.TempDir()
	c := &Cleaner{OutDir: t.TempDir(), Logger: discardLogger()}

	unreadable := filepath.Join(in, "dir.csv")
	if err := os.Mkdir(unreadable, 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		wantErr  error
		wantType string
	}{
		{"empty file", writeFile(t, in, "empty.csv", ""), ErrEmptyFile, "parse_error"},
		{"wide row", writeFile(t, in, "wide.csv", "A,B\n1,2,3\n"), ErrMalformedRow, "parse_error"},
		{"bad quote", writeFile(t, in, "quote.csv", "A,B\n1,\"open\n"), nil, "parse_error"},
		{"missing file", filepath.Join(in, "nope.csv"), os.ErrNotExist, "io_error"},
		{"read failure", unreadable, nil, "io_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := c.CleanFile(tt.path)
			if r.Err == nil || r.Status != models.StatusFailed {
				t.Fatalf("CleanFile() status = %s, err = %v; want failed", r.Status, r.Err)
			}
			if tt.wantErr != nil && !errors.Is(r.Err, tt.wantErr) {
				t.Errorf("CleanFile() error = %v, want %v", r.Err, tt.wantErr)
			}
			if r.ErrorType != tt.wantType {
				t.Errorf("ErrorType = %q, want %q", r.ErrorType, tt.wantType)
			}
		})
	}
}

func TestCleanDirIsolatesFailures(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "processed_data")
	writeFile(t, in, "a.csv", "Date,X\n1,2\n")
	writeFile(t, in, "b.csv", "Date,X\n1,\"unterminated\n")
	writeFile(t, in, "c.csv", "Date,X\n3,4\n5,\n")
	writeFile(t, in, "notes.txt", "ignored")

	c := &Cleaner{OutDir: out, Logger: discardLogger()}
	results, err := c.CleanDir(in)
	if err != nil {
		t.Fatalf("CleanDir() error = %v", err)
	}

	var names []string
	var statuses []models.Status
	for _, r := range results {
		names = append(names, r.Name)
		statuses = append(statuses, r.Status)
	}
	if diff := cmp.Diff([]string{"a.csv", "b.csv", "c.csv"}, names); diff != "" {
		t.Errorf("processed files mismatch (-want +got):\n%s", diff)
	}
	wantStatus := []models.Status{models.StatusSuccess, models.StatusFailed, models.StatusSuccess}
	if diff := cmp.Diff(wantStatus, statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}

	for _, n := range []string{"cleaned_a.csv", "cleaned_c.csv"} {
		if _, err := os.Stat(filepath.Join(out, n)); err != nil {
			t.Errorf("expected %s: %v", n, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "cleaned_b.csv")); !os.IsNotExist(err) {
		t.Errorf("cleaned_b.csv should not exist, stat err = %v", err)
	}
	if results[2].Rows != 2 {
		t.Errorf("c.csv rows = %d, want 2", results[2].Rows)
	}
}

func TestCleanDirMissingInput(t *testing.T) {
	c := &Cleaner{OutDir: t.TempDir(), Logger: discardLogger()}
	if _, err := c.CleanDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("CleanDir() on missing dir: expected error")
	}
}
