package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dtnitsch/treasury-harvester/models"
)

// EnsureDir creates dir and its parents when missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// CreateTemp opens a temporary file next to finalPath. Call Commit to move
// it into place or Abort to discard it.
func CreateTemp(finalPath string) (*os.File, error) {
	f, err := os.CreateTemp(filepath.Dir(finalPath), "."+filepath.Base(finalPath)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("error creating temp file: %w", err)
	}
	return f, nil
}

// Commit syncs and closes f, then renames it to finalPath, replacing any
// existing file.
func Commit(f *os.File, finalPath string) error {
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("error syncing %s: %w", finalPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("error closing %s: %w", finalPath, err)
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("error setting mode on %s: %w", finalPath, err)
	}
	if err := os.Rename(f.Name(), finalPath); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("error saving file: %w", err)
	}
	return nil
}

// Abort closes and removes a temp file created by CreateTemp.
func Abort(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

// SaveFile writes content to filePath atomically.
func SaveFile(filePath string, content []byte) error {
	f, err := CreateTemp(filePath)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		Abort(f)
		return fmt.Errorf("error saving file: %w", err)
	}
	return Commit(f, filePath)
}

// WriteTableCSV writes t as CSV with a header row, atomically, overwriting.
func WriteTableCSV(filePath string, t *models.Table) error {
	f, err := CreateTemp(filePath)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		Abort(f)
		return fmt.Errorf("error writing header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		Abort(f)
		return fmt.Errorf("error writing rows: %w", err)
	}
	return Commit(f, filePath)
}

// ListFiles returns the regular files in dir whose names end with one of
// exts, sorted by name. Hidden files are ignored.
func ListFiles(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error listing %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		for _, ext := range exts {
			if strings.EqualFold(filepath.Ext(name), ext) {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
