// Package session writes a YAML summary for every run under the results
// directory and keeps index.yaml listing all runs, newest first.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/treasury-harvester/internal/common"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/storage"
)

// RunInfo is one entry of index.yaml.
type RunInfo struct {
	RunID    string    `yaml:"run_id"`
	Command  string    `yaml:"command"`
	Created  time.Time `yaml:"created"`
	Units    int       `yaml:"units"`
	Success  int       `yaml:"success"`
	Failed   int       `yaml:"failed"`
	Skipped  int       `yaml:"skipped,omitempty"`
	ExitCode int       `yaml:"exit_code"`
}

// RunIndex is the <results-dir>/index.yaml file.
type RunIndex struct {
	Runs []RunInfo `yaml:"runs"`
}

// UnitEntry is one unit result as written to summary.yaml.
type UnitEntry struct {
	Stage     models.Stage  `yaml:"stage"`
	Name      string        `yaml:"name"`
	Status    models.Status `yaml:"status"`
	Rows      int           `yaml:"rows"`
	Pages     int           `yaml:"pages,omitempty"`
	Outputs   []string      `yaml:"outputs,omitempty"`
	Hash      string        `yaml:"hash,omitempty"`
	ErrorType string        `yaml:"error_type,omitempty"`
	Error     string        `yaml:"error,omitempty"`
	Duration  string        `yaml:"duration"`
}

// RunSummary is <results-dir>/runs/<run-id>/summary.yaml.
type RunSummary struct {
	RunID    string                              `yaml:"run_id"`
	Command  string                              `yaml:"command"`
	Created  time.Time                           `yaml:"created"`
	ExitCode int                                 `yaml:"exit_code"`
	Stages   map[models.Stage]*models.StageStats `yaml:"stages"`
	Units    []UnitEntry                         `yaml:"units"`
}

// GenerateRunID creates a timestamp-first run ID.
// Format: YYYY-MM-DDTHH-MM-SS-{hash}, the hash taken over the command and
// its inputs so concurrent runs with different inputs do not collide.
func GenerateRunID(now time.Time, command string, inputs ...string) string {
	h := command
	for _, in := range inputs {
		h += "\n" + in
	}
	h += "\n" + now.Format(time.RFC3339Nano)
	return fmt.Sprintf("%s-%s", now.Format("2006-01-02T15-04-05"), common.ContentHash([]byte(h))[:12])
}

// GetRunDir returns the full path to a run directory.
func GetRunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID)
}

// GetIndexPath returns the path to the run index (at results root).
func GetIndexPath(baseDir string) string {
	return filepath.Join(baseDir, "index.yaml")
}

// NewRunSummary converts a models.Summary for writing.
func NewRunSummary(runID, command string, created time.Time, s *models.Summary, exitCode int) *RunSummary {
	rs := &RunSummary{
		RunID:    runID,
		Command:  command,
		Created:  created,
		ExitCode: exitCode,
		Stages:   s.Stages,
		Units:    make([]UnitEntry, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		rs.Units = append(rs.Units, UnitEntry{
			Stage:     r.Stage,
			Name:      r.Name,
			Status:    r.Status,
			Rows:      r.Rows,
			Pages:     r.Pages,
			Outputs:   r.Outputs,
			Hash:      r.Hash,
			ErrorType: r.ErrorType,
			Error:     r.ErrorMessage(),
			Duration:  r.Duration.Round(time.Millisecond).String(),
		})
	}
	return rs
}

// Info condenses a run summary into an index entry.
func (rs *RunSummary) Info() RunInfo {
	info := RunInfo{RunID: rs.RunID, Command: rs.Command, Created: rs.Created, ExitCode: rs.ExitCode}
	for _, u := range rs.Units {
		info.Units++
		switch u.Status {
		case models.StatusSuccess:
			info.Success++
		case models.StatusSkipped:
			info.Skipped++
		default:
			info.Failed++
		}
	}
	return info
}

// WriteSummary writes summary.yaml into the run directory and updates the
// index. It returns the summary path.
func WriteSummary(baseDir string, rs *RunSummary) (string, error) {
	dir := GetRunDir(baseDir, rs.RunID)
	if err := storage.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	out, err := yaml.Marshal(rs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run summary: %w", err)
	}
	path := filepath.Join(dir, "summary.yaml")
	if err := storage.SaveFile(path, out); err != nil {
		return "", err
	}
	if err := UpdateRunIndex(baseDir, rs.Info()); err != nil {
		return path, err
	}
	return path, nil
}

// ReadSummary loads a run's summary.yaml.
func ReadSummary(baseDir, runID string) (*RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(GetRunDir(baseDir, runID), "summary.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read run summary: %w", err)
	}
	var rs RunSummary
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse run summary: %w", err)
	}
	return &rs, nil
}

// ReadRunIndex loads index.yaml; a missing index is empty.
func ReadRunIndex(baseDir string) (*RunIndex, error) {
	var index RunIndex
	data, err := os.ReadFile(GetIndexPath(baseDir))
	if os.IsNotExist(err) {
		return &index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse run index: %w", err)
	}
	return &index, nil
}

// UpdateRunIndex adds or replaces a run entry in index.yaml.
func UpdateRunIndex(baseDir string, info RunInfo) error {
	index, err := ReadRunIndex(baseDir)
	if err != nil {
		return err
	}

	found := false
	for i, r := range index.Runs {
		if r.RunID == info.RunID {
			index.Runs[i] = info
			found = true
			break
		}
	}
	if !found {
		index.Runs = append(index.Runs, info)
	}

	// timestamp-first IDs sort chronologically
	sort.Slice(index.Runs, func(i, j int) bool {
		return index.Runs[i].RunID > index.Runs[j].RunID
	})

	output, err := yaml.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal run index: %w", err)
	}
	if err := storage.EnsureDir(baseDir); err != nil {
		return err
	}
	return storage.SaveFile(GetIndexPath(baseDir), output)
}
