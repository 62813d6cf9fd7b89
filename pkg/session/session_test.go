package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dtnitsch/treasury-harvester/models"
)

func testSummary() *models.Summary {
	s := models.NewSummary()
	s.Add(
		models.UnitResult{Stage: models.StageHarvest, Name: "Bills", Status: models.StatusSuccess, Rows: 10, Pages: 2, Outputs: []string{"unprocessed_data/treasury_rates_bills.csv"}, Duration: 1500 * time.Millisecond},
		models.UnitResult{Stage: models.StageHarvest, Name: "Empty", Status: models.StatusSkipped},
		models.UnitResult{Stage: models.StageClean, Name: "bad.csv", Status: models.StatusFailed, ErrorType: "parse_error", Err: errors.New("malformed row")},
	)
	return s
}

func TestGenerateRunID(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	a := GenerateRunID(now, "harvest", "https://example.com")
	b := GenerateRunID(now, "harvest", "https://example.org")

	if !strings.HasPrefix(a, "2024-03-05T14-07-09-") {
		t.Errorf("GenerateRunID() = %q, want timestamp prefix", a)
	}
	if len(a) != len("2024-03-05T14-07-09-")+12 {
		t.Errorf("GenerateRunID() = %q, unexpected length", a)
	}
	if a == b {
		t.Error("different inputs produced the same run ID")
	}
	if a != GenerateRunID(now, "harvest", "https://example.com") {
		t.Error("GenerateRunID() not deterministic for identical inputs")
	}
}

func TestWriteSummaryAndIndex(t *testing.T) {
	base := t.TempDir()
	created := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

	rs := NewRunSummary("2024-03-05T14-07-09-aaaaaaaaaaaa", "run", created, testSummary(), 3)
	if _, err := WriteSummary(base, rs); err != nil {
		t.Fatalf("WriteSummary() error = %v", err)
	}

	got, err := ReadSummary(base, rs.RunID)
	if err != nil {
		t.Fatalf("ReadSummary() error = %v", err)
	}
	if len(got.Units) != 3 {
		t.Fatalf("units = %d, want 3", len(got.Units))
	}
	if got.Units[2].Error != "malformed row" || got.Units[2].ErrorType != "parse_error" {
		t.Errorf("failed unit = %+v", got.Units[2])
	}
	if got.Units[0].Duration != "1.5s" {
		t.Errorf("duration = %q, want 1.5s", got.Units[0].Duration)
	}
	if st := got.Stages[models.StageHarvest]; st == nil || st.Total != 2 || st.Skipped != 1 {
		t.Errorf("harvest stage stats = %+v", st)
	}

	later := NewRunSummary("2024-03-06T09-00-00-bbbbbbbbbbbb", "pipeline", created.Add(19*time.Hour), models.NewSummary(), 0)
	if _, err := WriteSummary(base, later); err != nil {
		t.Fatalf("WriteSummary() error = %v", err)
	}
	// rewriting a run replaces its entry
	if _, err := WriteSummary(base, rs); err != nil {
		t.Fatalf("WriteSummary() rewrite error = %v", err)
	}

	index, err := ReadRunIndex(base)
	if err != nil {
		t.Fatalf("ReadRunIndex() error = %v", err)
	}
	if len(index.Runs) != 2 {
		t.Fatalf("index has %d runs, want 2", len(index.Runs))
	}
	if index.Runs[0].RunID != later.RunID {
		t.Errorf("index not newest first: %s", index.Runs[0].RunID)
	}
	first := index.Runs[1]
	if first.Units != 3 || first.Success != 1 || first.Skipped != 1 || first.Failed != 1 || first.ExitCode != 3 {
		t.Errorf("index entry = %+v", first)
	}
}

func TestReadRunIndexMissing(t *testing.T) {
	index, err := ReadRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("ReadRunIndex() error = %v", err)
	}
	if len(index.Runs) != 0 {
		t.Errorf("runs = %d, want 0", len(index.Runs))
	}
}
