package models

import "time"

// Stage names a pipeline stage.
type Stage string

const (
	StageHarvest Stage = "harvest"
	StageClean   Stage = "clean"
	StageEncode  Stage = "encode"
	StageConvert Stage = "convert"
)

// Status of a single unit of work.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial" // some output written, then failed
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped" // nothing to write, e.g. empty category
)

// UnitResult is the outcome of one category or one file.
type UnitResult struct {
	Stage     Stage
	Name      string
	Outputs   []string
	Status    Status
	ErrorType string
	Err       error
	Rows      int
	Pages     int
	Hash      string
	Duration  time.Duration
}

// Failed reports whether the unit did not fully succeed.
func (r UnitResult) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusPartial
}

// ErrorMessage returns the error text or "".
func (r UnitResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// HarvestReport is what the category driver returns for a run.
type HarvestReport struct {
	Categories []Category
	Results    []UnitResult
}

// StageStats counts outcomes within one stage.
type StageStats struct {
	Total   int `yaml:"total" json:"total"`
	Success int `yaml:"success" json:"success"`
	Partial int `yaml:"partial,omitempty" json:"partial,omitempty"`
	Failed  int `yaml:"failed" json:"failed"`
	Skipped int `yaml:"skipped,omitempty" json:"skipped,omitempty"`
	Rows    int `yaml:"rows" json:"rows"`
}

// Summary aggregates every unit result of a run, grouped by stage.
type Summary struct {
	Results []UnitResult
	Stages  map[Stage]*StageStats
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{Stages: make(map[Stage]*StageStats)}
}

// Add records results in order.
func (s *Summary) Add(results ...UnitResult) {
	for _, r := range results {
		s.Results = append(s.Results, r)
		st, ok := s.Stages[r.Stage]
		if !ok {
			st = &StageStats{}
			s.Stages[r.Stage] = st
		}
		st.Total++
		st.Rows += r.Rows
		switch r.Status {
		case StatusSuccess:
			st.Success++
		case StatusPartial:
			st.Partial++
		case StatusFailed:
			st.Failed++
		case StatusSkipped:
			st.Skipped++
		}
	}
}

// Failures returns every result that failed or only partly succeeded.
func (s *Summary) Failures() []UnitResult {
	var out []UnitResult
	for _, r := range s.Results {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// Stage returns results belonging to one stage.
func (s *Summary) Stage(stage Stage) []UnitResult {
	var out []UnitResult
	for _, r := range s.Results {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}
