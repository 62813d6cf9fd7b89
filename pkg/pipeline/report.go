package pipeline

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/convert"
)

// Exit codes shared by every command.
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitFatal   = 2
	ExitPartial = 3
)

// ExitCode maps a summary to the process exit status. Any failed or partial
// unit yields ExitPartial unless allowPartial is set.
func ExitCode(s *models.Summary, allowPartial bool) int {
	if s == nil || allowPartial {
		return ExitOK
	}
	if len(s.Failures()) > 0 {
		return ExitPartial
	}
	return ExitOK
}

// PrintResult writes one operator line for a unit.
func PrintResult(w io.Writer, r models.UnitResult) {
	if w == nil {
		return
	}
	switch r.Status {
	case models.StatusSuccess:
		fmt.Fprintf(w, "✓ %s %s (%d rows)\n", r.Stage, r.Name, r.Rows)
	case models.StatusSkipped:
		fmt.Fprintf(w, "- %s %s: no rows, skipped\n", r.Stage, r.Name)
	case models.StatusPartial:
		fmt.Fprintf(w, "✗ %s %s: partial (%d rows kept): %s: %s\n", r.Stage, r.Name, r.Rows, r.ErrorType, r.ErrorMessage())
	default:
		fmt.Fprintf(w, "✗ %s %s: %s: %s\n", r.Stage, r.Name, r.ErrorType, r.ErrorMessage())
	}
}

// PrintSummary writes per-stage totals as a table.
func PrintSummary(w io.Writer, s *models.Summary) {
	if w == nil || s == nil {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Stage", "Total", "Success", "Partial", "Failed", "Skipped", "Rows"})
	for _, stage := range []models.Stage{models.StageHarvest, models.StageClean, models.StageEncode, models.StageConvert} {
		st, ok := s.Stages[stage]
		if !ok {
			continue
		}
		t.AppendRow(table.Row{stage, st.Total, st.Success, st.Partial, st.Failed, st.Skipped, st.Rows})
	}
	t.Render()
}

// PrintPreview renders the first n records of a JSONL file as a table.
func PrintPreview(w io.Writer, path string, n int) error {
	if w == nil || n <= 0 {
		return nil
	}
	preview, err := convert.PreviewTable(path, n)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(filepath.Base(path))
	header := make(table.Row, len(preview.Headers))
	for i, h := range preview.Headers {
		header[i] = h
	}
	t.AppendHeader(header)
	for _, row := range preview.Rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		t.AppendRow(r)
	}
	t.Render()
	return nil
}
