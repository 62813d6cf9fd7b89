// Package cleaner normalizes raw CSV files: columns with no values at all are
// dropped and every remaining missing cell is replaced by a sentinel token.
package cleaner

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dtnitsch/treasury-harvester/internal/common"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/metrics"
	"github.com/dtnitsch/treasury-harvester/pkg/storage"
)

const OutputPrefix = "cleaned_"

var (
	ErrEmptyFile    = errors.New("no columns to parse from file")
	ErrMalformedRow = errors.New("malformed row")
)

// naTokens are read as missing, in addition to blank cells.
var naTokens = map[string]bool{
	"NaN": true, "nan": true, "-NaN": true, "-nan": true,
	"NA": true, "N/A": true, "n/a": true, "#N/A": true, "<NA>": true,
	"null": true, "NULL": true, "None": true,
}

// IsMissing reports whether a raw cell counts as a missing value.
func IsMissing(cell string) bool {
	s := strings.TrimSpace(cell)
	return s == "" || naTokens[s]
}

// Cleaner cleans CSV files from one directory into another.
type Cleaner struct {
	OutDir   string
	Sentinel string
	Logger   *slog.Logger
}

// CleanDir cleans every *.csv in inDir, in name order. A failure on one file
// is logged and recorded in its result; the remaining files are still cleaned.
func (c *Cleaner) CleanDir(inDir string) ([]models.UnitResult, error) {
	names, err := storage.ListFiles(inDir, ".csv")
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureDir(c.OutDir); err != nil {
		return nil, err
	}

	results := make([]models.UnitResult, 0, len(names))
	for _, name := range names {
		start := time.Now()
		r := c.CleanFile(filepath.Join(inDir, name))
		r.Duration = time.Since(start)
		metrics.RecordStep("pipeline", string(models.StageClean), r.Err, r.Duration)
		if r.Err != nil {
			c.Logger.Error("Error cleaning file", "file", name, "error_type", r.ErrorType, "error", r.Err)
		} else {
			metrics.RecordRow("pipeline", "cleaned", int64(r.Rows))
			c.Logger.Info("Cleaned and saved", "file", name, "output", r.Outputs[0], "rows", r.Rows)
		}
		results = append(results, r)
	}
	return results, nil
}

// CleanFile cleans one file into OutDir/cleaned_<name>.
func (c *Cleaner) CleanFile(path string) models.UnitResult {
	name := filepath.Base(path)
	r := models.UnitResult{Stage: models.StageClean, Name: name}

	f, err := os.Open(path)
	if err != nil {
		r.Status = models.StatusFailed
		r.ErrorType = "io_error"
		r.Err = err
		return r
	}
	t, err := readTable(f)
	f.Close()
	if err != nil {
		r.Status = models.StatusFailed
		r.ErrorType = readErrorType(err)
		r.Err = err
		return r
	}

	dropped := Clean(t, c.sentinel())
	if len(dropped) > 0 {
		c.Logger.Debug("Dropped empty columns", "file", name, "columns", dropped)
		metrics.RecordRow("pipeline", "dropped_columns", int64(len(dropped)))
	}

	out := filepath.Join(c.OutDir, OutputPrefix+name)
	if err := storage.WriteTableCSV(out, t); err != nil {
		r.Status = models.StatusFailed
		r.ErrorType = "io_error"
		r.Err = err
		return r
	}
	r.Status = models.StatusSuccess
	r.Outputs = []string{out}
	r.Rows = t.Len()
	if hash, _, err := common.FileHash(out); err == nil {
		r.Hash = hash
	}
	return r
}

func (c *Cleaner) sentinel() string {
	if c.Sentinel == "" {
		return models.DefaultSentinel
	}
	return c.Sentinel
}

// Clean drops every column in which all cells are missing and fills the
// remaining missing cells with sentinel, in place. It returns the names of the
// dropped columns. A table without rows keeps its headers.
func Clean(t *models.Table, sentinel string) []string {
	if t.Len() == 0 {
		return nil
	}

	keep := make([]int, 0, len(t.Headers))
	var dropped []string
	for col, h := range t.Headers {
		hasValue := false
		for _, row := range t.Rows {
			if !IsMissing(row[col]) {
				hasValue = true
				break
			}
		}
		if hasValue {
			keep = append(keep, col)
		} else {
			dropped = append(dropped, h)
		}
	}

	headers := make([]string, len(keep))
	for i, col := range keep {
		headers[i] = t.Headers[col]
	}
	for ri, row := range t.Rows {
		out := make([]string, len(keep))
		for i, col := range keep {
			if IsMissing(row[col]) {
				out[i] = sentinel
			} else {
				out[i] = row[col]
			}
		}
		t.Rows[ri] = out
	}
	t.Headers = headers
	return dropped
}

// readTable parses a CSV file with a header row. Short rows are padded with
// blanks; rows wider than the header are malformed.
// readErrorType tells malformed content apart from failures to read it.
func readErrorType(err error) string {
	var pe *csv.ParseError
	if errors.As(err, &pe) || errors.Is(err, ErrEmptyFile) || errors.Is(err, ErrMalformedRow) {
		return "parse_error"
	}
	return "io_error"
}

func readTable(r io.Reader) (*models.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	headers = stripBOM(headers)

	t := &models.Table{Headers: headers}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) > len(headers) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d: expected %d fields, saw %d", ErrMalformedRow, line, len(headers), len(rec))
		}
		row := make([]string, len(headers))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

const utf8BOM = "\ufeff"

func stripBOM(headers []string) []string {
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], utf8BOM)
	}
	return headers
}
