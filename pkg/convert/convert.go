// Package convert turns cleaned CSV and JSONL files into Parquet partitions.
package convert

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/dtnitsch/treasury-harvester/internal/common"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/metrics"
	"github.com/dtnitsch/treasury-harvester/pkg/storage"
)

const (
	PartSeparator = "-part-"
	ParquetExt    = ".parquet"

	writeBatch = 1024
)

// ErrPartitionCollision means two sources in one batch map to the same
// partition prefix, e.g. rates.csv and rates.jsonl.
var ErrPartitionCollision = errors.New("partition name already used by another source")

// Converter writes each source file as one or more Parquet partitions.
type Converter struct {
	OutDir     string
	BlockSize  int64
	Sentinel   string
	Logger     *slog.Logger
	// HeaderFrom maps a JSONL file name to the CSV it was encoded from. A
	// JSONL file with no records takes its columns from that CSV's header.
	HeaderFrom map[string]string
}

// BaseName is the partition prefix of a source file: its name without the
// extension.
func BaseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// PartName returns <base>-part-<i>.parquet.
func PartName(base string, i int) string {
	return base + PartSeparator + strconv.Itoa(i) + ParquetExt
}

// ConvertDir converts every *.csv and *.jsonl in inDir, in name order.
// One file failing does not stop the others. A file whose partition prefix
// was already claimed earlier in the batch fails without touching the
// earlier file's partitions.
func (c *Converter) ConvertDir(inDir string) ([]models.UnitResult, error) {
	names, err := storage.ListFiles(inDir, ".csv", ".jsonl")
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureDir(c.OutDir); err != nil {
		return nil, err
	}

	results := make([]models.UnitResult, 0, len(names))
	claimed := make(map[string]string, len(names))
	for _, name := range names {
		start := time.Now()
		var r models.UnitResult
		if prev, ok := claimed[BaseName(name)]; ok {
			r = models.UnitResult{
				Stage:     models.StageConvert,
				Name:      name,
				Status:    models.StatusFailed,
				ErrorType: "name_collision",
				Err:       fmt.Errorf("%w: %s and %s both write %s", ErrPartitionCollision, prev, name, PartName(BaseName(name), 0)),
			}
		} else {
			claimed[BaseName(name)] = name
			r = c.ConvertFile(filepath.Join(inDir, name))
		}
		r.Duration = time.Since(start)
		metrics.RecordStep("pipeline", string(models.StageConvert), r.Err, r.Duration)
		if r.Err != nil {
			c.Logger.Error("Error converting file", "file", name, "error_type", r.ErrorType, "error", r.Err)
		} else {
			metrics.RecordRow("pipeline", "converted", int64(r.Rows))
			c.Logger.Info("Converted to parquet", "file", name, "partitions", len(r.Outputs), "rows", r.Rows)
		}
		results = append(results, r)
	}
	return results, nil
}

// ConvertFile converts one source file. Partitions from earlier runs with the
// same base name are removed first; on failure no partition is left behind.
func (c *Converter) ConvertFile(path string) models.UnitResult {
	name := filepath.Base(path)
	base := BaseName(name)
	r := models.UnitResult{Stage: models.StageConvert, Name: name}

	fail := func(errorType string, err error) models.UnitResult {
		r.Status = models.StatusFailed
		r.ErrorType = errorType
		r.Err = err
		r.Outputs = nil
		return r
	}

	if err := storage.EnsureDir(c.OutDir); err != nil {
		return fail("io_error", err)
	}
	if err := RemovePartitions(c.OutDir, base); err != nil {
		return fail("io_error", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fail("io_error", err)
	}
	defer f.Close()

	var src rowSource
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		src, err = newCSVSource(f, c.sentinel())
	case ".jsonl":
		src, err = newJSONLSource(f, c.sentinel())
		if csvPath, ok := c.HeaderFrom[name]; ok && errors.Is(err, ErrNoColumns) {
			src, err = headerOnly(csvPath)
		}
	default:
		err = fmt.Errorf("unsupported source type %q", filepath.Ext(name))
	}
	if err != nil {
		return fail("parse_error", err)
	}

	outputs, rows, err := c.writePartitions(src, base)
	if err != nil {
		for _, p := range outputs {
			os.Remove(p)
		}
		return fail("parse_error", err)
	}

	r.Status = models.StatusSuccess
	r.Outputs = outputs
	r.Rows = rows
	if hash, _, err := common.FileHash(path); err == nil {
		r.Hash = hash
	}
	return r
}

func (c *Converter) sentinel() string {
	if c.Sentinel == "" {
		return models.DefaultSentinel
	}
	return c.Sentinel
}

func (c *Converter) blockSize() int64 {
	if c.BlockSize <= 0 {
		return models.DefaultBlockSize
	}
	return c.BlockSize
}

// writePartitions streams src into partitions. A partition is closed once the
// source bytes consumed since it was opened reach the block size. It returns
// the committed partition paths, even on error, so the caller can clean up.
func (c *Converter) writePartitions(src rowSource, base string) ([]string, int, error) {
	schema, columns := buildSchema(UniqueHeaders(src.Headers()))

	var (
		outputs []string
		part    *partition
		total   int
		start   int64
	)
	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if part != nil {
				part.abort()
			}
			return outputs, total, err
		}

		if part == nil {
			if part, err = c.openPartition(schema, base, len(outputs)); err != nil {
				return outputs, total, err
			}
		}
		if err := part.add(toRow(row, columns)); err != nil {
			part.abort()
			return outputs, total, err
		}
		total++

		if src.Offset()-start >= c.blockSize() {
			if err := part.commit(); err != nil {
				return outputs, total, err
			}
			outputs = append(outputs, part.path)
			c.Logger.Debug("Wrote partition", "file", part.path, "rows", part.rows)
			part = nil
			start = src.Offset()
		}
	}

	if part == nil && len(outputs) == 0 {
		p, err := c.openPartition(schema, base, 0)
		if err != nil {
			return outputs, total, err
		}
		part = p
	}
	if part != nil {
		if err := part.commit(); err != nil {
			return outputs, total, err
		}
		outputs = append(outputs, part.path)
	}
	return outputs, total, nil
}

// RemovePartitions deletes every <base>-part-<n>.parquet in dir.
func RemovePartitions(dir, base string) error {
	names, err := storage.ListFiles(dir, ParquetExt)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	prefix := base + PartSeparator
	for _, n := range names {
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		idx := strings.TrimSuffix(strings.TrimPrefix(n, prefix), ParquetExt)
		if _, err := strconv.Atoi(idx); err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			return fmt.Errorf("failed to remove stale partition %s: %w", n, err)
		}
	}
	return nil
}

// UniqueHeaders names empty headers column_<i> and suffixes repeats with _<n>.
func UniqueHeaders(headers []string) []string {
	out := make([]string, len(headers))
	used := make(map[string]bool, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "column_" + strconv.Itoa(i)
		}
		name := h
		for n := 1; used[name]; n++ {
			name = h + "_" + strconv.Itoa(n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// buildSchema returns a schema of required string columns and, for each
// header position, the leaf column index the schema assigned it.
func buildSchema(headers []string) (*parquet.Schema, []int) {
	group := make(parquet.Group, len(headers))
	for _, h := range headers {
		group[h] = parquet.String()
	}
	schema := parquet.NewSchema("row", group)

	columns := make([]int, len(headers))
	for i, h := range headers {
		leaf, _ := schema.Lookup(h)
		columns[i] = leaf.ColumnIndex
	}
	return schema, columns
}

func toRow(cells []string, columns []int) parquet.Row {
	row := make(parquet.Row, len(cells))
	for i, cell := range cells {
		col := columns[i]
		row[col] = parquet.ByteArrayValue([]byte(cell)).Level(0, 0, col)
	}
	return row
}

type partition struct {
	path   string
	file   *os.File
	writer *parquet.Writer
	buf    []parquet.Row
	rows   int
}

func (c *Converter) openPartition(schema *parquet.Schema, base string, i int) (*partition, error) {
	path := filepath.Join(c.OutDir, PartName(base, i))
	f, err := storage.CreateTemp(path)
	if err != nil {
		return nil, err
	}
	return &partition{
		path:   path,
		file:   f,
		writer: parquet.NewWriter(f, schema),
		buf:    make([]parquet.Row, 0, writeBatch),
	}, nil
}

func (p *partition) add(row parquet.Row) error {
	p.buf = append(p.buf, row)
	p.rows++
	if len(p.buf) >= writeBatch {
		return p.flush()
	}
	return nil
}

func (p *partition) flush() error {
	if len(p.buf) == 0 {
		return nil
	}
	if _, err := p.writer.WriteRows(p.buf); err != nil {
		return fmt.Errorf("write rows to %s: %w", p.path, err)
	}
	p.buf = p.buf[:0]
	return nil
}

func (p *partition) commit() error {
	if err := p.flush(); err != nil {
		p.abort()
		return err
	}
	if err := p.writer.Close(); err != nil {
		storage.Abort(p.file)
		return fmt.Errorf("close parquet writer for %s: %w", p.path, err)
	}
	return storage.Commit(p.file, p.path)
}

func (p *partition) abort() {
	storage.Abort(p.file)
}
