// Package pipeline runs the post-harvest stages in order: clean, optionally
// encode to JSONL, then convert to Parquet.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dtnitsch/treasury-harvester/internal/common"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/cleaner"
	"github.com/dtnitsch/treasury-harvester/pkg/convert"
	"github.com/dtnitsch/treasury-harvester/pkg/metrics"
	"github.com/dtnitsch/treasury-harvester/pkg/storage"
)

const (
	VariantCSV   = "csv"
	VariantJSONL = "jsonl"
)

// Run executes every stage to completion before starting the next. Unit
// failures are collected in the summary; the error is reserved for problems
// that stop a stage from starting at all.
func Run(ctx context.Context, cfg models.PipelineConfig, logger *slog.Logger, console io.Writer) (*models.Summary, error) {
	summary := models.NewSummary()
	report := func(results []models.UnitResult) {
		summary.Add(results...)
		for _, r := range results {
			PrintResult(console, r)
		}
	}

	c := &cleaner.Cleaner{OutDir: cfg.CleanDir, Sentinel: cfg.Sentinel, Logger: logger}
	cleaned, err := c.CleanDir(cfg.RawDir)
	if err != nil {
		return summary, fmt.Errorf("clean stage: %w", err)
	}
	report(cleaned)
	logger.Info("Clean stage finished", "files", len(cleaned))
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	convertFrom := cfg.CleanDir
	var headerFrom map[string]string
	if cfg.Variant == VariantJSONL {
		encoded, err := EncodeDir(cfg.CleanDir, cfg.JSONLDir, logger)
		if err != nil {
			return summary, fmt.Errorf("encode stage: %w", err)
		}
		report(encoded)
		headerFrom = make(map[string]string)
		for _, r := range encoded {
			if r.Status != models.StatusSuccess {
				continue
			}
			if r.Rows == 0 {
				// JSONL cannot carry a header without records
				headerFrom[filepath.Base(r.Outputs[0])] = filepath.Join(cfg.CleanDir, r.Name)
				continue
			}
			if err := PrintPreview(console, r.Outputs[0], cfg.PreviewLines); err != nil {
				logger.Warn("Could not render preview", "file", r.Outputs[0], "error", err)
			}
		}
		logger.Info("Encode stage finished", "files", len(encoded))
		convertFrom = cfg.JSONLDir
		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}

	conv := &convert.Converter{
		OutDir:     cfg.ParquetDir,
		BlockSize:  cfg.BlockSize,
		Sentinel:   cfg.Sentinel,
		Logger:     logger,
		HeaderFrom: headerFrom,
	}
	converted, err := conv.ConvertDir(convertFrom)
	if err != nil {
		return summary, fmt.Errorf("convert stage: %w", err)
	}
	report(converted)
	logger.Info("Convert stage finished", "files", len(converted))

	return summary, nil
}

// EncodeDir re-encodes every cleaned CSV in inDir as <base>.jsonl in outDir.
func EncodeDir(inDir, outDir string, logger *slog.Logger) ([]models.UnitResult, error) {
	names, err := storage.ListFiles(inDir, ".csv")
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureDir(outDir); err != nil {
		return nil, err
	}

	results := make([]models.UnitResult, 0, len(names))
	for _, name := range names {
		start := time.Now()
		dst := filepath.Join(outDir, convert.BaseName(name)+".jsonl")
		r := models.UnitResult{Stage: models.StageEncode, Name: name}

		rows, err := convert.EncodeJSONL(filepath.Join(inDir, name), dst)
		r.Duration = time.Since(start)
		if err != nil {
			r.Status = models.StatusFailed
			r.ErrorType = "encode_error"
			r.Err = err
			logger.Error("Error encoding file", "file", name, "error", err)
		} else {
			r.Status = models.StatusSuccess
			r.Outputs = []string{dst}
			r.Rows = rows
			if hash, _, err := common.FileHash(dst); err == nil {
				r.Hash = hash
			}
			metrics.RecordRow("pipeline", "encoded", int64(rows))
			logger.Info("Encoded to JSONL", "file", name, "output", dst, "rows", rows)
		}
		metrics.RecordStep("pipeline", string(models.StageEncode), r.Err, r.Duration)
		results = append(results, r)
	}
	return results, nil
}

// HeaderSources maps each JSONL file in jsonlDir to the cleaned CSV in
// cleanDir it was encoded from, when that CSV still exists.
func HeaderSources(jsonlDir, cleanDir string) (map[string]string, error) {
	names, err := storage.ListFiles(jsonlDir, ".jsonl")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, name := range names {
		csvPath := filepath.Join(cleanDir, convert.BaseName(name)+".csv")
		if _, err := os.Stat(csvPath); err == nil {
			out[name] = csvPath
		}
	}
	return out, nil
}
