package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dtnitsch/treasury-harvester/internal/common"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/browser"
	"github.com/dtnitsch/treasury-harvester/pkg/metrics"
	"github.com/dtnitsch/treasury-harvester/pkg/storage"
)

// ErrNoCategories is the fatal case: the start page or its category control
// never appeared, so nothing can be enumerated.
var ErrNoCategories = errors.New("category control not found")

// RawFilePrefix starts every raw output filename.
const RawFilePrefix = "treasury_rates_"

// Driver iterates every category of the form and persists one raw CSV per
// category that has data.
type Driver struct {
	Session browser.Session
	Config  models.HarvestConfig
	Logger  *slog.Logger
	// OnResult, when set, is called after each category finishes.
	OnResult func(models.UnitResult)
}

// Run executes a full harvest. The session is closed before Run returns,
// whatever the outcome. The returned error is non-nil only for the fatal
// case; per-category failures are reported in the results.
func (d *Driver) Run(ctx context.Context) (*models.HarvestReport, error) {
	defer func() {
		if err := d.Session.Close(); err != nil {
			d.Logger.Warn("Failed to close browsing session", "error", err)
		}
	}()

	cfg := d.Config
	sel := cfg.Selectors

	if err := storage.EnsureDir(cfg.RawDir); err != nil {
		return nil, err
	}
	if err := d.Session.Navigate(ctx, cfg.StartURL); err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrNoCategories, cfg.StartURL, err)
	}
	if err := browser.WaitFor(ctx, d.Session, sel.Category, cfg.WaitTimeout, cfg.PollInterval); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCategories, err)
	}
	d.Logger.Info("Category control loaded", "url", cfg.StartURL)

	if sel.Period != "" && sel.PeriodText != "" {
		if err := d.Session.SelectText(ctx, sel.Period, sel.PeriodText); err != nil {
			d.Logger.Warn("Could not select period, using page default", "selector", sel.Period, "text", sel.PeriodText, "error", err)
		}
	}

	names, err := browser.Options(d.Session, sel.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCategories, err)
	}
	report := &models.HarvestReport{Categories: make([]models.Category, len(names))}
	for i, n := range names {
		report.Categories[i] = models.Category{Name: n, Index: i}
	}
	d.Logger.Info("Enumerated categories", "count", len(report.Categories))

	used := make(map[string]bool)
	for _, cat := range report.Categories {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		start := time.Now()
		r := d.harvestCategory(ctx, cat, used)
		r.Duration = time.Since(start)
		metrics.RecordStep("harvest", "category", unitErr(r), r.Duration)
		metrics.RecordRow("harvest", "scraped", int64(r.Rows))
		report.Results = append(report.Results, r)
		if d.OnResult != nil {
			d.OnResult(r)
		}
	}
	return report, nil
}

func (d *Driver) harvestCategory(ctx context.Context, cat models.Category, used map[string]bool) models.UnitResult {
	cfg := d.Config
	sel := cfg.Selectors
	r := models.UnitResult{Stage: models.StageHarvest, Name: cat.Name}
	logger := d.Logger.With("category", cat.Name, "index", cat.Index)

	if err := d.Session.Select(ctx, sel.Category, cat.Index); err != nil {
		return failed(r, "select_error", err, logger)
	}
	if err := d.Session.Click(ctx, sel.Submit); err != nil {
		return failed(r, "select_error", fmt.Errorf("submit: %w", err), logger)
	}
	if err := browser.WaitFor(ctx, d.Session, tableOrDefault(sel.Table), cfg.WaitTimeout, cfg.PollInterval); err != nil {
		return failed(r, "select_error", err, logger)
	}
	logger.Info("Selected category")

	walker := &Walker{
		Session:      d.Session,
		Logger:       logger,
		TableSel:     sel.Table,
		NextSel:      sel.Next,
		MaxPages:     cfg.MaxPages,
		WaitTimeout:  cfg.WaitTimeout,
		PollInterval: cfg.PollInterval,
	}
	walk := walker.Walk(ctx)
	r.Pages = walk.Pages

	if walk.Table.Empty() {
		if walk.Err != nil {
			return failed(r, "walk_error", walk.Err, logger)
		}
		r.Status = models.StatusSkipped
		logger.Info("Category has no rows, no file written", "pages", walk.Pages)
		return r
	}

	path := filepath.Join(cfg.RawDir, RawFileName(cat, used))
	if err := storage.WriteTableCSV(path, walk.Table); err != nil {
		return failed(r, "write_error", err, logger)
	}
	r.Outputs = []string{path}
	r.Rows = walk.Table.Len()
	if hash, _, err := common.FileHash(path); err == nil {
		r.Hash = hash
	}

	if walk.Err != nil {
		r.Status = models.StatusPartial
		r.ErrorType = "walk_error"
		r.Err = walk.Err
		logger.Warn("Pagination stopped early, partial file written", "file", path, "rows", r.Rows, "pages", r.Pages, "error", walk.Err)
		return r
	}
	r.Status = models.StatusSuccess
	logger.Info("Saved category", "file", path, "rows", r.Rows, "pages", r.Pages)
	return r
}

// RawFileName derives treasury_rates_<slug>.csv from a category, marking
// the name used. Colliding or empty slugs fall back to the index.
func RawFileName(cat models.Category, used map[string]bool) string {
	slug := common.Slug(cat.Name)
	if slug == "" {
		slug = fmt.Sprintf("category_%d", cat.Index)
	}
	if used[slug] {
		slug = fmt.Sprintf("%s_%d", slug, cat.Index)
	}
	used[slug] = true
	return RawFilePrefix + slug + ".csv"
}

func failed(r models.UnitResult, errorType string, err error, logger *slog.Logger) models.UnitResult {
	r.Status = models.StatusFailed
	r.ErrorType = errorType
	r.Err = err
	logger.Error("Category failed", "error_type", errorType, "error", err)
	return r
}

func unitErr(r models.UnitResult) error {
	if r.Failed() {
		if r.Err != nil {
			return r.Err
		}
		return errors.New(string(r.Status))
	}
	return nil
}

func tableOrDefault(s string) string {
	if s == "" {
		return "table"
	}
	return s
}
