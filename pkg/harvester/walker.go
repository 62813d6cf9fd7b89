// Package harvester drives the source page's form through every category and
// every result page, reassembling one table per category.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dtnitsch/treasury-harvester/internal/common"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/browser"
	"github.com/dtnitsch/treasury-harvester/pkg/extractor"
)

var (
	// ErrPageLimit ends a walk that reached MaxPages while a next control was
	// still present.
	ErrPageLimit = errors.New("page limit reached")
	// ErrStalledPager ends a walk when activating next re-rendered the same table.
	ErrStalledPager = errors.New("next page control did not advance")
)

// Walker follows the pager of the current result set.
type Walker struct {
	Session      browser.Session
	Logger       *slog.Logger
	TableSel     string
	NextSel      string
	MaxPages     int
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// WalkResult is what a walk produced. Table is nil when no page had data.
// Err is set when the walk stopped for any reason other than running out of
// pages; Table then holds the pages read before the failure.
type WalkResult struct {
	Table *models.Table
	Pages int
	Err   error
}

// Walk extracts the current page, then keeps activating the next control
// until it disappears. The page is re-read from the session on every
// iteration; no element handle outlives a page transition.
func (w *Walker) Walk(ctx context.Context) WalkResult {
	var (
		tables   []*models.Table
		pages    int
		prevHash string
	)
	result := func(err error) WalkResult {
		return WalkResult{Table: models.Concat(tables), Pages: pages, Err: err}
	}

	for {
		doc, err := w.Session.Page()
		if err != nil {
			return result(err)
		}
		table, err := extractor.ExtractTable(doc, w.TableSel)
		if err != nil {
			return result(fmt.Errorf("page %d: %w", pages+1, err))
		}
		pages++

		if !table.Empty() {
			hash := common.ContentHash([]byte(table.ToPlainText()))
			if hash == prevHash {
				return result(fmt.Errorf("page %d: %w", pages, ErrStalledPager))
			}
			prevHash = hash
			tables = append(tables, table)
		}
		w.Logger.Debug("Extracted page", "page", pages, "rows", table.Len())

		if _, err := browser.Find(w.Session, w.NextSel); err != nil {
			if errors.Is(err, browser.ErrNotFound) {
				return result(nil)
			}
			return result(err)
		}
		if pages >= w.MaxPages {
			return result(fmt.Errorf("%w: %d", ErrPageLimit, w.MaxPages))
		}

		if err := w.Session.Click(ctx, w.NextSel); err != nil {
			return result(fmt.Errorf("activate next after page %d: %w", pages, err))
		}
		if err := browser.WaitFor(ctx, w.Session, tableOrDefault(w.TableSel), w.WaitTimeout, w.PollInterval); err != nil {
			return result(fmt.Errorf("wait for page %d: %w", pages+1, err))
		}
	}
}
