// Package browser defines the small set of page-automation primitives the
// harvester needs, plus bounded waiting on top of them.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrNotFound is returned when a selector matches nothing on the current page.
	ErrNotFound = errors.New("element not found")
	// ErrNoPage is returned before the first successful navigation.
	ErrNoPage = errors.New("no page loaded")
	// ErrClosed is returned by any call after Close.
	ErrClosed = errors.New("session closed")
	// ErrTimeout is returned when a wait condition is not met in time.
	ErrTimeout = errors.New("timed out waiting for condition")
)

// Session is a single browsing session. Implementations are not safe for
// concurrent use.
//
// Page returns the currently rendered document. Callers must not keep the
// returned document across Select/Click/Navigate calls: any of them may
// replace the page.
type Session interface {
	Navigate(ctx context.Context, rawURL string) error
	Page() (*goquery.Document, error)
	Select(ctx context.Context, selector string, optionIndex int) error
	SelectText(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	Close() error
}

// Find runs selector against the current page and fails with ErrNotFound
// when nothing matches.
func Find(s Session, selector string) (*goquery.Selection, error) {
	doc, err := s.Page()
	if err != nil {
		return nil, err
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return sel, nil
}

// WaitFor polls the session until selector is present, the timeout elapses
// or ctx is done. The first check happens immediately.
func WaitFor(ctx context.Context, s Session, selector string, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		_, err := Find(s, selector)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s after %s", ErrTimeout, selector, timeout)
		case <-ticker.C:
		}
	}
}

// Options returns the trimmed option texts of the first select matching selector.
func Options(s Session, selector string) ([]string, error) {
	sel, err := Find(s, selector)
	if err != nil {
		return nil, err
	}
	var out []string
	sel.First().Find("option").Each(func(_ int, o *goquery.Selection) {
		out = append(out, Text(o.Text()))
	})
	return out, nil
}
