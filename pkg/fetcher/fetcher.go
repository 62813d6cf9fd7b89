// Package fetcher implements browser.Session over plain HTTP: pages are
// fetched with resty and parsed with goquery, form controls are changed in the
// parsed DOM, and clicking a submit control serializes and submits its form.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/treasury-harvester/pkg/browser"
	"github.com/go-resty/resty/v2"
)

// Options configures a Fetcher.
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	RetryCount int
}

// Fetcher is an HTTP-backed browsing session.
type Fetcher struct {
	client  *resty.Client
	current *url.URL
	doc     *goquery.Document
	closed  bool
}

var _ browser.Session = (*Fetcher)(nil)

func NewFetcher(opts Options) *Fetcher {
	client := resty.New()
	jar, _ := cookiejar.New(nil)
	client.SetCookieJar(jar)
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client.SetTimeout(opts.Timeout)
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.RetryCount > 0 {
		client.SetRetryCount(opts.RetryCount)
	}
	return &Fetcher{client: client}
}

// Navigate loads rawURL, resolved against the current page when relative.
func (f *Fetcher) Navigate(ctx context.Context, rawURL string) error {
	if f.closed {
		return browser.ErrClosed
	}
	target, err := f.resolve(rawURL)
	if err != nil {
		return err
	}
	resp, err := f.client.R().SetContext(ctx).Get(target.String())
	if err != nil {
		return fmt.Errorf("failed to make HTTP request: %w", err)
	}
	return f.load(resp)
}

func (f *Fetcher) submit(ctx context.Context, method string, action *url.URL, values url.Values) error {
	if strings.EqualFold(method, http.MethodPost) {
		resp, err := f.client.R().
			SetContext(ctx).
			SetFormDataFromValues(values).
			Post(action.String())
		if err != nil {
			return fmt.Errorf("failed to submit form: %w", err)
		}
		return f.load(resp)
	}

	u := *action
	u.RawQuery = values.Encode()
	resp, err := f.client.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return fmt.Errorf("failed to submit form: %w", err)
	}
	return f.load(resp)
}

func (f *Fetcher) load(resp *resty.Response) error {
	if resp.IsError() {
		return fmt.Errorf("failed to fetch HTML, status code: %d", resp.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		f.current = raw.Request.URL
	} else if u, err := url.Parse(resp.Request.URL); err == nil {
		f.current = u
	}
	f.doc = doc
	return nil
}

// Page returns the current document.
func (f *Fetcher) Page() (*goquery.Document, error) {
	if f.closed {
		return nil, browser.ErrClosed
	}
	if f.doc == nil {
		return nil, browser.ErrNoPage
	}
	return f.doc, nil
}

// Select marks option optionIndex of the first select matching selector as
// the selected one. The change is kept in the DOM until the form is submitted.
func (f *Fetcher) Select(_ context.Context, selector string, optionIndex int) error {
	sel, err := browser.Find(f, selector)
	if err != nil {
		return err
	}
	options := sel.First().Find("option")
	if optionIndex < 0 || optionIndex >= options.Length() {
		return fmt.Errorf("option index %d out of range for %s (%d options)", optionIndex, selector, options.Length())
	}
	options.RemoveAttr("selected")
	options.Eq(optionIndex).SetAttr("selected", "selected")
	return nil
}

// SelectText selects the option whose rendered text equals text.
func (f *Fetcher) SelectText(ctx context.Context, selector, text string) error {
	opts, err := browser.Options(f, selector)
	if err != nil {
		return err
	}
	want := browser.Text(text)
	for i, o := range opts {
		if o == want {
			return f.Select(ctx, selector, i)
		}
	}
	return fmt.Errorf("%w: option %q in %s", browser.ErrNotFound, text, selector)
}

// Click activates the first element matching selector. Links are followed;
// submit inputs and buttons submit their enclosing form.
func (f *Fetcher) Click(ctx context.Context, selector string) error {
	sel, err := browser.Find(f, selector)
	if err != nil {
		return err
	}
	el := sel.First()

	if goquery.NodeName(el) == "a" {
		href, ok := el.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return fmt.Errorf("link %s has no href", selector)
		}
		return f.Navigate(ctx, href)
	}

	form := el.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("%s is neither a link nor inside a form", selector)
	}
	action, err := f.resolve(form.AttrOr("action", ""))
	if err != nil {
		return err
	}
	values := serializeForm(form)
	if name, ok := el.Attr("name"); ok && name != "" {
		values.Set(name, el.AttrOr("value", ""))
	}
	return f.submit(ctx, form.AttrOr("method", http.MethodGet), action, values)
}

// Close releases the session. It is safe to call more than once.
func (f *Fetcher) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.doc = nil
	f.client.GetClient().CloseIdleConnections()
	return nil
}

func (f *Fetcher) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	if f.current != nil {
		return f.current.ResolveReference(u), nil
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("relative URL %q with no page loaded", ref)
	}
	return u, nil
}

// serializeForm collects successful controls the way a browser would for a
// urlencoded submission. Submit buttons are added by the caller.
func serializeForm(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, c *goquery.Selection) {
		name, ok := c.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := c.Attr("disabled"); disabled {
			return
		}
		switch goquery.NodeName(c) {
		case "select":
			selected := c.Find("option[selected]")
			if selected.Length() == 0 {
				selected = c.Find("option").First()
			}
			selected.Each(func(_ int, o *goquery.Selection) {
				values.Add(name, optionValue(o))
			})
		case "textarea":
			values.Add(name, c.Text())
		default:
			switch strings.ToLower(c.AttrOr("type", "text")) {
			case "submit", "button", "image", "reset", "file":
			case "checkbox", "radio":
				if _, checked := c.Attr("checked"); checked {
					values.Add(name, c.AttrOr("value", "on"))
				}
			default:
				values.Add(name, c.AttrOr("value", ""))
			}
		}
	})
	return values
}

func optionValue(o *goquery.Selection) string {
	if v, ok := o.Attr("value"); ok {
		return v
	}
	return browser.Text(o.Text())
}
