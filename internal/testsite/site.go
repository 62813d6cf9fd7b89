// Package testsite serves a small HTML imitation of the rates TextView page:
// a category select, a period select, an Apply button, a data table and a
// pager. Tests drive it through a real browser.Session.
package testsite

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Dataset is one category of the fake site.
type Dataset struct {
	Value   string
	Label   string
	Headers []string
	// Pages holds the data rows per page. A nil or empty page renders a
	// header-only table.
	Pages [][][]string
	// StuckPager keeps rendering a next link that returns the same page.
	StuckPager bool
}

// Site is an http.Handler. Requests are counted per category value.
type Site struct {
	Datasets []Dataset
	// NoTableFor lists category values whose pages render no table at all.
	NoTableFor map[string]bool

	mu   sync.Mutex
	hits map[string]int
}

// Start serves the site on an httptest server closed at test cleanup.
func Start(t interface{ Cleanup(func()) }, site *Site) *httptest.Server {
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)
	return srv
}

// Hits returns how many times a category was rendered.
func (s *Site) Hits(value string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[value]
}

func (s *Site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/rates" {
		http.NotFound(w, r)
		return
	}
	if len(s.Datasets) == 0 {
		fmt.Fprint(w, "<html><body><p>maintenance</p></body></html>")
		return
	}
	q := r.URL.Query()
	ds := s.Datasets[0]
	for _, d := range s.Datasets {
		if d.Value == q.Get("type") {
			ds = d
		}
	}
	page, _ := strconv.Atoi(q.Get("page"))
	period := q.Get("field_tdr_date_value")
	if period == "" {
		period = "2024"
	}

	s.mu.Lock()
	if s.hits == nil {
		s.hits = make(map[string]int)
	}
	s.hits[ds.Value]++
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("<html><body>\n<form action=\"/rates\" method=\"get\">\n<select name=\"type\">\n")
	for _, d := range s.Datasets {
		sel := ""
		if d.Value == ds.Value {
			sel = " selected=\"selected\""
		}
		fmt.Fprintf(&b, "<option value=\"%s\"%s>%s</option>\n", html.EscapeString(d.Value), sel, html.EscapeString(d.Label))
	}
	b.WriteString("</select>\n<select id=\"edit-field-tdr-date-value\" name=\"field_tdr_date_value\">\n")
	for _, p := range []struct{ v, label string }{{"all", "- All -"}, {"2024", "2024"}} {
		sel := ""
		if p.v == period {
			sel = " selected=\"selected\""
		}
		fmt.Fprintf(&b, "<option value=\"%s\"%s>%s</option>\n", p.v, sel, p.label)
	}
	b.WriteString("</select>\n<input type=\"submit\" id=\"edit-submit-dfu-tool-page\" value=\"Apply\">\n</form>\n")

	if !s.NoTableFor[ds.Value] {
		b.WriteString("<table>\n<tr>")
		for _, h := range ds.Headers {
			fmt.Fprintf(&b, "<th>%s</th>", html.EscapeString(h))
		}
		b.WriteString("</tr>\n")
		if page < len(ds.Pages) {
			for _, row := range ds.Pages[page] {
				b.WriteString("<tr>")
				for _, c := range row {
					fmt.Fprintf(&b, "<td> %s </td>", html.EscapeString(c))
				}
				b.WriteString("</tr>\n")
			}
		}
		b.WriteString("</table>\n")
	}

	next := page + 1
	if ds.StuckPager {
		next = page
	}
	if ds.StuckPager || page+1 < len(ds.Pages) {
		fmt.Fprintf(&b, "<ul><li class=\"pager__item pager__item--next\"><a href=\"?type=%s&field_tdr_date_value=%s&page=%d\">Next</a></li></ul>\n",
			ds.Value, period, next)
	}
	b.WriteString("</body></html>")
	fmt.Fprint(w, b.String())
}
