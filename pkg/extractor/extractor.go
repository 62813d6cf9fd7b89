package extractor

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/browser"
)

// ErrNoTable means the page has no table element at all.
var ErrNoTable = errors.New("no table on page")

// ExtractTable reads the first table matching selector into a models.Table.
//
// Headers come from the th cells of the first row (or of thead when the first
// row has none); data comes from the td cells of every later row. Rows with no
// td cells are skipped. A header-only table returns (nil, nil). A table with
// no th cells at all gets column_<i> headers sized to its widest row.
func ExtractTable(doc *goquery.Document, selector string) (*models.Table, error) {
	if selector == "" {
		selector = "table"
	}
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, selector)
	}

	rows := table.Find("tr")
	headers := cellTexts(rows.First().Find("th"))
	start := 1
	if len(headers) == 0 {
		headers = cellTexts(table.Find("thead th"))
		start = 0
	}

	var data [][]string
	if rows.Length() <= start {
		return nil, nil
	}
	rows.Slice(start, rows.Length()).Each(func(_ int, tr *goquery.Selection) {
		cells := cellTexts(tr.Find("td"))
		if len(cells) == 0 {
			return
		}
		data = append(data, cells)
	})

	if len(data) == 0 {
		return nil, nil
	}
	if len(headers) == 0 {
		headers = placeholderHeaders(data)
	}
	return &models.Table{Headers: headers, Rows: data}, nil
}

func placeholderHeaders(rows [][]string) []string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	headers := make([]string, width)
	for i := range headers {
		headers[i] = "column_" + strconv.Itoa(i)
	}
	return headers
}

func cellTexts(sel *goquery.Selection) []string {
	var out []string
	sel.Each(func(_ int, c *goquery.Selection) {
		out = append(out, browser.Text(c.Text()))
	})
	return out
}
