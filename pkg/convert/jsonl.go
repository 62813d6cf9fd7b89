package convert

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/storage"
)

// EncodeJSONL re-encodes a CSV file as JSON Lines, one object per row with
// keys in header order. It returns the number of rows written.
func EncodeJSONL(src, dst string) (int, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return 0, ErrNoColumns
	}
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	headers = UniqueHeaders(headers)

	keys := make([][]byte, len(headers))
	for i, h := range headers {
		if keys[i], err = json.Marshal(h); err != nil {
			return 0, err
		}
	}

	out, err := storage.CreateTemp(dst)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(out)

	rows := 0
	var line bytes.Buffer
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			storage.Abort(out)
			return rows, err
		}
		if len(rec) > len(headers) {
			storage.Abort(out)
			l, _ := cr.FieldPos(0)
			return rows, fmt.Errorf("%w: line %d", ErrRowTooWide, l)
		}

		line.Reset()
		line.WriteByte('{')
		for i := range headers {
			if i > 0 {
				line.WriteByte(',')
			}
			line.Write(keys[i])
			line.WriteByte(':')
			val := ""
			if i < len(rec) {
				val = rec[i]
			}
			b, _ := json.Marshal(val)
			line.Write(b)
		}
		line.WriteString("}\n")
		if _, err := w.Write(line.Bytes()); err != nil {
			storage.Abort(out)
			return rows, err
		}
		rows++
	}
	if err := w.Flush(); err != nil {
		storage.Abort(out)
		return rows, err
	}
	return rows, storage.Commit(out, dst)
}

// PreviewTable decodes the first n lines of a JSONL file into a table whose
// columns follow the first object's key order.
func PreviewTable(path string, n int) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := newJSONLSource(f, "")
	if err != nil {
		return nil, err
	}
	t := &models.Table{Headers: src.Headers()}
	for t.Len() < n {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t, err
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
