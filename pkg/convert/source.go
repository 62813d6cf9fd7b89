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
	"strconv"
	"strings"
)

var (
	ErrUnknownKey  = errors.New("unknown key")
	ErrNestedValue = errors.New("nested values are not supported")
	ErrNotObject   = errors.New("line is not a JSON object")
	ErrRowTooWide  = errors.New("row has more fields than header")
	ErrNoColumns   = errors.New("no columns to parse from file")
)

// rowSource streams rows of string cells. Offset is the number of source
// bytes consumed so far and drives partition boundaries.
type rowSource interface {
	Headers() []string
	Next() ([]string, error)
	Offset() int64
}

type csvSource struct {
	cr       *csv.Reader
	headers  []string
	sentinel string
}

func newCSVSource(r io.Reader, sentinel string) (*csvSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoColumns
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	return &csvSource{cr: cr, headers: headers, sentinel: sentinel}, nil
}

func (s *csvSource) Headers() []string { return s.headers }
func (s *csvSource) Offset() int64     { return s.cr.InputOffset() }

func (s *csvSource) Next() ([]string, error) {
	rec, err := s.cr.Read()
	if err != nil {
		return nil, err
	}
	if len(rec) > len(s.headers) {
		line, _ := s.cr.FieldPos(0)
		return nil, fmt.Errorf("%w: line %d", ErrRowTooWide, line)
	}
	for len(rec) < len(s.headers) {
		rec = append(rec, s.sentinel)
	}
	return rec, nil
}

// headerSource has columns but no rows.
type headerSource struct {
	headers []string
}

func (s *headerSource) Headers() []string       { return s.headers }
func (s *headerSource) Offset() int64           { return 0 }
func (s *headerSource) Next() ([]string, error) { return nil, io.EOF }

// headerOnly reads just the header row of a CSV file.
func headerOnly(path string) (*headerSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, err := newCSVSource(f, "")
	if err != nil {
		return nil, err
	}
	return &headerSource{headers: src.Headers()}, nil
}

type jsonlSource struct {
	br       *bufio.Reader
	offset   int64
	line     int
	headers  []string
	index    map[string]int
	pending  []string
	sentinel string
}

func newJSONLSource(r io.Reader, sentinel string) (*jsonlSource, error) {
	s := &jsonlSource{br: bufio.NewReaderSize(r, 64*1024), sentinel: sentinel}
	raw, err := s.readLine()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoColumns
	}
	if err != nil {
		return nil, err
	}
	keys, vals, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", s.line, err)
	}
	if len(keys) == 0 {
		return nil, ErrNoColumns
	}
	s.headers = keys
	s.index = make(map[string]int, len(keys))
	for i, k := range keys {
		s.index[k] = i
	}
	s.pending = s.fill(vals)
	return s, nil
}

func (s *jsonlSource) Headers() []string { return s.headers }
func (s *jsonlSource) Offset() int64     { return s.offset }

func (s *jsonlSource) Next() ([]string, error) {
	if s.pending != nil {
		row := s.pending
		s.pending = nil
		return row, nil
	}
	raw, err := s.readLine()
	if err != nil {
		return nil, err
	}
	keys, vals, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", s.line, err)
	}
	row := make([]string, len(s.headers))
	for i := range row {
		row[i] = s.sentinel
	}
	for i, k := range keys {
		col, ok := s.index[k]
		if !ok {
			return nil, fmt.Errorf("line %d: %w %q", s.line, ErrUnknownKey, k)
		}
		if vals[i] != nil {
			row[col] = *vals[i]
		}
	}
	return row, nil
}

func (s *jsonlSource) fill(vals []*string) []string {
	row := make([]string, len(vals))
	for i, v := range vals {
		if v == nil {
			row[i] = s.sentinel
		} else {
			row[i] = *v
		}
	}
	return row
}

// readLine returns the next non-blank line, counting every byte read.
func (s *jsonlSource) readLine() ([]byte, error) {
	for {
		line, err := s.br.ReadBytes('\n')
		s.offset += int64(len(line))
		if len(line) > 0 {
			s.line++
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			return trimmed, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// decodeObject parses one flat JSON object, keeping key order. Null values
// come back as nil; other scalars as their JSON text form.
func decodeObject(raw []byte) ([]string, []*string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, ErrNotObject
	}

	var keys []string
	var vals []*string
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, ErrNotObject
		}
		tok, err = dec.Token()
		if err != nil {
			return nil, nil, err
		}
		var val *string
		switch v := tok.(type) {
		case json.Delim:
			return nil, nil, fmt.Errorf("%w: key %q", ErrNestedValue, key)
		case string:
			val = &v
		case json.Number:
			s := v.String()
			val = &s
		case bool:
			s := strconv.FormatBool(v)
			val = &s
		case nil:
		}
		if seen[key] {
			// last value wins, as with encoding/json
			for i, k := range keys {
				if k == key {
					vals[i] = val
				}
			}
			continue
		}
		seen[key] = true
		keys = append(keys, key)
		vals = append(vals, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, nil, errors.New("trailing data after object")
	}
	return keys, vals, nil
}
