// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tabular reads header-validated CSV snapshots and writes processed
// tables with deterministic number formatting, so that rerunning a pipeline
// on unchanged inputs produces byte-identical output files.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pdiddy/resurgence/pkg/types"
)

// ErrMissingColumn is wrapped by a ParseError when a required header is absent.
var ErrMissingColumn = errors.New("missing required column")

// Reader reads CSV records by column name.
type Reader struct {
	name   string
	csv    *csv.Reader
	header map[string]int
	cols   []string
	line   int
}

// NewReader reads the header row from r and checks that every required
// column is present. name identifies the source in errors.
func NewReader(name string, r io.Reader, required ...string) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	head, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &types.ParseError{File: name, Line: 1, Err: errors.New("empty file")}
		}
		return nil, &types.ParseError{File: name, Line: 1, Err: err}
	}

	rd := &Reader{name: name, csv: cr, header: make(map[string]int, len(head)), line: 1}
	for i, h := range head {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		rd.cols = append(rd.cols, h)
		if _, dup := rd.header[h]; !dup {
			rd.header[h] = i
		}
	}
	for _, col := range required {
		if _, ok := rd.header[col]; !ok {
			return nil, &types.ParseError{File: name, Line: 1, Field: col, Err: ErrMissingColumn}
		}
	}
	return rd, nil
}

// Columns returns the header names in file order.
func (r *Reader) Columns() []string { return r.cols }

// Has reports whether the header contains col.
func (r *Reader) Has(col string) bool {
	_, ok := r.header[col]
	return ok
}

// Read returns the next record, or io.EOF at end of input.
func (r *Reader) Read() (Record, error) {
	fields, err := r.csv.Read()
	if err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		var pe *csv.ParseError
		line := r.line + 1
		if errors.As(err, &pe) {
			line = pe.Line
		}
		return Record{}, &types.ParseError{File: r.name, Line: line, Err: err}
	}
	r.line++
	return Record{reader: r, fields: fields, Line: r.line}, nil
}

// Record is one CSV row.
type Record struct {
	reader *Reader
	fields []string

	// Line is the 1-based line number of the row (the header is line 1).
	Line int
}

// Get returns the trimmed value of col, or "" when the column is absent or
// the row is short.
func (rec Record) Get(col string) string {
	i, ok := rec.reader.header[col]
	if !ok || i >= len(rec.fields) {
		return ""
	}
	return strings.TrimSpace(rec.fields[i])
}

// Float parses col as a float64. Empty cells and unparseable values are a
// ParseError naming the file, line and column.
func (rec Record) Float(col string) (float64, error) {
	s := rec.Get(col)
	if s == "" {
		return 0, rec.errorf(col, errors.New("empty value"))
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, rec.errorf(col, err)
	}
	return v, nil
}

// Int parses col as an int.
func (rec Record) Int(col string) (int, error) {
	s := rec.Get(col)
	if s == "" {
		return 0, rec.errorf(col, errors.New("empty value"))
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, rec.errorf(col, err)
	}
	return v, nil
}

func (rec Record) errorf(col string, err error) error {
	return &types.ParseError{File: rec.reader.name, Line: rec.Line, Field: col, Err: err}
}

// Float formats v with the shortest representation that round-trips.
// NaN and infinities are written as empty cells.
func Float(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Fixed formats v rounded to places decimals. NaN and infinities are empty.
func Fixed(v float64, places int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(Round(v, places), 'f', -1, 64)
}

// Null formats an optional value; undefined values are empty cells.
func Null(v types.NullFloat) string {
	if !v.Valid {
		return ""
	}
	return Float(v.Value)
}

// NullFixed formats an optional value rounded to places decimals.
func NullFixed(v types.NullFloat, places int) string {
	if !v.Valid {
		return ""
	}
	return Fixed(v.Value, places)
}

// Int formats an integer.
func Int(v int) string { return strconv.Itoa(v) }

// Bool formats a boolean as "true" or "false".
func Bool(v bool) string { return strconv.FormatBool(v) }

// Round rounds half away from zero to places decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if r == 0 {
		return 0
	}
	return r
}

// Table is an in-memory output table.
type Table struct {
	Header []string
	Rows   [][]string
}

// Append adds a row. The row must have one cell per header column.
func (t *Table) Append(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Encode writes the table as CSV with a trailing newline after every row.
func (t *Table) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Header) {
			return fmt.Errorf("row %d has %d cells, header has %d", i+1, len(row), len(t.Header))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
