package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eringen/pagegen/tmpl"
)

// Cell is one column of an input row.
type Cell struct {
	Column string
	Value  string
}

// Row is an input record with its columns in source order.
type Row struct {
	Cells []Cell
}

// RowOf builds a row from alternating column/value pairs.
func RowOf(kv ...string) Row {
	var r Row
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], kv[i+1])
	}
	return r
}

// Get returns the value of column, and whether the column exists.
func (r Row) Get(column string) (string, bool) {
	for _, c := range r.Cells {
		if c.Column == column {
			return c.Value, true
		}
	}
	return "", false
}

// Set replaces an existing column in place or appends a new one.
func (r *Row) Set(column, value string) {
	for i := range r.Cells {
		if r.Cells[i].Column == column {
			r.Cells[i].Value = value
			return
		}
	}
	r.Cells = append(r.Cells, Cell{Column: column, Value: value})
}

// MarshalJSON writes the row as a JSON object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	m := tmpl.NewMap()
	for _, c := range r.Cells {
		m.SetString(c.Column, c.Value)
	}
	return m.MarshalJSON()
}

// UnmarshalJSON reads a JSON object of scalars. Non-string values keep their
// canonical text form.
func (r *Row) UnmarshalJSON(b []byte) error {
	v, err := tmpl.ParseJSON(string(b))
	if err != nil {
		return err
	}
	if v.Kind() != tmpl.KindMap {
		return fmt.Errorf("pipeline: row must be a JSON object, got %s", v.Kind())
	}
	r.Cells = r.Cells[:0]
	v.Map().Range(func(k string, val tmpl.Value) bool {
		s := ""
		if !val.IsNull() {
			s = val.String()
		}
		r.Cells = append(r.Cells, Cell{Column: k, Value: s})
		return true
	})
	return nil
}

// ReadCSV parses a CSV document whose first record is the header. Header
// names are trimmed; short records leave trailing columns empty.
func ReadCSV(rd io.Reader) ([]Row, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("pipeline: csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline: read csv line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		var row Row
		for i, col := range header {
			if col == "" {
				continue
			}
			val := ""
			if i < len(rec) {
				val = strings.TrimSpace(rec[i])
			}
			row.Set(col, val)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadJSONRows parses a JSON array of row objects.
func ReadJSONRows(b []byte) ([]Row, error) {
	var rows []Row
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("pipeline: decode rows: %w", err)
	}
	return rows, nil
}
