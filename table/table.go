// Copyright 2023 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package table renders rows of market data as aligned text or CSV.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/stockparfait/errors"
)

// Row interface that a table row representation must implement.
type Row interface {
	CSV() []string // an encoding/csv compatible row representation
}

// Table container with an optional header. When present, the number of
// column headers must equal the number of elements in each Row.
type Table struct {
	Header []string
	Rows   []Row
}

// NewTable creates a new Table instance with optional column headers.
func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

// AddRow adds one or more rows to the table.
func (t *Table) AddRow(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// Params are parameters for text or CSV export of Table data.
type Params struct {
	Rows     int  // max. number of rows to write; 0 = unlimited (default)
	NoHeader bool // whether to print the header, default - yes
}

// limited returns the rows to write, respecting the Rows limit.
func (t *Table) limited(p Params) []Row {
	if p.Rows > 0 && p.Rows < len(t.Rows) {
		return t.Rows[:p.Rows]
	}
	return t.Rows
}

// WriteCSV writes the entire table to w in CSV format.
func (t *Table) WriteCSV(w io.Writer, p Params) error {
	cw := csv.NewWriter(w)
	if !p.NoHeader && len(t.Header) > 0 {
		if err := cw.Write(t.Header); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
	}
	for _, r := range t.limited(p) {
		if err := cw.Write(r.CSV()); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Annotate(err, "failed to flush written rows")
	}
	return nil
}

// WriteText writes the table as right-aligned columns separated by " | ",
// with a dashed line under the header.
func (t *Table) WriteText(w io.Writer, p Params) error {
	rows := t.limited(p)
	var lines [][]string
	if !p.NoHeader && len(t.Header) > 0 {
		lines = append(lines, t.Header)
	}
	for _, r := range rows {
		lines = append(lines, r.CSV())
	}
	if len(lines) == 0 {
		return nil
	}
	widths := make([]int, len(lines[0]))
	for _, l := range lines {
		if len(l) != len(widths) {
			return errors.Reason("row size [%d] != expected size [%d]",
				len(l), len(widths))
		}
		for i, cell := range l {
			if widths[i] < len(cell) {
				widths[i] = len(cell)
			}
		}
	}
	writeLine := func(cells []string) error {
		padded := make([]string, len(cells))
		for i, cell := range cells {
			padded[i] = fmt.Sprintf("%*s", widths[i], cell)
		}
		_, err := fmt.Fprintf(w, "%s\n", strings.Join(padded, " | "))
		return err
	}
	next := 0
	if !p.NoHeader && len(t.Header) > 0 {
		if err := writeLine(lines[0]); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
		dashes := make([]string, len(widths))
		for i, w := range widths {
			dashes[i] = strings.Repeat("-", w)
		}
		if err := writeLine(dashes); err != nil {
			return errors.Annotate(err, "failed to write header separator")
		}
		next = 1
	}
	for _, l := range lines[next:] {
		if err := writeLine(l); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	return nil
}
