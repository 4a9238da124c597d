// Package sanitize prepares tables for a specific output format. Every pass
// returns new tables; the input is left untouched.
package sanitize

import (
	"strings"

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/internal/table"
)

const (
	// MaxURLLength is the longest hyperlink a spreadsheet cell accepts.
	MaxURLLength = 2079
	// MaxCellLength is the longest text a spreadsheet cell holds.
	MaxCellLength = 32767
)

func nonNumeric(c table.Column) bool { return !c.Type.Numeric() }

// ForSpreadsheet caps cell text to what a workbook accepts.
func ForSpreadsheet(tables []*table.Table) []*table.Table {
	out := make([]*table.Table, len(tables))
	for i, t := range tables {
		out[i] = Spreadsheet(t)
	}
	return out
}

func Spreadsheet(t *table.Table) *table.Table {
	return t.Map(nonNumeric, spreadsheetCell)
}

func spreadsheetCell(v flatten.Value) flatten.Value {
	switch v.Kind() {
	case flatten.String:
		s := v.Str()
		limit := MaxCellLength
		if isURL(s) {
			limit = MaxURLLength
		}
		if truncated, ok := truncate(s, limit); ok {
			return flatten.StringValue(truncated)
		}
		return v
	case flatten.Array, flatten.Object:
		if truncated, ok := truncate(v.JSON(), MaxCellLength); ok {
			return flatten.StringValue(truncated)
		}
	}
	return v
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// truncate cuts s to limit runes and reports whether it had to.
func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}

// ForColumnar encodes lists and objects as JSON text, since columnar cells
// hold scalars only.
func ForColumnar(tables []*table.Table) []*table.Table {
	out := make([]*table.Table, len(tables))
	for i, t := range tables {
		out[i] = Columnar(t)
	}
	return out
}

func Columnar(t *table.Table) *table.Table {
	return t.Map(nonNumeric, columnarCell)
}

func columnarCell(v flatten.Value) flatten.Value {
	if v.IsScalar() {
		return v
	}
	return flatten.StringValue(v.JSON())
}
