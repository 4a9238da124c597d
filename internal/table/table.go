// Package table turns flattened records into column-ordered tables that the
// writers can consume.
package table

import (
	"github.com/bl4ck0w1/tesuite/internal/flatten"
)

type ColumnType int

const (
	TypeNull ColumnType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeString
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	}
	return "null"
}

// Numeric reports whether the column holds only numbers (and nulls).
func (t ColumnType) Numeric() bool {
	return t == TypeInt || t == TypeFloat
}

type Column struct {
	Name string
	Type ColumnType
}

// Table is a named, rectangular view of a record set. Missing cells are null.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]flatten.Value
}

// FromRecords builds a table whose columns are the union of record keys in
// first-seen order.
func FromRecords(name string, records []flatten.Record) *Table {
	t := &Table{Name: name}
	index := make(map[string]int)
	for _, r := range records {
		for _, f := range r {
			if _, ok := index[f.Key]; !ok {
				index[f.Key] = len(t.Columns)
				t.Columns = append(t.Columns, Column{Name: f.Key})
			}
		}
	}

	t.Rows = make([][]flatten.Value, len(records))
	for i, r := range records {
		row := make([]flatten.Value, len(t.Columns))
		for _, f := range r {
			row[index[f.Key]] = f.Value
		}
		t.Rows[i] = row
	}
	t.inferTypes()
	return t
}

func (t *Table) inferTypes() {
	for c := range t.Columns {
		typ := TypeNull
		for _, row := range t.Rows {
			typ = merge(typ, cellType(row[c]))
			if typ == TypeString {
				break
			}
		}
		t.Columns[c].Type = typ
	}
}

func cellType(v flatten.Value) ColumnType {
	switch v.Kind() {
	case flatten.Null:
		return TypeNull
	case flatten.Bool:
		return TypeBool
	case flatten.Number:
		if _, ok := v.Int64(); ok {
			return TypeInt
		}
		if _, ok := v.Float64(); ok {
			return TypeFloat
		}
	}
	return TypeString
}

// merge widens a column type: int and float give float, any other mix gives
// string.
func merge(a, b ColumnType) ColumnType {
	switch {
	case a == b:
		return a
	case a == TypeNull:
		return b
	case b == TypeNull:
		return a
	case a.Numeric() && b.Numeric():
		return TypeFloat
	}
	return TypeString
}

func (t *Table) Len() int { return len(t.Rows) }

func (t *Table) Empty() bool { return len(t.Rows) == 0 }

func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Clone copies the row slices; values themselves are immutable.
func (t *Table) Clone() *Table {
	out := &Table{
		Name:    t.Name,
		Columns: append([]Column(nil), t.Columns...),
		Rows:    make([][]flatten.Value, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]flatten.Value(nil), row...)
	}
	return out
}

// Map applies fn to every cell of the columns for which keep returns true and
// returns the result as a new table. Column types are recomputed.
func (t *Table) Map(keep func(Column) bool, fn func(flatten.Value) flatten.Value) *Table {
	out := t.Clone()
	for c, col := range out.Columns {
		if !keep(col) {
			continue
		}
		for _, row := range out.Rows {
			row[c] = fn(row[c])
		}
	}
	out.inferTypes()
	return out
}
