package models

import (
	"fmt"
	"sort"
	"time"
)

// Kind is the logical type of a table column.
type Kind string

const (
	KindString    Kind = "string"
	KindCategory  Kind = "category"
	KindInt64     Kind = "int64"
	KindFloat64   Kind = "float64"
	KindFloat16   Kind = "float16"
	KindBool      Kind = "bool"
	KindTimestamp Kind = "timestamp"
	KindDate      Kind = "date"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindCategory, KindInt64, KindFloat64, KindFloat16, KindBool, KindTimestamp, KindDate:
		return true
	}
	return false
}

// Numeric reports whether values of k can take part in sums and means.
func (k Kind) Numeric() bool {
	return k == KindInt64 || k == KindFloat64 || k == KindFloat16
}

// Column holds the values of one table column. A nil value is null.
//
// Values are string (string, category), int64, float64, float32 (float16,
// already rounded to half precision), bool, or time.Time in UTC
// (timestamp, date at midnight).
type Column struct {
	Name   string
	Kind   Kind
	Values []any
	// Levels is the sorted dictionary of a category column.
	Levels []string
}

// NullCount returns the number of null values in the column.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// AllNull reports whether every value of the column is null.
func (c *Column) AllNull() bool {
	return c.NullCount() == len(c.Values)
}

// Clone returns a copy of the column that shares no slices with c.
func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Values: make([]any, len(c.Values))}
	copy(out.Values, c.Values)
	if c.Levels != nil {
		out.Levels = append([]string(nil), c.Levels...)
	}
	return out
}

// Table is an ordered collection of equally long columns. Row order carries
// no meaning.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// NewTable returns an empty table with no columns.
func NewTable() *Table {
	return &Table{index: make(map[string]int)}
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return t.rows }

// NumColumns returns the column count.
func (t *Table) NumColumns() int { return len(t.columns) }

// Columns returns the columns in order. The slice must not be modified.
func (t *Table) Columns() []*Column { return t.columns }

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// AddColumn appends a column. The first column fixes the row count; later
// columns must match it.
func (t *Table) AddColumn(col *Column) error {
	if col == nil {
		return fmt.Errorf("nil column")
	}
	if _, dup := t.index[col.Name]; dup {
		return fmt.Errorf("duplicate column %q", col.Name)
	}
	if !col.Kind.Valid() {
		return fmt.Errorf("column %q: unknown kind %q", col.Name, col.Kind)
	}
	if len(t.columns) > 0 && len(col.Values) != t.rows {
		return fmt.Errorf("column %q has %d rows, table has %d", col.Name, len(col.Values), t.rows)
	}
	if len(t.columns) == 0 {
		t.rows = len(col.Values)
	}
	t.index[col.Name] = len(t.columns)
	t.columns = append(t.columns, col)
	return nil
}

// SetColumn replaces the column with the same name or appends it.
func (t *Table) SetColumn(col *Column) error {
	i, ok := t.index[col.Name]
	if !ok {
		return t.AddColumn(col)
	}
	if len(col.Values) != t.rows {
		return fmt.Errorf("column %q has %d rows, table has %d", col.Name, len(col.Values), t.rows)
	}
	t.columns[i] = col
	return nil
}

// DropColumn removes a column; dropping an unknown column is a no-op.
func (t *Table) DropColumn(name string) {
	i, ok := t.index[name]
	if !ok {
		return
	}
	t.columns = append(t.columns[:i], t.columns[i+1:]...)
	t.reindex()
	if len(t.columns) == 0 {
		t.rows = 0
	}
}

// RenameColumn renames a column in place, keeping its position.
func (t *Table) RenameColumn(from, to string) error {
	if from == to {
		return nil
	}
	i, ok := t.index[from]
	if !ok {
		return fmt.Errorf("rename: no column %q", from)
	}
	if _, dup := t.index[to]; dup {
		return fmt.Errorf("rename %q: column %q already exists", from, to)
	}
	t.columns[i].Name = to
	t.reindex()
	return nil
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	out := &Table{columns: make([]*Column, len(t.columns)), rows: t.rows}
	for i, c := range t.columns {
		out.columns[i] = c.Clone()
	}
	out.reindex()
	return out
}

// Take returns a new table holding the given rows, in the given order.
func (t *Table) Take(rows []int) *Table {
	out := &Table{columns: make([]*Column, len(t.columns))}
	for i, c := range t.columns {
		nc := &Column{Name: c.Name, Kind: c.Kind, Values: make([]any, len(rows))}
		if c.Levels != nil {
			nc.Levels = append([]string(nil), c.Levels...)
		}
		for j, r := range rows {
			nc.Values[j] = c.Values[r]
		}
		out.columns[i] = nc
	}
	if len(t.columns) > 0 {
		out.rows = len(rows)
	}
	out.reindex()
	return out
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.columns))
	for i, c := range t.columns {
		t.index[c.Name] = i
	}
}

// Concat stacks tables vertically. Columns are the union of all inputs in
// first-seen order; rows missing a column get nulls. Conflicting kinds widen:
// int64 with float64 becomes float64, anything else becomes string.
func Concat(tables ...*Table) (*Table, error) {
	var (
		order []string
		kinds = make(map[string]Kind)
		total int
	)
	for _, t := range tables {
		if t == nil {
			continue
		}
		total += t.rows
		for _, c := range t.columns {
			prev, seen := kinds[c.Name]
			if !seen {
				order = append(order, c.Name)
				kinds[c.Name] = c.Kind
				continue
			}
			kinds[c.Name] = widen(prev, c.Kind)
		}
	}

	out := NewTable()
	for _, name := range order {
		kind := kinds[name]
		values := make([]any, 0, total)
		for _, t := range tables {
			if t == nil {
				continue
			}
			c, ok := t.Column(name)
			if !ok {
				for i := 0; i < t.rows; i++ {
					values = append(values, nil)
				}
				continue
			}
			for _, v := range c.Values {
				values = append(values, convertWidened(v, c.Kind, kind))
			}
		}
		col := &Column{Name: name, Kind: kind, Values: values}
		if kind == KindCategory {
			col.Levels = SortedLevels(values)
		}
		if err := out.AddColumn(col); err != nil {
			return nil, err
		}
	}
	if len(order) == 0 {
		return out, nil
	}
	out.rows = total
	return out, nil
}

func widen(a, b Kind) Kind {
	if a == b {
		return a
	}
	if a.Numeric() && b.Numeric() {
		return KindFloat64
	}
	return KindString
}

// SortedLevels returns the distinct non-null string values in ascending order.
func SortedLevels(values []any) []string {
	seen := make(map[string]struct{})
	var levels []string
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		levels = append(levels, s)
	}
	sort.Strings(levels)
	return levels
}

func convertWidened(v any, from, to Kind) any {
	if v == nil || from == to {
		return v
	}
	switch to {
	case KindFloat64:
		switch n := v.(type) {
		case int64:
			return float64(n)
		case float32:
			return float64(n)
		case float64:
			return n
		}
	case KindString:
		return FormatValue(v)
	}
	return v
}

// FormatValue renders a non-null cell value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// DateLayout is the text form of a date value.
const DateLayout = "2006-01-02"
