package processor

import (
	"fmt"

	"stocklake/internal/etlerr"
	"stocklake/models"
)

// FieldMapping maps one bronze column onto a silver column.
type FieldMapping struct {
	Source string
	Target string
	Type   models.Kind
	// Optional columns may be absent from the bronze table.
	Optional bool
	// NotNull rejects rows whose value is null.
	NotNull bool
}

// SchemaMapping is a versioned bronze to silver contract. Columns the mapping
// does not name pass through unchanged.
type SchemaMapping struct {
	Name    string
	Version int
	Fields  []FieldMapping
	// DropAllNull removes columns without a single value before validation.
	DropAllNull bool
}

// IntradayV1 maps bronze intraday bars to silver.
var IntradayV1 = SchemaMapping{
	Name:    "intraday",
	Version: 1,
	Fields: []FieldMapping{
		{Source: "ticker", Target: "symbol", Type: models.KindString, NotNull: true},
		{Source: "data.open", Target: "open_value", Type: models.KindFloat16},
		{Source: "data.high", Target: "high_value", Type: models.KindFloat16},
		{Source: "data.low", Target: "low_value", Type: models.KindFloat16},
		{Source: "data.close", Target: "close_value", Type: models.KindFloat16},
		{Source: "data.volume", Target: "trading_volume", Type: models.KindInt64},
		{Source: "data.is_extended_hours", Target: "is_extended_hours", Type: models.KindBool, Optional: true},
		{Source: "date", Target: "date", Type: models.KindTimestamp},
		{Source: "only_date", Target: "only_date", Type: models.KindDate},
		{Source: "hour", Target: "hour", Type: models.KindInt64},
	},
}

// SearchV1 maps bronze search entities to silver.
var SearchV1 = SchemaMapping{
	Name:        "search",
	Version:     1,
	DropAllNull: true,
	Fields: []FieldMapping{
		{Source: "symbol", Target: "symbol", Type: models.KindString, NotNull: true},
		{Source: "name", Target: "name", Type: models.KindString},
		{Source: "type", Target: "stock_type", Type: models.KindCategory},
		{Source: "country", Target: "country", Type: models.KindString},
	},
}

// Validate checks the table's columns against the mapping without touching
// any values. Every problem is returned, not just the first.
func (m SchemaMapping) Validate(tbl *models.Table) []etlerr.Mismatch {
	var out []etlerr.Mismatch
	targets := make(map[string]string)
	for _, f := range m.Fields {
		if prev, dup := targets[f.Target]; dup {
			out = append(out, etlerr.Mismatch{Column: f.Source, Problem: fmt.Sprintf("target %q already mapped from %q", f.Target, prev)})
			continue
		}
		targets[f.Target] = f.Source

		col, ok := tbl.Column(f.Source)
		if !ok {
			if !f.Optional {
				out = append(out, etlerr.Mismatch{Column: f.Source, Problem: "missing column"})
			}
			continue
		}
		if !Coercible(col.Kind, f.Type) {
			out = append(out, etlerr.Mismatch{Column: f.Source, Problem: fmt.Sprintf("cannot coerce %s to %s", col.Kind, f.Type)})
		}
	}
	for _, name := range tbl.ColumnNames() {
		if src, taken := targets[name]; taken && !m.maps(name) {
			out = append(out, etlerr.Mismatch{Column: name, Problem: fmt.Sprintf("unmapped column collides with target of %q", src)})
		}
	}
	return out
}

func (m SchemaMapping) maps(source string) bool {
	for _, f := range m.Fields {
		if f.Source == source {
			return true
		}
	}
	return false
}

// Apply validates tbl and returns a new table with every mapped column cast
// and renamed. Any mismatch or unconvertible value fails the whole table
// with a schema error.
func (m SchemaMapping) Apply(tbl *models.Table) (*models.Table, error) {
	op := fmt.Sprintf("silver.%s", m.Name)
	out := tbl.Clone()
	if m.DropAllNull {
		DropAllNullColumns(out)
	}
	if mm := m.Validate(out); len(mm) > 0 {
		return nil, etlerr.New(etlerr.Schema, op, &etlerr.SchemaMismatchError{Mapping: m.Name, Version: m.Version, Mismatches: mm})
	}

	var mismatches []etlerr.Mismatch
	for _, f := range m.Fields {
		col, ok := out.Column(f.Source)
		if !ok {
			continue
		}
		cast, err := castColumn(col, f)
		if err != nil {
			mismatches = append(mismatches, etlerr.Mismatch{Column: f.Source, Problem: err.Error()})
			continue
		}
		if err := out.SetColumn(cast); err != nil {
			return nil, etlerr.New(etlerr.Schema, op, err)
		}
	}
	if len(mismatches) > 0 {
		return nil, etlerr.New(etlerr.Schema, op, &etlerr.SchemaMismatchError{Mapping: m.Name, Version: m.Version, Mismatches: mismatches})
	}

	for _, f := range m.Fields {
		if _, ok := out.Column(f.Source); !ok {
			continue
		}
		if err := out.RenameColumn(f.Source, f.Target); err != nil {
			return nil, etlerr.New(etlerr.Schema, op, err)
		}
	}
	return out, nil
}

func castColumn(col *models.Column, f FieldMapping) (*models.Column, error) {
	out := &models.Column{Name: col.Name, Kind: f.Type, Values: make([]any, len(col.Values))}
	for i, v := range col.Values {
		if v == nil {
			if f.NotNull {
				return nil, fmt.Errorf("row %d: null value", i)
			}
			continue
		}
		cv, err := CoerceValue(v, f.Type)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out.Values[i] = cv
	}
	if f.Type == models.KindCategory {
		out.Levels = models.SortedLevels(out.Values)
	}
	return out, nil
}

// DropAllNullColumns removes every column that holds no value at all.
func DropAllNullColumns(tbl *models.Table) []string {
	var dropped []string
	for _, c := range tbl.Columns() {
		if c.AllNull() {
			dropped = append(dropped, c.Name)
		}
	}
	for _, name := range dropped {
		tbl.DropColumn(name)
	}
	return dropped
}
