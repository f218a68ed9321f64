package processor

import (
	"encoding/json"
	"fmt"
	"strconv"

	"stocklake/internal/etlerr"
	"stocklake/models"
)

// BuildTable flattens records into a table. Nested objects become dotted
// columns at any depth, columns appear in first-seen order, and a record that
// lacks a column contributes a null. Column kinds are inferred from the values.
func BuildTable(records []*models.Record) (*models.Table, error) {
	var (
		order []string
		cells = make(map[string][]any)
	)
	for i, rec := range records {
		if rec == nil {
			return nil, etlerr.Errorf(etlerr.Envelope, "tabulate", "record %d is not an object", i)
		}
		for _, f := range rec.Flatten() {
			col, seen := cells[f.Key]
			if !seen {
				order = append(order, f.Key)
				col = make([]any, i, len(records))
			}
			if len(col) == i+1 {
				// "a.b" and {"a":{"b":..}} collide; last one wins
				col[i] = f.Value
				continue
			}
			cells[f.Key] = append(col, f.Value)
		}
		// pad columns this record did not carry
		for _, name := range order {
			if len(cells[name]) < i+1 {
				cells[name] = append(cells[name], nil)
			}
		}
	}

	tbl := models.NewTable()
	for _, name := range order {
		col, err := inferColumn(name, cells[name])
		if err != nil {
			return nil, etlerr.New(etlerr.Envelope, "tabulate", err)
		}
		if err := tbl.AddColumn(col); err != nil {
			return nil, etlerr.New(etlerr.Envelope, "tabulate", err)
		}
	}
	return tbl, nil
}

// RecordsFromData turns the envelope data field into records. A list of
// objects is used as is, an object whose values are all lists is treated as
// per-key lists and concatenated, and any other object is a single record.
func RecordsFromData(data json.RawMessage) ([]*models.Record, error) {
	v, err := models.DecodeJSON(data)
	if err != nil {
		return nil, etlerr.Errorf(etlerr.Envelope, "decode data", "%w", err)
	}
	switch d := v.(type) {
	case []any:
		return recordsFromList(d)
	case *models.Record:
		if d.Len() > 0 && allLists(d) {
			var out []*models.Record
			for _, k := range d.Keys() {
				list, _ := d.Get(k)
				recs, err := recordsFromList(list.([]any))
				if err != nil {
					return nil, err
				}
				out = append(out, recs...)
			}
			return out, nil
		}
		return []*models.Record{d}, nil
	default:
		return nil, etlerr.Errorf(etlerr.Envelope, "decode data", "data is %s, not tabular", jsonKind(v))
	}
}

func recordsFromList(list []any) ([]*models.Record, error) {
	out := make([]*models.Record, 0, len(list))
	for i, item := range list {
		rec, ok := item.(*models.Record)
		if !ok {
			return nil, etlerr.Errorf(etlerr.Envelope, "decode data", "element %d is %s, not an object", i, jsonKind(item))
		}
		out = append(out, rec)
	}
	return out, nil
}

func allLists(r *models.Record) bool {
	for _, k := range r.Keys() {
		v, _ := r.Get(k)
		if _, ok := v.([]any); !ok {
			return false
		}
	}
	return true
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case []any:
		return "a list"
	case *models.Record:
		return "an object"
	}
	return fmt.Sprintf("%T", v)
}

type kindSet struct {
	bools, ints, floats, strings, lists bool
}

func (s kindSet) kind() models.Kind {
	switch {
	case s.lists || s.strings:
		return models.KindString
	case s.bools && (s.ints || s.floats):
		return models.KindString
	case s.bools:
		return models.KindBool
	case s.floats:
		return models.KindFloat64
	case s.ints:
		return models.KindInt64
	}
	// only nulls
	return models.KindString
}

func inferColumn(name string, raw []any) (*models.Column, error) {
	var ks kindSet
	for _, v := range raw {
		switch x := v.(type) {
		case nil:
		case bool:
			ks.bools = true
		case string:
			ks.strings = true
		case json.Number:
			if _, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
				ks.ints = true
			} else {
				ks.floats = true
			}
		case []any:
			ks.lists = true
		default:
			return nil, fmt.Errorf("column %q: unsupported value %T", name, v)
		}
	}

	kind := ks.kind()
	values := make([]any, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		cell, err := convertScalar(v, kind)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		values[i] = cell
	}
	return &models.Column{Name: name, Kind: kind, Values: values}, nil
}

func convertScalar(v any, kind models.Kind) (any, error) {
	switch kind {
	case models.KindBool:
		return v.(bool), nil
	case models.KindInt64:
		return strconv.ParseInt(v.(json.Number).String(), 10, 64)
	case models.KindFloat64:
		return strconv.ParseFloat(v.(json.Number).String(), 64)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return nil, fmt.Errorf("unsupported value %T", v)
}
