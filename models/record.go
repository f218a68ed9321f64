package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Record is a JSON object that remembers key order. Values are nil, bool,
// string, json.Number, []any or *Record.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// Set stores v under key, appending key if it is new.
func (r *Record) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in document order.
func (r *Record) Keys() []string { return r.keys }

// Len returns the number of keys.
func (r *Record) Len() int { return len(r.keys) }

// UnmarshalJSON decodes a JSON object, keeping key order and number text.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	rec, ok := v.(*Record)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*r = *rec
	return nil
}

// MarshalJSON encodes the record with its original key order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeJSON decodes any JSON document into the Record value model: objects
// become *Record, arrays []any and numbers json.Number.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			rec := NewRecord()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", kt)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				rec.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return rec, nil
		case '[':
			list := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	default:
		return t, nil
	}
}

// Field is one flattened key and its scalar value.
type Field struct {
	Key   string
	Value any
}

// RawRecord is a flattened record: dotted keys in first-seen order.
type RawRecord []Field

// Flatten turns nested objects into dotted keys at any depth. Lists are kept
// as a single value under their key.
func (r *Record) Flatten() RawRecord {
	var out RawRecord
	r.flattenInto("", &out)
	return out
}

func (r *Record) flattenInto(prefix string, out *RawRecord) {
	for _, k := range r.keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := r.values[k].(*Record); ok {
			if nested.Len() == 0 {
				*out = append(*out, Field{Key: key, Value: nil})
				continue
			}
			nested.flattenInto(key, out)
			continue
		}
		*out = append(*out, Field{Key: key, Value: r.values[k]})
	}
}
