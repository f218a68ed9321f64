package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"stocklake/models"
)

// schemaKey is the footer key holding the logical table schema.
const schemaKey = "stocklake.schema"

type columnSchema struct {
	Name      string      `json:"name"`
	Kind      models.Kind `json:"kind"`
	Partition bool        `json:"partition,omitempty"`
}

type tableSchema struct {
	Columns []columnSchema `json:"columns"`
}

// memoryFile is a source.ParquetFile over a byte slice. Writes append;
// every Open returns an independent reader over the same bytes.
type memoryFile struct {
	buffer *bytes.Buffer
	reader *bytes.Reader
}

func newMemoryFileWriter() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func newMemoryFileReader(data []byte) *memoryFile {
	return &memoryFile{reader: bytes.NewReader(data)}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return newMemoryFileWriter(), nil }

func (m *memoryFile) Open(string) (source.ParquetFile, error) {
	if m.reader == nil {
		return newMemoryFileReader(m.buffer.Bytes()), nil
	}
	data := make([]byte, m.reader.Size())
	if _, err := m.reader.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return newMemoryFileReader(data), nil
}

func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	if m.reader == nil {
		return int64(m.buffer.Len()), nil
	}
	return m.reader.Seek(offset, whence)
}

func (m *memoryFile) Read(b []byte) (int, error) {
	if m.reader == nil {
		return 0, io.EOF
	}
	return m.reader.Read(b)
}

func (m *memoryFile) Write(b []byte) (int, error) {
	if m.buffer == nil {
		return 0, fmt.Errorf("memory file is read-only")
	}
	return m.buffer.Write(b)
}

func (m *memoryFile) Close() error { return nil }

func (m *memoryFile) Bytes() []byte { return m.buffer.Bytes() }

// Codec encodes tables to parquet and back.
type Codec struct {
	Compression parquet.CompressionCodec
}

// NewCodec maps a configured compression name onto a parquet codec.
func NewCodec(compression string) Codec {
	c := Codec{}
	switch compression {
	case "snappy":
		c.Compression = parquet.CompressionCodec_SNAPPY
	case "gzip":
		c.Compression = parquet.CompressionCodec_GZIP
	case "zstd":
		c.Compression = parquet.CompressionCodec_ZSTD
	default:
		c.Compression = parquet.CompressionCodec_UNCOMPRESSED
	}
	return c
}

func columnMetadata(c *models.Column) (string, error) {
	var typ string
	switch c.Kind {
	case models.KindString:
		typ = "type=BYTE_ARRAY, convertedtype=UTF8"
	case models.KindCategory:
		typ = "type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"
	case models.KindInt64:
		typ = "type=INT64"
	case models.KindFloat64:
		typ = "type=DOUBLE"
	case models.KindFloat16:
		typ = "type=FLOAT"
	case models.KindBool:
		typ = "type=BOOLEAN"
	case models.KindTimestamp:
		typ = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	case models.KindDate:
		typ = "type=INT32, convertedtype=DATE"
	default:
		return "", fmt.Errorf("column %q: unsupported kind %q", c.Name, c.Kind)
	}
	return fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", c.Name, typ), nil
}

func toParquetValue(c *models.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		ok  bool
	)
	switch c.Kind {
	case models.KindString, models.KindCategory:
		out, ok = v.(string)
	case models.KindInt64:
		out, ok = v.(int64)
	case models.KindFloat64:
		out, ok = v.(float64)
	case models.KindFloat16:
		out, ok = v.(float32)
	case models.KindBool:
		out, ok = v.(bool)
	case models.KindTimestamp:
		var t time.Time
		if t, ok = v.(time.Time); ok {
			out = t.UnixMilli()
		}
	case models.KindDate:
		var t time.Time
		if t, ok = v.(time.Time); ok {
			out = int32(t.Unix() / 86400)
		}
	}
	if !ok {
		return nil, fmt.Errorf("column %q (%s): unexpected value %T", c.Name, c.Kind, v)
	}
	return out, nil
}

func fromParquetValue(kind models.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case models.KindString, models.KindCategory:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case models.KindInt64:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		}
	case models.KindFloat64:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
	case models.KindFloat16:
		if f, ok := v.(float32); ok {
			return f, nil
		}
	case models.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case models.KindTimestamp:
		if ms, ok := v.(int64); ok {
			return time.UnixMilli(ms).UTC(), nil
		}
	case models.KindDate:
		if d, ok := v.(int32); ok {
			return time.Unix(int64(d)*86400, 0).UTC(), nil
		}
	}
	return nil, fmt.Errorf("unexpected %T for %s column", v, kind)
}

// checkColumnNames rejects names that the parquet writer would map onto the
// same internal field. Its field names are capitalised, so "name" and "Name"
// would be written but could not be read back.
func checkColumnNames(names []string) error {
	seen := make(map[string]string, len(names))
	for _, name := range names {
		key := strings.ToLower(name)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("columns %q and %q differ only by case", prev, name)
		}
		seen[key] = name
	}
	return nil
}

// Encode writes the table as a single parquet file. Column kinds, including
// those of partition columns that live in the path, are kept in the footer.
func (c Codec) Encode(tbl *models.Table, partitions []columnSchema) ([]byte, error) {
	if tbl.NumColumns() == 0 {
		return nil, fmt.Errorf("table has no columns")
	}
	if err := checkColumnNames(tbl.ColumnNames()); err != nil {
		return nil, err
	}
	md := make([]string, 0, tbl.NumColumns())
	schema := tableSchema{}
	for _, col := range tbl.Columns() {
		m, err := columnMetadata(col)
		if err != nil {
			return nil, err
		}
		md = append(md, m)
		schema.Columns = append(schema.Columns, columnSchema{Name: col.Name, Kind: col.Kind})
	}
	schema.Columns = append(schema.Columns, partitions...)

	fw := newMemoryFileWriter()
	pw, err := writer.NewCSVWriter(md, fw, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = c.Compression

	cols := tbl.Columns()
	for i := 0; i < tbl.NumRows(); i++ {
		rec := make([]any, len(cols))
		for j, col := range cols {
			v, err := toParquetValue(col, col.Values[i])
			if err != nil {
				pw.WriteStop()
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			rec[j] = v
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	meta, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	value := string(meta)
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{Key: schemaKey, Value: &value})

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

// Decode reads a parquet file produced by Encode. Partition column kinds
// found in the footer are returned for the caller to restore from the path.
func (c Codec) Decode(data []byte) (*models.Table, map[string]models.Kind, error) {
	pr, err := reader.NewParquetColumnReader(newMemoryFileReader(data), 1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer pr.ReadStop()

	var schema tableSchema
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv.Key == schemaKey && kv.Value != nil {
			if err := json.Unmarshal([]byte(*kv.Value), &schema); err != nil {
				return nil, nil, fmt.Errorf("bad schema metadata: %w", err)
			}
		}
	}
	var dataCols []columnSchema
	partitions := make(map[string]models.Kind)
	for _, cs := range schema.Columns {
		if cs.Partition {
			partitions[cs.Name] = cs.Kind
			continue
		}
		dataCols = append(dataCols, cs)
	}

	leaves := len(pr.SchemaHandler.ValueColumns)
	if len(dataCols) == 0 {
		dataCols = fallbackSchema(pr)
	}
	if len(dataCols) != leaves {
		return nil, nil, fmt.Errorf("schema lists %d columns, file has %d", len(dataCols), leaves)
	}

	rows := pr.GetNumRows()
	tbl := models.NewTable()
	for i, cs := range dataCols {
		values := make([]any, rows)
		if rows > 0 {
			raw, _, _, err := pr.ReadColumnByIndex(int64(i), rows)
			if err != nil {
				return nil, nil, fmt.Errorf("read column %q: %w", cs.Name, err)
			}
			if int64(len(raw)) != rows {
				return nil, nil, fmt.Errorf("column %q has %d values, want %d", cs.Name, len(raw), rows)
			}
			for r, v := range raw {
				if values[r], err = fromParquetValue(cs.Kind, v); err != nil {
					return nil, nil, fmt.Errorf("column %q row %d: %w", cs.Name, r, err)
				}
			}
		}
		col := &models.Column{Name: cs.Name, Kind: cs.Kind, Values: values}
		if cs.Kind == models.KindCategory {
			col.Levels = models.SortedLevels(values)
		}
		if err := tbl.AddColumn(col); err != nil {
			return nil, nil, err
		}
	}
	return tbl, partitions, nil
}

// fallbackSchema derives kinds from the physical schema for files written
// by other tools.
func fallbackSchema(pr *reader.ParquetReader) []columnSchema {
	var out []columnSchema
	for i, el := range pr.SchemaHandler.SchemaElements {
		if i == 0 || el.Type == nil {
			continue
		}
		name := pr.SchemaHandler.Infos[i].ExName
		kind := models.KindString
		switch *el.Type {
		case parquet.Type_BOOLEAN:
			kind = models.KindBool
		case parquet.Type_INT32:
			kind = models.KindInt64
			if el.ConvertedType != nil && *el.ConvertedType == parquet.ConvertedType_DATE {
				kind = models.KindDate
			}
		case parquet.Type_INT64:
			kind = models.KindInt64
			if el.ConvertedType != nil && *el.ConvertedType == parquet.ConvertedType_TIMESTAMP_MILLIS {
				kind = models.KindTimestamp
			}
		case parquet.Type_FLOAT:
			kind = models.KindFloat64
		case parquet.Type_DOUBLE:
			kind = models.KindFloat64
		}
		out = append(out, columnSchema{Name: name, Kind: kind})
	}
	return out
}
