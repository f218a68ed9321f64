package writer

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"stocklake/internal/etlerr"
	"stocklake/internal/metadata"
	"stocklake/logger"
	"stocklake/models"
)

const (
	// DataFileName is the object name of an unpartitioned table.
	DataFileName = "data.parquet"
	// PartFileName is the object name inside each partition directory.
	PartFileName = "part-00000.parquet"
	// NullPartition is the Hive path value for a null partition key.
	NullPartition = "__HIVE_DEFAULT_PARTITION__"
)

// Store saves and loads datalake tables as parquet through a Backend.
type Store struct {
	backend  Backend
	codec    Codec
	manifest *metadata.Generator
	log      *logger.Log
}

// NewStore returns a store over backend. A nil manifest generator disables
// table manifests.
func NewStore(backend Backend, codec Codec, manifest *metadata.Generator) *Store {
	return &Store{
		backend:  backend,
		codec:    codec,
		manifest: manifest,
		log:      logger.GetLogger(),
	}
}

// Backend exposes the underlying object store.
func (s *Store) Backend() Backend { return s.backend }

// Save writes tbl to the object at filePath when no partition columns are
// given. With partition columns, filePath names a directory and the rows are
// written below it as col=value/.../part-00000.parquet; every partition the
// table touches is replaced and the others are left alone.
func (s *Store) Save(ctx context.Context, tbl *models.Table, filePath string, partitionCols ...string) error {
	op := "save " + filePath
	start := time.Now()
	log := s.log.WithComponent("store").WithFields(logger.Fields{
		"path":       filePath,
		"rows":       tbl.NumRows(),
		"partitions": partitionCols,
	})

	if err := ctx.Err(); err != nil {
		return etlerr.New(etlerr.Storage, op, err)
	}
	if err := checkColumnNames(tbl.ColumnNames()); err != nil {
		return etlerr.New(etlerr.Storage, op, err)
	}

	var files []metadata.DataFile
	if len(partitionCols) == 0 {
		data, err := s.codec.Encode(tbl, nil)
		if err != nil {
			return etlerr.New(etlerr.Storage, op, err)
		}
		if err := s.backend.Put(ctx, filePath, data); err != nil {
			return etlerr.New(etlerr.Storage, op, err)
		}
		files = append(files, metadata.DataFile{Path: filePath, FileSize: int64(len(data)), RecordCount: int64(tbl.NumRows())})
	} else {
		written, err := s.savePartitioned(ctx, tbl, filePath, partitionCols)
		if err != nil {
			return etlerr.New(etlerr.Storage, op, err)
		}
		files = written
	}

	if s.manifest != nil {
		tableDir := filePath
		if len(partitionCols) == 0 {
			tableDir = path.Dir(filePath)
		}
		if _, err := s.manifest.Commit(ctx, tableDir, files, len(partitionCols) == 0); err != nil {
			log.WithError(err).Warn("failed to update table manifest")
		}
	}

	logger.LogPerformanceEntry(log, "store", "save", time.Since(start), logger.Fields{"files": len(files)})
	return nil
}

type partition struct {
	values []string
	rows   []int
}

func (s *Store) savePartitioned(ctx context.Context, tbl *models.Table, dir string, partitionCols []string) ([]metadata.DataFile, error) {
	keyCols := make([]*models.Column, len(partitionCols))
	schemas := make([]columnSchema, len(partitionCols))
	for i, name := range partitionCols {
		c, ok := tbl.Column(name)
		if !ok {
			return nil, fmt.Errorf("partition column %q not in table", name)
		}
		keyCols[i] = c
		schemas[i] = columnSchema{Name: name, Kind: c.Kind, Partition: true}
	}

	groups := make(map[string]*partition)
	var order []string
	for r := 0; r < tbl.NumRows(); r++ {
		values := make([]string, len(keyCols))
		for i, c := range keyCols {
			values[i] = formatPartitionValue(c.Values[r])
		}
		k := strings.Join(values, "\x00")
		g, ok := groups[k]
		if !ok {
			g = &partition{values: values}
			groups[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, r)
	}
	sort.Strings(order)

	var files []metadata.DataFile
	for _, k := range order {
		g := groups[k]
		part := tbl.Take(g.rows)
		for _, name := range partitionCols {
			part.DropColumn(name)
		}
		if part.NumColumns() == 0 {
			return nil, fmt.Errorf("table has only partition columns")
		}

		segments := []string{dir}
		partValues := make(map[string]string, len(partitionCols))
		for i, name := range partitionCols {
			segments = append(segments, name+"="+url.PathEscape(g.values[i]))
			partValues[name] = g.values[i]
		}
		partDir := joinKey(segments...)

		existing, err := s.backend.List(ctx, partDir)
		if err != nil {
			return nil, err
		}
		var stale []string
		for _, key := range existing {
			if strings.HasSuffix(key, ".parquet") && path.Base(key) != PartFileName {
				stale = append(stale, key)
			}
		}
		if len(stale) > 0 {
			if err := s.backend.Delete(ctx, stale...); err != nil {
				return nil, err
			}
		}

		data, err := s.codec.Encode(part, schemas)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", partDir, err)
		}
		key := joinKey(partDir, PartFileName)
		if err := s.backend.Put(ctx, key, data); err != nil {
			return nil, err
		}
		files = append(files, metadata.DataFile{
			Path:        key,
			FileSize:    int64(len(data)),
			RecordCount: int64(part.NumRows()),
			Partition:   partValues,
		})
	}
	return files, nil
}

func formatPartitionValue(v any) string {
	switch x := v.(type) {
	case nil:
		return NullPartition
	case time.Time:
		if x.Equal(time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, time.UTC)) {
			return x.Format(models.DateLayout)
		}
		return x.UTC().Format(time.RFC3339)
	default:
		return models.FormatValue(v)
	}
}

func parsePartitionValue(raw string, kind models.Kind) (any, error) {
	if raw == NullPartition {
		return nil, nil
	}
	switch kind {
	case models.KindInt64:
		return strconv.ParseInt(raw, 10, 64)
	case models.KindFloat64:
		return strconv.ParseFloat(raw, 64)
	case models.KindBool:
		return strconv.ParseBool(raw)
	case models.KindDate:
		return time.Parse(models.DateLayout, raw)
	case models.KindTimestamp:
		t, err := time.Parse(time.RFC3339, raw)
		return t.UTC(), err
	case models.KindString, models.KindCategory:
		return raw, nil
	}
	return nil, fmt.Errorf("unsupported partition kind %s", kind)
}

// guessPartitionKind is used for partition directories whose files carry no
// kind metadata.
func guessPartitionKind(raw string) models.Kind {
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return models.KindInt64
	}
	if _, err := time.Parse(models.DateLayout, raw); err == nil {
		return models.KindDate
	}
	return models.KindString
}

// Load reads the object at filePath, or every parquet object below it when
// filePath is a partitioned table directory, into one table. Partition
// columns are restored from the col=value path segments.
func (s *Store) Load(ctx context.Context, filePath string) (*models.Table, error) {
	op := "load " + filePath
	start := time.Now()

	if strings.HasSuffix(filePath, ".parquet") {
		data, err := s.backend.Get(ctx, filePath)
		if err != nil {
			return nil, etlerr.New(etlerr.Storage, op, err)
		}
		tbl, _, err := s.codec.Decode(data)
		if err != nil {
			return nil, etlerr.Errorf(etlerr.Storage, op, "decode %s: %w", s.backend.Location(filePath), err)
		}
		return tbl, nil
	}

	keys, err := s.backend.List(ctx, filePath)
	if err != nil {
		return nil, etlerr.New(etlerr.Storage, op, err)
	}
	var tables []*models.Table
	for _, key := range keys {
		if !strings.HasSuffix(key, ".parquet") {
			continue
		}
		data, err := s.backend.Get(ctx, key)
		if err != nil {
			return nil, etlerr.New(etlerr.Storage, op, err)
		}
		tbl, kinds, err := s.codec.Decode(data)
		if err != nil {
			return nil, etlerr.Errorf(etlerr.Storage, op, "decode %s: %w", s.backend.Location(key), err)
		}
		if err := addPartitionColumns(tbl, strings.TrimPrefix(key, strings.TrimSuffix(filePath, "/")+"/"), kinds); err != nil {
			return nil, etlerr.Errorf(etlerr.Storage, op, "%s: %w", key, err)
		}
		tables = append(tables, tbl)
	}
	if len(tables) == 0 {
		return nil, etlerr.Errorf(etlerr.Storage, op, "no parquet files at %s", s.backend.Location(filePath))
	}

	out, err := models.Concat(tables...)
	if err != nil {
		return nil, etlerr.New(etlerr.Storage, op, err)
	}
	logger.LogPerformanceEntry(s.log.WithComponent("store").WithFields(logger.Fields{"path": filePath}), "store", "load", time.Since(start), logger.Fields{
		"files": len(tables),
		"rows":  out.NumRows(),
	})
	return out, nil
}

func addPartitionColumns(tbl *models.Table, relKey string, kinds map[string]models.Kind) error {
	segments := strings.Split(path.Dir(relKey), "/")
	for _, seg := range segments {
		name, escaped, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		raw, err := url.PathUnescape(escaped)
		if err != nil {
			return fmt.Errorf("bad partition segment %q: %w", seg, err)
		}
		kind, known := kinds[name]
		if !known {
			kind = guessPartitionKind(raw)
		}
		v, err := parsePartitionValue(raw, kind)
		if err != nil {
			return fmt.Errorf("partition %s: %w", seg, err)
		}
		values := make([]any, tbl.NumRows())
		for i := range values {
			values[i] = v
		}
		col := &models.Column{Name: name, Kind: kind, Values: values}
		if kind == models.KindCategory {
			col.Levels = models.SortedLevels(values)
		}
		if err := tbl.SetColumn(col); err != nil {
			return err
		}
	}
	return nil
}
