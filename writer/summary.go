package writer

import (
	"bytes"
	"context"

	"github.com/parquet-go/parquet-go"

	"stocklake/internal/etlerr"
	"stocklake/logger"
	"stocklake/models"
)

// SaveRows writes typed rows as a parquet object at filePath. The schema is
// taken from the struct's parquet tags.
func SaveRows[T any](ctx context.Context, s *Store, rows []T, filePath string) error {
	op := "save " + filePath
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return etlerr.Errorf(etlerr.Storage, op, "encode rows: %w", err)
	}
	if err := s.backend.Put(ctx, filePath, buf.Bytes()); err != nil {
		return etlerr.New(etlerr.Storage, op, err)
	}
	s.log.WithComponent("store").WithFields(logger.Fields{
		"path": filePath,
		"rows": len(rows),
	}).Debug("wrote summary rows")
	return nil
}

// LoadRows reads typed rows written by SaveRows.
func LoadRows[T any](ctx context.Context, s *Store, filePath string) ([]T, error) {
	op := "load " + filePath
	data, err := s.backend.Get(ctx, filePath)
	if err != nil {
		return nil, etlerr.New(etlerr.Storage, op, err)
	}
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, etlerr.Errorf(etlerr.Storage, op, "decode %s: %w", s.backend.Location(filePath), err)
	}
	return rows, nil
}

// SaveInstrumentCounts writes the instrument count summary.
func (s *Store) SaveInstrumentCounts(ctx context.Context, rows []models.InstrumentCount, filePath string) error {
	return SaveRows(ctx, s, rows, filePath)
}

// SaveSymbolTrading writes the per-symbol trading summary.
func (s *Store) SaveSymbolTrading(ctx context.Context, rows []models.SymbolTrading, filePath string) error {
	return SaveRows(ctx, s, rows, filePath)
}
