// Package metadata keeps a small Iceberg-style manifest next to every
// datalake table so readers can see which files are live and when each
// save happened.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ManifestFile is the object name of a table manifest, relative to the table.
const ManifestFile = "_manifest.json"

// maxSnapshots bounds the snapshot history kept in a manifest.
const maxSnapshots = 20

// DataFile describes a single parquet file of a table.
type DataFile struct {
	Path        string            `json:"path"`
	FileSize    int64             `json:"file_size_in_bytes"`
	RecordCount int64             `json:"record_count"`
	Partition   map[string]string `json:"partition,omitempty"`
}

// Snapshot records one save of the table.
type Snapshot struct {
	SnapshotID   int64    `json:"snapshot-id"`
	TimestampMs  int64    `json:"timestamp-ms"`
	AddedFiles   []string `json:"added-files"`
	AddedRecords int64    `json:"added-records"`
}

// TableMetadata is the content of a table manifest.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
	Files             []DataFile `json:"files"`
}

// Store is where manifests are read from and written to. Get must return an
// error wrapping fs.ErrNotExist for a missing object.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Generator maintains table manifests in a Store.
type Generator struct {
	store Store
	now   func() time.Time
}

// NewGenerator returns a generator writing through store. A nil clock uses
// time.Now.
func NewGenerator(store Store, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{store: store, now: now}
}

// Read loads the manifest of the table at tablePath.
func (g *Generator) Read(ctx context.Context, tablePath string) (*TableMetadata, error) {
	b, err := g.store.Get(ctx, path.Join(tablePath, ManifestFile))
	if err != nil {
		return nil, err
	}
	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", tablePath, err)
	}
	return &tm, nil
}

// Commit records files as written by one save of the table at tablePath.
// With replace set the previous file list is discarded (full refresh);
// otherwise files with the same path are superseded and the rest are kept.
func (g *Generator) Commit(ctx context.Context, tablePath string, files []DataFile, replace bool) (*TableMetadata, error) {
	tm, err := g.Read(ctx, tablePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		tm = &TableMetadata{FormatVersion: 2, TableUUID: uuid.NewString()}
	case err != nil:
		return nil, err
	}
	tm.Location = tablePath

	now := g.now()
	snap := Snapshot{SnapshotID: now.UnixNano(), TimestampMs: now.UnixMilli()}
	live := make(map[string]DataFile)
	if !replace {
		for _, f := range tm.Files {
			live[f.Path] = f
		}
	}
	for _, f := range files {
		live[f.Path] = f
		snap.AddedFiles = append(snap.AddedFiles, f.Path)
		snap.AddedRecords += f.RecordCount
	}

	tm.Files = tm.Files[:0]
	for _, f := range live {
		tm.Files = append(tm.Files, f)
	}
	sort.Slice(tm.Files, func(i, j int) bool { return tm.Files[i].Path < tm.Files[j].Path })

	tm.Snapshots = append(tm.Snapshots, snap)
	if len(tm.Snapshots) > maxSnapshots {
		tm.Snapshots = tm.Snapshots[len(tm.Snapshots)-maxSnapshots:]
	}
	tm.CurrentSnapshotID = snap.SnapshotID

	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := g.store.Put(ctx, path.Join(tablePath, ManifestFile), b); err != nil {
		return nil, err
	}
	return tm, nil
}

// RecordCount sums the record counts of the live files.
func (tm *TableMetadata) RecordCount() int64 {
	var n int64
	for _, f := range tm.Files {
		n += f.RecordCount
	}
	return n
}
