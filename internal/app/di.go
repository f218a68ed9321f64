// Package app holds the Wire providers that assemble a pipeline run.
package app

import (
	"context"
	"fmt"

	"github.com/google/wire"

	"stocklake/config"
	"stocklake/internal/metadata"
	"stocklake/logger"
	"stocklake/pipeline"
	"stocklake/reader/stockdata"
	"stocklake/writer"
)

// ProviderSet builds a *pipeline.Runner from a loaded *config.Config.
var ProviderSet = wire.NewSet(
	ProvideBackend,
	ProvideCodec,
	ProvideManifests,
	writer.NewStore,
	stockdata.NewClient,
	wire.Bind(new(stockdata.Getter), new(*stockdata.Client)),
	stockdata.NewFetcher,
	wire.Bind(new(pipeline.Extractor), new(*stockdata.Fetcher)),
	pipeline.NewRunner,
)

// ProvideBackend returns the S3 backend when storage.s3 is enabled and a
// local directory backend rooted at datalake.root otherwise.
func ProvideBackend(ctx context.Context, cfg *config.Config) (writer.Backend, error) {
	log := logger.GetLogger().WithComponent("app")
	if cfg.Storage.S3.Enabled {
		b, err := writer.NewS3Backend(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create s3 backend: %w", err)
		}
		return b, nil
	}
	log.WithFields(logger.Fields{"root": cfg.Datalake.Root}).Info("S3 storage disabled; using local datalake")
	return writer.NewLocalBackend(cfg.Datalake.Root), nil
}

// ProvideCodec returns the parquet codec for writer.compression.
func ProvideCodec(cfg *config.Config) writer.Codec {
	return writer.NewCodec(cfg.Writer.Compression)
}

// ProvideManifests returns the table manifest generator, or nil when
// writer.manifests is off.
func ProvideManifests(cfg *config.Config, backend writer.Backend) *metadata.Generator {
	if !cfg.Writer.Manifests {
		return nil
	}
	return metadata.NewGenerator(backend, nil)
}
