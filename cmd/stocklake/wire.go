//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"stocklake/config"
	"stocklake/internal/app"
	"stocklake/pipeline"
)

// InitializeRunner builds the pipeline runner for cfg via Wire.
func InitializeRunner(ctx context.Context, cfg *config.Config) (*pipeline.Runner, error) {
	wire.Build(app.ProviderSet)
	return nil, nil
}
