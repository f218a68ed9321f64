package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stocklake/config"
	"stocklake/logger"
	"stocklake/models"
	"stocklake/pipeline"
	"stocklake/processor"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	stagesFlag := flag.String("stages", "bronze,silver,gold", "Comma separated stages to run")
	nowFlag := flag.String("now", "", "End of the intraday window (RFC3339 or YYYY-MM-DD, UTC); defaults to the current time")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields(cfg.Logging.Fields)).WithFields(logger.Fields{
		"service": cfg.Stocklake.Name,
		"version": cfg.Stocklake.Version,
		"env":     config.AppEnvironment(),
		"symbols": len(cfg.Symbols),
	}).Info("starting stocklake")

	stages, err := pipeline.ParseStages(*stagesFlag)
	if err != nil {
		log.WithError(err).Error("invalid -stages")
		os.Exit(2)
	}

	var clock func() time.Time
	if *nowFlag != "" {
		fixed, err := processor.ParseTimestamp(*nowFlag)
		if err != nil {
			log.WithError(err).Error("invalid -now")
			os.Exit(2)
		}
		clock = func() time.Time { return fixed }
		log.WithFields(logger.Fields{"now": fixed.Format(models.DateLayout)}).Info("using fixed clock")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.CloudWatch.Enabled {
		if err := logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace); err != nil {
			log.WithError(err).Warn("CloudWatch metrics disabled")
		}
	}

	runner, err := InitializeRunner(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to initialize pipeline")
		os.Exit(1)
	}
	runner.SetClock(clock)

	report, err := runner.Run(ctx, stages)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"run_id":       report.RunID,
			"failed_stage": report.FailedStage,
		}).Error("stocklake run failed")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"run_id":              report.RunID,
		"extraction_failures": len(report.Failures),
		"duration":            report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("stocklake run completed")
}
