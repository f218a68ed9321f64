// Package pipeline runs the bronze, silver and gold stages over the datalake.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"stocklake/config"
	"stocklake/internal/etlerr"
	"stocklake/logger"
	"stocklake/reader/stockdata"
	"stocklake/writer"
)

// Stage names one layer transition.
type Stage string

const (
	StageBronze Stage = "bronze"
	StageSilver Stage = "silver"
	StageGold   Stage = "gold"
)

// AllStages lists the stages in execution order.
var AllStages = []Stage{StageBronze, StageSilver, StageGold}

// ParseStages parses a comma separated stage list. The result is always in
// execution order regardless of the order given.
func ParseStages(s string) ([]Stage, error) {
	if strings.TrimSpace(s) == "" {
		return AllStages, nil
	}
	want := map[Stage]bool{}
	for _, part := range strings.Split(s, ",") {
		st := Stage(strings.ToLower(strings.TrimSpace(part)))
		switch st {
		case StageBronze, StageSilver, StageGold:
			want[st] = true
		case "":
		default:
			return nil, etlerr.Errorf(etlerr.Config, "parse stages", "unknown stage %q", part)
		}
	}
	var out []Stage
	for _, st := range AllStages {
		if want[st] {
			out = append(out, st)
		}
	}
	return out, nil
}

// Extractor pulls one endpoint for a list of symbols.
type Extractor interface {
	Extract(ctx context.Context, symbols []string, endpoint string, params url.Values) (*stockdata.Extraction, error)
}

// Runner executes the stages of one run. It is not safe for concurrent use
// and two runners must not share a datalake at the same time.
type Runner struct {
	cfg       *config.Config
	extractor Extractor
	store     *writer.Store
	layout    Layout
	now       func() time.Time
	log       *logger.Log

	report *RunReport
	stage  *StageResult
}

// NewRunner returns a runner reading from extractor and writing through store.
func NewRunner(cfg *config.Config, extractor Extractor, store *writer.Store) *Runner {
	return &Runner{
		cfg:       cfg,
		extractor: extractor,
		store:     store,
		layout:    Layout{Source: cfg.Datalake.Source},
		now:       time.Now,
		log:       logger.GetLogger(),
	}
}

// SetClock replaces the clock used for the intraday window.
func (r *Runner) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Layout returns the key layout the runner writes.
func (r *Runner) Layout() Layout { return r.layout }

// Run executes stages in order. The first stage that fails aborts the run;
// the remaining stages are reported as skipped. The run report is written to
// the datalake whether or not the run succeeded.
func (r *Runner) Run(ctx context.Context, stages []Stage) (*RunReport, error) {
	logger.ResetReport()
	r.report = &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Clock:     r.now().UTC(),
	}
	defer func() { r.report, r.stage = nil, nil }()
	report := r.report

	log := r.log.WithStage("run", report.RunID)
	log.WithFields(logger.Fields{
		"stages":  stages,
		"symbols": len(r.cfg.Symbols),
	}).Info("pipeline run started")

	var runErr error
	for _, st := range stages {
		res := report.addStage(st)
		if runErr != nil {
			res.Status = StatusSkipped
			continue
		}
		r.stage = res
		res.StartedAt = time.Now().UTC()
		err := r.runStage(ctx, st)
		res.FinishedAt = time.Now().UTC()
		r.stage = nil

		stageLog := r.log.WithStage(string(st), report.RunID).WithFields(logger.Fields{
			"duration": res.FinishedAt.Sub(res.StartedAt).String(),
			"rows":     res.Rows,
		})
		if err != nil {
			res.fail(err)
			report.FailedStage = string(st)
			runErr = fmt.Errorf("%s stage: %w", st, err)
			stageLog.WithError(err).WithFields(logger.Fields{"kind": res.ErrorKind}).Error("stage failed")
			continue
		}
		res.Status = StatusSucceeded
		stageLog.Info("stage finished")
	}

	report.FinishedAt = time.Now().UTC()
	report.Failed = runErr != nil
	report.Counters = logger.LogReport(ctx, r.log, len(report.Failures), report.Failed)
	if err := r.writeReport(ctx, report); err != nil {
		log.WithError(err).Warn("failed to write run report")
	}
	return report, runErr
}

func (r *Runner) runStage(ctx context.Context, st Stage) error {
	switch st {
	case StageBronze:
		return r.Bronze(ctx)
	case StageSilver:
		return r.Silver(ctx)
	case StageGold:
		return r.Gold(ctx)
	}
	return etlerr.Errorf(etlerr.Config, "run", "unknown stage %q", st)
}

// rows records n rows written by the current stage to table.
func (r *Runner) rows(st Stage, table string, n int) {
	logger.RecordRows(string(st), table, n)
	if r.stage != nil {
		if r.stage.Rows == nil {
			r.stage.Rows = map[string]int{}
		}
		r.stage.Rows[table] += n
	}
}

func (r *Runner) failures(endpoint string, fs []stockdata.Failure) {
	if r.report == nil {
		return
	}
	for _, f := range fs {
		r.report.Failures = append(r.report.Failures, ExtractionFailure{Endpoint: endpoint, Failure: f})
	}
	if len(fs) > 0 {
		r.stageLog(StageBronze).LogMetric("pipeline", "EndpointExtractionFailures", len(fs), "counter", logger.Fields{"endpoint": endpoint})
	}
}

func (r *Runner) stageLog(st Stage) *logger.Entry {
	runID := ""
	if r.report != nil {
		runID = r.report.RunID
	}
	return r.log.WithStage(string(st), runID)
}
