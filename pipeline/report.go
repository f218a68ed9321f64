package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"stocklake/internal/etlerr"
	"stocklake/logger"
	"stocklake/reader/stockdata"
)

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// StageResult describes one stage of a run.
type StageResult struct {
	Stage      Stage          `json:"stage"`
	Status     StageStatus    `json:"status"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Rows       map[string]int `json:"rows,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
}

func (s *StageResult) fail(err error) {
	s.Status = StatusFailed
	s.Error = err.Error()
	if kind, ok := etlerr.KindOf(err); ok {
		s.ErrorKind = kind.String()
	}
}

// ExtractionFailure is a symbol that contributed nothing to an endpoint.
type ExtractionFailure struct {
	Endpoint string `json:"endpoint"`
	stockdata.Failure
}

// RunReport summarises one run. It is written to RunReportPath.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Clock is the instant the intraday window ends at.
	Clock       time.Time           `json:"clock"`
	Stages      []*StageResult      `json:"stages"`
	Failures    []ExtractionFailure `json:"extraction_failures,omitempty"`
	Failed      bool                `json:"failed"`
	FailedStage string              `json:"failed_stage,omitempty"`
	Counters    logger.Report       `json:"counters"`
}

func (r *RunReport) addStage(st Stage) *StageResult {
	res := &StageResult{Stage: st}
	r.Stages = append(r.Stages, res)
	return res
}

// Stage returns the result for st, or nil when st was not requested.
func (r *RunReport) Stage(st Stage) *StageResult {
	for _, s := range r.Stages {
		if s.Stage == st {
			return s
		}
	}
	return nil
}

func (r *Runner) writeReport(ctx context.Context, report *RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := r.store.Backend().Put(ctx, RunReportPath, data); err != nil {
		return etlerr.New(etlerr.Storage, "write run report", err)
	}
	r.log.WithComponent("report").WithFields(logger.Fields{
		"path":     r.store.Backend().Location(RunReportPath),
		"failures": len(report.Failures),
		"failed":   report.Failed,
	}).Info("report wrote run summary")
	return nil
}
