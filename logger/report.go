package logger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	warnCounts  sync.Map // component -> *int64
	errorCounts sync.Map // component -> *int64
	stageRows   sync.Map // stage/table -> *int64
)

func bump(m *sync.Map, key string, n int64) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), n)
}

func recordWarn(component string) { bump(&warnCounts, component, 1) }

func recordError(component string) { bump(&errorCounts, component, 1) }

// RecordRows adds n rows written by stage to table.
func RecordRows(stage, table string, n int) {
	bump(&stageRows, stage+"/"+table, int64(n))
}

// RowCount is the number of rows a stage wrote to one table.
type RowCount struct {
	Stage string `json:"stage"`
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// Report is a snapshot of the counters collected during a run.
type Report struct {
	Rows   []RowCount       `json:"rows"`
	Warns  map[string]int64 `json:"warns"`
	Errors map[string]int64 `json:"errors"`
}

func snapshot(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// Snapshot returns the current counters.
func Snapshot() Report {
	r := Report{Warns: snapshot(&warnCounts), Errors: snapshot(&errorCounts)}
	for key, n := range snapshot(&stageRows) {
		stage, table, _ := strings.Cut(key, "/")
		r.Rows = append(r.Rows, RowCount{Stage: stage, Table: table, Rows: n})
	}
	sort.Slice(r.Rows, func(i, j int) bool {
		if r.Rows[i].Stage != r.Rows[j].Stage {
			return r.Rows[i].Stage < r.Rows[j].Stage
		}
		return r.Rows[i].Table < r.Rows[j].Table
	})
	return r
}

// ResetReport clears every counter.
func ResetReport() {
	for _, m := range []*sync.Map{&warnCounts, &errorCounts, &stageRows} {
		m.Range(func(k, _ any) bool {
			m.Delete(k)
			return true
		})
	}
}

// LogReport logs the counters and publishes the stage row counts along with
// the extraction failure count and run outcome.
func LogReport(ctx context.Context, log *Log, extractionFailures int, failed bool) Report {
	r := Snapshot()
	log.WithComponent("report").WithFields(Fields{
		"rows":                r.Rows,
		"warns":               r.Warns,
		"errors":              r.Errors,
		"extraction_failures": extractionFailures,
		"failed":              failed,
	}).Info("run report")

	var data []cwtypes.MetricDatum
	for _, rc := range r.Rows {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("StageRows"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String("stage"), Value: aws.String(rc.Stage)},
				{Name: aws.String("table"), Value: aws.String(rc.Table)},
			},
			Value: aws.Float64(float64(rc.Rows)),
		})
	}
	failedValue := 0.0
	if failed {
		failedValue = 1
	}
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("ExtractionFailures"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(extractionFailures))},
		cwtypes.MetricDatum{MetricName: aws.String("RunFailed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(failedValue)},
	)
	publishMetrics(ctx, data)
	return r
}
