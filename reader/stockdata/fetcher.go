package stockdata

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"stocklake/internal/etlerr"
	"stocklake/logger"
	"stocklake/models"
	"stocklake/processor"
)

// Supported endpoints.
const (
	EndpointSearch   = "entity/search"
	EndpointIntraday = "data/intraday"
)

// Getter is the request side of Client.
type Getter interface {
	Get(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error)
}

// Failure records a symbol that contributed no rows.
type Failure struct {
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// Extraction is the result of one endpoint pass over the symbol list.
type Extraction struct {
	Endpoint  string
	Table     *models.Table
	PerSymbol map[string]int
	Failures  []Failure
}

// Fetcher pulls one endpoint for a list of symbols, one request each.
type Fetcher struct {
	client Getter
	log    *logger.Log
}

// NewFetcher returns a fetcher using client.
func NewFetcher(client Getter) *Fetcher {
	return &Fetcher{client: client, log: logger.GetLogger()}
}

func symbolQuery(endpoint, symbol string, params url.Values) (url.Values, error) {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	switch endpoint {
	case EndpointSearch:
		q.Set("search", symbol)
	case EndpointIntraday:
		q.Set("symbols", symbol)
	default:
		return nil, etlerr.Errorf(etlerr.Config, "extract", "unsupported endpoint %q", endpoint)
	}
	return q, nil
}

// Extract requests endpoint once per symbol, in order, and concatenates the
// returned records into one table. A symbol whose request or response fails
// is logged, recorded in Failures and skipped. When no symbol yields a record
// the error wraps etlerr.ErrNoRecords.
func (f *Fetcher) Extract(ctx context.Context, symbols []string, endpoint string, params url.Values) (*Extraction, error) {
	if _, err := symbolQuery(endpoint, "", params); err != nil {
		return nil, err
	}
	log := f.log.WithComponent("fetcher").WithFields(logger.Fields{
		"endpoint": endpoint,
		"symbols":  len(symbols),
	})
	start := time.Now()

	ext := &Extraction{Endpoint: endpoint, PerSymbol: make(map[string]int, len(symbols))}
	var records []*models.Record
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, etlerr.New(etlerr.Transport, "extract", err)
		}
		symLog := log.WithFields(logger.Fields{"symbol": symbol})

		q, _ := symbolQuery(endpoint, symbol, params)
		data, err := f.client.Get(ctx, endpoint, q)
		if err == nil {
			var recs []*models.Record
			recs, err = processor.RecordsFromData(data)
			if err == nil {
				records = append(records, recs...)
				ext.PerSymbol[symbol] += len(recs)
				symLog.WithFields(logger.Fields{"records": len(recs)}).Debug("symbol extracted")
				continue
			}
		}

		kind, _ := etlerr.KindOf(err)
		ext.Failures = append(ext.Failures, Failure{Symbol: symbol, Kind: kind.String(), Error: err.Error()})
		symLog.WithError(err).WithFields(logger.Fields{"kind": kind.String()}).Warn("symbol skipped")
	}

	if len(records) == 0 {
		log.WithFields(logger.Fields{"failures": len(ext.Failures)}).Warn("no records extracted")
		return ext, etlerr.New(etlerr.Envelope, "extract "+endpoint, etlerr.ErrNoRecords)
	}

	tbl, err := processor.BuildTable(records)
	if err != nil {
		return ext, err
	}
	ext.Table = tbl

	logger.LogDataFlowEntry(log, "stockdata_api", "bronze", tbl.NumRows(), endpoint)
	logger.LogPerformanceEntry(log, "fetcher", "extract", time.Since(start), logger.Fields{
		"rows":     tbl.NumRows(),
		"failures": len(ext.Failures),
	})
	return ext, nil
}
