package pipeline

import (
	"context"
	"errors"
	"net/url"
	"time"

	"stocklake/internal/etlerr"
	"stocklake/logger"
	"stocklake/models"
	"stocklake/processor"
)

// Bronze lands raw upstream data. The search table is replaced wholesale; the
// intraday bars of the configured window are written into their (only_date,
// hour) partitions. An endpoint that yields no records at all leaves the
// existing bronze table untouched.
func (r *Runner) Bronze(ctx context.Context) error {
	if err := r.bronzeSearch(ctx); err != nil {
		return err
	}
	return r.bronzeIntraday(ctx)
}

func (r *Runner) bronzeSearch(ctx context.Context) error {
	endpoint := r.cfg.Extraction.SearchEndpoint
	tbl, err := r.extract(ctx, endpoint, nil)
	if err != nil || tbl == nil {
		return err
	}

	key := r.layout.StocksPath(LayerBronze)
	if err := r.store.Save(ctx, tbl, key); err != nil {
		return err
	}
	r.rows(StageBronze, TableStocks, tbl.NumRows())
	logger.LogDataFlowEntry(r.stageLog(StageBronze), endpoint, key, tbl.NumRows(), TableStocks)
	return nil
}

func (r *Runner) bronzeIntraday(ctx context.Context) error {
	endpoint := r.cfg.Extraction.IntradayEndpoint
	from, to := r.window()
	params := url.Values{
		"date_from": {from.Format(models.DateLayout)},
		"date_to":   {to.Format(models.DateLayout)},
	}
	tbl, err := r.extract(ctx, endpoint, params)
	if err != nil || tbl == nil {
		return err
	}
	if err := processor.DeriveTimePartitions(tbl); err != nil {
		return err
	}

	dir := r.layout.IntradayDir(LayerBronze)
	if err := r.store.Save(ctx, tbl, dir, processor.OnlyDateColumn, processor.HourColumn); err != nil {
		return err
	}
	r.rows(StageBronze, TableIntraday, tbl.NumRows())
	logger.LogDataFlowEntry(r.stageLog(StageBronze), endpoint, dir, tbl.NumRows(), TableIntraday)
	return nil
}

// extract runs one endpoint over the symbol list. A nil table with a nil
// error means nothing was extracted and nothing should be written.
func (r *Runner) extract(ctx context.Context, endpoint string, params url.Values) (*models.Table, error) {
	ext, err := r.extractor.Extract(ctx, r.cfg.Symbols, endpoint, params)
	if ext != nil {
		r.failures(endpoint, ext.Failures)
	}
	if errors.Is(err, etlerr.ErrNoRecords) {
		r.stageLog(StageBronze).WithFields(logger.Fields{
			"endpoint": endpoint,
			"params":   params.Encode(),
		}).Warn("no records extracted, keeping previous bronze snapshot")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ext.Table, nil
}

// window returns the UTC interval of intraday bars requested by this run.
func (r *Runner) window() (time.Time, time.Time) {
	to := r.now().UTC()
	if r.report != nil {
		to = r.report.Clock
	}
	return to.Add(-r.cfg.Extraction.IntradayWindow), to
}
