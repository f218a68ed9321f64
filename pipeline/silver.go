package pipeline

import (
	"context"

	"stocklake/logger"
	"stocklake/processor"
)

// Silver applies the versioned schema mappings to both bronze tables. Any
// mismatch or failed cast aborts the stage before anything is written.
func (r *Runner) Silver(ctx context.Context) error {
	log := r.stageLog(StageSilver)

	search, err := r.store.Load(ctx, r.layout.StocksPath(LayerBronze))
	if err != nil {
		return err
	}
	before := search.ColumnNames()
	stocks, err := processor.SearchV1.Apply(search)
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"mapping":         processor.SearchV1.Name,
		"version":         processor.SearchV1.Version,
		"columns_in":      len(before),
		"columns_out":     stocks.NumColumns(),
		"dropped_columns": len(before) - stocks.NumColumns(),
	}).Debug("search mapping applied")

	intraday, err := r.store.Load(ctx, r.layout.IntradayDir(LayerBronze))
	if err != nil {
		return err
	}
	bars, err := processor.IntradayV1.Apply(intraday)
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"mapping": processor.IntradayV1.Name,
		"version": processor.IntradayV1.Version,
		"rows":    bars.NumRows(),
	}).Debug("intraday mapping applied")

	if err := r.store.Save(ctx, stocks, r.layout.StocksPath(LayerSilver)); err != nil {
		return err
	}
	r.rows(StageSilver, TableStocks, stocks.NumRows())

	if err := r.store.Save(ctx, bars, r.layout.IntradayDir(LayerSilver), processor.OnlyDateColumn, processor.HourColumn); err != nil {
		return err
	}
	r.rows(StageSilver, TableIntraday, bars.NumRows())
	return nil
}
