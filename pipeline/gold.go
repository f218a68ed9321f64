package pipeline

import (
	"context"

	"stocklake/config"
	"stocklake/logger"
	"stocklake/models"
	"stocklake/processor"
)

// Gold aggregates the silver tables. It writes the stocks table, the intraday
// table (as read from silver, or joined with the per-symbol aggregates when
// gold.intraday_output is "enriched") and the two summaries.
func (r *Runner) Gold(ctx context.Context) error {
	log := r.stageLog(StageGold)

	stocks, err := r.store.Load(ctx, r.layout.StocksPath(LayerSilver))
	if err != nil {
		return err
	}
	intraday, err := r.store.Load(ctx, r.layout.IntradayDir(LayerSilver))
	if err != nil {
		return err
	}

	counts, err := processor.InstrumentCounts(stocks)
	if err != nil {
		return err
	}
	trading, err := processor.SymbolTradings(intraday)
	if err != nil {
		return err
	}
	enriched, err := processor.EnrichWithTrading(intraday, trading)
	if err != nil {
		return err
	}
	// Each aggregate row is copied onto every bar of its symbol.
	fanout := 0.0
	if len(trading) > 0 {
		fanout = float64(enriched.NumRows()) / float64(len(trading))
	}
	log.WithFields(logger.Fields{
		"symbols":           len(trading),
		"rows":              enriched.NumRows(),
		"rows_per_group":    fanout,
		"instrument_groups": len(counts),
	}).Info("broadcast join of symbol aggregates")
	log.LogMetric("pipeline", "GoldRowsPerGroup", fanout, "gauge", logger.Fields{"stage": string(StageGold)})

	if err := r.store.Save(ctx, stocks, r.layout.StocksPath(LayerGold)); err != nil {
		return err
	}
	r.rows(StageGold, TableStocks, stocks.NumRows())

	out := intraday
	if r.cfg.Gold.IntradayOutput == config.IntradayOutputEnriched {
		out = enriched
	}
	if err := r.store.Save(ctx, out, r.layout.IntradayDir(LayerGold), processor.OnlyDateColumn, processor.HourColumn); err != nil {
		return err
	}
	r.rows(StageGold, TableIntraday, out.NumRows())

	if !r.cfg.Gold.WriteSummaries {
		return nil
	}
	return r.writeSummaries(ctx, counts, trading)
}

func (r *Runner) writeSummaries(ctx context.Context, counts []models.InstrumentCount, trading []models.SymbolTrading) error {
	if err := r.store.SaveInstrumentCounts(ctx, counts, r.layout.SummaryPath(SummaryInstrumentCount)); err != nil {
		return err
	}
	r.rows(StageGold, SummaryInstrumentCount, len(counts))

	if err := r.store.SaveSymbolTrading(ctx, trading, r.layout.SummaryPath(SummarySymbolTrading)); err != nil {
		return err
	}
	r.rows(StageGold, SummarySymbolTrading, len(trading))
	return nil
}
