package pipeline

import (
	"path"

	"stocklake/writer"
)

// Datalake layers.
const (
	LayerBronze = "bronze"
	LayerSilver = "silver"
	LayerGold   = "gold"
)

// Table names below a layer's source directory.
const (
	TableStocks   = "stocks"
	TableIntraday = "intraday_values"
)

// Summary names below gold/<source>/summaries.
const (
	SummaryInstrumentCount = "instrument_count"
	SummarySymbolTrading   = "symbol_trading"
)

// RunReportPath is the key of the last run's report, relative to the root.
const RunReportPath = "_runs/last_run.json"

// Layout maps tables onto datalake keys for one upstream source.
type Layout struct {
	Source string
}

// StocksPath is the object holding the unpartitioned stocks table.
func (l Layout) StocksPath(layer string) string {
	return path.Join(layer, l.Source, TableStocks, writer.DataFileName)
}

// IntradayDir is the directory holding the partitioned intraday table.
func (l Layout) IntradayDir(layer string) string {
	return path.Join(layer, l.Source, TableIntraday)
}

// SummaryPath is the object holding a gold summary.
func (l Layout) SummaryPath(name string) string {
	return path.Join(LayerGold, l.Source, "summaries", name, writer.DataFileName)
}
