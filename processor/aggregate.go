package processor

import (
	"math"
	"sort"

	"stocklake/internal/etlerr"
	"stocklake/models"
)

// Gold column names.
const (
	TradingVolumeSumColumn = "trading_volume_sum"
	CloseValueMeanColumn   = "close_value_mean"
	OpenValueMeanColumn    = "open_value_mean"
	MarketCapColumn        = "market_cap"
)

func requireColumns(op string, tbl *models.Table, names ...string) ([]*models.Column, error) {
	cols := make([]*models.Column, len(names))
	for i, name := range names {
		c, ok := tbl.Column(name)
		if !ok {
			return nil, etlerr.Errorf(etlerr.Schema, op, "missing %q column", name)
		}
		cols[i] = c
	}
	return cols, nil
}

// InstrumentCounts counts non-null symbols per (country, stock_type). Rows
// with a null key are skipped; groups come back sorted by key.
func InstrumentCounts(search *models.Table) ([]models.InstrumentCount, error) {
	cols, err := requireColumns("gold.instrument_count", search, "country", "stock_type", "symbol")
	if err != nil {
		return nil, err
	}
	country, stockType, symbol := cols[0], cols[1], cols[2]

	type key struct{ country, stockType string }
	counts := make(map[key]int64)
	for i := 0; i < search.NumRows(); i++ {
		c, cok := country.Values[i].(string)
		s, sok := stockType.Values[i].(string)
		if !cok || !sok {
			continue
		}
		k := key{c, s}
		if _, seen := counts[k]; !seen {
			counts[k] = 0
		}
		if symbol.Values[i] != nil {
			counts[k]++
		}
	}

	out := make([]models.InstrumentCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.InstrumentCount{Country: k.country, StockType: k.stockType, InvestmentInstrumentCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Country != out[j].Country {
			return out[i].Country < out[j].Country
		}
		return out[i].StockType < out[j].StockType
	})
	return out, nil
}

type meanAcc struct {
	sum float64
	n   int
}

func (m *meanAcc) add(v any) {
	f, err := toFloat64(v)
	if v == nil || err != nil || math.IsNaN(f) {
		return
	}
	m.sum += f
	m.n++
}

func (m meanAcc) mean() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.sum / float64(m.n)
}

// SymbolTradings groups intraday rows by symbol and returns the summed
// trading volume and the mean close and open values, sorted by symbol.
// Nulls are skipped; a symbol without any price gets NaN means.
func SymbolTradings(intraday *models.Table) ([]models.SymbolTrading, error) {
	cols, err := requireColumns("gold.symbol_trading", intraday, "symbol", "trading_volume", "close_value", "open_value")
	if err != nil {
		return nil, err
	}
	symbol, volume, closeV, openV := cols[0], cols[1], cols[2], cols[3]

	type acc struct {
		volume      int64
		close, open meanAcc
	}
	groups := make(map[string]*acc)
	for i := 0; i < intraday.NumRows(); i++ {
		s, ok := symbol.Values[i].(string)
		if !ok {
			continue
		}
		g := groups[s]
		if g == nil {
			g = &acc{}
			groups[s] = g
		}
		if v, ok := volume.Values[i].(int64); ok {
			g.volume += v
		}
		g.close.add(closeV.Values[i])
		g.open.add(openV.Values[i])
	}

	out := make([]models.SymbolTrading, 0, len(groups))
	for s, g := range groups {
		out = append(out, models.SymbolTrading{
			Symbol:           s,
			TradingVolumeSum: g.volume,
			CloseValueMean:   g.close.mean(),
			OpenValueMean:    g.open.mean(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// EnrichWithTrading left-joins the per-symbol summary onto every intraday row
// and derives market_cap. Rows whose symbol has no summary get nulls. The
// summary is small and looked up in memory for each row.
func EnrichWithTrading(intraday *models.Table, trading []models.SymbolTrading) (*models.Table, error) {
	cols, err := requireColumns("gold.enrich", intraday, "symbol")
	if err != nil {
		return nil, err
	}
	symbol := cols[0]

	lookup := make(map[string]models.SymbolTrading, len(trading))
	for _, t := range trading {
		lookup[t.Symbol] = t
	}

	n := intraday.NumRows()
	volSum := make([]any, n)
	closeMean := make([]any, n)
	openMean := make([]any, n)
	marketCap := make([]any, n)
	for i := 0; i < n; i++ {
		s, ok := symbol.Values[i].(string)
		if !ok {
			continue
		}
		t, ok := lookup[s]
		if !ok {
			continue
		}
		volSum[i] = t.TradingVolumeSum
		closeMean[i] = nullIfNaN(t.CloseValueMean)
		openMean[i] = nullIfNaN(t.OpenValueMean)
		marketCap[i] = nullIfNaN(t.MarketCap())
	}

	out := intraday.Clone()
	for _, c := range []*models.Column{
		{Name: TradingVolumeSumColumn, Kind: models.KindInt64, Values: volSum},
		{Name: CloseValueMeanColumn, Kind: models.KindFloat64, Values: closeMean},
		{Name: OpenValueMeanColumn, Kind: models.KindFloat64, Values: openMean},
		{Name: MarketCapColumn, Kind: models.KindFloat64, Values: marketCap},
	} {
		if err := out.SetColumn(c); err != nil {
			return nil, etlerr.New(etlerr.Schema, "gold.enrich", err)
		}
	}
	return out, nil
}

func nullIfNaN(f float64) any {
	if math.IsNaN(f) {
		return nil
	}
	return f
}
