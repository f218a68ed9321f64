package models

// InstrumentCount is one row of the per (country, stock_type) instrument
// count summary.
type InstrumentCount struct {
	Country                   string `parquet:"country" json:"country"`
	StockType                 string `parquet:"stock_type,dict" json:"stock_type"`
	InvestmentInstrumentCount int64  `parquet:"investment_instrument_count" json:"investment_instrument_count"`
}

// SymbolTrading is one row of the per-symbol trading summary.
type SymbolTrading struct {
	Symbol           string  `parquet:"symbol" json:"symbol"`
	TradingVolumeSum int64   `parquet:"trading_volume_sum" json:"trading_volume_sum"`
	CloseValueMean   float64 `parquet:"close_value_mean" json:"close_value_mean"`
	OpenValueMean    float64 `parquet:"open_value_mean" json:"open_value_mean"`
}

// MarketCap is the volume weighted capitalization estimate carried on gold
// rows. It is not a shares-outstanding figure.
func (s SymbolTrading) MarketCap() float64 {
	return float64(s.TradingVolumeSum) * s.CloseValueMean
}
