package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddColumnLengthMismatch(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddColumn(&Column{Name: "symbol", Kind: KindString, Values: []any{"TSLA", "AMD"}}))
	err := tbl.AddColumn(&Column{Name: "price", Kind: KindFloat64, Values: []any{1.0}})
	require.Error(t, err)
	assert.Equal(t, 2, tbl.NumRows())
}

func TestRenameAndDrop(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddColumn(&Column{Name: "ticker", Kind: KindString, Values: []any{"TSLA"}}))
	require.NoError(t, tbl.AddColumn(&Column{Name: "data.open", Kind: KindFloat64, Values: []any{1.5}}))

	require.NoError(t, tbl.RenameColumn("ticker", "symbol"))
	assert.Equal(t, []string{"symbol", "data.open"}, tbl.ColumnNames())
	require.Error(t, tbl.RenameColumn("missing", "x"))

	tbl.DropColumn("data.open")
	assert.Equal(t, []string{"symbol"}, tbl.ColumnNames())
	_, ok := tbl.Column("data.open")
	assert.False(t, ok)
}

func TestConcatUnionAndWidening(t *testing.T) {
	a := NewTable()
	require.NoError(t, a.AddColumn(&Column{Name: "ticker", Kind: KindString, Values: []any{"TSLA"}}))
	require.NoError(t, a.AddColumn(&Column{Name: "volume", Kind: KindInt64, Values: []any{int64(10)}}))

	b := NewTable()
	require.NoError(t, b.AddColumn(&Column{Name: "volume", Kind: KindFloat64, Values: []any{2.5, nil}}))
	require.NoError(t, b.AddColumn(&Column{Name: "ticker", Kind: KindString, Values: []any{"AMD", "AMD"}}))
	require.NoError(t, b.AddColumn(&Column{Name: "extra", Kind: KindBool, Values: []any{true, false}}))

	out, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumRows())
	assert.Equal(t, []string{"ticker", "volume", "extra"}, out.ColumnNames())

	vol, _ := out.Column("volume")
	assert.Equal(t, KindFloat64, vol.Kind)
	assert.Equal(t, []any{10.0, 2.5, nil}, vol.Values)

	extra, _ := out.Column("extra")
	assert.Equal(t, []any{nil, true, false}, extra.Values)
}

func TestTakeReordersRowsAndKeepsLevels(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddColumn(&Column{Name: "n", Kind: KindInt64, Values: []any{int64(1), int64(2), int64(3)}}))
	require.NoError(t, tbl.AddColumn(&Column{Name: "c", Kind: KindCategory, Values: []any{"b", "a", "b"}, Levels: []string{"a", "b"}}))

	out := tbl.Take([]int{2, 0})
	assert.Equal(t, 2, out.NumRows())
	assert.Equal(t, []string{"n", "c"}, out.ColumnNames())
	n, _ := out.Column("n")
	assert.Equal(t, []any{int64(3), int64(1)}, n.Values)
	c, ok := out.Column("c")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, c.Levels)

	require.NoError(t, out.AddColumn(&Column{Name: "m", Kind: KindBool, Values: []any{true, false}}))
	assert.Error(t, out.AddColumn(&Column{Name: "n", Kind: KindBool, Values: []any{true, false}}))
}

func TestCloneSharesNoValues(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddColumn(&Column{Name: "n", Kind: KindInt64, Values: []any{int64(1), int64(2)}}))

	out := tbl.Clone()
	col, ok := out.Column("n")
	require.True(t, ok)
	col.Values[0] = int64(9)
	orig, _ := tbl.Column("n")
	assert.Equal(t, int64(1), orig.Values[0])
	assert.Equal(t, 2, out.NumRows())
	assert.Error(t, out.AddColumn(&Column{Name: "m", Kind: KindInt64, Values: []any{int64(1)}}))
}

func TestRecordKeepsKeyOrder(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"ticker":"TSLA","data":{"open":1.5,"volume":100},"date":"2024-01-02T10:00:00.000Z"}`), &rec))
	assert.Equal(t, []string{"ticker", "data", "date"}, rec.Keys())

	flat := rec.Flatten()
	keys := make([]string, len(flat))
	for i, f := range flat {
		keys[i] = f.Key
	}
	assert.Equal(t, []string{"ticker", "data.open", "data.volume", "date"}, keys)
	assert.Equal(t, json.Number("100"), flat[2].Value)

	out, err := json.Marshal(&rec)
	require.NoError(t, err)
	assert.Equal(t, `{"ticker":"TSLA","data":{"open":1.5,"volume":100},"date":"2024-01-02T10:00:00.000Z"}`, string(out))
}

func TestMarketCap(t *testing.T) {
	s := SymbolTrading{Symbol: "TSLA", TradingVolumeSum: 3000, CloseValueMean: 112.5}
	assert.Equal(t, 337500.0, s.MarketCap())
}
