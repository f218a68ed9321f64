package writer

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocklake/internal/etlerr"
	"stocklake/internal/metadata"
	"stocklake/models"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	backend := NewLocalBackend(dir)
	return NewStore(backend, NewCodec("snappy"), metadata.NewGenerator(backend, nil)), dir
}

func intradayTable(t *testing.T) *models.Table {
	t.Helper()
	day1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	tbl := models.NewTable()
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "symbol", Kind: models.KindString, Values: []any{"TSLA", "TSLA", "AMD", nil}}))
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "open_value", Kind: models.KindFloat16, Values: []any{float32(100), float32(105.5), nil, float32(1)}}))
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "trading_volume", Kind: models.KindInt64, Values: []any{int64(1000), int64(2000), int64(5), nil}}))
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "is_extended_hours", Kind: models.KindBool, Values: []any{false, true, nil, false}}))
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "date", Kind: models.KindTimestamp, Values: []any{
		day1.Add(10*time.Hour + 15*time.Minute),
		day1.Add(10*time.Hour + 30*time.Minute),
		day1.Add(14 * time.Hour),
		day2.Add(9 * time.Hour),
	}}))
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "only_date", Kind: models.KindDate, Values: []any{day1, day1, day1, day2}}))
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "hour", Kind: models.KindInt64, Values: []any{int64(10), int64(10), int64(14), int64(9)}}))
	return tbl
}

func searchTable(t *testing.T) *models.Table {
	t.Helper()
	tbl := models.NewTable()
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "symbol", Kind: models.KindString, Values: []any{"TSLA", "AMD"}}))
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "stock_type", Kind: models.KindCategory, Values: []any{"equity", "equity"}, Levels: []string{"equity"}}))
	require.NoError(t, tbl.AddColumn(&models.Column{Name: "market_cap", Kind: models.KindFloat64, Values: []any{1.5, nil}}))
	return tbl
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	in := searchTable(t)

	require.NoError(t, store.Save(ctx, in, "silver/stockdata_api/stocks/data.parquet"))
	out, err := store.Load(ctx, "silver/stockdata_api/stocks/data.parquet")
	require.NoError(t, err)

	assert.Equal(t, in.ColumnNames(), out.ColumnNames())
	for _, c := range in.Columns() {
		got, ok := out.Column(c.Name)
		require.True(t, ok)
		assert.Equal(t, c.Kind, got.Kind, c.Name)
		assert.Equal(t, c.Values, got.Values, c.Name)
	}
	st, _ := out.Column("stock_type")
	assert.Equal(t, []string{"equity"}, st.Levels)
}

func TestSaveIsByteIdentical(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()
	key := "bronze/stockdata_api/stocks/data.parquet"

	require.NoError(t, store.Save(ctx, searchTable(t), key))
	first, err := os.ReadFile(filepath.Join(dir, key))
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, searchTable(t), key))
	second, err := os.ReadFile(filepath.Join(dir, key))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

func TestSavePartitioned(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()
	root := "bronze/stockdata_api/intraday_values"

	require.NoError(t, store.Save(ctx, intradayTable(t), root, "only_date", "hour"))

	for _, p := range []string{
		"only_date=2024-01-02/hour=10/part-00000.parquet",
		"only_date=2024-01-02/hour=14/part-00000.parquet",
		"only_date=2024-01-03/hour=9/part-00000.parquet",
	} {
		_, err := os.Stat(filepath.Join(dir, root, p))
		assert.NoError(t, err, p)
	}

	part, err := store.Load(ctx, root+"/only_date=2024-01-02/hour=10/part-00000.parquet")
	require.NoError(t, err)
	assert.Equal(t, 2, part.NumRows())
	_, hasHour := part.Column("hour")
	assert.False(t, hasHour, "partition columns are not stored in the file")

	all, err := store.Load(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 4, all.NumRows())
	hour, ok := all.Column("hour")
	require.True(t, ok)
	assert.Equal(t, models.KindInt64, hour.Kind)
	onlyDate, ok := all.Column("only_date")
	require.True(t, ok)
	assert.Equal(t, models.KindDate, onlyDate.Kind)

	// every row sits in the partition matching its own date
	date, _ := all.Column("date")
	for i := 0; i < all.NumRows(); i++ {
		ts := date.Values[i].(time.Time)
		assert.Equal(t, int64(ts.Hour()), hour.Values[i])
		assert.Equal(t, ts.Format(models.DateLayout), onlyDate.Values[i].(time.Time).Format(models.DateLayout))
	}

	tm, err := metadata.NewGenerator(store.Backend(), nil).Read(ctx, root)
	require.NoError(t, err)
	assert.Len(t, tm.Files, 3)
	assert.Equal(t, int64(4), tm.RecordCount())
}

func TestSavePartitionedKeepsUntouched(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	root := "silver/stockdata_api/intraday_values"
	require.NoError(t, store.Save(ctx, intradayTable(t), root, "only_date", "hour"))

	// rewrite only the 2024-01-03 partition with a single new row
	day2 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	upd := models.NewTable()
	require.NoError(t, upd.AddColumn(&models.Column{Name: "symbol", Kind: models.KindString, Values: []any{"NVDA"}}))
	require.NoError(t, upd.AddColumn(&models.Column{Name: "only_date", Kind: models.KindDate, Values: []any{day2}}))
	require.NoError(t, upd.AddColumn(&models.Column{Name: "hour", Kind: models.KindInt64, Values: []any{int64(9)}}))
	require.NoError(t, store.Save(ctx, upd, root, "only_date", "hour"))

	all, err := store.Load(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 4, all.NumRows())
	sym, _ := all.Column("symbol")
	assert.Contains(t, sym.Values, "NVDA")
	assert.NotContains(t, sym.Values, nil)
}

func TestLoadMissingIsStorageError(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load(context.Background(), "silver/stockdata_api/stocks/data.parquet")
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.Storage))

	_, err = store.Load(context.Background(), "silver/stockdata_api/intraday_values")
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.Storage))
}

func TestSaveRejectsColumnsDifferingByCase(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	for _, names := range [][2]string{{"name", "Name"}, {"a", "A"}} {
		tbl := models.NewTable()
		require.NoError(t, tbl.AddColumn(&models.Column{Name: names[0], Kind: models.KindString, Values: []any{"x"}}))
		require.NoError(t, tbl.AddColumn(&models.Column{Name: names[1], Kind: models.KindString, Values: []any{"y"}}))

		key := "bronze/stockdata_api/" + names[0] + "/data.parquet"
		err := store.Save(ctx, tbl, key)
		require.Error(t, err, names)
		assert.True(t, etlerr.Is(err, etlerr.Storage), names)
		assert.Contains(t, err.Error(), "differ only by case")
		_, statErr := os.Stat(filepath.Join(dir, key))
		assert.True(t, os.IsNotExist(statErr), names)
	}
}

func TestSaveRoundTripsUnusualColumnNames(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tbl := models.NewTable()
	for _, name := range []string{"data.open", "data_open", "exchange-long", "market cap", "52_week_high"} {
		require.NoError(t, tbl.AddColumn(&models.Column{Name: name, Kind: models.KindFloat64, Values: []any{1.5, nil}}))
	}
	require.NoError(t, store.Save(ctx, tbl, "bronze/stockdata_api/odd/data.parquet"))

	out, err := store.Load(ctx, "bronze/stockdata_api/odd/data.parquet")
	require.NoError(t, err)
	assert.Equal(t, tbl.ColumnNames(), out.ColumnNames())
	for _, c := range out.Columns() {
		assert.Equal(t, []any{1.5, nil}, c.Values, c.Name)
	}
}

func TestSaveRowsRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	rows := []models.SymbolTrading{
		{Symbol: "AMD", TradingVolumeSum: 5, CloseValueMean: 10, OpenValueMean: 9},
		{Symbol: "TSLA", TradingVolumeSum: 3000, CloseValueMean: 112.5, OpenValueMean: 102.5},
	}
	require.NoError(t, store.SaveSymbolTrading(ctx, rows, "gold/stockdata_api/summaries/symbol_trading/data.parquet"))

	got, err := LoadRows[models.SymbolTrading](ctx, store, "gold/stockdata_api/summaries/symbol_trading/data.parquet")
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestS3BackendPartitionedRoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	backend := NewS3BackendWithClient(fake, "lake-bucket", "datalake", "test")
	store := NewStore(backend, NewCodec("gzip"), metadata.NewGenerator(backend, nil))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, intradayTable(t), "gold/stockdata_api/intraday_values", "only_date", "hour"))
	_, ok := fake.objects["datalake/gold/stockdata_api/intraday_values/only_date=2024-01-02/hour=14/part-00000.parquet"]
	assert.True(t, ok)
	_, ok = fake.objects["datalake/gold/stockdata_api/intraday_values/_manifest.json"]
	assert.True(t, ok)

	all, err := store.Load(ctx, "gold/stockdata_api/intraday_values")
	require.NoError(t, err)
	assert.Equal(t, 4, all.NumRows())
	assert.Equal(t, "s3://lake-bucket/datalake/x", backend.Location("x"))
}
