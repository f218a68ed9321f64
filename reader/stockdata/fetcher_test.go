package stockdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocklake/config"
	"stocklake/internal/etlerr"
)

type apiServer struct {
	mu       sync.Mutex
	queries  []url.Values
	handlers map[string]func(w http.ResponseWriter, q url.Values)
}

func newAPIServer(t *testing.T) (*apiServer, *Client) {
	t.Helper()
	api := &apiServer{handlers: map[string]func(http.ResponseWriter, url.Values){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.queries = append(api.queries, r.URL.Query())
		api.mu.Unlock()
		h, ok := api.handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r.URL.Query())
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{StockDataAPI: config.StockDataAPIConfig{
		BaseURL:  srv.URL + "/v1",
		APIToken: "secret",
		Timeout:  5 * time.Second,
	}}
	return api, NewClient(cfg)
}

func TestClientGetReturnsData(t *testing.T) {
	api, client := newAPIServer(t)
	api.handlers["/v1/entity/search"] = func(w http.ResponseWriter, q url.Values) {
		fmt.Fprintf(w, `{"meta":{"found":1},"data":[{"symbol":%q}]}`, q.Get("search"))
	}

	data, err := client.Get(context.Background(), EndpointSearch, url.Values{"search": {"TSLA"}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"symbol":"TSLA"}]`, string(data))
	assert.Equal(t, "secret", api.queries[0].Get("api_token"))
}

func TestClientGetErrors(t *testing.T) {
	api, client := newAPIServer(t)
	api.handlers["/v1/data/intraday"] = func(w http.ResponseWriter, q url.Values) {
		switch q.Get("symbols") {
		case "DOWN":
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"code":"down"}}`)
		case "NODATA":
			fmt.Fprint(w, `{"meta":{}}`)
		case "LIMIT":
			fmt.Fprint(w, `{"error":{"code":"usage_limit_reached","message":"limit"}}`)
		default:
			fmt.Fprint(w, `not json`)
		}
	}

	cases := map[string]etlerr.Kind{
		"DOWN":   etlerr.Transport,
		"NODATA": etlerr.Envelope,
		"LIMIT":  etlerr.Envelope,
		"BROKEN": etlerr.Envelope,
	}
	for symbol, kind := range cases {
		_, err := client.Get(context.Background(), EndpointIntraday, url.Values{"symbols": {symbol}})
		require.Error(t, err, symbol)
		assert.True(t, etlerr.Is(err, kind), "%s: %v", symbol, err)
	}
}

func TestExtractSkipsFailedSymbols(t *testing.T) {
	api, client := newAPIServer(t)
	api.handlers["/v1/data/intraday"] = func(w http.ResponseWriter, q url.Values) {
		switch s := q.Get("symbols"); s {
		case "TSLA":
			fmt.Fprint(w, `{"data":[
				{"ticker":"TSLA","date":"2024-01-02T10:00:00.000Z","data":{"open":100,"close":110,"volume":1000}},
				{"ticker":"TSLA","date":"2024-01-02T11:00:00.000Z","data":{"open":105,"close":115,"volume":2000}}]}`)
		case "AMD":
			fmt.Fprint(w, `{"data":[{"ticker":"AMD","date":"2024-01-02T10:00:00.000Z","data":{"open":1,"close":2,"volume":3}}]}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}

	params := url.Values{"date_from": {"2024-01-01"}, "date_to": {"2024-01-04"}}
	ext, err := NewFetcher(client).Extract(context.Background(), []string{"TSLA", "BAD", "AMD"}, EndpointIntraday, params)
	require.NoError(t, err)

	assert.Equal(t, 3, ext.Table.NumRows())
	assert.Equal(t, map[string]int{"TSLA": 2, "AMD": 1}, ext.PerSymbol)
	require.Len(t, ext.Failures, 1)
	assert.Equal(t, "BAD", ext.Failures[0].Symbol)
	assert.Equal(t, "transport", ext.Failures[0].Kind)

	total := 0
	for _, n := range ext.PerSymbol {
		total += n
	}
	assert.Equal(t, total, ext.Table.NumRows())

	for _, q := range api.queries {
		assert.Equal(t, "2024-01-01", q.Get("date_from"))
		assert.Equal(t, "2024-01-04", q.Get("date_to"))
	}
}

func TestExtractNoRecords(t *testing.T) {
	api, client := newAPIServer(t)
	api.handlers["/v1/entity/search"] = func(w http.ResponseWriter, _ url.Values) {
		fmt.Fprint(w, `{"data":[]}`)
	}
	ext, err := NewFetcher(client).Extract(context.Background(), []string{"ZZZZ"}, EndpointSearch, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrNoRecords))
	assert.Nil(t, ext.Table)
}

func TestExtractUnknownEndpoint(t *testing.T) {
	api, client := newAPIServer(t)
	_, err := NewFetcher(client).Extract(context.Background(), []string{"TSLA"}, "data/eod", nil)
	require.Error(t, err)
	assert.True(t, etlerr.Is(err, etlerr.Config))
	assert.Empty(t, api.queries)
}
