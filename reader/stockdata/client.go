// Package stockdata reads equity data from the StockData REST API.
package stockdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stocklake/config"
	"stocklake/internal/etlerr"
	"stocklake/logger"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Client issues authenticated GET requests against the API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient builds a client from the stockdata_api configuration. Keep-alives
// are disabled; each per-symbol request uses its own connection.
func NewClient(cfg *config.Config) *Client {
	log := logger.GetLogger()
	api := cfg.StockDataAPI

	transport := &http.Transport{
		Proxy:              http.ProxyFromEnvironment,
		DisableKeepAlives:  true,
		DisableCompression: false,
	}

	var limiter *rate.Limiter
	if api.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(api.RequestsPerSecond), 1)
	}

	c := &Client{
		baseURL: strings.TrimRight(api.BaseURL, "/"),
		token:   api.APIToken,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   api.Timeout,
		},
		limiter: limiter,
		log:     log,
	}

	log.WithComponent("stockdata_client").WithFields(logger.Fields{
		"base_url":            c.baseURL,
		"timeout":             api.Timeout,
		"requests_per_second": api.RequestsPerSecond,
	}).Info("stockdata client initialized")

	return c
}

// Get performs GET {base_url}/{endpoint}?api_token=...&query and returns the
// envelope's data field. Network failures and non-2xx statuses are transport
// errors; a body without data is an envelope error.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	op := "get " + endpoint
	log := c.log.WithComponent("stockdata_client").WithFields(logger.Fields{
		"endpoint":  endpoint,
		"operation": "get",
	})

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, etlerr.New(etlerr.Transport, op, err)
		}
	}

	q := url.Values{}
	for k, vs := range query {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("api_token", c.token)
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, strings.TrimLeft(endpoint, "/"), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, etlerr.Errorf(etlerr.Config, op, "build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, etlerr.New(etlerr.Transport, op, redact(err, c.token))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, etlerr.Errorf(etlerr.Transport, op, "read body: %w", err)
	}

	logger.LogPerformanceEntry(log, "stockdata_client", "get", time.Since(start), logger.Fields{
		"status":     resp.StatusCode,
		"body_bytes": len(body),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, etlerr.Errorf(etlerr.Transport, op, "unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(snippet))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, etlerr.Errorf(etlerr.Envelope, op, "decode response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		if env.Error != nil {
			return nil, etlerr.Errorf(etlerr.Envelope, op, "api error %s: %s", env.Error.Code, env.Error.Message)
		}
		return nil, etlerr.Errorf(etlerr.Envelope, op, "response has no data field")
	}
	return env.Data, nil
}

// redact strips the API token from errors that echo the request URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "REDACTED"))
}
