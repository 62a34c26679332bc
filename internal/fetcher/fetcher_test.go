package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tier-alerts/internal/monitor"
)

var fixedNow = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

var testWatchlist = monitor.Watchlist{
	{Symbol: "RAY", SourceID: "raydium"},
	{Symbol: "CRV", SourceID: "curve-dao-token"},
}

func newTestCoinGecko(t *testing.T, url string, opts CoinGeckoOptions) *CoinGecko {
	t.Helper()
	opts.BaseURL = url
	opts.Timeout = time.Second
	c := NewCoinGecko(opts, zerolog.Nop())
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCoinGeckoFetchAll(t *testing.T) {
	var gotQuery url.Values
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, simplePricePath, r.URL.Path)
		gotQuery = r.URL.Query()
		gotKey = r.Header.Get("x-cg-demo-api-key")
		_, _ = w.Write([]byte(`{
			"raydium": {"usd": 1.5, "usd_24h_change": -6.2, "usd_24h_vol": 1234567.8, "usd_market_cap": 400000000},
			"curve-dao-token": {"usd": 0.42, "usd_24h_change": null}
		}`))
	}))
	defer srv.Close()

	c := newTestCoinGecko(t, srv.URL, CoinGeckoOptions{APIKey: "demo"})
	got, err := c.FetchAll(context.Background(), testWatchlist)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "raydium,curve-dao-token", gotQuery.Get("ids"))
	assert.Equal(t, "usd", gotQuery.Get("vs_currencies"))
	assert.Equal(t, "true", gotQuery.Get("include_24hr_change"))
	assert.Equal(t, "demo", gotKey)

	ray := got["RAY"]
	assert.Equal(t, "RAY", ray.Symbol)
	assert.True(t, ray.Price.Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, ray.Change24h.Equal(decimal.NewFromFloat(-6.2)))
	require.NotNil(t, ray.Volume24h)
	require.NotNil(t, ray.MarketCap)
	assert.Equal(t, fixedNow, ray.ObservedAt)

	crv := got["CRV"]
	assert.True(t, crv.Change24h.IsZero())
	assert.Nil(t, crv.Volume24h)
}

func TestCoinGeckoSkipsMalformedAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"raydium": {"usd": 0, "usd_24h_change": 1}, "curve-dao-token": {"usd": 0.5, "usd_24h_change": 2}}`))
	}))
	defer srv.Close()

	got, err := newTestCoinGecko(t, srv.URL, CoinGeckoOptions{}).FetchAll(context.Background(), testWatchlist)
	require.NoError(t, err)
	assert.NotContains(t, got, "RAY")
	assert.Contains(t, got, "CRV")
}

func TestCoinGeckoRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"status":{"error_code":429,"error_message":"rate limited"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"raydium": {"usd": 2, "usd_24h_change": 9}}`))
	}))
	defer srv.Close()

	c := newTestCoinGecko(t, srv.URL, CoinGeckoOptions{Retry: RetryPolicy{Attempts: 3, Delay: time.Millisecond}})
	got, err := c.FetchAll(context.Background(), testWatchlist[:1])
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, got, "RAY")
}

func TestCoinGeckoUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestCoinGecko(t, srv.URL, CoinGeckoOptions{Retry: RetryPolicy{Attempts: 2, Delay: time.Millisecond}})
	_, err := c.FetchAll(context.Background(), testWatchlist)
	require.Error(t, err)
	assert.ErrorIs(t, err, monitor.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "coingecko api error (502)")
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoinGeckoPartialBatchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("ids"), "curve-dao-token") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"raydium": {"usd": 1.1, "usd_24h_change": 0.5}}`))
	}))
	defer srv.Close()

	c := newTestCoinGecko(t, srv.URL, CoinGeckoOptions{BatchSize: 1, Concurrency: 2})
	got, err := c.FetchAll(context.Background(), testWatchlist)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "RAY")
}

func TestCoinGeckoSharedSourceID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "raydium", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"raydium": {"usd": 1, "usd_24h_change": 0}}`))
	}))
	defer srv.Close()

	watchlist := monitor.Watchlist{{Symbol: "RAY", SourceID: "raydium"}, {Symbol: "RAYDIUM", SourceID: "raydium"}}
	got, err := newTestCoinGecko(t, srv.URL, CoinGeckoOptions{}).FetchAll(context.Background(), watchlist)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{Attempts: 5, Delay: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return assert.AnError
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunk([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a", "b", "c"}}, chunk([]string{"a", "b", "c"}, 0))
	assert.Nil(t, chunk(nil, 3))
}

// rewriteTransport sends every request to target, keeping path and query.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	clone.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func newTestCoinPaprika(t *testing.T, handler http.HandlerFunc) *CoinPaprika {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	p := NewCoinPaprika(CoinPaprikaOptions{
		Concurrency: 2,
		HTTPClient:  &http.Client{Timeout: time.Second, Transport: rewriteTransport{target: target}},
	}, zerolog.Nop())
	p.now = func() time.Time { return fixedNow }
	return p
}

func TestCoinPaprikaFetchAll(t *testing.T) {
	p := newTestCoinPaprika(t, func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		price := map[string]float64{"raydium": 1.5, "curve-dao-token": 0.4}[id]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     id,
			"name":   id,
			"symbol": strings.ToUpper(id),
			"quotes": map[string]any{
				"USD": map[string]any{
					"price":              price,
					"volume_24h":         1000.0,
					"market_cap":         50000.0,
					"percent_change_24h": -16.5,
				},
			},
		})
	})

	got, err := p.FetchAll(context.Background(), testWatchlist)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got["RAY"].Price.Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, got["CRV"].Change24h.Equal(decimal.NewFromFloat(-16.5)))
	assert.Equal(t, fixedNow, got["CRV"].ObservedAt)
}

func TestCoinPaprikaMissingQuote(t *testing.T) {
	p := newTestCoinPaprika(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"raydium","quotes":{"BTC":{"price":0.00001}}}`))
	})

	_, err := p.FetchAll(context.Background(), testWatchlist[:1])
	require.Error(t, err)
	assert.ErrorIs(t, err, monitor.ErrSourceUnavailable)
}

func TestStaticSource(t *testing.T) {
	obs, err := monitor.NewObservation("RAY", 1, -6, nil, nil, fixedNow)
	require.NoError(t, err)
	src := Static{"RAY": obs}

	got, err := src.FetchAll(context.Background(), testWatchlist)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = src.FetchAll(context.Background(), testWatchlist[1:])
	assert.ErrorIs(t, err, monitor.ErrSourceUnavailable)
}
