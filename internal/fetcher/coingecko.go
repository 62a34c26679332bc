package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-tier-alerts/internal/monitor"
)

const simplePricePath = "/simple/price"

// CoinGeckoOptions parameterise the CoinGecko fetcher.
type CoinGeckoOptions struct {
	BaseURL     string
	APIKey      string
	Currency    string
	Timeout     time.Duration
	UserAgent   string
	BatchSize   int
	Concurrency int
	Retry       RetryPolicy
}

// CoinGecko fetches prices from the CoinGecko simple price endpoint.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewCoinGecko constructs a CoinGecko fetcher.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	opts.Currency = strings.ToLower(opts.Currency)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchAll implements PriceSource. Batches are fetched concurrently; a batch
// that exhausts its retries only drops its own assets.
func (c *CoinGecko) FetchAll(ctx context.Context, watchlist monitor.Watchlist) (map[string]monitor.PriceObservation, error) {
	ids, symbols := idIndex(watchlist)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty watchlist", monitor.ErrSourceUnavailable)
	}

	var (
		mu       sync.Mutex
		result   = make(map[string]monitor.PriceObservation, len(watchlist))
		failures []error
	)

	g := new(errgroup.Group)
	g.SetLimit(c.opts.Concurrency)
	for _, batch := range chunk(ids, c.opts.BatchSize) {
		batch := batch
		g.Go(func() error {
			var quotes map[string]map[string]*float64
			err := c.opts.Retry.Do(ctx, func(ctx context.Context) error {
				var fetchErr error
				quotes, fetchErr = c.fetchBatch(ctx, batch)
				if fetchErr != nil {
					c.logger.Warn().Err(fetchErr).Strs("ids", batch).Msg("price request failed")
				}
				return fetchErr
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return nil
			}
			observedAt := c.now()
			for _, id := range batch {
				quote, ok := quotes[id]
				if !ok {
					c.logger.Warn().Str("id", id).Msg("no price returned for asset")
					continue
				}
				for _, symbol := range symbols[id] {
					obs, convErr := c.toObservation(symbol, quote, observedAt)
					if convErr != nil {
						c.logger.Warn().Err(convErr).Str("symbol", symbol).Msg("skipping asset")
						continue
					}
					result[symbol] = obs
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(result) == 0 {
		if len(failures) > 0 {
			return nil, fmt.Errorf("%w: %v", monitor.ErrSourceUnavailable, failures[0])
		}
		return nil, fmt.Errorf("%w: no assets priced", monitor.ErrSourceUnavailable)
	}
	return result, nil
}

func (c *CoinGecko) fetchBatch(ctx context.Context, ids []string) (map[string]map[string]*float64, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", c.opts.Currency)
	params.Set("include_24hr_change", "true")
	params.Set("include_24hr_vol", "true")
	params.Set("include_market_cap", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+simplePricePath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var quotes map[string]map[string]*float64
	if err := json.Unmarshal(payload, &quotes); err != nil {
		return nil, fmt.Errorf("decode simple price: %w", err)
	}
	return quotes, nil
}

func (c *CoinGecko) toObservation(symbol string, quote map[string]*float64, at time.Time) (monitor.PriceObservation, error) {
	cur := c.opts.Currency
	price := quote[cur]
	if price == nil {
		return monitor.PriceObservation{}, fmt.Errorf("%w: %s missing %s price", monitor.ErrMalformedObservation, symbol, cur)
	}
	// CoinGecko omits or nulls the change for freshly listed coins; treat as flat.
	change := 0.0
	if v := quote[cur+"_24h_change"]; v != nil {
		change = *v
	}
	return monitor.NewObservation(symbol, *price, change, quote[cur+"_24h_vol"], quote[cur+"_market_cap"], at)
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ PriceSource = (*CoinGecko)(nil)
