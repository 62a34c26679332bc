package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-tier-alerts/internal/monitor"
)

// CoinPaprikaOptions parameterise the CoinPaprika fetcher.
type CoinPaprikaOptions struct {
	APIKey      string
	Currency    string
	Timeout     time.Duration
	Concurrency int
	Retry       RetryPolicy
	// HTTPClient overrides the client handed to the SDK.
	HTTPClient *http.Client
}

// CoinPaprika fetches one ticker per asset through the CoinPaprika SDK.
type CoinPaprika struct {
	opts   CoinPaprikaOptions
	logger zerolog.Logger
	client *coinpaprika.Client
	now    func() time.Time
}

// NewCoinPaprika constructs a CoinPaprika fetcher.
func NewCoinPaprika(opts CoinPaprikaOptions, logger zerolog.Logger) *CoinPaprika {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	opts.Currency = strings.ToUpper(opts.Currency)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var client *coinpaprika.Client
	if opts.APIKey != "" {
		client = coinpaprika.NewClient(httpClient, coinpaprika.WithAPIKey(opts.APIKey))
	} else {
		client = coinpaprika.NewClient(httpClient)
	}

	return &CoinPaprika{
		opts:   opts,
		logger: logger.With().Str("component", "coinpaprika_fetcher").Logger(),
		client: client,
		now:    time.Now,
	}
}

// FetchAll implements PriceSource.
func (p *CoinPaprika) FetchAll(ctx context.Context, watchlist monitor.Watchlist) (map[string]monitor.PriceObservation, error) {
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
	g.SetLimit(p.opts.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			var ticker *coinpaprika.Ticker
			err := p.opts.Retry.Do(ctx, func(context.Context) error {
				var fetchErr error
				ticker, fetchErr = p.client.Tickers.GetByID(id, &coinpaprika.TickersOptions{Quotes: p.opts.Currency})
				if fetchErr != nil {
					p.logger.Warn().Err(fetchErr).Str("id", id).Msg("ticker request failed")
				}
				return fetchErr
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return nil
			}
			observedAt := p.now()
			for _, symbol := range symbols[id] {
				obs, convErr := p.toObservation(symbol, ticker, observedAt)
				if convErr != nil {
					p.logger.Warn().Err(convErr).Str("symbol", symbol).Msg("skipping asset")
					continue
				}
				result[symbol] = obs
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

func (p *CoinPaprika) toObservation(symbol string, ticker *coinpaprika.Ticker, at time.Time) (monitor.PriceObservation, error) {
	if ticker == nil {
		return monitor.PriceObservation{}, fmt.Errorf("%w: %s empty ticker", monitor.ErrMalformedObservation, symbol)
	}
	quote, ok := ticker.Quotes[p.opts.Currency]
	if !ok || quote.Price == nil {
		return monitor.PriceObservation{}, fmt.Errorf("%w: %s missing %s quote", monitor.ErrMalformedObservation, symbol, p.opts.Currency)
	}
	change := 0.0
	if quote.PercentChange24h != nil {
		change = *quote.PercentChange24h
	}
	return monitor.NewObservation(symbol, *quote.Price, change, quote.Volume24h, quote.MarketCap, at)
}

var _ PriceSource = (*CoinPaprika)(nil)
