// Package aggregator is the HTTP adapter for DEX and bridge aggregator quote
// APIs. Each configured aggregator becomes one domain.QuoteSource.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/platform/apiclient"
)

// Config configures one aggregator endpoint.
type Config struct {
	Name          string
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
}

// Client implements domain.QuoteSource.
type Client struct {
	name  string
	api   *apiclient.Client
	nowFn func() time.Time
}

var _ domain.QuoteSource = (*Client)(nil)

// New creates a Client. The API key, when set, is sent as a bearer token.
func New(cfg Config) *Client {
	var headers apiclient.HeaderFunc
	if cfg.APIKey != "" {
		key := cfg.APIKey
		headers = func(string, string, string) map[string]string {
			return map[string]string{"Authorization": "Bearer " + key}
		}
	}
	return &Client{
		name: cfg.Name,
		api: apiclient.New(apiclient.Config{
			BaseURL:       cfg.BaseURL,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
			Headers:       headers,
		}),
		nowFn: time.Now,
	}
}

func (c *Client) Name() string { return c.name }

// Quote asks for the best route for r. A 404 means the aggregator has no
// route for the pair.
func (c *Client) Quote(ctx context.Context, r domain.Route) (domain.Quote, error) {
	q := url.Values{}
	q.Set("fromChainId", r.FromChainID)
	q.Set("toChainId", r.ToChainID)
	q.Set("fromToken", r.FromToken)
	q.Set("toToken", r.ToToken)
	q.Set("amount", r.Amount.String())
	q.Set("slippageBps", strconv.Itoa(r.SlippageBps))

	var resp APIQuote
	if err := c.api.Do(ctx, http.MethodGet, "/v1/quote?"+q.Encode(), nil, &resp, nil); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Quote{}, fmt.Errorf("aggregator/%s: quote: %w", c.name, domain.ErrNoRoute)
		}
		return domain.Quote{}, fmt.Errorf("aggregator/%s: quote: %w", c.name, err)
	}
	if len(resp.Legs) == 0 {
		return domain.Quote{}, fmt.Errorf("aggregator/%s: quote without legs: %w", c.name, domain.ErrInvalidRoute)
	}
	return resp.ToDomainQuote(c.name, r, c.nowFn().UTC()), nil
}

// Price returns the USD spot price of token. Unknown tokens yield
// domain.ErrNotFound.
func (c *Client) Price(ctx context.Context, chainID, token string) (domain.Price, error) {
	path := fmt.Sprintf("/v1/price/%s/%s", url.PathEscape(chainID), url.PathEscape(token))
	var resp APIPrice
	if err := c.api.Do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
		return domain.Price{}, fmt.Errorf("aggregator/%s: price: %w", c.name, err)
	}
	return resp.ToDomainPrice(c.name, c.nowFn().UTC()), nil
}
