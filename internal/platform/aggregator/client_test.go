package aggregator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("amount"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"outputAmount": "0.0321",
			"priceImpactBps": 12,
			"gasUsd": "0.40",
			"timestamp": 1700000000000,
			"legs": [
				{"protocol":"uniswap-v3","chainId":"1","fromToken":"USDC","toToken":"WETH","amountIn":"100","amountOut":"0.0321","priceImpactBps":12}
			]
		}`))
	}))
	defer srv.Close()

	c := New(Config{Name: "agg1", BaseURL: srv.URL, APIKey: "k"})
	route := domain.Route{FromChainID: "1", ToChainID: "1", FromToken: "USDC", ToToken: "WETH", Amount: decimal.NewFromInt(100), SlippageBps: 50}
	q, err := c.Quote(context.Background(), route)
	require.NoError(t, err)

	assert.Equal(t, "agg1", q.Source)
	assert.True(t, q.OutputAmount.Equal(decimal.RequireFromString("0.0321")))
	require.Len(t, q.Legs, 1)
	assert.Equal(t, "1", q.Legs[0].ToChainID)
	assert.Equal(t, int64(1700000000), q.AsOf.Unix())
}

func TestQuoteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"no route"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{Name: "agg1", BaseURL: srv.URL}).Quote(context.Background(), domain.Route{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrNoRoute)
	assert.False(t, domain.IsRetryable(err))
}

func TestPriceServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{Name: "agg1", BaseURL: srv.URL}).Price(context.Background(), "1", "WETH")
	assert.ErrorIs(t, err, domain.ErrRPC)
	assert.True(t, domain.IsRetryable(err))
}
