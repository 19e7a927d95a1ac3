package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Route describes what a quote is requested for.
type Route struct {
	FromChainID string          `json:"fromChainId"`
	ToChainID   string          `json:"toChainId"`
	FromToken   string          `json:"fromToken"`
	ToToken     string          `json:"toToken"`
	Amount      decimal.Decimal `json:"amount"`
	SlippageBps int             `json:"slippageBps"`
}

// Key is the cache key for quotes on this route.
func (r Route) Key() string {
	return strings.Join([]string{
		"q", r.FromChainID, strings.ToLower(r.FromToken),
		r.ToChainID, strings.ToLower(r.ToToken),
		r.Amount.String(), strconv.Itoa(r.SlippageBps),
	}, ":")
}

// QuoteLeg is one hop of a quoted route.
type QuoteLeg struct {
	Protocol       string          `json:"protocol"`
	ChainID        string          `json:"chainId"`
	ToChainID      string          `json:"toChainId"`
	InputToken     string          `json:"inputToken"`
	OutputToken    string          `json:"outputToken"`
	InputAmount    decimal.Decimal `json:"inputAmount"`
	ExpectedOutput decimal.Decimal `json:"expectedOutput"`
	PriceImpactBps int             `json:"priceImpactBps"`
}

// Quote is the best route returned by the Quote/Price Port.
type Quote struct {
	Source         string          `json:"source"`
	Route          Route           `json:"route"`
	Legs           []QuoteLeg      `json:"legs"`
	OutputAmount   decimal.Decimal `json:"outputAmount"`
	PriceImpactBps int             `json:"priceImpactBps"`
	GasUSD         decimal.Decimal `json:"gasUsd"`
	AsOf           time.Time       `json:"asOf"`
}

// QuoteOptions tunes a single GetQuote call.
type QuoteOptions struct {
	// Fresh bypasses every cache tier.
	Fresh bool
}

// Price is a USD price observation for a token.
type Price struct {
	Value  decimal.Decimal `json:"value"`
	AsOf   time.Time       `json:"asOf"`
	Source string          `json:"source"`
}

// PriceKey is the cache key for a token price.
func PriceKey(chainID, token string) string {
	return "p:" + chainID + ":" + strings.ToLower(token)
}
