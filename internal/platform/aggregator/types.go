package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// APIQuote is the aggregator's quote response.
type APIQuote struct {
	OutputAmount   decimal.Decimal `json:"outputAmount"`
	PriceImpactBps int             `json:"priceImpactBps"`
	GasUSD         decimal.Decimal `json:"gasUsd"`
	Legs           []APILeg        `json:"legs"`
	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// APILeg is one hop of a quoted route.
type APILeg struct {
	Protocol       string          `json:"protocol"`
	ChainID        string          `json:"chainId"`
	ToChainID      string          `json:"toChainId,omitempty"`
	FromToken      string          `json:"fromToken"`
	ToToken        string          `json:"toToken"`
	AmountIn       decimal.Decimal `json:"amountIn"`
	AmountOut      decimal.Decimal `json:"amountOut"`
	PriceImpactBps int             `json:"priceImpactBps"`
}

// APIPrice is the aggregator's spot price response.
type APIPrice struct {
	PriceUSD  decimal.Decimal `json:"priceUsd"`
	Timestamp int64           `json:"timestamp"`
}

// ToDomainQuote converts an API quote for route r.
func (q APIQuote) ToDomainQuote(source string, r domain.Route, now time.Time) domain.Quote {
	legs := make([]domain.QuoteLeg, 0, len(q.Legs))
	for _, l := range q.Legs {
		to := l.ToChainID
		if to == "" {
			to = l.ChainID
		}
		legs = append(legs, domain.QuoteLeg{
			Protocol:       l.Protocol,
			ChainID:        l.ChainID,
			ToChainID:      to,
			InputToken:     l.FromToken,
			OutputToken:    l.ToToken,
			InputAmount:    l.AmountIn,
			ExpectedOutput: l.AmountOut,
			PriceImpactBps: l.PriceImpactBps,
		})
	}
	return domain.Quote{
		Source:         source,
		Route:          r,
		Legs:           legs,
		OutputAmount:   q.OutputAmount,
		PriceImpactBps: q.PriceImpactBps,
		GasUSD:         q.GasUSD,
		AsOf:           msOrNow(q.Timestamp, now),
	}
}

// ToDomainPrice converts an API price.
func (p APIPrice) ToDomainPrice(source string, now time.Time) domain.Price {
	return domain.Price{Value: p.PriceUSD, AsOf: msOrNow(p.Timestamp, now), Source: source}
}

func msOrNow(ms int64, now time.Time) time.Time {
	if ms <= 0 {
		return now
	}
	return time.UnixMilli(ms).UTC()
}
