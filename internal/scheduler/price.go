package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// triggerPrice fetches a price for trigger evaluation. Unlike execution, a
// trigger accepts a stale observation as long as it is no older than
// tolerance.
func triggerPrice(ctx context.Context, quotes domain.QuotePort, chainID, token string, tolerance time.Duration, now time.Time) (domain.Price, error) {
	p, err := quotes.GetPrice(ctx, chainID, token)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, domain.ErrStaleData) && p.Value.IsPositive() {
		if tolerance > 0 && now.Sub(p.AsOf) <= tolerance {
			return p, nil
		}
		// Too old to act on; a fresh observation is expected shortly.
		return p, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}
	return p, err
}
