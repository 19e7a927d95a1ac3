package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

type fakeArchiver struct {
	before time.Time
	n      int64
	err    error
}

func (a *fakeArchiver) ArchiveSwaps(_ context.Context, before time.Time) (int64, error) {
	a.before = before
	return a.n, a.err
}

func TestRetentionRunOnce(t *testing.T) {
	clk := newClock()
	arch := &fakeArchiver{n: 7}
	r := NewRetention(arch, 30*24*time.Hour, "0 3 * * *", clk.Now, discardLogger())

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.Equal(t, clk.Now().Add(-30*24*time.Hour), arch.before)
	assert.Equal(t, "retention", r.Name())

	arch.err = errors.New("s3 unavailable")
	_, err = r.RunOnce(context.Background())
	assert.ErrorContains(t, err, "s3 unavailable")
}

func TestRetentionRejectsBadCron(t *testing.T) {
	r := NewRetention(&fakeArchiver{}, time.Hour, "every day", nil, discardLogger())
	assert.Error(t, r.Run(context.Background()))
}

func TestCronNext(t *testing.T) {
	base := time.Date(2026, 3, 10, 14, 7, 30, 0, time.UTC) // a Tuesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 10, 14, 15, 0, 0, time.UTC)},
		{"30 14,18 * * *", time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"0 9 * * 0", time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := c.next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "*/0 * * * *", "a * * * *", "1 2 3 4 5 6"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}

	c, err := parseCron("0 0 30 2 *")
	require.NoError(t, err)
	_, err = c.next(time.Now())
	assert.Error(t, err, "february 30th never matches")
}

type stalePort struct {
	price domain.Price
	err   error
}

func (s stalePort) GetQuote(context.Context, domain.Route, domain.QuoteOptions) (domain.Quote, error) {
	return domain.Quote{}, nil
}

func (s stalePort) GetPrice(context.Context, string, string) (domain.Price, error) {
	return s.price, s.err
}

func TestTriggerPrice(t *testing.T) {
	now := time.Now()
	ctx := context.Background()

	p, err := triggerPrice(ctx, stalePort{price: domain.Price{Value: d("5"), AsOf: now}}, "1", "x", time.Minute, now)
	require.NoError(t, err)
	assert.True(t, p.Value.Equal(d("5")))

	stale := stalePort{price: domain.Price{Value: d("5"), AsOf: now.Add(-2 * time.Minute)}, err: domain.ErrStaleData}
	_, err = triggerPrice(ctx, stale, "1", "x", 5*time.Minute, now)
	assert.NoError(t, err, "within tolerance")
	_, err = triggerPrice(ctx, stale, "1", "x", time.Minute, now)
	assert.ErrorIs(t, err, domain.ErrQuoteUnavailable)
	_, err = triggerPrice(ctx, stale, "1", "x", 0, now)
	assert.ErrorIs(t, err, domain.ErrQuoteUnavailable, "no tolerance means stale is never accepted")

	_, err = triggerPrice(ctx, stalePort{err: domain.ErrNoRoute}, "1", "x", time.Minute, now)
	assert.ErrorIs(t, err, domain.ErrNoRoute)
}
