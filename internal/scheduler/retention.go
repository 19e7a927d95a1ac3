package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// Retention archives terminal swaps older than the retention window on a
// cron schedule.
type Retention struct {
	archiver domain.Archiver
	keep     time.Duration
	cronExpr string
	nowFn    func() time.Time
	logger   *slog.Logger
}

// NewRetention creates a Retention runner. keep is how long terminal swaps
// stay in the primary store.
func NewRetention(archiver domain.Archiver, keep time.Duration, cronExpr string, nowFn func() time.Time, logger *slog.Logger) *Retention {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Retention{
		archiver: archiver,
		keep:     keep,
		cronExpr: cronExpr,
		nowFn:    nowFn,
		logger:   logger.With(slog.String("component", "retention")),
	}
}

func (r *Retention) Name() string { return "retention" }

// RunOnce archives everything past the window.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.nowFn().UTC().Add(-r.keep)
	n, err := r.archiver.ArchiveSwaps(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("retention: archive before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	r.logger.InfoContext(ctx, "retention run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("swaps_archived", n),
	)
	return n, nil
}

// Run fires RunOnce at every cron match until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) error {
	sched, err := parseCron(r.cronExpr)
	if err != nil {
		return fmt.Errorf("retention: cron %q: %w", r.cronExpr, err)
	}
	r.logger.Info("retention started", slog.String("cron", r.cronExpr), slog.Duration("keep", r.keep))

	for {
		next, err := sched.next(r.nowFn().UTC())
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("retention run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField matches one field of a 5-field cron expression. It supports "*",
// "*/n", single values and comma lists.
type cronField struct {
	any    bool
	step   int
	values []int
}

func (f cronField) matches(v int) bool {
	switch {
	case f.any:
		return true
	case f.step > 0:
		return v%f.step == 0
	}
	for _, x := range f.values {
		if x == v {
			return true
		}
	}
	return false
}

func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{any: true}, nil
	}
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return cronField{}, fmt.Errorf("invalid step %q", field)
		}
		return cronField{step: n}, nil
	}
	var f cronField
	for _, p := range strings.Split(field, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid value %q: %w", p, err)
		}
		f.values = append(f.values, v)
	}
	return f, nil
}

// cronSchedule is minute, hour, day of month, month, day of week.
type cronSchedule [5]cronField

func parseCron(expr string) (cronSchedule, error) {
	var c cronSchedule
	fields := strings.Fields(expr)
	if len(fields) != len(c) {
		return c, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	for i, raw := range fields {
		f, err := parseCronField(raw)
		if err != nil {
			return c, fmt.Errorf("field %d: %w", i+1, err)
		}
		c[i] = f
	}
	return c, nil
}

func (c cronSchedule) matches(t time.Time) bool {
	return c[0].matches(t.Minute()) &&
		c[1].matches(t.Hour()) &&
		c[2].matches(t.Day()) &&
		c[3].matches(int(t.Month())) &&
		c[4].matches(int(t.Weekday()))
}

// next returns the first matching minute after after, searching one year.
func (c cronSchedule) next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(1, 0, 1)
	for ; t.Before(limit); t = t.Add(time.Minute) {
		if c.matches(t) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no cron match within a year")
}
