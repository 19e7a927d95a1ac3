package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// SwapResumer is the part of the executor the swap loop depends on.
type SwapResumer interface {
	Resume(ctx context.Context, id string) (domain.Swap, error)
}

// SwapLoop drives direct swap requests, resumes swaps whose processing lease
// expired, and settles outstanding refunds of any source. The executor takes
// the swap lock itself, so this handler runs without a loop-level lock.
type SwapLoop struct {
	store  domain.SwapStore
	exec   SwapResumer
	logger *slog.Logger
}

var _ Handler[domain.Swap] = (*SwapLoop)(nil)

// NewSwapLoop creates a SwapLoop.
func NewSwapLoop(store domain.SwapStore, exec SwapResumer, logger *slog.Logger) *SwapLoop {
	return &SwapLoop{
		store:  store,
		exec:   exec,
		logger: logger.With(slog.String("component", "swap_loop")),
	}
}

func (l *SwapLoop) Due(ctx context.Context, now time.Time, limit int) ([]domain.Swap, error) {
	return l.store.ListDue(ctx, now, limit)
}

func (l *SwapLoop) Key(s domain.Swap) (string, string) {
	return "swap:" + s.Fingerprint, s.Fingerprint
}

func (l *SwapLoop) Process(ctx context.Context, s domain.Swap) (string, error) {
	refund := s.RefundPending()
	out, err := l.exec.Resume(ctx, s.ID)
	if err != nil {
		return OutcomeTransient, err
	}
	switch {
	case refund && out.Status == domain.SwapRefunded:
		l.logger.InfoContext(ctx, "refund settled", slog.String("swap_id", s.ID))
		return OutcomeExecuted, nil
	case refund:
		return OutcomeWaiting, nil
	case out.Status == domain.SwapCompleted:
		return OutcomeExecuted, nil
	case out.Status.Terminal():
		return OutcomeFailed, nil
	}
	return OutcomeWaiting, nil
}
