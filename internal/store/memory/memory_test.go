package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func TestSwapStoreFingerprintUnique(t *testing.T) {
	ctx := context.Background()
	s := NewSwapStore()
	require.NoError(t, s.Create(ctx, domain.Swap{ID: "a", Fingerprint: "swap:a", CreatedAt: t0}))

	err := s.Create(ctx, domain.Swap{ID: "b", Fingerprint: "swap:a"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	err = s.Create(ctx, domain.Swap{ID: "a", Fingerprint: "swap:other"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := s.GetByFingerprint(ctx, "swap:a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSwapStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewSwapStore()
	require.NoError(t, s.Create(ctx, domain.Swap{ID: "a", Fingerprint: "swap:a", Steps: []domain.SwapStep{{StepIndex: 0}}}))

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	got.Steps[0].Status = domain.StepFailed

	again, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.NotEqual(t, domain.StepFailed, again.Steps[0].Status)
}

func TestSwapStoreCancelSurvivesStaleUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewSwapStore()
	require.NoError(t, s.Create(ctx, domain.Swap{ID: "a", Fingerprint: "swap:a", Status: domain.SwapProcessing}))
	stale, err := s.GetByID(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.RequestCancel(ctx, "a"))
	stale.CurrentStepIndex = 0
	require.NoError(t, s.Update(ctx, stale))

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)

	got.Status = domain.SwapFailed
	require.NoError(t, s.Update(ctx, got))
	assert.ErrorIs(t, s.RequestCancel(ctx, "a"), domain.ErrInvalidRequest)
	assert.ErrorIs(t, s.RequestCancel(ctx, "nope"), domain.ErrNotFound)
}

func TestSwapStoreListDue(t *testing.T) {
	ctx := context.Background()
	s := NewSwapStore()
	later := t0.Add(time.Hour)
	swaps := []domain.Swap{
		{ID: "direct", Fingerprint: "1", Source: domain.SourceDirect, Status: domain.SwapPending, CreatedAt: t0},
		{ID: "backoff", Fingerprint: "2", Source: domain.SourceDirect, Status: domain.SwapPending, NextAttemptAt: &later, CreatedAt: t0},
		{ID: "dca", Fingerprint: "3", Source: domain.SourceDCA, Status: domain.SwapProcessing, CreatedAt: t0},
		{ID: "refund", Fingerprint: "4", Source: domain.SourceDCA, Status: domain.SwapFailed,
			Refund: &domain.Refund{Status: domain.RefundPending}, CreatedAt: t0.Add(-time.Minute)},
		{ID: "done", Fingerprint: "5", Source: domain.SourceDirect, Status: domain.SwapCompleted, CreatedAt: t0},
	}
	for _, sw := range swaps {
		require.NoError(t, s.Create(ctx, sw))
	}

	due, err := s.ListDue(ctx, t0, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "refund", due[0].ID)
	assert.Equal(t, "direct", due[1].ID)

	due, err = s.ListDue(ctx, later, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestSwapStoreListByUserAndArchive(t *testing.T) {
	ctx := context.Background()
	s := NewSwapStore()
	for i := range 4 {
		done := t0.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Create(ctx, domain.Swap{
			ID: string(rune('a' + i)), Fingerprint: string(rune('a' + i)), UserID: "u1",
			Status: domain.SwapCompleted, CreatedAt: done, CompletedAt: &done,
		}))
	}
	require.NoError(t, s.Create(ctx, domain.Swap{ID: "x", Fingerprint: "x", UserID: "u2", CreatedAt: t0}))

	page, err := s.ListByUser(ctx, "u1", domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	old, err := s.ListTerminalBefore(ctx, t0.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, old, 2)

	require.NoError(t, s.Delete(ctx, []string{"a", "b", "missing"}))
	_, err = s.GetByFingerprint(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, s.Create(ctx, domain.Swap{ID: "a2", Fingerprint: "a"}))
}

func TestDCAStoreListDueAndRecord(t *testing.T) {
	ctx := context.Background()
	s := NewDCAStore()
	require.NoError(t, s.Create(ctx, domain.DCAStrategy{ID: "late", Status: domain.DCAActive, NextExecutionAt: t0.Add(-time.Hour)}))
	require.NoError(t, s.Create(ctx, domain.DCAStrategy{ID: "now", Status: domain.DCAActive, NextExecutionAt: t0}))
	require.NoError(t, s.Create(ctx, domain.DCAStrategy{ID: "future", Status: domain.DCAActive, NextExecutionAt: t0.Add(time.Hour)}))
	require.NoError(t, s.Create(ctx, domain.DCAStrategy{ID: "paused", Status: domain.DCAPaused, NextExecutionAt: t0.Add(-time.Hour)}))
	assert.ErrorIs(t, s.Create(ctx, domain.DCAStrategy{ID: "now"}), domain.ErrAlreadyExists)

	due, err := s.ListDue(ctx, t0, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "late", due[0].ID)

	require.NoError(t, s.RequestCancel(ctx, "paused"))
	due, err = s.ListDue(ctx, t0, 0)
	require.NoError(t, err)
	assert.Len(t, due, 3, "a paused strategy with a cancel request is due")

	st, err := s.GetByID(ctx, "now")
	require.NoError(t, err)
	exec := domain.DCAExecution{ID: "e1", StrategyID: "now", Fingerprint: "dca:now:1", ExecutionNumber: 1, CreatedAt: t0}
	require.NoError(t, s.SaveExecution(ctx, exec))

	exec.ID = "e-replaced"
	exec.CreatedAt = t0.Add(time.Minute)
	exec.Status = domain.DCAExecCompleted
	st.ExecutedCount = 1
	require.NoError(t, s.RecordExecution(ctx, st, exec))

	got, err := s.GetExecution(ctx, "dca:now:1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, t0, got.CreatedAt)
	assert.Equal(t, domain.DCAExecCompleted, got.Status)

	require.NoError(t, s.SaveExecution(ctx, domain.DCAExecution{StrategyID: "now", Fingerprint: "dca:now:2", ExecutionNumber: 2}))
	all, err := s.ListExecutions(ctx, "now")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].ExecutionNumber)

	stored, err := s.GetByID(ctx, "now")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutedCount)
}

func TestLimitOrderStoreFillsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := NewLimitOrderStore()
	o := domain.LimitOrder{ID: "o1", Status: domain.OrderPending, CreatedAt: t0}
	require.NoError(t, s.Create(ctx, o))
	require.NoError(t, s.Create(ctx, domain.LimitOrder{ID: "o2", Status: domain.OrderFilled, CreatedAt: t0}))

	open, err := s.ListOpen(ctx, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)

	o.Status = domain.OrderPartiallyFilled
	fill := domain.LimitOrderFill{OrderID: "o1", Fingerprint: "order:o1:1"}
	require.NoError(t, s.RecordFill(ctx, o, fill))
	assert.ErrorIs(t, s.RecordFill(ctx, o, fill), domain.ErrAlreadyExists)

	fills, err := s.ListFills(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, fills, 1)

	require.NoError(t, s.RequestCancel(ctx, "o1"))
	assert.ErrorIs(t, s.RequestCancel(ctx, "o2"), domain.ErrInvalidRequest)
	got, err := s.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, domain.OrderPartiallyFilled, got.Status)
}

func TestAlertStoreHistory(t *testing.T) {
	ctx := context.Background()
	s := NewAlertStore()
	a := domain.PriceAlert{ID: "al", Status: domain.AlertActive, CreatedAt: t0}
	require.NoError(t, s.Create(ctx, a))

	active, err := s.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	a.TriggerCount = 1
	trig := domain.AlertTrigger{AlertID: "al", Fingerprint: "alert:al:1", TriggeredAt: t0}
	require.NoError(t, s.RecordTrigger(ctx, a, trig))
	assert.ErrorIs(t, s.RecordTrigger(ctx, a, trig), domain.ErrAlreadyExists)

	hist, err := s.ListHistory(ctx, "al")
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	require.NoError(t, s.RequestCancel(ctx, "al"))
	got, err := s.GetByID(ctx, "al")
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, 1, got.TriggerCount)
}

func TestContactAndAuditStores(t *testing.T) {
	ctx := context.Background()
	contacts := NewContactStore()
	_, err := contacts.Get(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, contacts.Upsert(ctx, domain.Contact{UserID: "u1", Email: "a@example.com"}))
	require.NoError(t, contacts.Upsert(ctx, domain.Contact{UserID: "u1", Email: "b@example.com"}))
	c, err := contacts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", c.Email)
	assert.False(t, c.UpdatedAt.IsZero())

	audit := NewAuditStore()
	for _, ev := range []string{"one", "two", "three"} {
		require.NoError(t, audit.Log(ctx, ev, nil))
	}
	entries, err := audit.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "three", entries[0].Event)
	assert.Equal(t, "two", entries[1].Event)
}
