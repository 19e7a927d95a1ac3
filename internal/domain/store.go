package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SwapStore persists swaps with their steps and refund record. Create returns
// ErrAlreadyExists when a swap with the same fingerprint exists.
type SwapStore interface {
	Create(ctx context.Context, s Swap) error
	Update(ctx context.Context, s Swap) error
	GetByID(ctx context.Context, id string) (Swap, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (Swap, error)
	// ListDue returns direct swaps waiting for (re)execution and swaps of any
	// source with an outstanding refund whose NextAttemptAt is not after now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Swap, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Swap, error)
	ListTerminalBefore(ctx context.Context, before time.Time, limit int) ([]Swap, error)
	Delete(ctx context.Context, ids []string) error
	RequestCancel(ctx context.Context, id string) error
}

// DCAStore persists DCA strategies and their executions.
type DCAStore interface {
	Create(ctx context.Context, s DCAStrategy) error
	Update(ctx context.Context, s DCAStrategy) error
	GetByID(ctx context.Context, id string) (DCAStrategy, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]DCAStrategy, error)
	// SaveExecution inserts or updates an execution keyed by fingerprint.
	SaveExecution(ctx context.Context, e DCAExecution) error
	GetExecution(ctx context.Context, fingerprint string) (DCAExecution, error)
	ListExecutions(ctx context.Context, strategyID string) ([]DCAExecution, error)
	// RecordExecution atomically stores the strategy and its execution outcome.
	RecordExecution(ctx context.Context, s DCAStrategy, e DCAExecution) error
	RequestCancel(ctx context.Context, id string) error
}

// LimitOrderStore persists limit orders and their fills.
type LimitOrderStore interface {
	Create(ctx context.Context, o LimitOrder) error
	Update(ctx context.Context, o LimitOrder) error
	GetByID(ctx context.Context, id string) (LimitOrder, error)
	ListOpen(ctx context.Context, limit int) ([]LimitOrder, error)
	ListFills(ctx context.Context, orderID string) ([]LimitOrderFill, error)
	// RecordFill atomically inserts the fill and stores the order. A fill
	// whose fingerprint already exists yields ErrAlreadyExists.
	RecordFill(ctx context.Context, o LimitOrder, f LimitOrderFill) error
	RequestCancel(ctx context.Context, id string) error
}

// AlertStore persists price alerts and their trigger history.
type AlertStore interface {
	Create(ctx context.Context, a PriceAlert) error
	Update(ctx context.Context, a PriceAlert) error
	GetByID(ctx context.Context, id string) (PriceAlert, error)
	ListActive(ctx context.Context, limit int) ([]PriceAlert, error)
	ListHistory(ctx context.Context, alertID string) ([]AlertTrigger, error)
	// RecordTrigger atomically inserts the history entry and stores the alert.
	RecordTrigger(ctx context.Context, a PriceAlert, t AlertTrigger) error
	RequestCancel(ctx context.Context, id string) error
}

// Contact holds a user's notification addresses.
type Contact struct {
	UserID         string
	Email          string
	TelegramChatID string
	PushEndpoint   string
	UpdatedAt      time.Time
}

// ContactStore persists notification contacts.
type ContactStore interface {
	Upsert(ctx context.Context, c Contact) error
	Get(ctx context.Context, userID string) (Contact, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Archiver moves terminal swaps out of the primary store into cold storage
// and reports how many rows it moved.
type Archiver interface {
	ArchiveSwaps(ctx context.Context, before time.Time) (int64, error)
}
