package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// LimitOrderStore implements domain.LimitOrderStore using PostgreSQL.
type LimitOrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.LimitOrderStore = (*LimitOrderStore)(nil)

// NewLimitOrderStore creates a new LimitOrderStore backed by the given connection pool.
func NewLimitOrderStore(pool *pgxpool.Pool) *LimitOrderStore {
	return &LimitOrderStore{pool: pool}
}

const limitOrderColumns = `id, user_id, order_type, chain_id, input_token, output_token,
	input_amount, target_price, filled_amount, fill_percent, output_received,
	partial_fill_allowed, max_slippage_bps, expires_at, current_price, last_checked_at,
	attempt_count, consecutive_failures, active_fingerprint, status, last_error,
	cancel_requested, created_at, updated_at`

const fillColumns = `id, order_id, fingerprint, swap_id, fill_amount, output_amount, price, tx_hash, created_at`

func scanLimitOrder(row rowScanner) (domain.LimitOrder, error) {
	var o domain.LimitOrder
	var orderType, status string
	err := row.Scan(
		&o.ID, &o.UserID, &orderType, &o.ChainID, &o.InputToken, &o.OutputToken,
		&o.InputAmount, &o.TargetPrice, &o.FilledAmount, &o.FillPercent, &o.OutputReceived,
		&o.PartialFillAllowed, &o.MaxSlippageBps, &o.ExpiresAt, &o.CurrentPrice, &o.LastCheckedAt,
		&o.AttemptCount, &o.ConsecutiveFailures, &o.ActiveFingerprint, &status, &o.LastError,
		&o.CancelRequested, &o.CreatedAt, &o.UpdatedAt,
	)
	o.OrderType = domain.OrderType(orderType)
	o.Status = domain.LimitOrderStatus(status)
	return o, err
}

func (s *LimitOrderStore) Create(ctx context.Context, o domain.LimitOrder) error {
	const query = `INSERT INTO limit_orders (` + limitOrderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)`
	_, err := s.pool.Exec(ctx, query,
		o.ID, o.UserID, string(o.OrderType), o.ChainID, o.InputToken, o.OutputToken,
		o.InputAmount, o.TargetPrice, o.FilledAmount, o.FillPercent, o.OutputReceived,
		o.PartialFillAllowed, o.MaxSlippageBps, o.ExpiresAt, o.CurrentPrice, o.LastCheckedAt,
		o.AttemptCount, o.ConsecutiveFailures, o.ActiveFingerprint, string(o.Status), o.LastError,
		o.CancelRequested, o.CreatedAt, o.UpdatedAt,
	)
	return mapErr(err, "create order %s", o.ID)
}

func (s *LimitOrderStore) Update(ctx context.Context, o domain.LimitOrder) error {
	return updateLimitOrder(ctx, s.pool, o)
}

func updateLimitOrder(ctx context.Context, db querier, o domain.LimitOrder) error {
	const query = `UPDATE limit_orders SET
		filled_amount = $2, fill_percent = $3, output_received = $4, current_price = $5,
		last_checked_at = $6, attempt_count = $7, consecutive_failures = $8,
		active_fingerprint = $9, status = $10, last_error = $11,
		cancel_requested = cancel_requested OR $12, updated_at = $13
		WHERE id = $1
		RETURNING id`
	var id string
	err := db.QueryRow(ctx, query,
		o.ID, o.FilledAmount, o.FillPercent, o.OutputReceived, o.CurrentPrice,
		o.LastCheckedAt, o.AttemptCount, o.ConsecutiveFailures,
		o.ActiveFingerprint, string(o.Status), o.LastError,
		o.CancelRequested, o.UpdatedAt,
	).Scan(&id)
	return mapErr(err, "update order %s", o.ID)
}

func (s *LimitOrderStore) GetByID(ctx context.Context, id string) (domain.LimitOrder, error) {
	const query = `SELECT ` + limitOrderColumns + ` FROM limit_orders WHERE id = $1`
	o, err := scanLimitOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.LimitOrder{}, mapErr(err, "get order %s", id)
	}
	return o, nil
}

// ListOpen returns PENDING and PARTIALLY_FILLED orders, oldest first.
func (s *LimitOrderStore) ListOpen(ctx context.Context, limit int) ([]domain.LimitOrder, error) {
	query := `SELECT ` + limitOrderColumns + ` FROM limit_orders
		WHERE status IN (` + statusList(domain.OrderPending, domain.OrderPartiallyFilled) + `)
		ORDER BY created_at, id
		LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	var out []domain.LimitOrder
	for rows.Next() {
		o, err := scanLimitOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open orders rows: %w", err)
	}
	return out, nil
}

func (s *LimitOrderStore) ListFills(ctx context.Context, orderID string) ([]domain.LimitOrderFill, error) {
	const query = `SELECT ` + fillColumns + ` FROM limit_order_fills
		WHERE order_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []domain.LimitOrderFill
	for rows.Next() {
		var f domain.LimitOrderFill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Fingerprint, &f.SwapID, &f.FillAmount,
			&f.OutputAmount, &f.Price, &f.TxHash, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return out, nil
}

// RecordFill inserts the fill first so a duplicate fingerprint aborts the
// transaction before the order row changes.
func (s *LimitOrderStore) RecordFill(ctx context.Context, o domain.LimitOrder, f domain.LimitOrderFill) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const insert = `INSERT INTO limit_order_fills (` + fillColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.Exec(ctx, insert, f.ID, f.OrderID, f.Fingerprint, f.SwapID, f.FillAmount,
			f.OutputAmount, f.Price, f.TxHash, f.CreatedAt); err != nil {
			return mapErr(err, "record fill %s", f.Fingerprint)
		}
		return updateLimitOrder(ctx, tx, o)
	})
}

func (s *LimitOrderStore) RequestCancel(ctx context.Context, id string) error {
	query := `UPDATE limit_orders SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status IN (` + statusList(domain.OrderPending, domain.OrderPartiallyFilled) + `)`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel order %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("postgres: cancel order %s: %w: already %s", id, domain.ErrInvalidRequest, cur.Status)
}
