package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// SwapStore implements domain.SwapStore using PostgreSQL. Steps and the
// refund record are stored as JSONB next to the swap row.
type SwapStore struct {
	pool *pgxpool.Pool
}

var _ domain.SwapStore = (*SwapStore)(nil)

// NewSwapStore creates a new SwapStore backed by the given connection pool.
func NewSwapStore(pool *pgxpool.Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

const swapColumns = `id, user_id, fingerprint, source, source_id, input_token, output_token,
	input_chain_id, output_chain_id, input_amount, filled_input, output_amount,
	max_slippage_bps, require_full_fill, steps, current_step_index, status, error,
	cancel_requested, refund, next_attempt_at, created_at, updated_at, completed_at`

func swapArgs(s domain.Swap) ([]any, error) {
	steps := s.Steps
	if steps == nil {
		steps = []domain.SwapStep{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	var refundJSON []byte
	var refundStatus *string
	if s.Refund != nil {
		if refundJSON, err = json.Marshal(s.Refund); err != nil {
			return nil, fmt.Errorf("marshal refund: %w", err)
		}
		st := string(s.Refund.Status)
		refundStatus = &st
	}
	return []any{
		s.ID, s.UserID, s.Fingerprint, string(s.Source), s.SourceID, s.InputToken, s.OutputToken,
		s.InputChainID, s.OutputChainID, s.InputAmount, s.FilledInput, s.OutputAmount,
		s.MaxSlippageBps, s.RequireFullFill, stepsJSON, s.CurrentStepIndex, string(s.Status), s.Error,
		s.CancelRequested, refundJSON, s.NextAttemptAt, s.CreatedAt, s.UpdatedAt, s.CompletedAt,
		refundStatus,
	}, nil
}

func scanSwap(row rowScanner) (domain.Swap, error) {
	var s domain.Swap
	var source, status string
	var stepsJSON, refundJSON []byte
	err := row.Scan(
		&s.ID, &s.UserID, &s.Fingerprint, &source, &s.SourceID, &s.InputToken, &s.OutputToken,
		&s.InputChainID, &s.OutputChainID, &s.InputAmount, &s.FilledInput, &s.OutputAmount,
		&s.MaxSlippageBps, &s.RequireFullFill, &stepsJSON, &s.CurrentStepIndex, &status, &s.Error,
		&s.CancelRequested, &refundJSON, &s.NextAttemptAt, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt,
	)
	if err != nil {
		return domain.Swap{}, err
	}
	s.Source = domain.SwapSource(source)
	s.Status = domain.SwapStatus(status)
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &s.Steps); err != nil {
			return domain.Swap{}, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if len(refundJSON) > 0 {
		var r domain.Refund
		if err := json.Unmarshal(refundJSON, &r); err != nil {
			return domain.Swap{}, fmt.Errorf("unmarshal refund: %w", err)
		}
		s.Refund = &r
	}
	return s, nil
}

// Create inserts a swap. A duplicate id or fingerprint yields
// domain.ErrAlreadyExists.
func (s *SwapStore) Create(ctx context.Context, sw domain.Swap) error {
	args, err := swapArgs(sw)
	if err != nil {
		return fmt.Errorf("postgres: create swap %s: %w", sw.ID, err)
	}
	const query = `INSERT INTO swaps (` + swapColumns + `, refund_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25)`
	_, err = s.pool.Exec(ctx, query, args...)
	return mapErr(err, "create swap %s", sw.ID)
}

// Update replaces the mutable columns of a swap. cancel_requested is only
// ever raised here, never cleared.
func (s *SwapStore) Update(ctx context.Context, sw domain.Swap) error {
	args, err := swapArgs(sw)
	if err != nil {
		return fmt.Errorf("postgres: update swap %s: %w", sw.ID, err)
	}
	const query = `UPDATE swaps SET
		filled_input = $2, output_amount = $3, steps = $4, current_step_index = $5,
		status = $6, error = $7, cancel_requested = cancel_requested OR $8,
		refund = $9, next_attempt_at = $10, updated_at = $11, completed_at = $12,
		refund_status = $13
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		args[0], args[10], args[11], args[14], args[15],
		args[16], args[17], args[18],
		args[19], args[20], args[22], args[23],
		args[24],
	)
	if err != nil {
		return mapErr(err, "update swap %s", sw.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update swap %s: %w", sw.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *SwapStore) GetByID(ctx context.Context, id string) (domain.Swap, error) {
	const query = `SELECT ` + swapColumns + ` FROM swaps WHERE id = $1`
	sw, err := scanSwap(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Swap{}, mapErr(err, "get swap %s", id)
	}
	return sw, nil
}

func (s *SwapStore) GetByFingerprint(ctx context.Context, fingerprint string) (domain.Swap, error) {
	const query = `SELECT ` + swapColumns + ` FROM swaps WHERE fingerprint = $1`
	sw, err := scanSwap(s.pool.QueryRow(ctx, query, fingerprint))
	if err != nil {
		return domain.Swap{}, mapErr(err, "get swap by fingerprint %s", fingerprint)
	}
	return sw, nil
}

func (s *SwapStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps
		WHERE (next_attempt_at IS NULL OR next_attempt_at <= $1)
		AND ((source = 'direct' AND status IN (` + statusList(domain.SwapPending, domain.SwapProcessing) + `))
			OR refund_status = 'PENDING')
		ORDER BY created_at, id
		LIMIT $2`
	return s.list(ctx, "list due swaps", query, now, limitOrAll(limit))
}

func (s *SwapStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return s.list(ctx, "list swaps for user "+userID, query, args...)
}

func (s *SwapStore) ListTerminalBefore(ctx context.Context, before time.Time, limit int) ([]domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps
		WHERE status IN (` + statusList(domain.SwapCompleted, domain.SwapFailed, domain.SwapRefunded) + `)
		AND (refund_status IS NULL OR refund_status <> 'PENDING')
		AND completed_at < $1
		ORDER BY completed_at, id
		LIMIT $2`
	return s.list(ctx, "list terminal swaps", query, before, limitOrAll(limit))
}

func (s *SwapStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `DELETE FROM swaps WHERE id = ANY($1)`
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("postgres: delete %d swaps: %w", len(ids), err)
	}
	return nil
}

func (s *SwapStore) RequestCancel(ctx context.Context, id string) error {
	query := `UPDATE swaps SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status NOT IN (` + statusList(domain.SwapCompleted, domain.SwapFailed, domain.SwapRefunded) + `)`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel swap %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("postgres: cancel swap %s: %w: already %s", id, domain.ErrInvalidRequest, cur.Status)
}

func (s *SwapStore) list(ctx context.Context, what, query string, args ...any) ([]domain.Swap, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.Swap
	for rows.Next() {
		sw, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", what, err)
		}
		out = append(out, sw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", what, err)
	}
	return out, nil
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT treats as "no
// limit".
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
