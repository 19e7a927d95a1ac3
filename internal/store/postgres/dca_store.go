package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// DCAStore implements domain.DCAStore using PostgreSQL.
type DCAStore struct {
	pool *pgxpool.Pool
}

var _ domain.DCAStore = (*DCAStore)(nil)

// NewDCAStore creates a new DCAStore backed by the given connection pool.
func NewDCAStore(pool *pgxpool.Pool) *DCAStore {
	return &DCAStore{pool: pool}
}

const dcaColumns = `id, user_id, input_token, output_token, input_chain_id, output_chain_id,
	amount_per_execution, frequency, custom_interval_hours, total_executions, executed_count,
	skipped_count, next_execution_at, last_execution_at, total_input_spent, total_output_received,
	average_price, consecutive_failures, skip_on_high_gas, max_gas_usd, max_slippage_bps, status,
	last_error, cancel_requested, created_at, updated_at`

const dcaExecutionColumns = `id, strategy_id, user_id, fingerprint, execution_number, scheduled_at,
	status, swap_id, input_amount, output_amount, price, gas_usd, error, created_at, updated_at`

func scanDCA(row rowScanner) (domain.DCAStrategy, error) {
	var s domain.DCAStrategy
	var freq, status string
	err := row.Scan(
		&s.ID, &s.UserID, &s.InputToken, &s.OutputToken, &s.InputChainID, &s.OutputChainID,
		&s.AmountPerExecution, &freq, &s.CustomIntervalHours, &s.TotalExecutions, &s.ExecutedCount,
		&s.SkippedCount, &s.NextExecutionAt, &s.LastExecutionAt, &s.TotalInputSpent, &s.TotalOutputReceived,
		&s.AveragePrice, &s.ConsecutiveFailures, &s.SkipOnHighGas, &s.MaxGasUSD, &s.MaxSlippageBps, &status,
		&s.LastError, &s.CancelRequested, &s.CreatedAt, &s.UpdatedAt,
	)
	s.Frequency = domain.Frequency(freq)
	s.Status = domain.DCAStatus(status)
	return s, err
}

func scanDCAExecution(row rowScanner) (domain.DCAExecution, error) {
	var e domain.DCAExecution
	var status string
	err := row.Scan(
		&e.ID, &e.StrategyID, &e.UserID, &e.Fingerprint, &e.ExecutionNumber, &e.ScheduledAt,
		&status, &e.SwapID, &e.InputAmount, &e.OutputAmount, &e.Price, &e.GasUSD, &e.Error,
		&e.CreatedAt, &e.UpdatedAt,
	)
	e.Status = domain.DCAExecutionStatus(status)
	return e, err
}

func (s *DCAStore) Create(ctx context.Context, st domain.DCAStrategy) error {
	const query = `INSERT INTO dca_strategies (` + dcaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26)`
	_, err := s.pool.Exec(ctx, query,
		st.ID, st.UserID, st.InputToken, st.OutputToken, st.InputChainID, st.OutputChainID,
		st.AmountPerExecution, string(st.Frequency), st.CustomIntervalHours, st.TotalExecutions, st.ExecutedCount,
		st.SkippedCount, st.NextExecutionAt, st.LastExecutionAt, st.TotalInputSpent, st.TotalOutputReceived,
		st.AveragePrice, st.ConsecutiveFailures, st.SkipOnHighGas, st.MaxGasUSD, st.MaxSlippageBps, string(st.Status),
		st.LastError, st.CancelRequested, st.CreatedAt, st.UpdatedAt,
	)
	return mapErr(err, "create dca %s", st.ID)
}

func (s *DCAStore) Update(ctx context.Context, st domain.DCAStrategy) error {
	return updateDCA(ctx, s.pool, st)
}

func updateDCA(ctx context.Context, db querier, st domain.DCAStrategy) error {
	const query = `UPDATE dca_strategies SET
		executed_count = $2, skipped_count = $3, next_execution_at = $4, last_execution_at = $5,
		total_input_spent = $6, total_output_received = $7, average_price = $8,
		consecutive_failures = $9, status = $10, last_error = $11,
		cancel_requested = cancel_requested OR $12, updated_at = $13
		WHERE id = $1
		RETURNING id`
	var id string
	err := db.QueryRow(ctx, query,
		st.ID, st.ExecutedCount, st.SkippedCount, st.NextExecutionAt, st.LastExecutionAt,
		st.TotalInputSpent, st.TotalOutputReceived, st.AveragePrice,
		st.ConsecutiveFailures, string(st.Status), st.LastError,
		st.CancelRequested, st.UpdatedAt,
	).Scan(&id)
	return mapErr(err, "update dca %s", st.ID)
}

func (s *DCAStore) GetByID(ctx context.Context, id string) (domain.DCAStrategy, error) {
	const query = `SELECT ` + dcaColumns + ` FROM dca_strategies WHERE id = $1`
	st, err := scanDCA(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.DCAStrategy{}, mapErr(err, "get dca %s", id)
	}
	return st, nil
}

// ListDue returns ACTIVE strategies whose slot is due and non-terminal ones
// with a pending cancel request, earliest slot first.
func (s *DCAStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.DCAStrategy, error) {
	query := `SELECT ` + dcaColumns + ` FROM dca_strategies
		WHERE (status = 'ACTIVE' AND next_execution_at <= $1)
		OR (cancel_requested AND status IN (` + statusList(domain.DCAActive, domain.DCAPaused) + `))
		ORDER BY next_execution_at, id
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, now, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list due dca: %w", err)
	}
	defer rows.Close()

	var out []domain.DCAStrategy
	for rows.Next() {
		st, err := scanDCA(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan dca: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list due dca rows: %w", err)
	}
	return out, nil
}

// SaveExecution upserts by fingerprint. The original id and created_at are
// kept on conflict.
func (s *DCAStore) SaveExecution(ctx context.Context, e domain.DCAExecution) error {
	return saveDCAExecution(ctx, s.pool, e)
}

func saveDCAExecution(ctx context.Context, db querier, e domain.DCAExecution) error {
	const query = `INSERT INTO dca_executions (` + dcaExecutionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (fingerprint) DO UPDATE SET
			status = EXCLUDED.status, swap_id = EXCLUDED.swap_id,
			input_amount = EXCLUDED.input_amount, output_amount = EXCLUDED.output_amount,
			price = EXCLUDED.price, gas_usd = EXCLUDED.gas_usd, error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
		RETURNING id`
	var id string
	err := db.QueryRow(ctx, query,
		e.ID, e.StrategyID, e.UserID, e.Fingerprint, e.ExecutionNumber, e.ScheduledAt,
		string(e.Status), e.SwapID, e.InputAmount, e.OutputAmount, e.Price, e.GasUSD, e.Error,
		e.CreatedAt, e.UpdatedAt,
	).Scan(&id)
	return mapErr(err, "save dca execution %s", e.Fingerprint)
}

func (s *DCAStore) GetExecution(ctx context.Context, fingerprint string) (domain.DCAExecution, error) {
	const query = `SELECT ` + dcaExecutionColumns + ` FROM dca_executions WHERE fingerprint = $1`
	e, err := scanDCAExecution(s.pool.QueryRow(ctx, query, fingerprint))
	if err != nil {
		return domain.DCAExecution{}, mapErr(err, "get dca execution %s", fingerprint)
	}
	return e, nil
}

func (s *DCAStore) ListExecutions(ctx context.Context, strategyID string) ([]domain.DCAExecution, error) {
	const query = `SELECT ` + dcaExecutionColumns + ` FROM dca_executions
		WHERE strategy_id = $1 ORDER BY execution_number`
	rows, err := s.pool.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list dca executions %s: %w", strategyID, err)
	}
	defer rows.Close()

	var out []domain.DCAExecution
	for rows.Next() {
		e, err := scanDCAExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan dca execution: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list dca executions rows: %w", err)
	}
	return out, nil
}

// RecordExecution stores the strategy and the execution in one transaction.
func (s *DCAStore) RecordExecution(ctx context.Context, st domain.DCAStrategy, e domain.DCAExecution) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := updateDCA(ctx, tx, st); err != nil {
			return err
		}
		return saveDCAExecution(ctx, tx, e)
	})
}

func (s *DCAStore) RequestCancel(ctx context.Context, id string) error {
	query := `UPDATE dca_strategies SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status NOT IN (` + statusList(domain.DCACompleted, domain.DCACancelled) + `)`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel dca %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("postgres: cancel dca %s: %w: already %s", id, domain.ErrInvalidRequest, cur.Status)
}
