package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

var _ domain.AlertStore = (*AlertStore)(nil)

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertColumns = `id, user_id, chain_id, token_address, token_symbol, alert_type, target_price,
	target_percent_change, price_at_creation, is_recurring, cooldown_minutes, notify_email,
	notify_push, notify_telegram, last_notified_at, trigger_count, last_price, expires_at,
	status, cancel_requested, created_at, updated_at`

func scanAlert(row rowScanner) (domain.PriceAlert, error) {
	var a domain.PriceAlert
	var alertType, status string
	err := row.Scan(
		&a.ID, &a.UserID, &a.ChainID, &a.TokenAddress, &a.TokenSymbol, &alertType, &a.TargetPrice,
		&a.TargetPercentChange, &a.PriceAtCreation, &a.IsRecurring, &a.CooldownMinutes, &a.NotifyEmail,
		&a.NotifyPush, &a.NotifyTelegram, &a.LastNotifiedAt, &a.TriggerCount, &a.LastPrice, &a.ExpiresAt,
		&status, &a.CancelRequested, &a.CreatedAt, &a.UpdatedAt,
	)
	a.AlertType = domain.AlertType(alertType)
	a.Status = domain.AlertStatus(status)
	return a, err
}

func (s *AlertStore) Create(ctx context.Context, a domain.PriceAlert) error {
	const query = `INSERT INTO price_alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22)`
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.UserID, a.ChainID, a.TokenAddress, a.TokenSymbol, string(a.AlertType), a.TargetPrice,
		a.TargetPercentChange, a.PriceAtCreation, a.IsRecurring, a.CooldownMinutes, a.NotifyEmail,
		a.NotifyPush, a.NotifyTelegram, a.LastNotifiedAt, a.TriggerCount, a.LastPrice, a.ExpiresAt,
		string(a.Status), a.CancelRequested, a.CreatedAt, a.UpdatedAt,
	)
	return mapErr(err, "create alert %s", a.ID)
}

func (s *AlertStore) Update(ctx context.Context, a domain.PriceAlert) error {
	return updateAlert(ctx, s.pool, a)
}

func updateAlert(ctx context.Context, db querier, a domain.PriceAlert) error {
	const query = `UPDATE price_alerts SET
		last_notified_at = $2, trigger_count = $3, last_price = $4, status = $5,
		cancel_requested = cancel_requested OR $6, updated_at = $7
		WHERE id = $1
		RETURNING id`
	var id string
	err := db.QueryRow(ctx, query,
		a.ID, a.LastNotifiedAt, a.TriggerCount, a.LastPrice, string(a.Status),
		a.CancelRequested, a.UpdatedAt,
	).Scan(&id)
	return mapErr(err, "update alert %s", a.ID)
}

func (s *AlertStore) GetByID(ctx context.Context, id string) (domain.PriceAlert, error) {
	const query = `SELECT ` + alertColumns + ` FROM price_alerts WHERE id = $1`
	a, err := scanAlert(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.PriceAlert{}, mapErr(err, "get alert %s", id)
	}
	return a, nil
}

func (s *AlertStore) ListActive(ctx context.Context, limit int) ([]domain.PriceAlert, error) {
	const query = `SELECT ` + alertColumns + ` FROM price_alerts
		WHERE status = 'ACTIVE' ORDER BY created_at, id LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active alerts rows: %w", err)
	}
	return out, nil
}

func (s *AlertStore) ListHistory(ctx context.Context, alertID string) ([]domain.AlertTrigger, error) {
	const query = `SELECT id, alert_id, fingerprint, price, change_percent, delivered, failed, triggered_at
		FROM alert_triggers WHERE alert_id = $1 ORDER BY triggered_at, id`
	rows, err := s.pool.Query(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alert history %s: %w", alertID, err)
	}
	defer rows.Close()

	var out []domain.AlertTrigger
	for rows.Next() {
		var t domain.AlertTrigger
		var delivered, failed []byte
		if err := rows.Scan(&t.ID, &t.AlertID, &t.Fingerprint, &t.Price, &t.ChangePercent,
			&delivered, &failed, &t.TriggeredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert trigger: %w", err)
		}
		if err := json.Unmarshal(delivered, &t.Delivered); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal delivered channels: %w", err)
		}
		if err := json.Unmarshal(failed, &t.Failed); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal failed channels: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list alert history rows: %w", err)
	}
	return out, nil
}

func (s *AlertStore) RecordTrigger(ctx context.Context, a domain.PriceAlert, t domain.AlertTrigger) error {
	delivered, err := json.Marshal(channelsOrEmpty(t.Delivered))
	if err != nil {
		return fmt.Errorf("postgres: marshal delivered channels: %w", err)
	}
	failed, err := json.Marshal(channelsOrEmpty(t.Failed))
	if err != nil {
		return fmt.Errorf("postgres: marshal failed channels: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const insert = `INSERT INTO alert_triggers
			(id, alert_id, fingerprint, price, change_percent, delivered, failed, triggered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		if _, err := tx.Exec(ctx, insert, t.ID, t.AlertID, t.Fingerprint, t.Price, t.ChangePercent,
			delivered, failed, t.TriggeredAt); err != nil {
			return mapErr(err, "record trigger %s", t.Fingerprint)
		}
		return updateAlert(ctx, tx, a)
	})
}

func (s *AlertStore) RequestCancel(ctx context.Context, id string) error {
	const query = `UPDATE price_alerts SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel alert %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("postgres: cancel alert %s: %w: already %s", id, domain.ErrInvalidRequest, cur.Status)
}

func channelsOrEmpty(c []domain.Channel) []domain.Channel {
	if c == nil {
		return []domain.Channel{}
	}
	return c
}
