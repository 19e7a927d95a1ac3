package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// ContactStore implements domain.ContactStore using PostgreSQL.
type ContactStore struct {
	pool *pgxpool.Pool
}

var _ domain.ContactStore = (*ContactStore)(nil)

// NewContactStore creates a new ContactStore backed by the given connection pool.
func NewContactStore(pool *pgxpool.Pool) *ContactStore {
	return &ContactStore{pool: pool}
}

// Upsert inserts or replaces the contact for c.UserID.
func (s *ContactStore) Upsert(ctx context.Context, c domain.Contact) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO contacts (user_id, email, telegram_chat_id, push_endpoint, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			telegram_chat_id = EXCLUDED.telegram_chat_id,
			push_endpoint = EXCLUDED.push_endpoint,
			updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query, c.UserID, c.Email, c.TelegramChatID, c.PushEndpoint, c.UpdatedAt)
	return mapErr(err, "upsert contact %s", c.UserID)
}

func (s *ContactStore) Get(ctx context.Context, userID string) (domain.Contact, error) {
	const query = `SELECT user_id, email, telegram_chat_id, push_endpoint, updated_at
		FROM contacts WHERE user_id = $1`
	var c domain.Contact
	err := s.pool.QueryRow(ctx, query, userID).Scan(&c.UserID, &c.Email, &c.TelegramChatID, &c.PushEndpoint, &c.UpdatedAt)
	if err != nil {
		return domain.Contact{}, mapErr(err, "get contact %s", userID)
	}
	return c, nil
}
