package postgre

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL

	"github.com/davicafu/webhooklab/internal/webhook/domain"
)

type SubscriptionRepoPostgres struct {
	db *sql.DB
}

func NewSubscriptionRepoPostgres(db *sql.DB) *SubscriptionRepoPostgres {
	return &SubscriptionRepoPostgres{db: db}
}

const subscriptionColumns = `id,owner_key,target_url,event_types,secret,enabled,idempotency_key,created_at,updated_at`

// Create inserta la suscripción. El índice único parcial sobre
// (owner_key, idempotency_key) resuelve la carrera de altas idempotentes.
func (r *SubscriptionRepoPostgres) Create(ctx context.Context, s *domain.Subscription) error {
	typesJSON, err := json.Marshal(s.EventTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal event types: %w", err)
	}

	var idemKey interface{}
	if s.IdempotencyKey != nil {
		idemKey = *s.IdempotencyKey
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.OwnerKey, s.TargetURL, typesJSON, s.Secret, s.Enabled, idemKey, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		// 23505 = unique_violation
		if strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key") {
			return domain.ErrSubscriptionExists
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepoPostgres) GetByID(ctx context.Context, ownerKey string, id uuid.UUID) (*domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 AND owner_key = $2`,
		id, ownerKey,
	)
	return scanSubscription(row)
}

func (r *SubscriptionRepoPostgres) FindByIdempotencyKey(ctx context.Context, ownerKey, key string) (*domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE owner_key = $1 AND idempotency_key = $2`,
		ownerKey, key,
	)
	return scanSubscription(row)
}

func (r *SubscriptionRepoPostgres) ListByOwner(ctx context.Context, ownerKey string, page domain.Page) ([]*domain.Subscription, string, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE owner_key = $1 AND id::text > $2 ORDER BY id::text LIMIT $3`,
		ownerKey, page.Cursor, limit,
	)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, "", err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(subs) == limit {
		next = subs[len(subs)-1].ID.String()
	}
	return subs, next, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var s domain.Subscription
	var typesJSON []byte
	var idemKey sql.NullString

	if err := row.Scan(&s.ID, &s.OwnerKey, &s.TargetURL, &typesJSON, &s.Secret, &s.Enabled, &idemKey, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(typesJSON, &s.EventTypes); err != nil {
		return nil, fmt.Errorf("invalid event_types JSON in subscription %s: %w", s.ID, err)
	}
	if idemKey.Valid {
		s.IdempotencyKey = &idemKey.String
	}

	return &s, nil
}

// InitPostgres crea las tablas si no existen
func InitPostgres(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS subscriptions (
            id UUID PRIMARY KEY,
            owner_key TEXT NOT NULL,
            target_url TEXT NOT NULL,
            event_types JSONB NOT NULL,
            secret TEXT NOT NULL DEFAULT '',
            enabled BOOLEAN NOT NULL DEFAULT true,
            idempotency_key TEXT,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_owner_idem
        ON subscriptions(owner_key, idempotency_key)
        WHERE idempotency_key IS NOT NULL
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS deliveries (
            id UUID PRIMARY KEY,
            subscription_id UUID NOT NULL,
            owner_key TEXT NOT NULL,
            event_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            target_url TEXT NOT NULL,
            secret TEXT NOT NULL DEFAULT '',
            payload BYTEA NOT NULL,
            status TEXT NOT NULL,
            attempt_count INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            last_attempt_at TIMESTAMPTZ,
            next_attempt_at TIMESTAMPTZ,
            claimed_until TIMESTAMPTZ
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_deliveries_due
        ON deliveries(status, next_attempt_at)
    `)
	return err
}

// Verificación en tiempo de compilación.
var _ domain.SubscriptionRepository = (*SubscriptionRepoPostgres)(nil)
