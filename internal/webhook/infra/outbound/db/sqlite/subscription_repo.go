package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	// _ "github.com/mattn/go-sqlite3" // better performance but requires gcc
	_ "modernc.org/sqlite"

	"github.com/davicafu/webhooklab/internal/webhook/domain"
)

type SubscriptionRepoSQLite struct {
	db *sql.DB
}

func NewSubscriptionRepoSQLite(db *sql.DB) *SubscriptionRepoSQLite {
	return &SubscriptionRepoSQLite{db: db}
}

// Create inserta la suscripción. El índice único (owner_key, idempotency_key)
// convierte la carrera de dos altas idempotentes en ErrSubscriptionExists.
func (r *SubscriptionRepoSQLite) Create(ctx context.Context, s *domain.Subscription) error {
	typesJSON, err := json.Marshal(s.EventTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal event types: %w", err)
	}

	var idemKey interface{}
	if s.IdempotencyKey != nil {
		idemKey = *s.IdempotencyKey
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id,owner_key,target_url,event_types,secret,enabled,idempotency_key,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID.String(), s.OwnerKey, s.TargetURL, string(typesJSON), s.Secret, s.Enabled, idemKey, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrSubscriptionExists
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepoSQLite) GetByID(ctx context.Context, ownerKey string, id uuid.UUID) (*domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id,owner_key,target_url,event_types,secret,enabled,idempotency_key,created_at,updated_at
		 FROM subscriptions WHERE id = ? AND owner_key = ?`,
		id.String(), ownerKey,
	)
	return scanSubscription(row)
}

func (r *SubscriptionRepoSQLite) FindByIdempotencyKey(ctx context.Context, ownerKey, key string) (*domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id,owner_key,target_url,event_types,secret,enabled,idempotency_key,created_at,updated_at
		 FROM subscriptions WHERE owner_key = ? AND idempotency_key = ?`,
		ownerKey, key,
	)
	return scanSubscription(row)
}

// ListByOwner pagina por cursor (id de la última fila vista) para que el
// dispatcher pueda recorrer el conjunto completo del owner.
func (r *SubscriptionRepoSQLite) ListByOwner(ctx context.Context, ownerKey string, page domain.Page) ([]*domain.Subscription, string, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id,owner_key,target_url,event_types,secret,enabled,idempotency_key,created_at,updated_at
		 FROM subscriptions WHERE owner_key = ? AND id > ? ORDER BY id LIMIT ?`,
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

// rowScanner cubre *sql.Row y *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var s domain.Subscription
	var idStr, typesJSON string
	var idemKey sql.NullString

	if err := row.Scan(&idStr, &s.OwnerKey, &s.TargetURL, &typesJSON, &s.Secret, &s.Enabled, &idemKey, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}

	parsedID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in DB: %w", err)
	}
	s.ID = parsedID

	if err := json.Unmarshal([]byte(typesJSON), &s.EventTypes); err != nil {
		return nil, fmt.Errorf("invalid event_types JSON in subscription %s: %w", idStr, err)
	}
	if idemKey.Valid {
		s.IdempotencyKey = &idemKey.String
	}

	return &s, nil
}

// InitSQLite crea las tablas si no existen
func InitSQLite(db *sql.DB) error {
	// Tabla de suscripciones
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS subscriptions (
            id TEXT PRIMARY KEY,
            owner_key TEXT NOT NULL,
            target_url TEXT NOT NULL,
            event_types TEXT NOT NULL,
            secret TEXT NOT NULL DEFAULT '',
            enabled BOOLEAN NOT NULL DEFAULT 1,
            idempotency_key TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	// (owner_key, idempotency_key) único cuando hay key: la creación
	// idempotente se apoya en el store, no en memoria de proceso.
	_, err = db.Exec(`
        CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_owner_idem
        ON subscriptions(owner_key, idempotency_key)
        WHERE idempotency_key IS NOT NULL
    `)
	if err != nil {
		return err
	}

	// Outbox de entregas
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS deliveries (
            id TEXT PRIMARY KEY,
            subscription_id TEXT NOT NULL,
            owner_key TEXT NOT NULL,
            event_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            target_url TEXT NOT NULL,
            secret TEXT NOT NULL DEFAULT '',
            payload BLOB NOT NULL,
            status TEXT NOT NULL,
            attempt_count INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            last_attempt_at DATETIME,
            next_attempt_at DATETIME,
            claimed_until DATETIME
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
var _ domain.SubscriptionRepository = (*SubscriptionRepoSQLite)(nil)
