package postgre

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/webhooklab/internal/webhook/domain"
)

// DeliveryRepoPostgres implementa domain.DeliveryRepository sobre Postgres.
type DeliveryRepoPostgres struct {
	db *sql.DB
}

func NewDeliveryRepoPostgres(db *sql.DB) *DeliveryRepoPostgres {
	return &DeliveryRepoPostgres{db: db}
}

const deliveryColumns = `id,subscription_id,owner_key,event_id,event_type,target_url,secret,payload,status,attempt_count,created_at,updated_at,last_attempt_at,next_attempt_at,claimed_until`

func (r *DeliveryRepoPostgres) CreatePending(ctx context.Context, d *domain.OutboundDelivery) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deliveries (`+deliveryColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		d.ID, d.SubscriptionID, d.OwnerKey, d.EventID, d.EventType,
		d.TargetURL, d.Secret, d.Payload, string(d.Status), d.AttemptCount,
		d.CreatedAt, d.UpdatedAt, d.LastAttemptAt, d.NextAttemptAt, d.ClaimedUntil,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboundDelivery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id,
	)
	return scanDelivery(row)
}

// ClaimDue reclama el lote en una sola sentencia: SKIP LOCKED hace que cada
// worker se lleve filas distintas sin bloquearse entre sí, y el lease
// (claimed_until) cubre al worker que muera a mitad de entrega.
func (r *DeliveryRepoPostgres) ClaimDue(ctx context.Context, now time.Time, leaseFor time.Duration, limit int) ([]*domain.OutboundDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE deliveries SET claimed_until = $1
		 WHERE id IN (
		     SELECT id FROM deliveries
		     WHERE status = $2 AND next_attempt_at <= $3
		       AND (claimed_until IS NULL OR claimed_until <= $3)
		     ORDER BY next_attempt_at
		     LIMIT $4
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+deliveryColumns,
		now.Add(leaseFor), string(domain.StatusPending), now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []*domain.OutboundDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, d)
	}
	return claimed, rows.Err()
}

func (r *DeliveryRepoPostgres) Update(ctx context.Context, d *domain.OutboundDelivery) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE deliveries
		 SET status=$1, attempt_count=$2, updated_at=$3, last_attempt_at=$4, next_attempt_at=$5, claimed_until=$6
		 WHERE id=$7`,
		string(d.Status), d.AttemptCount, d.UpdatedAt, d.LastAttemptAt, d.NextAttemptAt, d.ClaimedUntil, d.ID,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return domain.ErrDeliveryNotFound
	}
	return nil
}

func (r *DeliveryRepoPostgres) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.OutboundDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries
		 WHERE subscription_id = $1 ORDER BY created_at DESC LIMIT $2`,
		subscriptionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*domain.OutboundDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(row rowScanner) (*domain.OutboundDelivery, error) {
	var d domain.OutboundDelivery
	var status string
	var lastAt, nextAt, claimedUntil sql.NullTime

	if err := row.Scan(&d.ID, &d.SubscriptionID, &d.OwnerKey, &d.EventID, &d.EventType,
		&d.TargetURL, &d.Secret, &d.Payload, &status, &d.AttemptCount,
		&d.CreatedAt, &d.UpdatedAt, &lastAt, &nextAt, &claimedUntil); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrDeliveryNotFound
		}
		return nil, err
	}

	d.Status = domain.DeliveryStatus(status)
	if lastAt.Valid {
		t := lastAt.Time
		d.LastAttemptAt = &t
	}
	if nextAt.Valid {
		t := nextAt.Time
		d.NextAttemptAt = &t
	}
	if claimedUntil.Valid {
		t := claimedUntil.Time
		d.ClaimedUntil = &t
	}

	return &d, nil
}

// Verificación en tiempo de compilación.
var _ domain.DeliveryRepository = (*DeliveryRepoPostgres)(nil)
