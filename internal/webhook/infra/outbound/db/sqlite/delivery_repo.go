package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/webhooklab/internal/webhook/domain"
)

// DeliveryRepoSQLite implementa domain.DeliveryRepository sobre SQLite.
type DeliveryRepoSQLite struct {
	db *sql.DB
}

func NewDeliveryRepoSQLite(db *sql.DB) *DeliveryRepoSQLite {
	return &DeliveryRepoSQLite{db: db}
}

const deliveryColumns = `id,subscription_id,owner_key,event_id,event_type,target_url,secret,payload,status,attempt_count,created_at,updated_at,last_attempt_at,next_attempt_at,claimed_until`

func (r *DeliveryRepoSQLite) CreatePending(ctx context.Context, d *domain.OutboundDelivery) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deliveries (`+deliveryColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID.String(), d.SubscriptionID.String(), d.OwnerKey, d.EventID, d.EventType,
		d.TargetURL, d.Secret, d.Payload, string(d.Status), d.AttemptCount,
		d.CreatedAt, d.UpdatedAt, nullTime(d.LastAttemptAt), nullTime(d.NextAttemptAt), nullTime(d.ClaimedUntil),
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboundDelivery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id.String(),
	)
	return scanDelivery(row)
}

// ClaimDue selecciona candidatas vencidas y las reclama una a una con un
// UPDATE condicional: la fila solo se lleva quien gana ese UPDATE, así que
// dos workers nunca procesan la misma fila a la vez. Un lease expirado
// (worker caído a mitad de entrega) vuelve a ser reclamable aquí mismo.
func (r *DeliveryRepoSQLite) ClaimDue(ctx context.Context, now time.Time, leaseFor time.Duration, limit int) ([]*domain.OutboundDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM deliveries
		 WHERE status = ? AND next_attempt_at <= ?
		   AND (claimed_until IS NULL OR claimed_until <= ?)
		 ORDER BY next_attempt_at
		 LIMIT ?`,
		string(domain.StatusPending), now, now, limit,
	)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lease := now.Add(leaseFor)
	var claimed []*domain.OutboundDelivery

	for _, id := range candidates {
		res, err := r.db.ExecContext(ctx,
			`UPDATE deliveries SET claimed_until = ?
			 WHERE id = ? AND status = ?
			   AND (claimed_until IS NULL OR claimed_until <= ?)`,
			lease, id, string(domain.StatusPending), now,
		)
		if err != nil {
			return claimed, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("failed to get RowsAffected: %w", err)
		}
		if n == 0 {
			// Otro worker llegó primero: no es un error, se salta y sigue.
			continue
		}

		row := r.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
		d, err := scanDelivery(row)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, d)
	}

	return claimed, nil
}

func (r *DeliveryRepoSQLite) Update(ctx context.Context, d *domain.OutboundDelivery) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE deliveries
		 SET status=?, attempt_count=?, updated_at=?, last_attempt_at=?, next_attempt_at=?, claimed_until=?
		 WHERE id=?`,
		string(d.Status), d.AttemptCount, d.UpdatedAt,
		nullTime(d.LastAttemptAt), nullTime(d.NextAttemptAt), nullTime(d.ClaimedUntil),
		d.ID.String(),
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

func (r *DeliveryRepoSQLite) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.OutboundDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries
		 WHERE subscription_id = ? ORDER BY created_at DESC LIMIT ?`,
		subscriptionID.String(), limit,
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
	var idStr, subIDStr, status string
	var lastAt, nextAt, claimedUntil sql.NullTime

	if err := row.Scan(&idStr, &subIDStr, &d.OwnerKey, &d.EventID, &d.EventType,
		&d.TargetURL, &d.Secret, &d.Payload, &status, &d.AttemptCount,
		&d.CreatedAt, &d.UpdatedAt, &lastAt, &nextAt, &claimedUntil); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrDeliveryNotFound
		}
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in delivery row: %w", err)
	}
	subID, err := uuid.Parse(subIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription UUID in delivery row %s: %w", idStr, err)
	}

	d.ID = id
	d.SubscriptionID = subID
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

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// Verificación en tiempo de compilación.
var _ domain.DeliveryRepository = (*DeliveryRepoSQLite)(nil)
