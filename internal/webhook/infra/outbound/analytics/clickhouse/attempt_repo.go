package clickhouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/davicafu/webhooklab/internal/webhook/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// AttemptLogRepo implementa domain.AttemptLogger para ClickHouse.
// Cada intento de entrega (éxito, reintento o fallo) queda como una fila
// inmutable del log analítico; el estado operacional vive en el outbox.
type AttemptLogRepo struct {
	db *sql.DB
}

// NewAttemptLogRepo es el constructor.
func NewAttemptLogRepo(addr string, dbName string) (*AttemptLogRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &AttemptLogRepo{db: conn}, nil
}

// LogBatch inserta un lote de intentos. ClickHouse funciona mejor con
// inserciones en lotes, por eso el worker acumula los intentos de cada pasada.
func (r *AttemptLogRepo) LogBatch(ctx context.Context, records []domain.AttemptRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO webhook_attempts_log (delivery_id, subscription_id, owner_key, event_type, attempt, status_code, outcome, duration_ms, attempted_at)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(
			ctx,
			rec.DeliveryID.String(),
			rec.SubscriptionID.String(),
			rec.OwnerKey,
			rec.EventType,
			uint32(rec.Attempt),
			int32(rec.StatusCode),
			rec.Outcome,
			rec.Duration.Milliseconds(),
			rec.AttemptedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for delivery %s: %w", rec.DeliveryID, err)
		}
	}

	return tx.Commit()
}

// Verificación en tiempo de compilación.
var _ domain.AttemptLogger = (*AttemptLogRepo)(nil)
