package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ---------- Errores de dominio ----------
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrDeliveryNotFound     = errors.New("delivery not found")
)

// ---------- Interfaces (Ports) ----------

// SubscriptionRepository define las operaciones persistentes para Subscription.
// El dispatcher solo la usa en modo lectura.
type SubscriptionRepository interface {
	// Debe devolver ErrSubscriptionExists si (owner_key, idempotency_key) ya existe.
	Create(ctx context.Context, s *Subscription) error

	// Debe devolver ErrSubscriptionNotFound si no existe o pertenece a otro owner.
	GetByID(ctx context.Context, ownerKey string, id uuid.UUID) (*Subscription, error)

	// FindByIdempotencyKey devuelve la suscripción original de una creación
	// idempotente, o ErrSubscriptionNotFound si la key nunca se usó.
	FindByIdempotencyKey(ctx context.Context, ownerKey, key string) (*Subscription, error)

	// ListByOwner devuelve una página de suscripciones del owner y el cursor
	// de la siguiente página ("" si no hay más).
	ListByOwner(ctx context.Context, ownerKey string, page Page) ([]*Subscription, string, error)
}

// DeliveryRepository define el contrato sobre la tabla outbox de entregas.
type DeliveryRepository interface {
	// CreatePending inserta una fila nueva en estado PENDING.
	CreatePending(ctx context.Context, d *OutboundDelivery) error

	// Debe devolver ErrDeliveryNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*OutboundDelivery, error)

	// ClaimDue reclama atómicamente hasta 'limit' filas vencidas
	// (PENDING, next_attempt_at <= now, sin lease vigente) extendiendo su
	// lease hasta now+leaseFor. Dos workers nunca reciben la misma fila.
	ClaimDue(ctx context.Context, now time.Time, leaseFor time.Duration, limit int) ([]*OutboundDelivery, error)

	// Update persiste el estado resultante de un intento y libera el lease.
	Update(ctx context.Context, d *OutboundDelivery) error

	// ListBySubscription devuelve las entregas de una suscripción, más recientes primero.
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*OutboundDelivery, error)
}

// AttemptResult es el resultado observable de un intento HTTP.
type AttemptResult struct {
	StatusCode int
	Duration   time.Duration
}

// DeliverySender realiza el POST firmado al endpoint capturado en la fila.
type DeliverySender interface {
	Send(ctx context.Context, d *OutboundDelivery) (*AttemptResult, error)
}

// AttemptRecord es la fila que se vuelca al log analítico de intentos.
type AttemptRecord struct {
	DeliveryID     uuid.UUID
	SubscriptionID uuid.UUID
	OwnerKey       string
	EventType      string
	Attempt        int
	StatusCode     int
	Outcome        string // "delivered", "retry", "failed"
	Duration       time.Duration
	AttemptedAt    time.Time
}

// AttemptLogger vuelca intentos a un almacén analítico. Best-effort:
// un fallo aquí nunca afecta al estado de la entrega.
type AttemptLogger interface {
	LogBatch(ctx context.Context, records []AttemptRecord) error
}

// ---------- Paginación ----------

// Page describe una página por cursor para listar suscripciones.
type Page struct {
	Limit  int
	Cursor string // id de la última suscripción vista, "" para la primera página
}
