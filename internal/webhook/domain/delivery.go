package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus es el estado de una fila del outbox de entregas.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "PENDING"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
)

// OutboundDelivery representa un intento de entrega pendiente en el outbox.
// TargetURL y Secret se capturan al encolar: una edición posterior de la
// suscripción no debe cambiar entregas ya en vuelo.
type OutboundDelivery struct {
	ID             uuid.UUID      `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	OwnerKey       string         `json:"owner_key"`
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	TargetURL      string         `json:"target_url"`
	Secret         string         `json:"-"`
	Payload        []byte         `json:"-"` // cuerpo exacto a enviar, inmutable una vez escrito
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty"`
	ClaimedUntil   *time.Time     `json:"-"` // lease del worker; expira y vuelve a ser reclamable
}

// ---------- Transiciones de estado ----------
// Las transiciones viven en el dominio: el worker solo decide cuál aplicar.

// MarkDelivered registra un intento con éxito (2xx). Estado terminal.
func (d *OutboundDelivery) MarkDelivered(now time.Time) {
	d.AttemptCount++
	d.Status = StatusDelivered
	d.LastAttemptAt = &now
	d.NextAttemptAt = nil
	d.ClaimedUntil = nil
	d.UpdatedAt = now
}

// MarkFailed registra un fallo terminal (4xx o reintentos agotados).
// La fila no vuelve a planificarse jamás.
func (d *OutboundDelivery) MarkFailed(now time.Time) {
	d.AttemptCount++
	d.Status = StatusFailed
	d.LastAttemptAt = &now
	d.NextAttemptAt = nil
	d.ClaimedUntil = nil
	d.UpdatedAt = now
}

// ScheduleRetry registra un fallo transitorio y planifica el siguiente intento.
func (d *OutboundDelivery) ScheduleRetry(now time.Time, delay time.Duration) {
	d.AttemptCount++
	d.Status = StatusPending
	d.LastAttemptAt = &now
	next := now.Add(delay)
	d.NextAttemptAt = &next
	d.ClaimedUntil = nil
	d.UpdatedAt = now
}

// Due indica si la fila está lista para ser reclamada.
func (d *OutboundDelivery) Due(now time.Time) bool {
	if d.Status != StatusPending {
		return false
	}
	if d.ClaimedUntil != nil && d.ClaimedUntil.After(now) {
		return false
	}
	return d.NextAttemptAt == nil || !d.NextAttemptAt.After(now)
}
