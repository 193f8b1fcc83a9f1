package events

import (
	"time"

	"github.com/google/uuid"
)

// Tipos de evento del feed de resultados de entrega.
const (
	DeliverySucceededType = "webhook.delivery.succeeded"
	DeliveryFailedType    = "webhook.delivery.failed"
)

// DeliverySucceeded se publica cuando una entrega alcanza estado DELIVERED.
type DeliverySucceeded struct {
	DeliveryID     uuid.UUID `json:"delivery_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	OwnerKey       string    `json:"owner_key"`
	EventType      string    `json:"event_type"`
	AttemptCount   int       `json:"attempt_count"`
	StatusCode     int       `json:"status_code"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

func (e *DeliverySucceeded) PartitionKey() string { return e.OwnerKey }

// DeliveryFailed se publica cuando una entrega alcanza estado FAILED
// (respuesta 4xx o reintentos agotados).
type DeliveryFailed struct {
	DeliveryID     uuid.UUID `json:"delivery_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	OwnerKey       string    `json:"owner_key"`
	EventType      string    `json:"event_type"`
	AttemptCount   int       `json:"attempt_count"`
	StatusCode     int       `json:"status_code,omitempty"` // 0 si fue error de red/timeout
	Reason         string    `json:"reason"`
	FailedAt       time.Time `json:"failed_at"`
}

func (e *DeliveryFailed) PartitionKey() string { return e.OwnerKey }
