package events

import (
	"encoding/json"
	"time"
)

// EventEnvelope es el sobre común de los eventos de dominio que entran al
// motor de webhooks, tanto por HTTP (/internal/events) como por Kafka.
// Es también, byte a byte, el cuerpo que se firma y se entrega al endpoint.
type EventEnvelope struct {
	Event      string          `json:"event"`
	OwnerKey   string          `json:"apiKey"` // en el wire se llama apiKey por compatibilidad
	Data       json.RawMessage `json:"data"`   // contenido específico del evento
	OccurredAt time.Time       `json:"occurredAt"`
}
