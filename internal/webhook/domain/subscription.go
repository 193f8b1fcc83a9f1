package domain

import (
	"fmt"
	"time"

	sharedBus "github.com/davicafu/webhooklab/internal/shared/infra/platform/bus"
	"github.com/google/uuid"
)

// Subscription representa un endpoint registrado por un tenant para recibir webhooks.
type Subscription struct {
	ID             uuid.UUID `json:"id"`
	OwnerKey       string    `json:"owner_key"` // principal dueño de la suscripción (API key del tenant)
	TargetURL      string    `json:"target_url"`
	EventTypes     []string  `json:"event_types"`
	Secret         string    `json:"-"` // nunca se expone en respuestas HTTP
	Enabled        bool      `json:"enabled"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s *Subscription) PartitionKey() string {
	return s.OwnerKey
}

// Matches indica si la suscripción está interesada en un tipo de evento.
// El orden de EventTypes es irrelevante.
func (s *Subscription) Matches(eventType string) bool {
	for _, et := range s.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// CacheKeyEnabledSubs forma una key consistente para cachear el listado
// de suscripciones habilitadas de un owner.
func CacheKeyEnabledSubs(ownerKey string) string {
	return fmt.Sprintf("webhook:subs:enabled:%s", ownerKey)
}

// Verificación estática para asegurar que Subscription implementa la interfaz
var _ sharedBus.Keyer = (*Subscription)(nil)
