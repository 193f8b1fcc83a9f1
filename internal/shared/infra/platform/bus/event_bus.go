package bus

import "context"

// Keyer permite a un evento aportar su clave de partición (owner key).
type Keyer interface {
	PartitionKey() string
}

// La semántica de topic/nombre y formato del payload la decides en los adapters.
type EventBus interface {
	Publish(ctx context.Context, event interface{}) error
}
