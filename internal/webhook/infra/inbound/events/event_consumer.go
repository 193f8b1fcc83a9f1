package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/webhooklab/shared/events"
)

// EventDispatcher es lo único que el consumidor necesita del application layer.
type EventDispatcher interface {
	Enqueue(ctx context.Context, evt sharedEvents.EventEnvelope) (int, error)
}

// EventConsumer recibe eventos de dominio desde Kafka y los encola en el
// motor de webhooks. Es la misma operación que POST /internal/events,
// solo que entrando por el bus.
type EventConsumer struct {
	dispatcher EventDispatcher
	log        *zap.Logger
}

func NewEventConsumer(dispatcher EventDispatcher, log *zap.Logger) *EventConsumer {
	return &EventConsumer{
		dispatcher: dispatcher,
		log:        log,
	}
}

func (c *EventConsumer) HandleMessage(ctx context.Context, key string, payload []byte) {
	var envelope sharedEvents.EventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.log.Warn("Failed to unmarshal event envelope", zap.String("key", key), zap.Error(err))
		return
	}

	if envelope.Event == "" || envelope.OwnerKey == "" {
		c.log.Warn("Evento sin tipo u owner key, descartado", zap.String("key", key))
		return
	}

	ctxEnqueue, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := c.dispatcher.Enqueue(ctxEnqueue, envelope)
	if err != nil {
		// El fan-out es at-least-once: si el store estaba caído, el evento
		// volverá por el reintento del productor o por el offset de Kafka.
		c.log.Warn("Failed to enqueue event from bus",
			zap.String("event_type", envelope.Event),
			zap.String("owner_key", envelope.OwnerKey),
			zap.Error(err),
		)
		return
	}

	c.log.Info("Evento encolado desde el bus",
		zap.String("event_type", envelope.Event),
		zap.Int("deliveries", count),
	)
}
