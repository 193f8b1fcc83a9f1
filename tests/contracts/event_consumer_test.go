package contracts

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	eventConsumer "github.com/davicafu/webhooklab/internal/webhook/infra/inbound/events"
	sharedEvents "github.com/davicafu/webhooklab/shared/events"
)

// --- FakeDispatcher captura los eventos encolados ---
type FakeDispatcher struct {
	Enqueued []sharedEvents.EventEnvelope
	Err      error
	mu       sync.Mutex
}

func (f *FakeDispatcher) Enqueue(ctx context.Context, evt sharedEvents.EventEnvelope) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	f.Enqueued = append(f.Enqueued, evt)
	return 1, nil
}

// --- Test del EventConsumer ---
func TestEventConsumer_HandleMessage(t *testing.T) {
	ctx := context.Background()
	fake := &FakeDispatcher{}
	consumer := eventConsumer.NewEventConsumer(fake, zap.NewNop())

	// --- 1. Sobre válido ---
	payload, _ := json.Marshal(sharedEvents.EventEnvelope{
		Event:      "payment.created",
		OwnerKey:   "acme",
		Data:       json.RawMessage(`{"id":"pay_1"}`),
		OccurredAt: time.Now().UTC(),
	})
	consumer.HandleMessage(ctx, "acme", payload)

	assert.Len(t, fake.Enqueued, 1)
	assert.Equal(t, "payment.created", fake.Enqueued[0].Event)
	assert.Equal(t, "acme", fake.Enqueued[0].OwnerKey)

	// --- 2. Payload malformado: se descarta sin encolar ---
	consumer.HandleMessage(ctx, "acme", []byte(`{"event": "x"`))
	assert.Len(t, fake.Enqueued, 1)

	// --- 3. Sin tipo de evento u owner key: se descarta ---
	payload, _ = json.Marshal(sharedEvents.EventEnvelope{Event: "x"})
	consumer.HandleMessage(ctx, "acme", payload)
	payload, _ = json.Marshal(sharedEvents.EventEnvelope{OwnerKey: "acme"})
	consumer.HandleMessage(ctx, "acme", payload)
	assert.Len(t, fake.Enqueued, 1)
}
