package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/davicafu/webhooklab/internal/webhook/domain"
	sharedEvents "github.com/davicafu/webhooklab/shared/events"
	"github.com/davicafu/webhooklab/tests/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newSub(owner string, types []string, enabled bool) *domain.Subscription {
	now := time.Now().UTC()
	return &domain.Subscription{
		ID:         uuid.New(),
		OwnerKey:   owner,
		TargetURL:  "https://example.com/hook",
		EventTypes: types,
		Secret:     "s3cr3t",
		Enabled:    enabled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestEnqueue_FanOutPerMatchingSubscription(t *testing.T) {
	subs := mocks.NewInMemorySubscriptionRepo()
	deliveries := mocks.NewInMemoryDeliveryRepo()
	dispatcher := NewDispatcher(subs, deliveries, nil, zap.NewNop())

	matching1 := newSub("acme", []string{"payment.created"}, true)
	matching2 := newSub("acme", []string{"payment.created", "payment.refunded"}, true)
	otherType := newSub("acme", []string{"invoice.paid"}, true)
	disabled := newSub("acme", []string{"payment.created"}, false)
	otherOwner := newSub("globex", []string{"payment.created"}, true)

	for _, s := range []*domain.Subscription{matching1, matching2, otherType, disabled, otherOwner} {
		assert.NoError(t, subs.Create(context.Background(), s))
	}

	count, err := dispatcher.Enqueue(context.Background(), sharedEvents.EventEnvelope{
		Event:      "payment.created",
		OwnerKey:   "acme",
		Data:       json.RawMessage(`{"id":"pay_123","amount":500}`),
		OccurredAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, deliveries.Deliveries, 2)

	targets := map[uuid.UUID]bool{}
	for _, d := range deliveries.Deliveries {
		targets[d.SubscriptionID] = true

		assert.Equal(t, domain.StatusPending, d.Status)
		assert.Equal(t, 0, d.AttemptCount)
		assert.Equal(t, "acme", d.OwnerKey)
		assert.Equal(t, "payment.created", d.EventType)
		assert.Equal(t, "pay_123", d.EventID)
		assert.Equal(t, "https://example.com/hook", d.TargetURL)
		assert.Equal(t, "s3cr3t", d.Secret)
		assert.NotNil(t, d.NextAttemptAt)

		// El payload capturado es el sobre completo, listo para firmar.
		var env sharedEvents.EventEnvelope
		assert.NoError(t, json.Unmarshal(d.Payload, &env))
		assert.Equal(t, "payment.created", env.Event)
		assert.Equal(t, "acme", env.OwnerKey)
	}
	assert.True(t, targets[matching1.ID])
	assert.True(t, targets[matching2.ID])
}

func TestEnqueue_NoMatchesIsNotAnError(t *testing.T) {
	subs := mocks.NewInMemorySubscriptionRepo()
	deliveries := mocks.NewInMemoryDeliveryRepo()
	dispatcher := NewDispatcher(subs, deliveries, nil, zap.NewNop())

	count, err := dispatcher.Enqueue(context.Background(), sharedEvents.EventEnvelope{
		Event:    "payment.created",
		OwnerKey: "nadie",
		Data:     json.RawMessage(`{}`),
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, deliveries.Deliveries)
}

func TestEnqueue_ListFailureAbortsFanOut(t *testing.T) {
	subs := mocks.NewInMemorySubscriptionRepo()
	subs.ListErr = errors.New("store down")
	deliveries := mocks.NewInMemoryDeliveryRepo()
	dispatcher := NewDispatcher(subs, deliveries, nil, zap.NewNop())

	count, err := dispatcher.Enqueue(context.Background(), sharedEvents.EventEnvelope{
		Event:    "payment.created",
		OwnerKey: "acme",
		Data:     json.RawMessage(`{}`),
	})
	assert.Error(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, deliveries.Deliveries)
}

func TestEnqueue_RowFailureDoesNotAbortSiblings(t *testing.T) {
	subs := mocks.NewInMemorySubscriptionRepo()
	deliveries := mocks.NewInMemoryDeliveryRepo()
	deliveries.CreateErr = errors.New("insert failed")
	dispatcher := NewDispatcher(subs, deliveries, nil, zap.NewNop())

	assert.NoError(t, subs.Create(context.Background(), newSub("acme", []string{"x"}, true)))
	assert.NoError(t, subs.Create(context.Background(), newSub("acme", []string{"x"}, true)))

	count, err := dispatcher.Enqueue(context.Background(), sharedEvents.EventEnvelope{
		Event:    "x",
		OwnerKey: "acme",
		Data:     json.RawMessage(`{}`),
	})
	// El encolado como tal no falla, simplemente no creó filas.
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEnqueue_CacheHitSkipsRepoAndKeepsSecret(t *testing.T) {
	subs := mocks.NewInMemorySubscriptionRepo()
	deliveries := mocks.NewInMemoryDeliveryRepo()
	cache := mocks.NewDummyCache()
	dispatcher := NewDispatcher(subs, deliveries, cache, zap.NewNop())

	sub := newSub("acme", []string{"payment.created"}, true)
	assert.NoError(t, subs.Create(context.Background(), sub))

	// Primera pasada: miss de cache, se recorre el repo.
	_, err := dispatcher.Enqueue(context.Background(), sharedEvents.EventEnvelope{
		Event:    "payment.created",
		OwnerKey: "acme",
		Data:     json.RawMessage(`{}`),
	})
	assert.NoError(t, err)
	firstCalls := subs.ListCalls
	assert.Greater(t, firstCalls, 0)

	// El Set de cache es asíncrono.
	assert.Eventually(t, func() bool {
		var cached []json.RawMessage
		ok, _ := cache.Get(context.Background(), domain.CacheKeyEnabledSubs("acme"), &cached)
		return ok
	}, time.Second, 10*time.Millisecond)

	// Segunda pasada: hit de cache, el repo no se toca.
	count, err := dispatcher.Enqueue(context.Background(), sharedEvents.EventEnvelope{
		Event:    "payment.created",
		OwnerKey: "acme",
		Data:     json.RawMessage(`{}`),
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, firstCalls, subs.ListCalls)

	// El secreto sobrevive el round-trip por la cache.
	for _, d := range deliveries.Deliveries {
		assert.Equal(t, "s3cr3t", d.Secret)
	}
}

func TestExtractEventID(t *testing.T) {
	assert.Equal(t, "d-1", ExtractEventID(json.RawMessage(`{"deliveryId":"d-1","id":"i-1"}`)))
	assert.Equal(t, "i-1", ExtractEventID(json.RawMessage(`{"id":"i-1"}`)))

	// Sin identificadores se genera uno nuevo.
	generated := ExtractEventID(json.RawMessage(`{"amount":5}`))
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
}
