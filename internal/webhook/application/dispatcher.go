package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sharedCache "github.com/davicafu/webhooklab/internal/shared/infra/platform/cache"
	"github.com/davicafu/webhooklab/internal/webhook/domain"
	sharedEvents "github.com/davicafu/webhooklab/shared/events"
	"github.com/davicafu/webhooklab/shared/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subsPageLimit es el tamaño de página interno al recorrer las suscripciones
// de un owner. El fan-out siempre recorre el conjunto completo.
const subsPageLimit = 100

// enabledSubsCacheTTL en segundos para el listado cacheado por owner.
const enabledSubsCacheTTL = 60

// Dispatcher expande un evento entrante en N filas de entrega, una por
// suscripción habilitada del owner que escuche ese tipo de evento.
// Nunca realiza HTTP síncrono: solo escribe en el outbox.
type Dispatcher struct {
	subs       domain.SubscriptionRepository
	deliveries domain.DeliveryRepository
	cache      sharedCache.Cache
	log        *zap.Logger
}

// NewDispatcher constructor
func NewDispatcher(subs domain.SubscriptionRepository, deliveries domain.DeliveryRepository, cache sharedCache.Cache, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		subs:       subs,
		deliveries: deliveries,
		cache:      cache,
		log:        log,
	}
}

// Enqueue realiza el fan-out del evento y devuelve cuántas filas se crearon.
// Un fallo listando suscripciones aborta todo el encolado (sin fan-out
// parcial); un fallo escribiendo una fila no deshace las filas hermanas.
func (d *Dispatcher) Enqueue(ctx context.Context, evt sharedEvents.EventEnvelope) (int, error) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	subs, err := d.enabledSubscriptions(ctx, evt.OwnerKey)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions for owner %s: %w", evt.OwnerKey, err)
	}

	// El cuerpo del wire se serializa una sola vez y se captura en cada fila:
	// es exactamente lo que se firmará y enviará.
	payload, err := json.Marshal(evt)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	eventID := ExtractEventID(evt.Data)
	now := time.Now().UTC()
	created := 0

	for _, sub := range subs {
		if !sub.Enabled || !sub.Matches(evt.Event) {
			continue
		}

		delivery := &domain.OutboundDelivery{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			OwnerKey:       evt.OwnerKey,
			EventID:        eventID,
			EventType:      evt.Event,
			TargetURL:      sub.TargetURL,
			Secret:         sub.Secret,
			Payload:        payload,
			Status:         domain.StatusPending,
			AttemptCount:   0,
			CreatedAt:      now,
			UpdatedAt:      now,
			NextAttemptAt:  &now,
		}

		if err := d.deliveries.CreatePending(ctx, delivery); err != nil {
			// Cada escritura es independiente: registramos y seguimos con el resto.
			d.log.Warn("⚠️ No se pudo encolar entrega",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("event_type", evt.Event),
				zap.Error(err),
			)
			continue
		}
		created++
	}

	d.log.Info("📬 Fan-out completado",
		zap.String("event_type", evt.Event),
		zap.String("owner_key", evt.OwnerKey),
		zap.Int("deliveries", created),
	)

	return created, nil
}

// cachedSubscription es la representación interna que va a la cache.
// Subscription oculta Secret en su JSON público, pero el fan-out lo
// necesita para capturarlo en cada fila, así que aquí viaja explícito.
type cachedSubscription struct {
	ID         uuid.UUID `json:"id"`
	TargetURL  string    `json:"target_url"`
	EventTypes []string  `json:"event_types"`
	Secret     string    `json:"secret"`
	Enabled    bool      `json:"enabled"`
}

// enabledSubscriptions devuelve las suscripciones habilitadas del owner,
// primero desde cache y si no recorriendo todas las páginas del repo.
func (d *Dispatcher) enabledSubscriptions(ctx context.Context, ownerKey string) ([]*domain.Subscription, error) {
	cacheKey := domain.CacheKeyEnabledSubs(ownerKey)

	if d.cache != nil {
		var cached []cachedSubscription
		if ok, _ := d.cache.Get(ctx, cacheKey, &cached); ok {
			subs := make([]*domain.Subscription, 0, len(cached))
			for _, c := range cached {
				subs = append(subs, &domain.Subscription{
					ID:         c.ID,
					OwnerKey:   ownerKey,
					TargetURL:  c.TargetURL,
					EventTypes: c.EventTypes,
					Secret:     c.Secret,
					Enabled:    c.Enabled,
				})
			}
			return subs, nil
		}
	}

	var enabled []*domain.Subscription
	err := utils.Retry(ctx, 3, 100*time.Millisecond, func() error {
		enabled = enabled[:0]
		cursor := ""
		for {
			page, next, err := d.subs.ListByOwner(ctx, ownerKey, domain.Page{Limit: subsPageLimit, Cursor: cursor})
			if err != nil {
				return err
			}
			for _, s := range page {
				if s.Enabled {
					enabled = append(enabled, s)
				}
			}
			if next == "" {
				return nil
			}
			cursor = next
		}
	})
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		toCache := make([]cachedSubscription, 0, len(enabled))
		for _, s := range enabled {
			toCache = append(toCache, cachedSubscription{
				ID:         s.ID,
				TargetURL:  s.TargetURL,
				EventTypes: s.EventTypes,
				Secret:     s.Secret,
				Enabled:    s.Enabled,
			})
		}
		sharedCache.AsyncCacheSet(ctx, d.cache, cacheKey, toCache, enabledSubsCacheTTL, d.log)
	}

	return enabled, nil
}

// ExtractEventID obtiene el identificador de correlación del evento desde su
// payload (data.deliveryId o data.id). Si no hay ninguno, genera uno nuevo.
func ExtractEventID(data json.RawMessage) string {
	var probe struct {
		DeliveryID string `json:"deliveryId"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		if probe.DeliveryID != "" {
			return probe.DeliveryID
		}
		if probe.ID != "" {
			return probe.ID
		}
	}
	return uuid.NewString()
}
