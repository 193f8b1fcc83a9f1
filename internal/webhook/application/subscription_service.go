package application

import (
	"context"
	"errors"
	"time"

	sharedCache "github.com/davicafu/webhooklab/internal/shared/infra/platform/cache"
	"github.com/davicafu/webhooklab/internal/webhook/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionService define los casos de uso sobre suscripciones de webhooks.
// La autenticación del owner key vive fuera: aquí llega ya resuelto.
type SubscriptionService struct {
	repo       domain.SubscriptionRepository
	deliveries domain.DeliveryRepository
	cache      sharedCache.Cache
	log        *zap.Logger
}

// NewSubscriptionService constructor
func NewSubscriptionService(repo domain.SubscriptionRepository, deliveries domain.DeliveryRepository, cache sharedCache.Cache, log *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		repo:       repo,
		deliveries: deliveries,
		cache:      cache,
		log:        log,
	}
}

// CreateSubscriptionInput agrupa los datos de alta de una suscripción.
type CreateSubscriptionInput struct {
	OwnerKey       string
	TargetURL      string
	EventTypes     []string
	Secret         string
	IdempotencyKey string // "" si el cliente no envió Idempotency-Key
}

// Create da de alta una suscripción de forma idempotente por
// (owner_key, idempotency_key): repetir la misma key devuelve la original.
func (s *SubscriptionService) Create(ctx context.Context, in CreateSubscriptionInput) (*domain.Subscription, error) {
	if in.TargetURL == "" || len(in.EventTypes) == 0 {
		return nil, domain.ErrInvalidSubscription
	}

	if in.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, in.OwnerKey, in.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	sub := &domain.Subscription{
		ID:         uuid.New(),
		OwnerKey:   in.OwnerKey,
		TargetURL:  in.TargetURL,
		EventTypes: in.EventTypes,
		Secret:     in.Secret,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.IdempotencyKey != "" {
		sub.IdempotencyKey = &in.IdempotencyKey
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		// Carrera entre dos creaciones con la misma key: el índice único del
		// store decide, y devolvemos la fila que ganó.
		if errors.Is(err, domain.ErrSubscriptionExists) && in.IdempotencyKey != "" {
			return s.repo.FindByIdempotencyKey(ctx, in.OwnerKey, in.IdempotencyKey)
		}
		return nil, err
	}

	// El listado cacheado del owner queda obsoleto.
	if s.cache != nil {
		sharedCache.AsyncCacheDelete(ctx, s.cache, domain.CacheKeyEnabledSubs(in.OwnerKey), s.log)
	}

	return sub, nil
}

// Get obtiene una suscripción del owner. Cross-owner se comporta como not found.
func (s *SubscriptionService) Get(ctx context.Context, ownerKey string, id uuid.UUID) (*domain.Subscription, error) {
	return s.repo.GetByID(ctx, ownerKey, id)
}

// List devuelve una página de suscripciones del owner.
func (s *SubscriptionService) List(ctx context.Context, ownerKey string, page domain.Page) ([]*domain.Subscription, string, error) {
	return s.repo.ListByOwner(ctx, ownerKey, page)
}

// ListDeliveries devuelve las últimas entregas de una suscripción del owner.
// Es el API de lectura de estado de entrega: el resultado de cada intento
// solo es visible por aquí, nunca síncronamente en la ingesta.
func (s *SubscriptionService) ListDeliveries(ctx context.Context, ownerKey string, id uuid.UUID, limit int) ([]*domain.OutboundDelivery, error) {
	// Primero validamos la propiedad, para no filtrar entregas ajenas.
	if _, err := s.repo.GetByID(ctx, ownerKey, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.deliveries.ListBySubscription(ctx, id, limit)
}
