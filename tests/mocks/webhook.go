package mocks

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	webhookDomain "github.com/davicafu/webhooklab/internal/webhook/domain"
	"github.com/google/uuid"
)

// ------------------- SubscriptionRepository -------------------

// InMemorySubscriptionRepo simula SubscriptionRepository en memoria.
type InMemorySubscriptionRepo struct {
	Subs map[uuid.UUID]*webhookDomain.Subscription
	mu   sync.Mutex

	// ListErr fuerza un error en ListByOwner para probar rutas de fallo.
	ListErr error
	// ListCalls cuenta las llamadas a ListByOwner (útil con cache delante).
	ListCalls int
}

var _ webhookDomain.SubscriptionRepository = (*InMemorySubscriptionRepo)(nil)

func NewInMemorySubscriptionRepo() *InMemorySubscriptionRepo {
	return &InMemorySubscriptionRepo{
		Subs: make(map[uuid.UUID]*webhookDomain.Subscription),
	}
}

func (r *InMemorySubscriptionRepo) Create(ctx context.Context, s *webhookDomain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.IdempotencyKey != nil {
		for _, existing := range r.Subs {
			if existing.OwnerKey == s.OwnerKey &&
				existing.IdempotencyKey != nil &&
				*existing.IdempotencyKey == *s.IdempotencyKey {
				return webhookDomain.ErrSubscriptionExists
			}
		}
	}
	cp := *s
	r.Subs[s.ID] = &cp
	return nil
}

func (r *InMemorySubscriptionRepo) GetByID(ctx context.Context, ownerKey string, id uuid.UUID) (*webhookDomain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.Subs[id]
	if !ok || s.OwnerKey != ownerKey {
		return nil, webhookDomain.ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *InMemorySubscriptionRepo) FindByIdempotencyKey(ctx context.Context, ownerKey, key string) (*webhookDomain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.Subs {
		if s.OwnerKey == ownerKey && s.IdempotencyKey != nil && *s.IdempotencyKey == key {
			cp := *s
			return &cp, nil
		}
	}
	return nil, webhookDomain.ErrSubscriptionNotFound
}

func (r *InMemorySubscriptionRepo) ListByOwner(ctx context.Context, ownerKey string, page webhookDomain.Page) ([]*webhookDomain.Subscription, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ListCalls++
	if r.ListErr != nil {
		return nil, "", r.ListErr
	}

	var list []*webhookDomain.Subscription
	for _, s := range r.Subs {
		if s.OwnerKey == ownerKey {
			cp := *s
			list = append(list, &cp)
		}
	}
	// Mismo orden que los repos reales: por id ascendente.
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID.String() < list[j].ID.String()
	})

	start := 0
	if page.Cursor != "" {
		for i, s := range list {
			if s.ID.String() > page.Cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	if start >= len(list) {
		return []*webhookDomain.Subscription{}, "", nil
	}

	end := len(list)
	next := ""
	if page.Limit > 0 && start+page.Limit < len(list) {
		end = start + page.Limit
		next = list[end-1].ID.String()
	}
	return list[start:end], next, nil
}

// ------------------- DeliveryRepository -------------------

// InMemoryDeliveryRepo simula la tabla outbox de entregas, con la misma
// semántica de claim por lease que los repos reales.
type InMemoryDeliveryRepo struct {
	Deliveries map[uuid.UUID]*webhookDomain.OutboundDelivery
	mu         sync.Mutex

	// CreateErr fuerza un fallo de inserción para probar el fan-out parcial.
	CreateErr error
}

var _ webhookDomain.DeliveryRepository = (*InMemoryDeliveryRepo)(nil)

func NewInMemoryDeliveryRepo() *InMemoryDeliveryRepo {
	return &InMemoryDeliveryRepo{
		Deliveries: make(map[uuid.UUID]*webhookDomain.OutboundDelivery),
	}
}

func (r *InMemoryDeliveryRepo) CreatePending(ctx context.Context, d *webhookDomain.OutboundDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	cp := *d
	r.Deliveries[d.ID] = &cp
	return nil
}

func (r *InMemoryDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*webhookDomain.OutboundDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.Deliveries[id]
	if !ok {
		return nil, webhookDomain.ErrDeliveryNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *InMemoryDeliveryRepo) ClaimDue(ctx context.Context, now time.Time, leaseFor time.Duration, limit int) ([]*webhookDomain.OutboundDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*webhookDomain.OutboundDelivery
	for _, d := range r.Deliveries {
		if d.Due(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		ni, nj := due[i].NextAttemptAt, due[j].NextAttemptAt
		if ni == nil || nj == nil {
			return nj != nil
		}
		return ni.Before(*nj)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*webhookDomain.OutboundDelivery, 0, len(due))
	until := now.Add(leaseFor)
	for _, d := range due {
		d.ClaimedUntil = &until
		cp := *d
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (r *InMemoryDeliveryRepo) Update(ctx context.Context, d *webhookDomain.OutboundDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Deliveries[d.ID]; !ok {
		return webhookDomain.ErrDeliveryNotFound
	}
	cp := *d
	r.Deliveries[d.ID] = &cp
	return nil
}

func (r *InMemoryDeliveryRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*webhookDomain.OutboundDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var list []*webhookDomain.OutboundDelivery
	for _, d := range r.Deliveries {
		if d.SubscriptionID == subscriptionID {
			cp := *d
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ------------------- DeliverySender -------------------

// ScriptedSender devuelve resultados programados por intento, en orden.
// Si se agota el guion repite el último resultado.
type ScriptedSender struct {
	Results []SendResult
	mu      sync.Mutex
	calls   int

	// Sent registra las entregas en el orden en que se intentaron.
	Sent []uuid.UUID
}

type SendResult struct {
	Status int
	Err    error
}

var _ webhookDomain.DeliverySender = (*ScriptedSender)(nil)

func (s *ScriptedSender) Send(ctx context.Context, d *webhookDomain.OutboundDelivery) (*webhookDomain.AttemptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls
	if idx >= len(s.Results) {
		idx = len(s.Results) - 1
	}
	s.calls++
	s.Sent = append(s.Sent, d.ID)

	res := s.Results[idx]
	if res.Err != nil {
		return nil, res.Err
	}
	return &webhookDomain.AttemptResult{StatusCode: res.Status, Duration: time.Millisecond}, nil
}

func (s *ScriptedSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ------------------- EventBus / AttemptLogger -------------------

// DummyPublisher captura los eventos publicados como JSON.
type DummyPublisher struct {
	Published []string
	mu        sync.Mutex
}

func (p *DummyPublisher) Publish(ctx context.Context, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Guardar una versión JSON como evidencia
	data, _ := json.Marshal(event)
	p.Published = append(p.Published, string(data))
	log.Printf("Mock Published: %s", data)
	return nil
}

func (p *DummyPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Published)
}

// DummyAttemptLogger acumula los registros de intentos recibidos.
type DummyAttemptLogger struct {
	Records []webhookDomain.AttemptRecord
	mu      sync.Mutex
}

var _ webhookDomain.AttemptLogger = (*DummyAttemptLogger)(nil)

func (l *DummyAttemptLogger) LogBatch(ctx context.Context, records []webhookDomain.AttemptRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Records = append(l.Records, records...)
	return nil
}
