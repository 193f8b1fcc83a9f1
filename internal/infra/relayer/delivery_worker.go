package relayer

import (
	"context"
	"errors"
	"sync"
	"time"

	sharedBus "github.com/davicafu/webhooklab/internal/shared/infra/platform/bus"
	"github.com/davicafu/webhooklab/internal/webhook/domain"
	sharedEvents "github.com/davicafu/webhooklab/shared/events"
	"go.uber.org/zap"
)

// ErrNonRetryable marca un fallo de entrega que no debe reintentarse
// (petición imposible de construir, firma inválida...). El sender lo
// envuelve y el worker lo traduce a FAILED terminal.
var ErrNonRetryable = errors.New("non-retryable delivery failure")

// WorkerConfig agrupa los parámetros del pool de entrega.
type WorkerConfig struct {
	Workers      int           // número de goroutines del pool
	PollInterval time.Duration // espera entre pasadas sin trabajo
	BatchSize    int           // filas reclamadas por pasada y worker
	MaxAttempts  int           // superarlo es terminal (FAILED)
	LeaseFor     time.Duration // duración del lease de una fila reclamada
	Backoff      Backoff
}

// DeliveryWorker es el pool de workers que drena el outbox de entregas:
// reclama filas vencidas, realiza el POST firmado y resuelve el resultado.
// La única sincronización entre workers es el claim atómico por fila.
type DeliveryWorker struct {
	repo      domain.DeliveryRepository
	sender    domain.DeliverySender
	publisher sharedBus.EventBus   // feed de resultados, puede ser nil
	attempts  domain.AttemptLogger // log analítico, puede ser nil
	cfg       WorkerConfig
	log       *zap.Logger
	wg        sync.WaitGroup
}

// NewDeliveryWorker constructor
func NewDeliveryWorker(
	repo domain.DeliveryRepository,
	sender domain.DeliverySender,
	publisher sharedBus.EventBus,
	attempts domain.AttemptLogger,
	cfg WorkerConfig,
	log *zap.Logger,
) *DeliveryWorker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = 60 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}

	return &DeliveryWorker{
		repo:      repo,
		sender:    sender,
		publisher: publisher,
		attempts:  attempts,
		cfg:       cfg,
		log:       log,
	}
}

// Start lanza el pool. Cada worker ejecuta su propio bucle de polling y
// termina limpiamente al cancelar el contexto.
func (w *DeliveryWorker) Start(ctx context.Context) {
	w.log.Info("🚀 Delivery worker pool iniciado",
		zap.Int("workers", w.cfg.Workers),
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("max_attempts", w.cfg.MaxAttempts),
	)

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.runLoop(ctx, id)
		}(i)
	}
}

// Wait bloquea hasta que todos los workers hayan salido. Los intentos en
// vuelo terminan (o agotan su timeout HTTP) antes de salir; ninguna fila
// queda reclamada para siempre porque el lease expira solo.
func (w *DeliveryWorker) Wait() {
	w.wg.Wait()
	w.log.Info("🛑 Delivery worker pool detenido.")
}

func (w *DeliveryWorker) runLoop(ctx context.Context, id int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		processed := w.ProcessBatch(ctx)

		// Si el batch salió lleno probablemente hay más trabajo: repetimos
		// sin esperar al ticker.
		if processed >= w.cfg.BatchSize {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessBatch reclama un lote de filas vencidas y las procesa en serie.
// Devuelve cuántas filas procesó.
func (w *DeliveryWorker) ProcessBatch(ctx context.Context) int {
	now := time.Now().UTC()
	claimed, err := w.repo.ClaimDue(ctx, now, w.cfg.LeaseFor, w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("⚠️ Error al reclamar entregas vencidas", zap.Error(err))
		}
		return 0
	}

	var records []domain.AttemptRecord
	for _, d := range claimed {
		records = append(records, w.process(ctx, d))
	}

	if w.attempts != nil && len(records) > 0 {
		// Best-effort: un fallo del log analítico nunca toca el estado de la fila.
		if err := w.attempts.LogBatch(ctx, records); err != nil {
			w.log.Warn("⚠️ No se pudo volcar el log de intentos", zap.Error(err))
		}
	}

	return len(claimed)
}

// process realiza un intento sobre una fila ya reclamada y aplica la
// política de resultados:
//
//	2xx                      -> DELIVERED
//	4xx                      -> FAILED (no reintentable)
//	5xx / timeout / red      -> reintento con backoff, o FAILED si agota
func (w *DeliveryWorker) process(ctx context.Context, d *domain.OutboundDelivery) domain.AttemptRecord {
	now := time.Now().UTC()
	res, err := w.sender.Send(ctx, d)

	record := domain.AttemptRecord{
		DeliveryID:     d.ID,
		SubscriptionID: d.SubscriptionID,
		OwnerKey:       d.OwnerKey,
		EventType:      d.EventType,
		Attempt:        d.AttemptCount + 1,
		AttemptedAt:    now,
	}
	if res != nil {
		record.StatusCode = res.StatusCode
		record.Duration = res.Duration
	}

	switch {
	case err == nil && res.StatusCode >= 200 && res.StatusCode < 300:
		d.MarkDelivered(now)
		record.Outcome = "delivered"
		w.log.Info("✅ Entrega completada",
			zap.String("delivery_id", d.ID.String()),
			zap.Int("status", res.StatusCode),
			zap.Int("attempt", d.AttemptCount),
		)
		w.publishOutcome(ctx, d, record)

	case err == nil && res.StatusCode >= 400 && res.StatusCode < 500:
		// Error del cliente: reintentar no va a arreglarlo.
		d.MarkFailed(now)
		record.Outcome = "failed"
		w.log.Warn("⚠️ Entrega rechazada por el endpoint (4xx), no se reintenta",
			zap.String("delivery_id", d.ID.String()),
			zap.Int("status", res.StatusCode),
		)
		w.publishOutcome(ctx, d, record)

	case err != nil && errors.Is(err, ErrNonRetryable):
		d.MarkFailed(now)
		record.Outcome = "failed"
		w.log.Warn("⚠️ Fallo permanente de entrega",
			zap.String("delivery_id", d.ID.String()),
			zap.Error(err),
		)
		w.publishOutcome(ctx, d, record)

	default:
		// 5xx, timeout o error de conexión: transitorio.
		if d.AttemptCount+1 >= w.cfg.MaxAttempts {
			d.MarkFailed(now)
			record.Outcome = "failed"
			w.log.Warn("⚠️ Entrega agotó sus reintentos",
				zap.String("delivery_id", d.ID.String()),
				zap.Int("attempts", d.AttemptCount),
			)
			w.publishOutcome(ctx, d, record)
		} else {
			delay := w.cfg.Backoff.Delay(d.AttemptCount + 1)
			d.ScheduleRetry(now, delay)
			record.Outcome = "retry"
			w.log.Info("🔄 Entrega fallida, reintento planificado",
				zap.String("delivery_id", d.ID.String()),
				zap.Int("attempt", d.AttemptCount),
				zap.Duration("delay", delay),
			)
		}
	}

	// Usamos context.Background() para no perder el resultado de un intento
	// que terminó justo durante el shutdown.
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.repo.Update(updateCtx, d); err != nil {
		// La fila queda con su lease: otro worker la recuperará al expirar.
		w.log.Warn("⚠️ No se pudo actualizar la entrega tras el intento",
			zap.String("delivery_id", d.ID.String()),
			zap.Error(err),
		)
	}

	return record
}

// publishOutcome emite el resultado terminal al feed de eventos. Best-effort.
func (w *DeliveryWorker) publishOutcome(ctx context.Context, d *domain.OutboundDelivery, record domain.AttemptRecord) {
	if w.publisher == nil {
		return
	}

	var evt interface{}
	switch d.Status {
	case domain.StatusDelivered:
		evt = &sharedEvents.DeliverySucceeded{
			DeliveryID:     d.ID,
			SubscriptionID: d.SubscriptionID,
			OwnerKey:       d.OwnerKey,
			EventType:      d.EventType,
			AttemptCount:   d.AttemptCount,
			StatusCode:     record.StatusCode,
			DeliveredAt:    record.AttemptedAt,
		}
	case domain.StatusFailed:
		evt = &sharedEvents.DeliveryFailed{
			DeliveryID:     d.ID,
			SubscriptionID: d.SubscriptionID,
			OwnerKey:       d.OwnerKey,
			EventType:      d.EventType,
			AttemptCount:   d.AttemptCount,
			StatusCode:     record.StatusCode,
			Reason:         record.Outcome,
			FailedAt:       record.AttemptedAt,
		}
	default:
		return
	}

	if err := w.publisher.Publish(ctx, evt); err != nil {
		w.log.Warn("⚠️ No se pudo publicar el resultado de la entrega",
			zap.String("delivery_id", d.ID.String()),
			zap.Error(err),
		)
	}
}
