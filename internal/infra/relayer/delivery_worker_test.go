package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sharedBus "github.com/davicafu/webhooklab/internal/shared/infra/platform/bus"
	"github.com/davicafu/webhooklab/internal/webhook/domain"
	"github.com/davicafu/webhooklab/tests/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newPendingDelivery(attempts int) *domain.OutboundDelivery {
	now := time.Now().UTC()
	return &domain.OutboundDelivery{
		ID:             uuid.New(),
		SubscriptionID: uuid.New(),
		OwnerKey:       "acme",
		EventID:        "evt-1",
		EventType:      "payment.created",
		TargetURL:      "https://example.com/hook",
		Secret:         "top",
		Payload:        []byte(`{"event":"payment.created"}`),
		Status:         domain.StatusPending,
		AttemptCount:   attempts,
		CreatedAt:      now,
		UpdatedAt:      now,
		NextAttemptAt:  &now,
	}
}

func newWorker(repo domain.DeliveryRepository, sender domain.DeliverySender, publisher *mocks.DummyPublisher, attempts domain.AttemptLogger) *DeliveryWorker {
	var bus sharedBus.EventBus
	if publisher != nil {
		bus = publisher
	}
	return NewDeliveryWorker(repo, sender, bus, attempts, WorkerConfig{
		Workers:     1,
		BatchSize:   10,
		MaxAttempts: 3,
		Backoff:     Backoff{Base: 1 * time.Second, Cap: 5 * time.Minute},
	}, zap.NewNop())
}

func TestProcessBatch_SuccessMarksDelivered(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()
	sender := &mocks.ScriptedSender{Results: []mocks.SendResult{{Status: 200}}}
	publisher := &mocks.DummyPublisher{}
	attempts := &mocks.DummyAttemptLogger{}
	worker := newWorker(repo, sender, publisher, attempts)

	d := newPendingDelivery(0)
	assert.NoError(t, repo.CreatePending(context.Background(), d))

	processed := worker.ProcessBatch(context.Background())
	assert.Equal(t, 1, processed)

	got, err := repo.GetByID(context.Background(), d.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.NextAttemptAt)
	assert.Nil(t, got.ClaimedUntil)

	assert.Equal(t, 1, publisher.Count())
	assert.Len(t, attempts.Records, 1)
	assert.Equal(t, "delivered", attempts.Records[0].Outcome)
	assert.Equal(t, 200, attempts.Records[0].StatusCode)
}

func TestProcessBatch_ClientErrorIsTerminal(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()
	sender := &mocks.ScriptedSender{Results: []mocks.SendResult{{Status: 404}}}
	publisher := &mocks.DummyPublisher{}
	worker := newWorker(repo, sender, publisher, nil)

	d := newPendingDelivery(0)
	assert.NoError(t, repo.CreatePending(context.Background(), d))

	worker.ProcessBatch(context.Background())

	got, _ := repo.GetByID(context.Background(), d.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.NextAttemptAt)

	// Un 4xx jamás genera más intentos.
	worker.ProcessBatch(context.Background())
	assert.Equal(t, 1, sender.Calls())
	assert.Equal(t, 1, publisher.Count())
}

func TestProcessBatch_ServerErrorSchedulesRetry(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()
	sender := &mocks.ScriptedSender{Results: []mocks.SendResult{{Status: 503}}}
	worker := newWorker(repo, sender, nil, nil)

	d := newPendingDelivery(0)
	assert.NoError(t, repo.CreatePending(context.Background(), d))

	before := time.Now().UTC()
	worker.ProcessBatch(context.Background())

	got, _ := repo.GetByID(context.Background(), d.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.ClaimedUntil, "el lease se libera al reprogramar")

	// Con al menos 1s de espera por delante.
	assert.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Sub(before) >= 1*time.Second)
}

func TestProcessBatch_TimeoutSchedulesRetry(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()
	sender := &mocks.ScriptedSender{Results: []mocks.SendResult{{Err: context.DeadlineExceeded}}}
	worker := newWorker(repo, sender, nil, nil)

	d := newPendingDelivery(0)
	assert.NoError(t, repo.CreatePending(context.Background(), d))

	worker.ProcessBatch(context.Background())

	got, _ := repo.GetByID(context.Background(), d.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.NotNil(t, got.NextAttemptAt)
}

func TestProcessBatch_NonRetryableErrorIsTerminal(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()
	sender := &mocks.ScriptedSender{Results: []mocks.SendResult{
		{Err: fmt.Errorf("%w: bad target url", ErrNonRetryable)},
	}}
	worker := newWorker(repo, sender, nil, nil)

	d := newPendingDelivery(0)
	assert.NoError(t, repo.CreatePending(context.Background(), d))

	worker.ProcessBatch(context.Background())

	got, _ := repo.GetByID(context.Background(), d.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestProcessBatch_ExhaustedRetriesFail(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()
	sender := &mocks.ScriptedSender{Results: []mocks.SendResult{{Err: errors.New("connection refused")}}}
	publisher := &mocks.DummyPublisher{}
	worker := newWorker(repo, sender, publisher, nil) // MaxAttempts = 3

	// A la fila le queda exactamente un intento.
	d := newPendingDelivery(2)
	assert.NoError(t, repo.CreatePending(context.Background(), d))

	worker.ProcessBatch(context.Background())

	got, _ := repo.GetByID(context.Background(), d.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Nil(t, got.NextAttemptAt)
	assert.Equal(t, 1, publisher.Count())
}

func TestProcessBatch_RetryUntilSuccess(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()
	sender := &mocks.ScriptedSender{Results: []mocks.SendResult{
		{Status: 500},
		{Status: 200},
	}}
	worker := newWorker(repo, sender, nil, nil)

	d := newPendingDelivery(0)
	assert.NoError(t, repo.CreatePending(context.Background(), d))

	worker.ProcessBatch(context.Background())

	// Adelantamos la fila en vez de esperar el backoff real.
	got, _ := repo.GetByID(context.Background(), d.ID)
	past := time.Now().UTC().Add(-time.Second)
	got.NextAttemptAt = &past
	assert.NoError(t, repo.Update(context.Background(), got))

	worker.ProcessBatch(context.Background())

	got, _ = repo.GetByID(context.Background(), d.ID)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, 2, sender.Calls())
}

func TestProcessBatch_ClaimedRowIsInvisibleToOthers(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()

	d := newPendingDelivery(0)
	assert.NoError(t, repo.CreatePending(context.Background(), d))

	now := time.Now().UTC()
	first, err := repo.ClaimDue(context.Background(), now, time.Minute, 10)
	assert.NoError(t, err)
	assert.Len(t, first, 1)

	// Mientras el lease está vivo, nadie más la reclama.
	second, err := repo.ClaimDue(context.Background(), now, time.Minute, 10)
	assert.NoError(t, err)
	assert.Empty(t, second)

	// Pasado el lease vuelve a ser reclamable (worker muerto a mitad).
	later := now.Add(2 * time.Minute)
	third, err := repo.ClaimDue(context.Background(), later, time.Minute, 10)
	assert.NoError(t, err)
	assert.Len(t, third, 1)
	assert.Equal(t, d.ID, third[0].ID)
}

func TestConcurrentWorkers_NoDoubleSend(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()
	sender := &mocks.ScriptedSender{Results: []mocks.SendResult{{Status: 200}}}
	worker := newWorker(repo, sender, nil, nil)

	const rows = 20
	for i := 0; i < rows; i++ {
		assert.NoError(t, repo.CreatePending(context.Background(), newPendingDelivery(0)))
	}

	// Varios workers compitiendo por el mismo outbox.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if worker.ProcessBatch(context.Background()) == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	// Cada fila se envió exactamente una vez.
	assert.Equal(t, rows, sender.Calls())
	seen := map[uuid.UUID]int{}
	for _, id := range sender.Sent {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "la entrega %s se envió %d veces", id, n)
	}
}

func TestWorkerPool_GracefulShutdown(t *testing.T) {
	repo := mocks.NewInMemoryDeliveryRepo()
	sender := &mocks.ScriptedSender{Results: []mocks.SendResult{{Status: 200}}}
	worker := NewDeliveryWorker(repo, sender, nil, nil, WorkerConfig{
		Workers:      3,
		PollInterval: 10 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	assert.NoError(t, repo.CreatePending(ctx, newPendingDelivery(0)))

	assert.Eventually(t, func() bool {
		return sender.Calls() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("el pool no terminó tras cancelar el contexto")
	}
}
