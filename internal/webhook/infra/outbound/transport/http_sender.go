package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davicafu/webhooklab/internal/infra/relayer"
	"github.com/davicafu/webhooklab/internal/webhook/domain"
	"github.com/davicafu/webhooklab/pkg/signature"
	"go.uber.org/zap"
)

// HTTPSender realiza el POST firmado al target_url capturado en la fila.
// El cuerpo son los bytes exactos del payload capturado al encolar: lo que
// se firma es, byte a byte, lo que viaja por el wire.
type HTTPSender struct {
	client  *http.Client
	timeout time.Duration // timeout fijo por intento
	log     *zap.Logger
}

// NewHTTPSender constructor. El timeout aplica a cada intento individual.
func NewHTTPSender(timeout time.Duration, log *zap.Logger) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
	}
}

// Send implementa domain.DeliverySender.
func (s *HTTPSender) Send(ctx context.Context, d *domain.OutboundDelivery) (*domain.AttemptResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, d.TargetURL, bytes.NewReader(d.Payload))
	if err != nil {
		// URL imposible de usar: reintentar no lo va a arreglar.
		return nil, fmt.Errorf("%w: failed to build request: %v", relayer.ErrNonRetryable, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event", d.EventType)
	req.Header.Set("X-Delivery-Id", d.ID.String())
	if header := signature.Header(d.Secret, d.Payload); header != "" {
		req.Header.Set("X-Signature", header)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		// Timeout o error de conexión: transitorio, el worker decide el reintento.
		return nil, fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drenamos el cuerpo para reutilizar la conexión; la respuesta no nos interesa.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	s.log.Debug("Intento de entrega completado",
		zap.String("delivery_id", d.ID.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed),
	)

	return &domain.AttemptResult{
		StatusCode: resp.StatusCode,
		Duration:   elapsed,
	}, nil
}

// Verificación estática
var _ domain.DeliverySender = (*HTTPSender)(nil)
