package relayer

import (
	"math/rand"
	"time"
)

// Backoff calcula la espera exponencial entre reintentos de entrega.
// El jitter es aditivo: la espera nunca baja del valor base, así que
// el suelo de ~1s entre intentos se respeta siempre.
type Backoff struct {
	Base   time.Duration // espera del primer reintento (suelo)
	Cap    time.Duration // espera máxima
	Jitter float64       // fracción aleatoria extra sobre la espera, ej. 0.2
}

// DefaultBackoff: 1s, 2s, 4s, 8s... con tope de 5 minutos y jitter del 20%.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   1 * time.Second,
		Cap:    5 * time.Minute,
		Jitter: 0.2,
	}
}

// Delay devuelve la espera antes del intento número 'attempt' (1-based,
// contando el intento que acaba de fallar).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			delay = b.Cap
			break
		}
	}
	if delay > b.Cap {
		delay = b.Cap
	}

	if b.Jitter > 0 {
		delay += time.Duration(rand.Float64() * b.Jitter * float64(delay))
	}

	return delay
}
