package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/webhooklab/internal/webhook/application"
	"github.com/davicafu/webhooklab/pkg/utils"
	sharedEvents "github.com/davicafu/webhooklab/shared/events"
)

// EventHandler encapsula el endpoint interno de ingesta de eventos.
type EventHandler struct {
	dispatcher *application.Dispatcher
}

// NewEventHandler crea un nuevo EventHandler
func NewEventHandler(dispatcher *application.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

// IngestEvent endpoint POST /internal/events
// Responde 202 en cuanto el fan-out queda aceptado: la entrega en sí es
// asíncrona y su resultado nunca se devuelve aquí.
func (h *EventHandler) IngestEvent(c *gin.Context) {
	var req struct {
		Event      string          `json:"event" binding:"required"`
		OwnerKey   string          `json:"ownerKey" binding:"required"`
		Data       json.RawMessage `json:"data"`
		OccurredAt *time.Time      `json:"occurredAt,omitempty"` // RFC3339
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	envelope := sharedEvents.EventEnvelope{
		Event:    req.Event,
		OwnerKey: req.OwnerKey,
		Data:     req.Data,
	}
	if req.OccurredAt != nil {
		envelope.OccurredAt = *req.OccurredAt
	} else {
		envelope.OccurredAt = time.Now().UTC()
	}

	count, err := h.dispatcher.Enqueue(c.Request.Context(), envelope)
	if err != nil {
		// Solo llega aquí si el dispatcher no pudo ni listar suscripciones;
		// un fallo de entrega individual jamás se refleja en la ingesta.
		utils.SendInternalServerError(c, "failed to enqueue event")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": true,
		"matched":  count,
	})
}
