package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/webhooklab/internal/webhook/application"
	"github.com/davicafu/webhooklab/internal/webhook/domain"
	"github.com/davicafu/webhooklab/pkg/utils"
)

// WebhookHandler encapsula los endpoints HTTP de suscripciones.
// La autenticación real del API key vive en el gateway; aquí solo se usa
// el valor de X-API-Key como owner key para delimitar el tenant.
type WebhookHandler struct {
	service *application.SubscriptionService
}

// NewWebhookHandler crea un nuevo WebhookHandler
func NewWebhookHandler(service *application.SubscriptionService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// ---------------- Handlers ----------------

// CreateWebhook endpoint POST /v1/webhooks
// Idempotente por (X-API-Key, Idempotency-Key): repetir la petición con la
// misma key devuelve la suscripción original, nunca un duplicado.
func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	ownerKey := c.GetHeader("X-API-Key")
	if ownerKey == "" {
		utils.SendError(c, http.StatusUnauthorized, "missing X-API-Key header")
		return
	}

	var req struct {
		TargetURL  string   `json:"target_url" binding:"required,url"`
		EventTypes []string `json:"event_types" binding:"required,min=1"`
		Secret     string   `json:"secret"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	sub, err := h.service.Create(c.Request.Context(), application.CreateSubscriptionInput{
		OwnerKey:       ownerKey,
		TargetURL:      req.TargetURL,
		EventTypes:     req.EventTypes,
		Secret:         req.Secret,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSubscription) {
			utils.SendBadRequest(c, "invalid subscription")
			return
		}
		utils.SendInternalServerError(c, err.Error())
		return
	}

	c.JSON(http.StatusCreated, sub)
}

// GetWebhook endpoint GET /v1/webhooks/:id
// Una suscripción de otro owner se comporta como inexistente.
func (h *WebhookHandler) GetWebhook(c *gin.Context) {
	ownerKey := c.GetHeader("X-API-Key")
	if ownerKey == "" {
		utils.SendError(c, http.StatusUnauthorized, "missing X-API-Key header")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid webhook id")
		return
	}

	sub, err := h.service.Get(c.Request.Context(), ownerKey, id)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			utils.SendNotFound(c, "webhook not found")
			return
		}
		utils.SendInternalServerError(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, sub)
}

// ListWebhooks endpoint GET /v1/webhooks
func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	ownerKey := c.GetHeader("X-API-Key")
	if ownerKey == "" {
		utils.SendError(c, http.StatusUnauthorized, "missing X-API-Key header")
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
			limit = v
		}
	}

	subs, next, err := h.service.List(c.Request.Context(), ownerKey, domain.Page{
		Limit:  limit,
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":        subs,
		"next_cursor": next,
	})
}

// ListDeliveries endpoint GET /v1/webhooks/:id/deliveries
// API de lectura del estado de entrega: aquí es donde se ven los
// DELIVERED/FAILED que la ingesta nunca devuelve síncronamente.
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	ownerKey := c.GetHeader("X-API-Key")
	if ownerKey == "" {
		utils.SendError(c, http.StatusUnauthorized, "missing X-API-Key header")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid webhook id")
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
			limit = v
		}
	}

	deliveries, err := h.service.ListDeliveries(c.Request.Context(), ownerKey, id, limit)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			utils.SendNotFound(c, "webhook not found")
			return
		}
		utils.SendInternalServerError(c, err.Error())
		return
	}

	utils.SendSuccess(c, http.StatusOK, deliveries)
}
