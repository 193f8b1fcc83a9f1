package http

import "github.com/gin-gonic/gin"

func RegisterWebhookRoutes(r *gin.Engine, handler *WebhookHandler) {
	webhooks := r.Group("/v1/webhooks")
	{
		webhooks.POST("/", handler.CreateWebhook)
		webhooks.GET("/", handler.ListWebhooks)
		webhooks.GET("/:id", handler.GetWebhook)
		webhooks.GET("/:id/deliveries", handler.ListDeliveries)
	}
}

func RegisterEventRoutes(r *gin.Engine, handler *EventHandler) {
	internal := r.Group("/internal")
	{
		internal.POST("/events", handler.IngestEvent)
	}
}
