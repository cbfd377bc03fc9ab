package http

import "github.com/gin-gonic/gin"

// RegisterTrackingRoutes registra las consultas y operaciones de soporte del tracker.
func RegisterTrackingRoutes(r gin.IRouter, handler *TrackingHandler) {
	tracking := r.Group("/tracking")
	{
		productions := tracking.Group("/productions")
		productions.GET("", handler.ListProductions)                // ?status=&topic=&correlation_id=
		productions.GET("/stats", handler.ProductionStats)          // Conteo por estado
		productions.GET("/retryable", handler.RetryableProductions) // FAILED con intentos disponibles
		productions.GET("/:id", handler.GetProduction)
		productions.POST("/:id/retries", handler.GrantProductionRetries)
		productions.POST("/:id/requeue", handler.RequeueProduction)

		consumptions := tracking.Group("/consumptions")
		consumptions.GET("", handler.ListConsumptions)
		consumptions.GET("/stats", handler.ConsumptionStats)
		consumptions.GET("/retryable", handler.RetryableConsumptions)
		consumptions.GET("/:id", handler.GetConsumption)
		consumptions.POST("/:id/retries", handler.GrantConsumptionRetries)
		consumptions.POST("/:id/requeue", handler.RequeueConsumption)
	}
}
