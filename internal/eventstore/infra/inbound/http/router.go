package http

import "github.com/gin-gonic/gin"

// RegisterEventRoutes registra las rutas de lectura y escritura del log de eventos.
func RegisterEventRoutes(r gin.IRouter, handler *EventHandler) {
	aggregates := r.Group("/aggregates/:id")
	{
		aggregates.POST("/events", handler.AppendEvent) // Añadir un evento al agregado
		aggregates.GET("/events", handler.GetEvents)    // Stream completo (?type=, ?from=&until=)
		aggregates.GET("/events/latest", handler.GetLatest)
		aggregates.GET("/events/count", handler.GetCount)
	}

	r.GET("/events", handler.GetByCorrelation) // ?correlation_id=
}
