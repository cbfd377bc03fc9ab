package http

import "github.com/gin-gonic/gin"

// RegisterReplayRoutes registra las proyecciones bajo /aggregates/:id.
func RegisterReplayRoutes(r gin.IRouter, handler *ReplayHandler) {
	aggregates := r.Group("/aggregates/:id")
	{
		aggregates.GET("/state", handler.GetState) // ?as_of=RFC3339 para "viajar en el tiempo"
		aggregates.GET("/timeline", handler.GetTimeline)
		aggregates.POST("/verify", handler.VerifyReadModel)
	}
}
