package http

import "github.com/gin-gonic/gin"

func RegisterAuditRoutes(r gin.IRouter, handler *AuditHandler) {
	audit := r.Group("/audit")
	{
		audit.GET("/trend", handler.GetDailyTrend) // ?start=2026-05-01&end=2026-05-08
	}
}
