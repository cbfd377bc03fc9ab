package http

import "github.com/gin-gonic/gin"

// RegisterSagaRoutes registra el arranque, la consulta y la cancelación de sagas.
func RegisterSagaRoutes(r gin.IRouter, handler *SagaHandler) {
	sagas := r.Group("/sagas")
	{
		sagas.POST("/bookings", handler.StartBooking) // Cabecera Idempotency-Key opcional
		sagas.GET("", handler.ListSagas)              // ?status=&type=&booking_id=&manual=true
		sagas.POST("/recover", handler.Recover)
		sagas.GET("/:id", handler.GetSaga)
		sagas.POST("/:id/cancel", handler.CancelBooking)
	}
	r.GET("/correlations/:id/saga", handler.GetSagaByCorrelation)
}
