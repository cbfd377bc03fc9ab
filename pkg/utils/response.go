package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
)

// ErrorResponse define la estructura estándar para las respuestas de error.
type ErrorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// SendSuccess envía una respuesta exitosa con un payload de datos.
func SendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"data": data,
	})
}

// SendError envía una respuesta de error con un formato estandarizado.
func SendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error": ErrorResponse{
			Message: message,
			Kind:    kindFromStatus(statusCode),
		},
	})
}

// SendDomainError traduce la taxonomía de errores a códigos HTTP.
func SendDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sharedDomain.ErrValidation):
		SendBadRequest(c, err.Error())
	case errors.Is(err, sharedDomain.ErrNotFound):
		SendNotFound(c, err.Error())
	case errors.Is(err, sharedDomain.ErrConflict):
		SendError(c, http.StatusConflict, err.Error())
	case errors.Is(err, sharedDomain.ErrTransientDependency):
		SendError(c, http.StatusServiceUnavailable, err.Error())
	default:
		SendInternalServerError(c, err.Error())
	}
}

// --- Helpers específicos para errores comunes ---

func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, message)
}

func SendNotFound(c *gin.Context, message string) {
	SendError(c, http.StatusNotFound, message)
}

func SendInternalServerError(c *gin.Context, message string) {
	SendError(c, http.StatusInternalServerError, message)
}

func kindFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "transient"
	default:
		return ""
	}
}
