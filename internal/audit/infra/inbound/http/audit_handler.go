package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/sagalab/internal/audit/application"
	"github.com/davicafu/sagalab/pkg/utils"
)

const defaultTrendWindow = 7 * 24 * time.Hour

type AuditHandler struct {
	service *application.AuditService
}

func NewAuditHandler(service *application.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// GetDailyTrend endpoint GET /audit/trend
// Sin parámetros devuelve los últimos 7 días.
func (h *AuditHandler) GetDailyTrend(c *gin.Context) {
	end := time.Now().UTC()
	start := end.Add(-defaultTrendWindow)

	if v := c.Query("start"); v != "" {
		t, err := parseDay(v)
		if err != nil {
			utils.SendBadRequest(c, "invalid 'start', expected YYYY-MM-DD or RFC3339")
			return
		}
		start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := parseDay(v)
		if err != nil {
			utils.SendBadRequest(c, "invalid 'end', expected YYYY-MM-DD or RFC3339")
			return
		}
		end = t
	}

	trend, err := h.service.GetDailyTrend(c.Request.Context(), start, end)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, trend)
}

func parseDay(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
