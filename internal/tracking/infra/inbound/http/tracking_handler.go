package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/sagalab/internal/tracking/application"
	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	"github.com/davicafu/sagalab/pkg/utils"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

type TrackingHandler struct {
	production  *application.ProductionTracker
	consumption *application.ConsumptionTracker
}

func NewTrackingHandler(production *application.ProductionTracker, consumption *application.ConsumptionTracker) *TrackingHandler {
	return &TrackingHandler{production: production, consumption: consumption}
}

type grantRequest struct {
	Extra int `json:"extra" binding:"required,min=1"`
}

// --- Producción ---

// ListProductions endpoint GET /tracking/productions
func (h *TrackingHandler) ListProductions(c *gin.Context) {
	criteria, page, sort := listParams(c, trackingDomain.DefaultProductionSort)
	records, err := h.production.List(c.Request.Context(), criteria, page, sort)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	if records == nil {
		records = []trackingDomain.ProductionRecord{}
	}
	utils.SendSuccess(c, http.StatusOK, records)
}

func (h *TrackingHandler) ProductionStats(c *gin.Context) {
	counts, err := h.production.CountByStatus(c.Request.Context())
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, counts)
}

func (h *TrackingHandler) RetryableProductions(c *gin.Context) {
	records, err := h.production.ListFailedRetryable(c.Request.Context(), queryInt(c, "limit", sharedQuery.DefaultLimit))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	if records == nil {
		records = []trackingDomain.ProductionRecord{}
	}
	utils.SendSuccess(c, http.StatusOK, records)
}

func (h *TrackingHandler) GetProduction(c *gin.Context) {
	rec, err := h.production.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, rec)
}

func (h *TrackingHandler) GrantProductionRetries(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	rec, err := h.production.GrantRetries(c.Request.Context(), c.Param("id"), req.Extra)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, rec)
}

func (h *TrackingHandler) RequeueProduction(c *gin.Context) {
	if err := h.production.Requeue(c.Request.Context(), c.Param("id")); err != nil {
		utils.SendDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Consumo ---

// ListConsumptions endpoint GET /tracking/consumptions
func (h *TrackingHandler) ListConsumptions(c *gin.Context) {
	criteria, page, sort := listParams(c, trackingDomain.DefaultConsumptionSort)
	records, err := h.consumption.List(c.Request.Context(), criteria, page, sort)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	if records == nil {
		records = []trackingDomain.ConsumptionRecord{}
	}
	utils.SendSuccess(c, http.StatusOK, records)
}

func (h *TrackingHandler) ConsumptionStats(c *gin.Context) {
	counts, err := h.consumption.CountByStatus(c.Request.Context())
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, counts)
}

func (h *TrackingHandler) RetryableConsumptions(c *gin.Context) {
	records, err := h.consumption.ListFailedRetryable(c.Request.Context(), queryInt(c, "limit", sharedQuery.DefaultLimit))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	if records == nil {
		records = []trackingDomain.ConsumptionRecord{}
	}
	utils.SendSuccess(c, http.StatusOK, records)
}

func (h *TrackingHandler) GetConsumption(c *gin.Context) {
	rec, err := h.consumption.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, rec)
}

func (h *TrackingHandler) GrantConsumptionRetries(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	rec, err := h.consumption.GrantRetries(c.Request.Context(), c.Param("id"), req.Extra)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, rec)
}

func (h *TrackingHandler) RequeueConsumption(c *gin.Context) {
	if err := h.consumption.Requeue(c.Request.Context(), c.Param("id")); err != nil {
		utils.SendDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Helpers ---

// listParams traduce los query params a criterios, paginación y orden (lógica común a ambos listados).
func listParams(c *gin.Context, defaultSort sharedQuery.Sort) (sharedDomain.Criteria, sharedQuery.OffsetPagination, sharedQuery.Sort) {
	var criterias []sharedDomain.Criteria
	if status := c.Query("status"); status != "" {
		criterias = append(criterias, sharedDomain.Eq(trackingDomain.FieldStatus, status))
	}
	if topic := c.Query("topic"); topic != "" {
		criterias = append(criterias, sharedDomain.Eq(trackingDomain.FieldTopic, topic))
	}
	if correlationID := c.Query("correlation_id"); correlationID != "" {
		criterias = append(criterias, sharedDomain.Eq(trackingDomain.FieldCorrelationID, correlationID))
	}
	if eventType := c.Query("event_type"); eventType != "" {
		criterias = append(criterias, sharedDomain.Eq(trackingDomain.FieldEventType, eventType))
	}

	sort := defaultSort
	if sortField := c.Query("sort_field"); sortField != "" {
		sort = sharedQuery.Sort{Field: sortField, Desc: c.Query("sort_desc") == "true"}
	}

	page := sharedQuery.OffsetPagination{
		Limit:  queryInt(c, "limit", sharedQuery.DefaultLimit),
		Offset: queryInt(c, "offset", 0),
	}
	return sharedDomain.And(criterias...), page, sort
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}
