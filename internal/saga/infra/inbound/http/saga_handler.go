package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/sagalab/internal/saga/application"
	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	"github.com/davicafu/sagalab/pkg/utils"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

const idempotencyHeader = "Idempotency-Key"

type SagaHandler struct {
	orchestrator *application.Orchestrator
	recoveryAge  time.Duration
}

func NewSagaHandler(orchestrator *application.Orchestrator, recoveryAge time.Duration) *SagaHandler {
	return &SagaHandler{orchestrator: orchestrator, recoveryAge: recoveryAge}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type recoverRequest struct {
	OlderThan string `json:"olderThan"`
}

// StartBooking endpoint POST /sagas/bookings
// 201 si la saga es nueva, 200 si la petición ya se había recibido.
func (h *SagaHandler) StartBooking(c *gin.Context) {
	var req sagaDomain.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(idempotencyHeader)
	}

	ctx := c.Request.Context()
	inst, created, err := h.orchestrator.Begin(ctx, req)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	if !created {
		utils.SendSuccess(c, http.StatusOK, inst)
		return
	}
	if err := h.orchestrator.Run(ctx, inst); err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusCreated, inst)
}

func (h *SagaHandler) GetSaga(c *gin.Context) {
	inst, err := h.orchestrator.GetSagaByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, inst)
}

func (h *SagaHandler) GetSagaByCorrelation(c *gin.Context) {
	inst, err := h.orchestrator.GetSagaByCorrelationID(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, inst)
}

// ListSagas endpoint GET /sagas
func (h *SagaHandler) ListSagas(c *gin.Context) {
	var criterias []sharedDomain.Criteria
	if status := c.Query("status"); status != "" {
		criterias = append(criterias, sagaDomain.StatusCriteria{Status: sagaDomain.SagaStatus(status)})
	}
	if sagaType := c.Query("type"); sagaType != "" {
		criterias = append(criterias, sagaDomain.TypeCriteria{Type: sagaDomain.SagaType(sagaType)})
	}
	if bookingID := c.Query("booking_id"); bookingID != "" {
		criterias = append(criterias, sagaDomain.BookingCriteria{BookingID: bookingID})
	}
	if c.Query("manual") == "true" {
		criterias = append(criterias, sagaDomain.ManualInterventionCriteria{})
	}

	sort := sagaDomain.DefaultSort
	if sortField := c.Query("sort_field"); sortField != "" {
		sort = sharedQuery.Sort{Field: sortField, Desc: c.Query("sort_desc") == "true"}
	}
	page := sharedQuery.OffsetPagination{
		Limit:  queryInt(c, "limit", sharedQuery.DefaultLimit),
		Offset: queryInt(c, "offset", 0),
	}

	sagas, err := h.orchestrator.ListSagas(c.Request.Context(), sharedDomain.And(criterias...), page, sort)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	if sagas == nil {
		sagas = []sagaDomain.SagaInstance{}
	}
	utils.SendSuccess(c, http.StatusOK, sagas)
}

// CancelBooking endpoint POST /sagas/:id/cancel
func (h *SagaHandler) CancelBooking(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.SendBadRequest(c, err.Error())
			return
		}
	}
	inst, err := h.orchestrator.StartCancellationSaga(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, inst)
}

// Recover endpoint POST /sagas/recover
func (h *SagaHandler) Recover(c *gin.Context) {
	var req recoverRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.SendBadRequest(c, err.Error())
			return
		}
	}
	age := h.recoveryAge
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			utils.SendBadRequest(c, "invalid 'olderThan' duration")
			return
		}
		age = d
	}

	n, err := h.orchestrator.RecoverInFlight(c.Request.Context(), age)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"resumed": n})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}
