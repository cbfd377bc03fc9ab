package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/sagalab/internal/eventstore/application"
	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	"github.com/davicafu/sagalab/pkg/utils"
)

// EventHandler expone el EventStore por HTTP.
type EventHandler struct {
	store *application.EventStore
}

func NewEventHandler(store *application.EventStore) *EventHandler {
	return &EventHandler{store: store}
}

// AppendEvent endpoint POST /aggregates/:id/events
func (h *EventHandler) AppendEvent(c *gin.Context) {
	var req struct {
		EventID         string          `json:"eventId"`
		AggregateType   string          `json:"aggregateType" binding:"required"`
		EventType       string          `json:"eventType" binding:"required"`
		Payload         json.RawMessage `json:"payload"`
		CorrelationID   string          `json:"correlationId"`
		ExpectedVersion *int64          `json:"expectedVersion,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	cmd := application.AppendCommand{
		EventID:         req.EventID,
		AggregateID:     c.Param("id"),
		AggregateType:   req.AggregateType,
		EventType:       req.EventType,
		Payload:         req.Payload,
		CorrelationID:   req.CorrelationID,
		ExpectedVersion: req.ExpectedVersion,
	}
	if len(req.Payload) == 0 {
		cmd.Payload = nil
	}

	evt, err := h.store.AppendWithRetry(c.Request.Context(), cmd)
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusCreated, evt)
}

// GetEvents endpoint GET /aggregates/:id/events
func (h *EventHandler) GetEvents(c *gin.Context) {
	ctx := c.Request.Context()
	aggregateID := c.Param("id")

	var (
		events []esDomain.Event
		err    error
	)
	switch {
	case c.Query("type") != "":
		events, err = h.store.GetEventsByType(ctx, aggregateID, c.Query("type"))
	case c.Query("from") != "" || c.Query("until") != "":
		var from, until time.Time
		if from, err = parseTime(c.Query("from"), time.Time{}); err != nil {
			utils.SendBadRequest(c, "invalid 'from' timestamp, expected RFC3339")
			return
		}
		if until, err = parseTime(c.Query("until"), time.Now()); err != nil {
			utils.SendBadRequest(c, "invalid 'until' timestamp, expected RFC3339")
			return
		}
		events, err = h.store.GetEventsInTimeRange(ctx, aggregateID, from, until)
	default:
		events, err = h.store.GetEventStream(ctx, aggregateID)
	}
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	if events == nil {
		events = []esDomain.Event{}
	}
	utils.SendSuccess(c, http.StatusOK, events)
}

// GetLatest endpoint GET /aggregates/:id/events/latest
func (h *EventHandler) GetLatest(c *gin.Context) {
	evt, err := h.store.GetLatestEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, evt)
}

// GetCount endpoint GET /aggregates/:id/events/count
func (h *EventHandler) GetCount(c *gin.Context) {
	n, err := h.store.GetEventCount(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"count": n})
}

// GetByCorrelation endpoint GET /events?correlation_id=
func (h *EventHandler) GetByCorrelation(c *gin.Context) {
	events, err := h.store.GetEventsByCorrelationID(c.Request.Context(), c.Query("correlation_id"))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	if events == nil {
		events = []esDomain.Event{}
	}
	utils.SendSuccess(c, http.StatusOK, events)
}

func parseTime(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
