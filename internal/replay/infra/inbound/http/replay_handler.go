package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/sagalab/internal/replay/application"
	replayDomain "github.com/davicafu/sagalab/internal/replay/domain"
	"github.com/davicafu/sagalab/pkg/utils"
)

type ReplayHandler struct {
	service *application.ReplayService
}

func NewReplayHandler(service *application.ReplayService) *ReplayHandler {
	return &ReplayHandler{service: service}
}

// GetState endpoint GET /aggregates/:id/state
func (h *ReplayHandler) GetState(c *gin.Context) {
	var (
		state replayDomain.BookingState
		err   error
	)
	if asOf := c.Query("as_of"); asOf != "" {
		cutoff, parseErr := time.Parse(time.RFC3339Nano, asOf)
		if parseErr != nil {
			utils.SendBadRequest(c, "invalid 'as_of' timestamp, expected RFC3339")
			return
		}
		state, err = h.service.ReplayEventsUpTo(c.Request.Context(), c.Param("id"), cutoff)
	} else {
		state, err = h.service.ReplayEvents(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, state)
}

// GetTimeline endpoint GET /aggregates/:id/timeline
func (h *ReplayHandler) GetTimeline(c *gin.Context) {
	timeline, err := h.service.GetEventTimeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, timeline)
}

// VerifyReadModel endpoint POST /aggregates/:id/verify
func (h *ReplayHandler) VerifyReadModel(c *gin.Context) {
	var readModel replayDomain.BookingState
	if err := c.ShouldBindJSON(&readModel); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	replayed, err := h.service.VerifyReadModel(c.Request.Context(), c.Param("id"), readModel)
	switch {
	case err == nil:
		utils.SendSuccess(c, http.StatusOK, gin.H{"consistent": true, "state": replayed})
	case errors.Is(err, replayDomain.ErrReadModelDrift):
		c.JSON(http.StatusConflict, gin.H{
			"error": utils.ErrorResponse{Message: err.Error(), Kind: "conflict"},
			"data":  gin.H{"consistent": false, "state": replayed},
		})
	default:
		utils.SendDomainError(c, err)
	}
}
