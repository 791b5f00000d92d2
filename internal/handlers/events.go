package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/services"
	"github.com/arisofia/ocr-backend/internal/types"
)

type EventsHandler struct {
	log    *logger.Logger
	events services.EventService
}

func NewEventsHandler(log *logger.Logger, events services.EventService) *EventsHandler {
	return &EventsHandler{log: log.With("Handler", "EventsHandler"), events: events}
}

// POST /events/storage
func (h *EventsHandler) StorageEvents(c *gin.Context) {
	if h.events == nil {
		RespondDetail(c, http.StatusServiceUnavailable, "Event processing is not configured")
		return
	}
	var event types.StorageEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		RespondDetail(c, http.StatusBadRequest, "Invalid event payload: "+err.Error())
		return
	}
	res := h.events.HandleBatch(c.Request.Context(), &event)
	RespondOK(c, res)
}
