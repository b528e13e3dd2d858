package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"example.com/carebase/services/eventstore/internal/eventstore"
	"example.com/carebase/services/eventstore/internal/publisher"
)

// EventService is the facade surface the handlers expose over HTTP.
type EventService interface {
	SaveEvent(ctx context.Context, event eventstore.Event) error
	GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]eventstore.Event, error)
	GetEventsByType(ctx context.Context, eventType string) ([]eventstore.Event, error)
	GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]eventstore.Event, error)
	CreateSnapshot(ctx context.Context, aggregateID string, version int, state json.RawMessage) error
	GetSnapshot(ctx context.Context, aggregateID string, version int) (*eventstore.Snapshot, error)
	AddSubscriber(sub publisher.Subscriber)
	RemoveSubscriber(id string)
}

// EventsHandler handles event store API requests
type EventsHandler struct {
	service EventService
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(service EventService) *EventsHandler {
	return &EventsHandler{service: service}
}

// RegisterRoutes registers the event store routes
func (h *EventsHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/events", h.saveEvent)
		v1.GET("/events/type/:type", h.getEventsByType)
		v1.GET("/events/range", h.getEventsByTimeRange)
		v1.GET("/aggregates/:id/events", h.getEvents)
		v1.POST("/aggregates/:id/snapshots", h.createSnapshot)
		v1.GET("/aggregates/:id/snapshot", h.getSnapshot)
	}
}

type saveEventRequest struct {
	Type          string          `json:"type" binding:"required"`
	AggregateID   string          `json:"aggregate_id" binding:"required"`
	AggregateType string          `json:"aggregate_type" binding:"required"`
	Version       int             `json:"version" binding:"required"`
	Data          json.RawMessage `json:"data"`
	Metadata      json.RawMessage `json:"metadata"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"user_id"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id"`
}

func (h *EventsHandler) saveEvent(c *gin.Context) {
	var req saveEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := eventstore.NewEvent(req.Type, req.AggregateID, req.AggregateType, req.Version, req.Data)
	event.Metadata = req.Metadata
	event.UserID = req.UserID
	event.CorrelationID = req.CorrelationID
	event.CausationID = req.CausationID
	// The producer's clock wins when it supplies one
	if !req.Timestamp.IsZero() {
		event.Timestamp = req.Timestamp
	}

	if err := h.service.SaveEvent(c.Request.Context(), event); err != nil {
		switch {
		case errors.Is(err, eventstore.ErrVersionConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "version conflict, recompute version and retry"})
		case errors.Is(err, eventstore.ErrUnknownEventType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save event"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": event.ID, "version": event.Version})
}

func (h *EventsHandler) getEvents(c *gin.Context) {
	aggregateID := c.Param("id")

	fromVersion := 0
	if raw := c.Query("from_version"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from_version"})
			return
		}
		fromVersion = parsed
	}

	events, err := h.service.GetEvents(c.Request.Context(), aggregateID, fromVersion)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *EventsHandler) getEventsByType(c *gin.Context) {
	eventType := c.Param("type")

	events, err := h.service.GetEventsByType(c.Request.Context(), eventType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *EventsHandler) getEventsByTimeRange(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time, expected RFC3339"})
		return
	}

	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time, expected RFC3339"})
		return
	}

	events, err := h.service.GetEventsByTimeRange(c.Request.Context(), start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

type createSnapshotRequest struct {
	Version int             `json:"version" binding:"required"`
	State   json.RawMessage `json:"state" binding:"required"`
}

func (h *EventsHandler) createSnapshot(c *gin.Context) {
	aggregateID := c.Param("id")

	var req createSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.CreateSnapshot(c.Request.Context(), aggregateID, req.Version, req.State); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create snapshot"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"aggregate_id": aggregateID, "version": req.Version})
}

func (h *EventsHandler) getSnapshot(c *gin.Context) {
	aggregateID := c.Param("id")

	version := math.MaxInt32
	if raw := c.Query("version"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
			return
		}
		version = parsed
	}

	snapshot, err := h.service.GetSnapshot(c.Request.Context(), aggregateID, version)
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for aggregate"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get snapshot"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
