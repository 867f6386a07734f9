package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"bookviz-api/internal/application/notification"
	"bookviz-api/internal/interfaces/http/dto"
	"bookviz-api/internal/interfaces/http/middleware"
	"bookviz-api/pkg/errors"
	"bookviz-api/pkg/logger"
)

// EventsHandler streams the caller's job notifications over SSE.
type EventsHandler struct {
	subscriber notification.Subscriber
	heartbeat  time.Duration
}

func NewEventsHandler(subscriber notification.Subscriber, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &EventsHandler{subscriber: subscriber, heartbeat: heartbeat}
}

// Stream keeps the connection open until the client goes away.
// @Router /v1/events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		dto.Error(c, errors.ErrUnauthorized)
		return
	}
	ctx := c.Request.Context()

	events, cancel, err := h.subscriber.Subscribe(ctx, userID)
	if err != nil {
		dto.Error(c, errors.Wrap(err, errors.CodeServiceUnavailable, "event stream unavailable"))
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"user_id": userID})
	c.Writer.Flush()
	logger.Debug(ctx, "event stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-ticker.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().UTC()})
			return true
		case <-ctx.Done():
			return false
		}
	})
	logger.Debug(ctx, "event stream closed")
}
