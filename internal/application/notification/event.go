// Package notification delivers job events to the owning user on a best
// effort basis.
package notification

import (
	"context"
	"time"

	"bookviz-api/internal/domain/entity"
)

type EventType string

const (
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventQueueUpdate  EventType = "queue.update"
)

// Event is one notification addressed to UserID.
type Event struct {
	Type       EventType                `json:"type"`
	UserID     string                   `json:"user_id"`
	JobID      string                   `json:"job_id,omitempty"`
	Status     entity.JobStatus         `json:"status,omitempty"`
	Progress   int                      `json:"progress"`
	Reason     string                   `json:"reason,omitempty"`
	Job        *entity.VisualizationJob `json:"job,omitempty"`
	Queue      *entity.QueueStatus      `json:"queue,omitempty"`
	OccurredAt time.Time                `json:"occurred_at"`
}

// Publisher sends an event to every live subscriber of userID. Having no
// subscribers is not an error.
type Publisher interface {
	Publish(ctx context.Context, userID string, ev Event) error
}

// Subscriber streams the events of one user until cancel is called or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (events <-chan Event, cancel func(), err error)
}
