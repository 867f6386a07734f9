package notification

import (
	"context"
	"time"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/pkg/logger"
	"bookviz-api/pkg/metrics"
)

// Dispatcher builds events from job state and hands them to a Publisher.
// Failures are logged and counted; they never reach the caller.
type Dispatcher struct {
	publisher Publisher
	timeout   time.Duration
}

func NewDispatcher(publisher Publisher, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{publisher: publisher, timeout: timeout}
}

func (d *Dispatcher) JobProgress(ctx context.Context, job *entity.VisualizationJob) {
	d.dispatch(ctx, job.UserID, Event{
		Type:     EventJobProgress,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
	})
}

func (d *Dispatcher) JobCompleted(ctx context.Context, job *entity.VisualizationJob) {
	d.dispatch(ctx, job.UserID, Event{
		Type:     EventJobCompleted,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Job:      job.Clone(),
	})
}

func (d *Dispatcher) JobFailed(ctx context.Context, job *entity.VisualizationJob) {
	d.dispatch(ctx, job.UserID, Event{
		Type:     EventJobFailed,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Reason:   job.ErrorMessage,
	})
}

func (d *Dispatcher) QueueUpdate(ctx context.Context, userID string, status entity.QueueStatus) {
	d.dispatch(ctx, userID, Event{Type: EventQueueUpdate, Queue: &status})
}

func (d *Dispatcher) dispatch(ctx context.Context, userID string, ev Event) {
	if d == nil || d.publisher == nil || userID == "" {
		return
	}
	ev.UserID = userID
	ev.OccurredAt = time.Now().UTC()

	// Detached from the caller's cancellation so a finished request still
	// delivers its final event.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.publisher.Publish(pctx, userID, ev); err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "error").Inc()
		logger.Warn(ctx, "notification dispatch failed",
			"event", string(ev.Type),
			"user_id", userID,
			"job_id", ev.JobID,
			"error", err.Error(),
		)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(ev.Type), "ok").Inc()
}
