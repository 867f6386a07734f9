package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookviz-api/internal/application/notification"
	"bookviz-api/pkg/tracer"
)

var otelTracer = otel.Tracer("messaging")

// Publisher publishes notification events on the owner's channel.
type Publisher struct {
	client *redis.Client
	prefix string
}

func NewPublisher(client *redis.Client, prefix string) *Publisher {
	return &Publisher{client: client, prefix: prefix}
}

// Publish implements notification.Publisher. Zero receivers is not an error.
func (p *Publisher) Publish(ctx context.Context, userID string, ev notification.Event) error {
	channel := Channel(p.prefix, userID)
	ctx, span := otelTracer.Start(ctx, "publisher.Publish",
		trace.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("message.type", string(ev.Type)),
			attribute.String("job.id", ev.JobID),
		))
	defer span.End()

	msg, err := NewMessage(string(ev.Type), userID, ev.JobID, ev)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to build message: %w", err)
	}
	if traceID := tracer.TraceID(ctx); traceID != "" {
		msg.SetMetadata("trace_id", traceID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish message: %w", err)
	}
	span.SetAttributes(attribute.Int64("receivers", receivers))
	return nil
}
