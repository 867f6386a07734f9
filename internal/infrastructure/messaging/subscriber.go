package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"bookviz-api/internal/application/notification"
	"bookviz-api/pkg/logger"
)

const subscriberBuffer = 32

// Subscriber streams a user's events from their pub/sub channel.
type Subscriber struct {
	client *redis.Client
	prefix string
}

func NewSubscriber(client *redis.Client, prefix string) *Subscriber {
	return &Subscriber{client: client, prefix: prefix}
}

// Subscribe implements notification.Subscriber. It returns once Redis has
// confirmed the subscription.
func (s *Subscriber) Subscribe(ctx context.Context, userID string) (<-chan notification.Event, func(), error) {
	channel := Channel(s.prefix, userID)
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan notification.Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		defer cancel()

		src := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case raw, ok := <-src:
				if !ok {
					return
				}
				ev, err := decode(raw.Payload)
				if err != nil {
					logger.Warn(ctx, "dropping malformed notification", "channel", channel, "error", err.Error())
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

func decode(payload string) (notification.Event, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return notification.Event{}, err
	}
	var ev notification.Event
	if err := msg.UnmarshalPayload(&ev); err != nil {
		return notification.Event{}, err
	}
	return ev, nil
}
