package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// ErrResultNotFound is returned when a handle has no stored result.
var ErrResultNotFound = errors.New("provider result not found")

// ResultStore keeps finished provider payloads under their opaque handle so
// any process can fetch them.
type ResultStore struct {
	client *Client
	prefix string
}

func NewResultStore(client *Client, prefix string) *ResultStore {
	if prefix == "" {
		prefix = "viz:provider:result"
	}
	return &ResultStore{client: client, prefix: prefix}
}

func (s *ResultStore) key(handle string) string {
	return fmt.Sprintf("%s:%s", s.prefix, handle)
}

func (s *ResultStore) Put(ctx context.Context, handle string, payload []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "redis.ResultStore.Put")
	span.SetAttributes(attribute.String("provider.handle", handle), attribute.Int("payload.bytes", len(payload)))
	defer span.End()

	if err := s.client.rdb.Set(ctx, s.key(handle), payload, ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store provider result: %w", err)
	}
	return nil
}

func (s *ResultStore) Get(ctx context.Context, handle string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "redis.ResultStore.Get")
	span.SetAttributes(attribute.String("provider.handle", handle))
	defer span.End()

	raw, err := s.client.rdb.Get(ctx, s.key(handle)).Bytes()
	if err != nil {
		if IsNil(err) {
			return nil, ErrResultNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load provider result: %w", err)
	}
	return raw, nil
}

func (s *ResultStore) Delete(ctx context.Context, handle string) error {
	return s.client.rdb.Del(ctx, s.key(handle)).Err()
}
