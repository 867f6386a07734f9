package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// adapter is the uniform two-phase contract every backend is wrapped in.
type adapter interface {
	start(ctx context.Context, req Request) (string, error)
	status(ctx context.Context, handle string) (Status, error)
	result(ctx context.Context, handle string) ([]Image, error)
	cancel(ctx context.Context, handle string) (bool, error)
}

type asyncAdapter struct {
	gen AsyncGenerator
}

func (a asyncAdapter) start(ctx context.Context, req Request) (string, error) {
	return a.gen.Submit(ctx, req)
}

func (a asyncAdapter) status(ctx context.Context, handle string) (Status, error) {
	return a.gen.Poll(ctx, handle)
}

func (a asyncAdapter) result(ctx context.Context, handle string) ([]Image, error) {
	return a.gen.Fetch(ctx, handle)
}

func (a asyncAdapter) cancel(ctx context.Context, handle string) (bool, error) {
	return a.gen.Cancel(ctx, handle)
}

// syncAdapter runs the whole generation in start and keeps the images under
// an opaque handle, so status is immediately completed.
type syncAdapter struct {
	gen   SyncGenerator
	store ResultStore
	ttl   time.Duration
}

func (a syncAdapter) start(ctx context.Context, req Request) (string, error) {
	images, err := a.gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("failed to encode generation result: %w", err)
	}
	handle := uuid.NewString()
	if err := a.store.Put(ctx, handle, payload, a.ttl); err != nil {
		return "", fmt.Errorf("failed to keep generation result: %w", err)
	}
	return handle, nil
}

func (a syncAdapter) status(ctx context.Context, handle string) (Status, error) {
	if _, err := a.store.Get(ctx, handle); err != nil {
		return Status{}, fmt.Errorf("%w: %s: %v", ErrUnknownHandle, handle, err)
	}
	return Status{State: StateCompleted, Progress: 100}, nil
}

func (a syncAdapter) result(ctx context.Context, handle string) ([]Image, error) {
	payload, err := a.store.Get(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownHandle, handle, err)
	}
	var images []Image
	if err := json.Unmarshal(payload, &images); err != nil {
		return nil, fmt.Errorf("failed to decode generation result: %w", err)
	}
	return images, nil
}

// cancel is a no-op: the generation finished inside start.
func (a syncAdapter) cancel(context.Context, string) (bool, error) {
	return false, nil
}
