// Package provider is the gateway over the image generation backends. Every
// backend is presented through the same start/poll/fetch/cancel contract.
package provider

import (
	"context"

	"bookviz-api/internal/domain/entity"
)

// Request is a normalized generation request. Prompt and NegativePrompt have
// already been fitted to the provider.
type Request struct {
	Prompt         string
	NegativePrompt string
	Size           entity.ImageSize
	Parameters     entity.GenerationParameters
}

// Image is one generated picture. Either Data or URL is set.
type Image struct {
	Data          []byte `json:"data,omitempty"`
	URL           string `json:"url,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Done reports whether no further polling is useful.
func (s State) Done() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Status is the provider-side state of a generation.
type Status struct {
	State    State  `json:"state"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// SyncGenerator returns images from a single call.
type SyncGenerator interface {
	Provider() entity.Provider
	Generate(ctx context.Context, req Request) ([]Image, error)
}

// AsyncGenerator returns a handle that must be polled.
type AsyncGenerator interface {
	Provider() entity.Provider
	Submit(ctx context.Context, req Request) (string, error)
	Poll(ctx context.Context, id string) (Status, error)
	Fetch(ctx context.Context, id string) ([]Image, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

// Info describes a provider for listings and fallback decisions.
type Info struct {
	Provider        entity.Provider    `json:"provider"`
	DisplayName     string             `json:"display_name"`
	Implemented     bool               `json:"implemented"`
	Configured      bool               `json:"configured"`
	Available       bool               `json:"available"`
	Synchronous     bool               `json:"synchronous"`
	MaxPromptLength int                `json:"max_prompt_length"`
	Sizes           []entity.ImageSize `json:"sizes"`
}
