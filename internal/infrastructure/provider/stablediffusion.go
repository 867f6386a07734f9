package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bookviz-api/internal/domain/entity"
)

// StableDiffusion runs generations as predictions on a Replicate-compatible
// API: create, poll until done, then read the output URLs.
type StableDiffusion struct {
	client  *restClient
	version string
}

type sdInput struct {
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt,omitempty"`
	Width             int      `json:"width,omitempty"`
	Height            int      `json:"height,omitempty"`
	NumOutputs        int      `json:"num_outputs"`
	NumInferenceSteps *int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     *float64 `json:"guidance_scale,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
	Scheduler         string   `json:"scheduler,omitempty"`
}

type sdCreateRequest struct {
	Version string  `json:"version"`
	Input   sdInput `json:"input"`
}

type sdPrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	Logs   string          `json:"logs"`
}

func NewStableDiffusion(baseURL, apiToken, version string, timeout time.Duration) *StableDiffusion {
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	c := newRESTClient(entity.ProviderStableDiffusion, baseURL, timeout, map[string]string{
		"Authorization": "Bearer " + apiToken,
	})
	c.decodeError = func(body []byte) (string, string) {
		var e struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &e) != nil {
			return "", ""
		}
		return e.Title, e.Detail
	}
	return &StableDiffusion{client: c, version: version}
}

func (s *StableDiffusion) Provider() entity.Provider {
	return entity.ProviderStableDiffusion
}

func (s *StableDiffusion) Submit(ctx context.Context, req Request) (string, error) {
	var pred sdPrediction
	err := s.client.do(ctx, http.MethodPost, "/predictions", sdCreateRequest{
		Version: s.version,
		Input: sdInput{
			Prompt:            req.Prompt,
			NegativePrompt:    req.NegativePrompt,
			Width:             req.Size.Width,
			Height:            req.Size.Height,
			NumOutputs:        1,
			NumInferenceSteps: req.Parameters.Steps,
			GuidanceScale:     req.Parameters.CfgScale,
			Seed:              req.Parameters.Seed,
			Scheduler:         req.Parameters.Sampler,
		},
	}, &pred)
	if err != nil {
		return "", err
	}
	if pred.ID == "" {
		return "", &Error{Provider: entity.ProviderStableDiffusion, Message: "prediction id missing", Transient: true}
	}
	return pred.ID, nil
}

func (s *StableDiffusion) get(ctx context.Context, id string) (*sdPrediction, error) {
	var pred sdPrediction
	if err := s.client.do(ctx, http.MethodGet, "/predictions/"+url.PathEscape(id), nil, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

func (s *StableDiffusion) Poll(ctx context.Context, id string) (Status, error) {
	pred, err := s.get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	switch pred.Status {
	case "starting":
		return Status{State: StatePending, Progress: 35, Message: "starting"}, nil
	case "processing":
		return Status{State: StateRunning, Progress: 60, Message: "processing"}, nil
	case "succeeded":
		return Status{State: StateCompleted, Progress: 100}, nil
	case "canceled":
		return Status{State: StateCancelled, Progress: 100, Message: "cancelled by provider"}, nil
	case "failed":
		return Status{State: StateFailed, Progress: 100, Message: predictionError(pred.Error)}, nil
	default:
		return Status{State: StateRunning, Message: pred.Status}, nil
	}
}

func (s *StableDiffusion) Fetch(ctx context.Context, id string) ([]Image, error) {
	pred, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pred.Status != "succeeded" {
		return nil, &Error{
			Provider:  entity.ProviderStableDiffusion,
			Message:   fmt.Sprintf("prediction %s is %s", id, pred.Status),
			Transient: pred.Status != "failed" && pred.Status != "canceled",
		}
	}

	urls := outputURLs(pred.Output)
	if len(urls) == 0 {
		return nil, &Error{Provider: entity.ProviderStableDiffusion, Message: "no images in output", Transient: true, Err: ErrNoImages}
	}
	images := make([]Image, 0, len(urls))
	for _, u := range urls {
		images = append(images, Image{URL: u, ContentType: contentTypeFromURL(u)})
	}
	return images, nil
}

func (s *StableDiffusion) Cancel(ctx context.Context, id string) (bool, error) {
	if err := s.client.do(ctx, http.MethodPost, "/predictions/"+url.PathEscape(id)+"/cancel", nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// outputURLs accepts both a single URL and a list of URLs.
func outputURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func predictionError(v any) string {
	switch e := v.(type) {
	case nil:
		return "prediction failed"
	case string:
		return e
	default:
		data, _ := json.Marshal(e)
		return string(data)
	}
}

func contentTypeFromURL(u string) string {
	lower := strings.ToLower(u)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}

var _ AsyncGenerator = (*StableDiffusion)(nil)
