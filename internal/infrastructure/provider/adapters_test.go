package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookviz-api/internal/domain/entity"
)

func TestDallEGenerate(t *testing.T) {
	t.Parallel()
	png := []byte("\x89PNG fake")
	var got dalleRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{
				"b64_json":       base64.StdEncoding.EncodeToString(png),
				"revised_prompt": "a lighthouse, revised",
			}},
		})
	}))
	defer srv.Close()

	d := NewDallE(srv.URL, "sk-test", "", time.Second)
	images, err := d.Generate(context.Background(), Request{
		Prompt:     "a lighthouse",
		Size:       entity.ImageSize{Width: 1792, Height: 1024},
		Parameters: entity.GenerationParameters{Quality: "hd"},
	})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, png, images[0].Data)
	assert.Equal(t, 1792, images[0].Width)
	assert.Equal(t, "a lighthouse, revised", images[0].RevisedPrompt)

	assert.Equal(t, "dall-e-3", got.Model)
	assert.Equal(t, "1792x1024", got.Size)
	assert.Equal(t, "hd", got.Quality)
	assert.Equal(t, "b64_json", got.ResponseFormat)
}

func TestDallEErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		transient bool
		code      string
	}{
		{"rate limited", http.StatusTooManyRequests, true, "rate_limit_exceeded"},
		{"server error", http.StatusBadGateway, true, "server_error"},
		{"bad key", http.StatusUnauthorized, false, "invalid_api_key"},
		{"policy", http.StatusBadRequest, false, "content_policy_violation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"message": "nope", "code": tt.code},
				})
			}))
			defer srv.Close()

			_, err := NewDallE(srv.URL, "k", "", time.Second).Generate(context.Background(), Request{Prompt: "x"})
			require.Error(t, err)
			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, entity.ProviderDallE3, pe.Provider)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.transient, pe.Transient)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestStableDiffusionLifecycle(t *testing.T) {
	t.Parallel()
	var (
		mu        sync.Mutex
		polls     int
		cancelled bool
		created   sdCreateRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "pred-1", "status": "starting"})
		case r.Method == http.MethodGet && r.URL.Path == "/predictions/pred-1":
			polls++
			status := "processing"
			var output any
			if polls > 1 {
				status = "succeeded"
				output = []string{"https://cdn.example.com/out-0.png"}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "pred-1", "status": status, "output": output})
		case r.Method == http.MethodPost && r.URL.Path == "/predictions/pred-1/cancel":
			cancelled = true
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "pred-1", "status": "canceled"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	sd := NewStableDiffusion(srv.URL, "r8-token", "v1", time.Second)
	ctx := context.Background()
	steps := 30

	id, err := sd.Submit(ctx, Request{
		Prompt:         "a castle",
		NegativePrompt: "blurry",
		Size:           entity.ImageSize{Width: 1344, Height: 768},
		Parameters:     entity.GenerationParameters{Steps: &steps},
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", id)
	mu.Lock()
	assert.Equal(t, "v1", created.Version)
	assert.Equal(t, "blurry", created.Input.NegativePrompt)
	assert.Equal(t, 1344, created.Input.Width)
	require.NotNil(t, created.Input.NumInferenceSteps)
	assert.Equal(t, 30, *created.Input.NumInferenceSteps)
	mu.Unlock()

	st, err := sd.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)

	st, err = sd.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.State)

	images, err := sd.Fetch(ctx, id)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "https://cdn.example.com/out-0.png", images[0].URL)
	assert.Equal(t, "image/png", images[0].ContentType)

	ok, err := sd.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	mu.Lock()
	assert.True(t, cancelled)
	mu.Unlock()
}

func TestStableDiffusionFailedPrediction(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "p", "status": "failed", "error": "NSFW content detected"})
	}))
	defer srv.Close()

	sd := NewStableDiffusion(srv.URL, "t", "v", time.Second)
	st, err := sd.Poll(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "NSFW content detected", st.Message)

	_, err = sd.Fetch(context.Background(), "p")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestOutputURLs(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b"}, outputURLs(json.RawMessage(`["a","b"]`)))
	assert.Equal(t, []string{"a"}, outputURLs(json.RawMessage(`"a"`)))
	assert.Nil(t, outputURLs(json.RawMessage(`null`)))
	assert.Nil(t, outputURLs(nil))
}

func TestImagenAspectRatio(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1:1", imagenAspectRatio(entity.ImageSize{Width: 1024, Height: 1024}))
	assert.Equal(t, "16:9", imagenAspectRatio(entity.ImageSize{Width: 1408, Height: 768}))
	assert.Equal(t, "9:16", imagenAspectRatio(entity.ImageSize{Width: 768, Height: 1408}))
	assert.Equal(t, "4:3", imagenAspectRatio(entity.ImageSize{Width: 1280, Height: 896}))
	assert.Equal(t, "3:4", imagenAspectRatio(entity.ImageSize{Width: 896, Height: 1280}))
}
