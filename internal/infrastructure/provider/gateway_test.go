package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookviz-api/internal/config"
	"bookviz-api/internal/domain/entity"
	"bookviz-api/pkg/logger"
)

func init() {
	logger.SetDefault(logger.Discard())
}

type fakeSync struct {
	provider entity.Provider
	mu       sync.Mutex
	requests []Request
	err      error
}

func (f *fakeSync) Provider() entity.Provider { return f.provider }

func (f *fakeSync) Generate(_ context.Context, req Request) ([]Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return []Image{{Data: []byte("img"), ContentType: "image/png", Width: req.Size.Width, Height: req.Size.Height}}, nil
}

type fakeAsync struct {
	polls     int
	cancelled []string
	lastReq   Request
}

func (f *fakeAsync) Provider() entity.Provider { return entity.ProviderStableDiffusion }

func (f *fakeAsync) Submit(_ context.Context, req Request) (string, error) {
	f.lastReq = req
	return "ext-1", nil
}

func (f *fakeAsync) Poll(context.Context, string) (Status, error) {
	f.polls++
	if f.polls < 3 {
		return Status{State: StateRunning, Progress: 50}, nil
	}
	return Status{State: StateCompleted, Progress: 100}, nil
}

func (f *fakeAsync) Fetch(context.Context, string) ([]Image, error) {
	return []Image{{URL: "https://cdn/x.png"}}, nil
}

func (f *fakeAsync) Cancel(_ context.Context, id string) (bool, error) {
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

func TestGatewaySyncProviderIsTwoPhase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGateway(NewMemoryResultStore(), time.Minute, config.BreakerConfig{})
	gen := &fakeSync{provider: entity.ProviderDallE3}
	g.RegisterSync(gen)

	long := strings.Repeat("é", 4100)
	handle, err := g.StartGeneration(ctx, entity.ProviderDallE3, long, "ugly", entity.GenerationParameters{Width: 1000, Height: 560})
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, 4000, len([]rune(req.Prompt)))
	assert.Empty(t, req.NegativePrompt)
	assert.Equal(t, entity.ImageSize{Width: 1792, Height: 1024}, req.Size)

	st, err := g.GetGenerationStatus(ctx, entity.ProviderDallE3, handle)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.State)

	for i := 0; i < 2; i++ {
		images, err := g.GetGenerationResult(ctx, entity.ProviderDallE3, handle)
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, []byte("img"), images[0].Data)
	}

	ok, err := g.CancelGeneration(ctx, entity.ProviderDallE3, handle)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = g.GetGenerationStatus(ctx, entity.ProviderDallE3, "missing")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestGatewayAsyncProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGateway(nil, 0, config.BreakerConfig{})
	gen := &fakeAsync{}
	g.RegisterAsync(gen)

	handle, err := g.StartGeneration(ctx, entity.ProviderStableDiffusion, "castle", "blurry", entity.GenerationParameters{})
	require.NoError(t, err)
	assert.Equal(t, "ext-1", handle)
	assert.Equal(t, "blurry", gen.lastReq.NegativePrompt)
	assert.Equal(t, entity.ImageSize{Width: 1024, Height: 1024}, gen.lastReq.Size)

	var st Status
	for !st.State.Done() {
		st, err = g.GetGenerationStatus(ctx, entity.ProviderStableDiffusion, handle)
		require.NoError(t, err)
	}
	assert.Equal(t, StateCompleted, st.State)

	images, err := g.GetGenerationResult(ctx, entity.ProviderStableDiffusion, handle)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.png", images[0].URL)

	ok, err := g.CancelGeneration(ctx, entity.ProviderStableDiffusion, handle)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"ext-1"}, gen.cancelled)
}

func TestGatewayUnavailableAndUnimplemented(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGateway(nil, 0, config.BreakerConfig{})

	_, err := g.StartGeneration(ctx, entity.ProviderMidjourney, "x", "", entity.GenerationParameters{})
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.False(t, IsTransient(err))

	_, err = g.StartGeneration(ctx, entity.ProviderDallE3, "x", "", entity.GenerationParameters{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = g.StartGeneration(ctx, entity.Provider("Dreamer"), "x", "", entity.GenerationParameters{})
	assert.Error(t, err)

	assert.False(t, g.IsProviderAvailable(entity.ProviderDallE3))
	assert.False(t, g.IsProviderAvailable(entity.ProviderLeonardo))

	infos := g.Providers()
	assert.Len(t, infos, len(entity.AllProviders()))
	for _, info := range infos {
		assert.False(t, info.Available, info.Provider)
	}
}

func TestGatewayCircuitOpensOnTransientFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGateway(nil, 0, config.BreakerConfig{MinRequests: 3, FailureRatio: 0.5, Timeout: time.Hour})
	gen := &fakeSync{provider: entity.ProviderDallE3, err: &Error{Provider: entity.ProviderDallE3, StatusCode: 503, Transient: true}}
	g.RegisterSync(gen)
	require.True(t, g.IsProviderAvailable(entity.ProviderDallE3))

	for i := 0; i < 3; i++ {
		_, err := g.StartGeneration(ctx, entity.ProviderDallE3, "x", "", entity.GenerationParameters{})
		require.Error(t, err)
	}
	assert.False(t, g.IsProviderAvailable(entity.ProviderDallE3))

	_, err := g.StartGeneration(ctx, entity.ProviderDallE3, "x", "", entity.GenerationParameters{})
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "circuit_open", pe.Code)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Len(t, gen.requests, 3)
}

func TestGatewayPermanentRequestErrorsDoNotTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGateway(nil, 0, config.BreakerConfig{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Hour})
	g.RegisterSync(&fakeSync{provider: entity.ProviderDallE3, err: &Error{Provider: entity.ProviderDallE3, StatusCode: 400, Code: "content_policy_violation"}})

	for i := 0; i < 5; i++ {
		_, err := g.StartGeneration(ctx, entity.ProviderDallE3, "x", "", entity.GenerationParameters{})
		require.Error(t, err)
		assert.False(t, IsTransient(err))
	}
	assert.True(t, g.IsProviderAvailable(entity.ProviderDallE3))
}

func TestMemoryResultStoreExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryResultStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "h", []byte("x"), time.Minute))
	got, err := s.Get(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "h")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestFallbackChain(t *testing.T) {
	t.Parallel()
	chain := FallbackChain([]string{"dalle3", "StableDiffusion", "bogus", "DALLE3", "imagen"})
	assert.Equal(t, []entity.Provider{entity.ProviderDallE3, entity.ProviderStableDiffusion, entity.ProviderImagen}, chain)
}

func TestNewGatewayFromConfigSkipsUnconfigured(t *testing.T) {
	t.Parallel()
	g, err := NewGatewayFromConfig(context.Background(), config.ProvidersConfig{
		Items: map[string]config.ProviderConfig{
			"dalle3":          {Enabled: true, APIKey: "sk"},
			"stablediffusion": {Enabled: true, APIKey: "r8"},
			"midjourney":      {Enabled: true, APIKey: "mj"},
			"imagen":          {Enabled: false},
		},
	}, nil, time.Minute)
	require.NoError(t, err)
	assert.True(t, g.IsProviderAvailable(entity.ProviderDallE3))
	assert.False(t, g.IsProviderAvailable(entity.ProviderStableDiffusion))
	assert.False(t, g.IsProviderAvailable(entity.ProviderMidjourney))
	assert.False(t, g.IsProviderAvailable(entity.ProviderImagen))

	_, err = NewGatewayFromConfig(context.Background(), config.ProvidersConfig{
		Items: map[string]config.ProviderConfig{"dreamer": {Enabled: true}},
	}, nil, time.Minute)
	assert.Error(t, err)
}
