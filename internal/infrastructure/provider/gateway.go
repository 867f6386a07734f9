package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookviz-api/internal/config"
	"bookviz-api/internal/domain/entity"
	"bookviz-api/pkg/logger"
	"bookviz-api/pkg/metrics"
)

var tracer = otel.Tracer("provider")

// Gateway dispatches generations to registered backends. Each backend sits
// behind its own circuit breaker; an open circuit makes it unavailable.
type Gateway struct {
	mu        sync.RWMutex
	adapters  map[entity.Provider]adapter
	breakers  map[entity.Provider]*gobreaker.CircuitBreaker
	store     ResultStore
	resultTTL time.Duration
	breaker   config.BreakerConfig
}

// NewGateway creates an empty gateway. store keeps synchronous results for
// resultTTL.
func NewGateway(store ResultStore, resultTTL time.Duration, breaker config.BreakerConfig) *Gateway {
	if store == nil {
		store = NewMemoryResultStore()
	}
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &Gateway{
		adapters:  make(map[entity.Provider]adapter),
		breakers:  make(map[entity.Provider]*gobreaker.CircuitBreaker),
		store:     store,
		resultTTL: resultTTL,
		breaker:   breaker,
	}
}

func (g *Gateway) RegisterSync(gen SyncGenerator) {
	g.register(gen.Provider(), syncAdapter{gen: gen, store: g.store, ttl: g.resultTTL})
}

func (g *Gateway) RegisterAsync(gen AsyncGenerator) {
	g.register(gen.Provider(), asyncAdapter{gen: gen})
}

func (g *Gateway) register(p entity.Provider, a adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[p] = a
	g.breakers[p] = g.newBreaker(p)
}

func (g *Gateway) newBreaker(p entity.Provider) *gobreaker.CircuitBreaker {
	minRequests := g.breaker.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := g.breaker.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(p),
		MaxRequests: g.breaker.MaxRequests,
		Interval:    g.breaker.Interval,
		Timeout:     g.breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		// Cancellation and permanent request errors say nothing about the
		// backend's health.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var pe *Error
			if errors.As(err, &pe) && !pe.Transient && pe.StatusCode >= 400 && pe.StatusCode < 500 &&
				pe.StatusCode != 401 && pe.StatusCode != 403 {
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "provider circuit state changed",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})
}

func (g *Gateway) lookup(p entity.Provider) (adapter, *gobreaker.CircuitBreaker, error) {
	if !p.IsValid() {
		return nil, nil, fmt.Errorf("unknown provider %q", p)
	}
	if !p.Traits().Implemented {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotImplemented, p)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.adapters[p]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is not configured", ErrUnavailable, p)
	}
	return a, g.breakers[p], nil
}

// call runs fn through the provider's breaker and records metrics and a span.
func call[T any](ctx context.Context, g *Gateway, p entity.Provider, op string, fn func(context.Context, adapter) (T, error)) (T, error) {
	var zero T
	a, cb, err := g.lookup(p)
	if err != nil {
		return zero, err
	}

	ctx, span := tracer.Start(ctx, "provider."+op,
		trace.WithAttributes(attribute.String("provider", string(p))))
	defer span.End()

	start := time.Now()
	out, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx, a)
	})
	metrics.ProviderCallDuration.WithLabelValues(string(p), op).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		metrics.ProviderCallTotal.WithLabelValues(string(p), op, "error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, &Error{Provider: p, Code: "circuit_open", Message: "provider circuit open", Transient: true, Err: ErrUnavailable}
		}
		return zero, err
	}
	metrics.ProviderCallTotal.WithLabelValues(string(p), op, "ok").Inc()
	v, _ := out.(T)
	return v, nil
}

// StartGeneration fits the prompt to the provider and dispatches it. The
// returned handle is opaque.
func (g *Gateway) StartGeneration(ctx context.Context, p entity.Provider, prompt, negativePrompt string, params entity.GenerationParameters) (string, error) {
	traits := p.Traits()
	req := Request{
		Prompt:     p.TruncatePrompt(prompt),
		Size:       p.ResolveSize(params),
		Parameters: params,
	}
	if traits.SupportsNegativePrompt {
		req.NegativePrompt = p.TruncatePrompt(negativePrompt)
	}
	return call(ctx, g, p, "start", func(ctx context.Context, a adapter) (string, error) {
		return a.start(ctx, req)
	})
}

func (g *Gateway) GetGenerationStatus(ctx context.Context, p entity.Provider, handle string) (Status, error) {
	return call(ctx, g, p, "status", func(ctx context.Context, a adapter) (Status, error) {
		return a.status(ctx, handle)
	})
}

func (g *Gateway) GetGenerationResult(ctx context.Context, p entity.Provider, handle string) ([]Image, error) {
	return call(ctx, g, p, "result", func(ctx context.Context, a adapter) ([]Image, error) {
		return a.result(ctx, handle)
	})
}

// CancelGeneration reports whether the provider accepted the cancellation.
// Synchronous providers always report false.
func (g *Gateway) CancelGeneration(ctx context.Context, p entity.Provider, handle string) (bool, error) {
	a, _, err := g.lookup(p)
	if err != nil {
		return false, err
	}
	// Cancellation bypasses the breaker so an open circuit cannot strand a
	// running prediction.
	return a.cancel(ctx, handle)
}

// IsProviderAvailable is true for configured, implemented providers whose
// circuit is not open.
func (g *Gateway) IsProviderAvailable(p entity.Provider) bool {
	_, cb, err := g.lookup(p)
	if err != nil {
		return false
	}
	return cb.State() != gobreaker.StateOpen
}

// Providers describes every declared provider.
func (g *Gateway) Providers() []Info {
	out := make([]Info, 0, len(entity.AllProviders()))
	for _, p := range entity.AllProviders() {
		t := p.Traits()
		g.mu.RLock()
		_, configured := g.adapters[p]
		g.mu.RUnlock()
		out = append(out, Info{
			Provider:        p,
			DisplayName:     t.DisplayName,
			Implemented:     t.Implemented,
			Configured:      configured,
			Available:       g.IsProviderAvailable(p),
			Synchronous:     t.Synchronous,
			MaxPromptLength: t.MaxPromptLength,
			Sizes:           t.Sizes,
		})
	}
	return out
}
