package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bookviz-api/internal/config"
	"bookviz-api/internal/domain/entity"
	"bookviz-api/pkg/logger"
)

// NewGatewayFromConfig registers every enabled provider that has credentials.
// Providers missing credentials are skipped with a warning and report as
// unavailable.
func NewGatewayFromConfig(ctx context.Context, cfg config.ProvidersConfig, store ResultStore, resultTTL time.Duration) (*Gateway, error) {
	g := NewGateway(store, resultTTL, cfg.Breaker)

	for name, pc := range cfg.Items {
		p, err := entity.ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("providers.items.%s: %w", name, err)
		}
		if !pc.Enabled {
			continue
		}
		if !p.Traits().Implemented {
			logger.Warn(ctx, "provider declared but not implemented", "provider", string(p))
			continue
		}
		if strings.TrimSpace(pc.APIKey) == "" {
			logger.Warn(ctx, "provider enabled without credentials, skipping", "provider", string(p))
			continue
		}

		switch p {
		case entity.ProviderDallE3:
			g.RegisterSync(NewDallE(pc.BaseURL, pc.APIKey, pc.Model, pc.Timeout))
		case entity.ProviderStableDiffusion:
			if pc.Version == "" {
				logger.Warn(ctx, "stable diffusion enabled without model version, skipping")
				continue
			}
			g.RegisterAsync(NewStableDiffusion(pc.BaseURL, pc.APIKey, pc.Version, pc.Timeout))
		case entity.ProviderImagen:
			im, err := NewImagen(ctx, pc.APIKey, pc.Model)
			if err != nil {
				return nil, err
			}
			g.RegisterSync(im)
		}
		logger.Info(ctx, "provider registered", "provider", string(p))
	}
	return g, nil
}

// FallbackChain parses the configured chain, dropping unknown names.
func FallbackChain(names []string) []entity.Provider {
	out := make([]entity.Provider, 0, len(names))
	seen := make(map[entity.Provider]bool)
	for _, n := range names {
		p, err := entity.ParseProvider(n)
		if err != nil || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
