package entity

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Provider identifies an image generation backend.
type Provider string

const (
	ProviderDallE3          Provider = "DallE3"
	ProviderStableDiffusion Provider = "StableDiffusion"
	ProviderImagen          Provider = "Imagen"
	ProviderMidjourney      Provider = "Midjourney"
	ProviderLeonardo        Provider = "Leonardo"
)

// ProviderTraits are the static constraints of a provider.
type ProviderTraits struct {
	DisplayName     string
	APIName         string
	MaxPromptLength int
	// Sizes are the supported output sizes, the first being the default.
	Sizes                  []ImageSize
	Synchronous            bool
	SupportsNegativePrompt bool
	SupportsCancel         bool
	Implemented            bool
}

var providerTraits = map[Provider]ProviderTraits{
	ProviderDallE3: {
		DisplayName:     "DALL-E 3",
		APIName:         "dall-e-3",
		MaxPromptLength: 4000,
		Sizes:           []ImageSize{{1024, 1024}, {1792, 1024}, {1024, 1792}},
		Synchronous:     true,
		Implemented:     true,
	},
	ProviderStableDiffusion: {
		DisplayName:            "Stable Diffusion",
		APIName:                "stable-diffusion",
		MaxPromptLength:        2000,
		Sizes:                  []ImageSize{{1024, 1024}, {1344, 768}, {768, 1344}, {1152, 896}, {896, 1152}},
		SupportsNegativePrompt: true,
		SupportsCancel:         true,
		Implemented:            true,
	},
	ProviderImagen: {
		DisplayName:            "Imagen",
		APIName:                "imagen-3.0-generate-002",
		MaxPromptLength:        1900,
		Sizes:                  []ImageSize{{1024, 1024}, {1408, 768}, {768, 1408}, {1280, 896}, {896, 1280}},
		Synchronous:            true,
		SupportsNegativePrompt: true,
		Implemented:            true,
	},
	ProviderMidjourney: {
		DisplayName:     "Midjourney",
		APIName:         "midjourney",
		MaxPromptLength: 6000,
		Sizes:           []ImageSize{{1024, 1024}},
	},
	ProviderLeonardo: {
		DisplayName:            "Leonardo",
		APIName:                "leonardo",
		MaxPromptLength:        1000,
		Sizes:                  []ImageSize{{1024, 1024}},
		SupportsNegativePrompt: true,
	},
}

// AllProviders lists every declared provider.
func AllProviders() []Provider {
	return []Provider{ProviderDallE3, ProviderStableDiffusion, ProviderImagen, ProviderMidjourney, ProviderLeonardo}
}

// ParseProvider resolves a provider name case-insensitively.
func ParseProvider(s string) (Provider, error) {
	for p := range providerTraits {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

func (p Provider) IsValid() bool {
	_, ok := providerTraits[p]
	return ok
}

// Traits returns the behavior table entry for p.
func (p Provider) Traits() ProviderTraits {
	return providerTraits[p]
}

func (p Provider) String() string {
	return string(p)
}

// TruncatePrompt returns the leading part of prompt that fits the provider's
// limit, cut on a rune boundary.
func (p Provider) TruncatePrompt(prompt string) string {
	limit := p.Traits().MaxPromptLength
	if limit <= 0 || utf8.RuneCountInString(prompt) <= limit {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:limit])
}

// ImageSize is an output resolution.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s ImageSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

func (s ImageSize) ratio() float64 {
	if s.Height == 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

// ResolveSize picks the supported size for the requested parameters: an exact
// match when available, otherwise the supported size with the closest aspect
// ratio, otherwise the provider default.
func (p Provider) ResolveSize(params GenerationParameters) ImageSize {
	sizes := p.Traits().Sizes
	if len(sizes) == 0 {
		return ImageSize{Width: params.Width, Height: params.Height}
	}
	want := ImageSize{Width: params.Width, Height: params.Height}
	for _, s := range sizes {
		if s == want {
			return s
		}
	}

	target := want.ratio()
	if target == 0 {
		target = params.AspectRatioValue()
	}
	if target == 0 {
		return sizes[0]
	}
	best := sizes[0]
	bestDiff := absf(best.ratio() - target)
	for _, s := range sizes[1:] {
		if d := absf(s.ratio() - target); d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
