package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const staticNegativePrompt = "blurry, low quality, distorted anatomy, text, watermark, signature"

// maxStaticSceneRunes bounds the passage copied into a static prompt.
const maxStaticSceneRunes = 600

// StaticEnhancer builds a prompt from the passage without a model. It is used
// when no chat model is configured.
type StaticEnhancer struct {
	defaultStyle string
}

func NewStaticEnhancer(defaultStyle string) *StaticEnhancer {
	return &StaticEnhancer{defaultStyle: defaultStyle}
}

func (s *StaticEnhancer) GeneratePrompt(_ context.Context, req PromptRequest) (*PromptResult, error) {
	scene := strings.Join(strings.Fields(req.OriginalText), " ")
	if scene == "" {
		return nil, fmt.Errorf("no source text to illustrate")
	}
	if utf8.RuneCountInString(scene) > maxStaticSceneRunes {
		scene = string([]rune(scene)[:maxStaticSceneRunes])
	}

	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = s.defaultStyle
	}
	prompt := scene
	if style != "" {
		prompt = fmt.Sprintf("%s, %s", style, scene)
	}

	res := &PromptResult{EnhancedPrompt: prompt}
	if req.Provider.Traits().SupportsNegativePrompt {
		res.NegativePrompt = staticNegativePrompt
	}
	return res, nil
}

var _ Enhancer = (*StaticEnhancer)(nil)
