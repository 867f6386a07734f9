package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"bookviz-api/internal/domain/entity"
)

// ErrEmptyPrompt is returned when the model produced no usable prompt.
var ErrEmptyPrompt = errors.New("enhanced prompt is empty")

// PromptRequest is the input of one enhancement.
type PromptRequest struct {
	OriginalText string
	BookID       string
	Style        string
	Provider     entity.Provider
}

// PromptResult is the enhanced prompt for an image provider.
type PromptResult struct {
	EnhancedPrompt string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// Enhancer turns book text into an image prompt.
type Enhancer interface {
	GeneratePrompt(ctx context.Context, req PromptRequest) (*PromptResult, error)
}

// ChatModelFactory is the part of EinoFactory the enhancer needs.
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

const systemPrompt = `You write prompts for AI image generators that illustrate books.
Read the passage and describe one vivid, concrete scene from it: subjects, setting, lighting, mood and composition.
Never include text, captions or the book title in the image.
Answer with a single JSON object and nothing else:
{"prompt": "...", "negative_prompt": "...", "parameters": {}}`

// ChatEnhancer asks a chat model for the prompt.
type ChatEnhancer struct {
	models       ChatModelFactory
	provider     string
	defaultStyle string
}

func NewChatEnhancer(models ChatModelFactory, provider, defaultStyle string) *ChatEnhancer {
	return &ChatEnhancer{models: models, provider: provider, defaultStyle: defaultStyle}
}

func (e *ChatEnhancer) GeneratePrompt(ctx context.Context, req PromptRequest) (*PromptResult, error) {
	text := strings.TrimSpace(req.OriginalText)
	if text == "" {
		return nil, fmt.Errorf("no source text to illustrate")
	}
	chatModel, err := e.models.Get(ctx, e.provider)
	if err != nil {
		return nil, err
	}

	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildUserPrompt(req, e.style(req))),
	}
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "prompt_enhancer",
		Type:      e.provider,
		Component: components.ComponentOfChatModel,
	})
	out, err := chatModel.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("prompt model call failed: %w", err)
	}
	if out == nil {
		return nil, ErrEmptyPrompt
	}

	res, err := parsePromptResult(out.Content)
	if err != nil {
		return nil, err
	}
	if !req.Provider.Traits().SupportsNegativePrompt {
		res.NegativePrompt = ""
	}
	return res, nil
}

func (e *ChatEnhancer) style(req PromptRequest) string {
	if s := strings.TrimSpace(req.Style); s != "" {
		return s
	}
	return e.defaultStyle
}

func buildUserPrompt(req PromptRequest, style string) string {
	traits := req.Provider.Traits()
	var b strings.Builder
	fmt.Fprintf(&b, "Target model: %s\n", traits.DisplayName)
	if traits.MaxPromptLength > 0 {
		fmt.Fprintf(&b, "Keep the prompt under %d characters.\n", traits.MaxPromptLength)
	}
	if !traits.SupportsNegativePrompt {
		b.WriteString("The model ignores negative prompts; leave negative_prompt empty.\n")
	}
	if style != "" {
		fmt.Fprintf(&b, "Art style: %s\n", style)
	}
	b.WriteString("\nPassage:\n")
	b.WriteString(strings.TrimSpace(req.OriginalText))
	return b.String()
}

// parsePromptResult accepts a JSON answer, optionally fenced, and falls back
// to the raw content as the prompt.
func parsePromptResult(content string) (*PromptResult, error) {
	content = stripFences(content)
	if obj := extractJSONObject(content); obj != "" {
		var res PromptResult
		if err := json.Unmarshal([]byte(obj), &res); err == nil {
			res.EnhancedPrompt = strings.TrimSpace(res.EnhancedPrompt)
			res.NegativePrompt = strings.TrimSpace(res.NegativePrompt)
			if res.EnhancedPrompt != "" {
				return &res, nil
			}
		}
	}
	if content = strings.TrimSpace(content); content == "" || strings.HasPrefix(content, "{") {
		return nil, ErrEmptyPrompt
	}
	return &PromptResult{EnhancedPrompt: content}, nil
}

var _ Enhancer = (*ChatEnhancer)(nil)
