// Package llm builds chat models and the prompt enhancers that run on them.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"bookviz-api/internal/config"
)

// EinoFactory lazily creates one chat model per configured LLM provider.
type EinoFactory struct {
	config *config.PromptConfig
	models map[string]model.BaseChatModel
	mu     sync.RWMutex
}

func NewEinoFactory(cfg *config.Config) *EinoFactory {
	return &EinoFactory{
		config: &cfg.Prompt,
		models: make(map[string]model.BaseChatModel),
	}
}

// Get returns the chat model for name, or the default provider when name is
// empty.
func (f *EinoFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	if name == "" {
		name = f.config.Provider
	}

	f.mu.RLock()
	m, ok := f.models[name]
	f.mu.RUnlock()
	if ok {
		return m, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok = f.models[name]; ok {
		return m, nil
	}

	providerCfg, ok := f.config.LLM[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in prompt llm config", name)
	}
	if providerCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s has no api key", name)
	}

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      providerCfg.APIKey,
		BaseURL:     providerCfg.BaseURL,
		Model:       providerCfg.Model,
		MaxTokens:   &providerCfg.MaxTokens,
		Temperature: ptrFloat32(float32(providerCfg.Temperature)),
		Timeout:     providerCfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for %s: %w", name, err)
	}

	f.models[name] = chatModel
	return chatModel, nil
}

// Configured reports whether the default provider has credentials.
func (f *EinoFactory) Configured() bool {
	p, ok := f.config.LLM[f.config.Provider]
	return ok && p.APIKey != ""
}

func ptrFloat32(f float32) *float32 {
	return &f
}
