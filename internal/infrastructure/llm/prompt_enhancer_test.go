package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookviz-api/internal/config"
	"bookviz-api/internal/domain/entity"
)

type fakeChatModel struct {
	reply string
	err   error
	got   []*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.got = input
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

type fakeFactory struct {
	model model.BaseChatModel
	err   error
	name  string
}

func (f *fakeFactory) Get(_ context.Context, name string) (model.BaseChatModel, error) {
	f.name = name
	return f.model, f.err
}

func TestChatEnhancer_ParsesJSONReply(t *testing.T) {
	cm := &fakeChatModel{reply: "```json\n{\"prompt\": \"a lighthouse in a storm\", \"negative_prompt\": \"blurry\", \"parameters\": {\"steps\": 30}}\n```"}
	f := &fakeFactory{model: cm}
	e := NewChatEnhancer(f, "openai", "watercolor")

	res, err := e.GeneratePrompt(context.Background(), PromptRequest{
		OriginalText: "The keeper climbed the stairs as the sea broke over the rocks.",
		Provider:     entity.ProviderStableDiffusion,
	})
	require.NoError(t, err)
	assert.Equal(t, "a lighthouse in a storm", res.EnhancedPrompt)
	assert.Equal(t, "blurry", res.NegativePrompt)
	assert.EqualValues(t, 30, res.Parameters["steps"])
	assert.Equal(t, "openai", f.name)

	require.Len(t, cm.got, 2)
	assert.Equal(t, schema.System, cm.got[0].Role)
	user := cm.got[1].Content
	assert.Contains(t, user, "Stable Diffusion")
	assert.Contains(t, user, "watercolor")
	assert.Contains(t, user, "The keeper climbed the stairs")
}

func TestChatEnhancer_DropsNegativePromptForUnsupportedProvider(t *testing.T) {
	cm := &fakeChatModel{reply: `{"prompt": "a quiet harbour", "negative_prompt": "text"}`}
	e := NewChatEnhancer(&fakeFactory{model: cm}, "", "")

	res, err := e.GeneratePrompt(context.Background(), PromptRequest{
		OriginalText: "Boats rocked gently.",
		Provider:     entity.ProviderDallE3,
	})
	require.NoError(t, err)
	assert.Equal(t, "a quiet harbour", res.EnhancedPrompt)
	assert.Empty(t, res.NegativePrompt)
	assert.Contains(t, cm.got[1].Content, "leave negative_prompt empty")
}

func TestChatEnhancer_FallsBackToPlainText(t *testing.T) {
	cm := &fakeChatModel{reply: "  A misty forest at dawn, oil painting  "}
	e := NewChatEnhancer(&fakeFactory{model: cm}, "", "")

	res, err := e.GeneratePrompt(context.Background(), PromptRequest{
		OriginalText: "Fog hung between the trees.",
		Provider:     entity.ProviderImagen,
	})
	require.NoError(t, err)
	assert.Equal(t, "A misty forest at dawn, oil painting", res.EnhancedPrompt)
}

func TestChatEnhancer_Errors(t *testing.T) {
	ctx := context.Background()
	req := PromptRequest{OriginalText: "text", Provider: entity.ProviderDallE3}

	_, err := NewChatEnhancer(&fakeFactory{model: &fakeChatModel{}}, "", "").
		GeneratePrompt(ctx, PromptRequest{OriginalText: "   ", Provider: entity.ProviderDallE3})
	assert.Error(t, err)

	_, err = NewChatEnhancer(&fakeFactory{err: errors.New("no key")}, "", "").GeneratePrompt(ctx, req)
	assert.EqualError(t, err, "no key")

	boom := errors.New("rate limited")
	_, err = NewChatEnhancer(&fakeFactory{model: &fakeChatModel{err: boom}}, "", "").GeneratePrompt(ctx, req)
	assert.ErrorIs(t, err, boom)

	_, err = NewChatEnhancer(&fakeFactory{model: &fakeChatModel{reply: `{"prompt": ""}`}}, "", "").GeneratePrompt(ctx, req)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestStaticEnhancer(t *testing.T) {
	e := NewStaticEnhancer("digital painting")
	ctx := context.Background()

	res, err := e.GeneratePrompt(ctx, PromptRequest{
		OriginalText: "  The dragon\n\nslept   on gold. ",
		Provider:     entity.ProviderStableDiffusion,
	})
	require.NoError(t, err)
	assert.Equal(t, "digital painting, The dragon slept on gold.", res.EnhancedPrompt)
	assert.NotEmpty(t, res.NegativePrompt)

	res, err = e.GeneratePrompt(ctx, PromptRequest{
		OriginalText: strings.Repeat("a", 2000),
		Style:        "ink",
		Provider:     entity.ProviderDallE3,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.EnhancedPrompt, "ink, "))
	assert.Len(t, res.EnhancedPrompt, len("ink, ")+maxStaticSceneRunes)
	assert.Empty(t, res.NegativePrompt)

	_, err = e.GeneratePrompt(ctx, PromptRequest{Provider: entity.ProviderDallE3})
	assert.Error(t, err)
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONObject(`Sure! {"a":1} hope that helps`))
	assert.Empty(t, extractJSONObject("no json here"))
	assert.Empty(t, extractJSONObject("} backwards {"))
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "plain", stripFences("plain"))
}

func TestEinoFactory_RejectsMissingConfig(t *testing.T) {
	cfg := &config.Config{Prompt: config.PromptConfig{
		Provider: "openai",
		LLM: map[string]config.LLMProviderConfig{
			"openai": {Model: "gpt-4o-mini"},
		},
	}}
	f := NewEinoFactory(cfg)
	assert.False(t, f.Configured())

	_, err := f.Get(context.Background(), "")
	assert.ErrorContains(t, err, "no api key")

	_, err = f.Get(context.Background(), "anthropic")
	assert.ErrorContains(t, err, "not found")
}
