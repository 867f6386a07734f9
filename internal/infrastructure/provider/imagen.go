package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"bookviz-api/internal/domain/entity"
)

// Imagen generates images synchronously through the Gemini API.
type Imagen struct {
	client *genai.Client
	model  string
}

func NewImagen(ctx context.Context, apiKey, model string) (*Imagen, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("imagen: api key cannot be empty")
	}
	if model == "" {
		model = entity.ProviderImagen.Traits().APIName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Imagen{client: client, model: model}, nil
}

func (g *Imagen) Provider() entity.Provider {
	return entity.ProviderImagen
}

func (g *Imagen) Generate(ctx context.Context, req Request) ([]Image, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.model, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    imagenAspectRatio(req.Size),
		NegativePrompt: req.NegativePrompt,
	})
	if err != nil {
		return nil, classifyGenAIError(err)
	}

	images := make([]Image, 0, len(resp.GeneratedImages))
	for _, gen := range resp.GeneratedImages {
		if gen == nil || gen.Image == nil || len(gen.Image.ImageBytes) == 0 {
			continue
		}
		ct := gen.Image.MIMEType
		if ct == "" {
			ct = "image/png"
		}
		images = append(images, Image{
			Data:        gen.Image.ImageBytes,
			ContentType: ct,
			Width:       req.Size.Width,
			Height:      req.Size.Height,
		})
	}
	if len(images) == 0 {
		// Filtered responses carry no bytes; the same prompt will be filtered again.
		return nil, &Error{Provider: entity.ProviderImagen, Code: "filtered", Message: "no images returned", Err: ErrNoImages}
	}
	return images, nil
}

// imagenAspectRatio maps a supported size to the ratio names Imagen accepts.
func imagenAspectRatio(size entity.ImageSize) string {
	switch {
	case size.Width == size.Height:
		return "1:1"
	case size.Width*9 >= size.Height*16:
		return "16:9"
	case size.Height*9 >= size.Width*16:
		return "9:16"
	case size.Width > size.Height:
		return "4:3"
	default:
		return "3:4"
	}
}

func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(entity.ProviderImagen, apiErr.Code, apiErr.Status, apiErr.Message)
	}
	return transportError(entity.ProviderImagen, err)
}

var _ SyncGenerator = (*Imagen)(nil)
