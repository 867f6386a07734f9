package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"bookviz-api/internal/domain/entity"
)

// DallE generates images synchronously through the OpenAI images API.
type DallE struct {
	client *restClient
	model  string
}

type dalleRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	Quality        string `json:"quality,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type dalleResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func NewDallE(baseURL, apiKey, model string, timeout time.Duration) *DallE {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = entity.ProviderDallE3.Traits().APIName
	}
	c := newRESTClient(entity.ProviderDallE3, baseURL, timeout, map[string]string{
		"Authorization": "Bearer " + apiKey,
	})
	c.decodeError = func(body []byte) (string, string) {
		var e openAIError
		if json.Unmarshal(body, &e) != nil {
			return "", ""
		}
		code := e.Error.Code
		if code == "" {
			code = e.Error.Type
		}
		return code, e.Error.Message
	}
	return &DallE{client: c, model: model}
}

func (d *DallE) Provider() entity.Provider {
	return entity.ProviderDallE3
}

func (d *DallE) Generate(ctx context.Context, req Request) ([]Image, error) {
	quality := req.Parameters.Quality
	if quality == "" {
		quality = "standard"
	}
	var resp dalleResponse
	err := d.client.do(ctx, http.MethodPost, "/images/generations", dalleRequest{
		Model:          d.model,
		Prompt:         req.Prompt,
		N:              1,
		Size:           req.Size.String(),
		Quality:        quality,
		ResponseFormat: "b64_json",
	}, &resp)
	if err != nil {
		return nil, err
	}

	images := make([]Image, 0, len(resp.Data))
	for _, item := range resp.Data {
		img := Image{
			URL:           item.URL,
			ContentType:   "image/png",
			Width:         req.Size.Width,
			Height:        req.Size.Height,
			RevisedPrompt: item.RevisedPrompt,
		}
		if item.B64JSON != "" {
			data, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return nil, &Error{Provider: entity.ProviderDallE3, Message: "invalid image payload", Err: err}
			}
			img.Data = data
		}
		if img.URL == "" && len(img.Data) == 0 {
			continue
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, &Error{Provider: entity.ProviderDallE3, Message: "no images in response", Transient: true, Err: ErrNoImages}
	}
	return images, nil
}

var _ SyncGenerator = (*DallE)(nil)
