package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookviz-api/internal/domain/entity"
)

const maxErrorBody = 4 << 10

// restClient is the JSON-over-HTTP plumbing shared by the REST adapters.
type restClient struct {
	provider   entity.Provider
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	// decodeError extracts a code and message from an error body.
	decodeError func(body []byte) (code, message string)
}

func newRESTClient(p entity.Provider, baseURL string, timeout time.Duration, headers map[string]string) *restClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &restClient{
		provider:   p,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *restClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var code, message string
		if c.decodeError != nil {
			code, message = c.decodeError(raw)
		}
		if message == "" {
			message = strings.TrimSpace(string(raw))
		}
		return statusError(c.provider, resp.StatusCode, code, message)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Provider: c.provider, Message: "malformed response", Transient: true, Err: err}
	}
	return nil
}
