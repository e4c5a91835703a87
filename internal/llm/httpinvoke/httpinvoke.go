// Package httpinvoke posts composed completion requests to an HTTP endpoint
// that speaks the Bedrock invoke path layout, such as Bedrock API-key mode or
// an internal gateway.
package httpinvoke

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/duckmesh/sqlagent/internal/llm"
)

const maxErrorBody = 4 << 10

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Transport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(cfg Config) (*Transport, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Transport{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (t *Transport) Invoke(ctx context.Context, invocation llm.Invocation) ([]byte, error) {
	endpoint := t.baseURL + "/model/" + url.PathEscape(invocation.ModelID) + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(invocation.Body))
	if err != nil {
		return nil, fmt.Errorf("build invoke request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &llm.TransportError{ModelID: invocation.ModelID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &llm.TransportError{ModelID: invocation.ModelID, StatusCode: resp.StatusCode, Err: fmt.Errorf("read invoke response body: %w", err)}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", llm.ErrAuthentication, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, &llm.TransportError{
			ModelID:    invocation.ModelID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("body=%s", truncate(body, maxErrorBody)),
		}
	}
	return body, nil
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
