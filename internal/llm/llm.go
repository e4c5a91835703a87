// Package llm hides the wire differences between text-generation backends
// behind a single completion call.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrAuthentication      = errors.New("backend authentication failed")
	ErrMalformedResponse   = errors.New("malformed backend response")
)

type UnsupportedProviderError struct {
	ModelID  string
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("completion provider %q (model %q) is not supported", e.Provider, e.ModelID)
}

func (e *UnsupportedProviderError) Unwrap() error { return ErrUnsupportedProvider }

// TransportError is returned by transports for failed invocations that are
// not authentication failures.
type TransportError struct {
	ModelID    string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("invoke model %q: status %d: %v", e.ModelID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("invoke model %q: %v", e.ModelID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Request is a backend-agnostic completion request. Params uses canonical
// field names (max_tokens, temperature, top_p, ...).
type Request struct {
	Prompt string
	Params map[string]any
}

type Usage struct {
	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty"`
	TotalTokens  *int `json:"total_tokens,omitempty"`
}

func (u Usage) Reported() bool {
	return u.InputTokens != nil || u.OutputTokens != nil || u.TotalTokens != nil
}

type Response struct {
	Completion string
	Usage      Usage
	Model      string
	Raw        json.RawMessage
}

type Invocation struct {
	ModelID string
	Body    []byte
}

// Transport performs the network call for an already composed request body
// and returns the raw response payload.
type Transport interface {
	Invoke(ctx context.Context, invocation Invocation) ([]byte, error)
}

// Penalty is the nested penalty group used by the ai21 family.
type Penalty struct {
	Scale               float64 `json:"scale"`
	ApplyToWhitespaces  bool    `json:"apply_to_whitespaces"`
	ApplyToPunctuations bool    `json:"apply_to_punctuations"`
	ApplyToNumbers      bool    `json:"apply_to_numbers"`
	ApplyToStopwords    bool    `json:"apply_to_stopwords"`
	ApplyToEmojis       bool    `json:"apply_to_emojis"`
}

func (p Penalty) snakeMap() map[string]any {
	return map[string]any{
		"scale":                 p.Scale,
		"apply_to_whitespaces":  p.ApplyToWhitespaces,
		"apply_to_punctuations": p.ApplyToPunctuations,
		"apply_to_numbers":      p.ApplyToNumbers,
		"apply_to_stopwords":    p.ApplyToStopwords,
		"apply_to_emojis":       p.ApplyToEmojis,
	}
}

func intPtr(v int) *int { return &v }
