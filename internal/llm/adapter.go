package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/duckmesh/sqlagent/internal/observability"
)

// Completer is the single completion call the agent depends on.
type Completer interface {
	Complete(ctx context.Context, req Request, modelID string) (Response, error)
}

// Adapter turns canonical requests into provider wire payloads, sends them
// through a Transport and maps responses back. It holds no per-call state and
// is safe for concurrent use.
type Adapter struct {
	transport Transport
	defaults  Defaults
	logger    *slog.Logger
}

type Option func(*Adapter)

func WithDefaults(defaults Defaults) Option {
	return func(a *Adapter) {
		a.defaults = defaults
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAdapter(transport Transport, opts ...Option) (*Adapter, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	a := &Adapter{
		transport: transport,
		defaults:  DefaultSettings(),
		logger:    observability.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adapter) Defaults() Defaults {
	return a.defaults
}

// ComposeWire builds the provider-specific request body for modelID without
// sending it.
func (a *Adapter) ComposeWire(req Request, modelID string) (Profile, map[string]any, error) {
	provider, err := ParseProvider(modelID)
	if err != nil {
		return Profile{}, nil, err
	}
	profile, err := ProfileFor(provider)
	if err != nil {
		return Profile{}, nil, err
	}

	// Caller aliases are folded to canonical names first so they win over
	// defaults stored under the canonical name.
	merged := a.defaults.Map()
	profile.Normalizer().Resolve(req.Params).Each(func(key string, value any) {
		if value != nil {
			merged[key] = value
		}
	})
	resolved := profile.Normalizer().Resolve(merged)

	wire, err := profile.ComposeParams(resolved)
	if err != nil {
		return Profile{}, nil, fmt.Errorf("compose %s parameters: %w", provider, err)
	}
	wire["prompt"] = profile.WrapPrompt(req.Prompt)
	return profile, wire, nil
}

func (a *Adapter) Complete(ctx context.Context, req Request, modelID string) (Response, error) {
	profile, wire, err := a.ComposeWire(req, modelID)
	if err != nil {
		return Response{}, err
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return Response{}, fmt.Errorf("marshal %s request: %w", profile.Provider, err)
	}

	provider := profile.Provider.String()
	start := time.Now()
	raw, err := a.transport.Invoke(ctx, Invocation{ModelID: modelID, Body: body})
	if err != nil {
		observability.ObserveBackendCall(provider, "error", time.Since(start))
		a.logger.WarnContext(ctx, "completion backend call failed",
			append(observability.ContextAttrs(ctx),
				slog.String("provider", provider),
				slog.String("model", modelID),
				slog.String("error", err.Error()),
			)...,
		)
		return Response{}, err
	}

	resp, err := profile.ParseResponse(raw)
	if err != nil {
		observability.ObserveBackendCall(provider, "malformed", time.Since(start))
		return Response{}, err
	}
	observability.ObserveBackendCall(provider, "ok", time.Since(start))
	if resp.Usage.InputTokens != nil {
		observability.ObserveBackendTokens(provider, "input", *resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != nil {
		observability.ObserveBackendTokens(provider, "output", *resp.Usage.OutputTokens)
	}
	resp.Model = modelID
	resp.Raw = json.RawMessage(raw)

	a.logger.DebugContext(ctx, "completion backend call",
		append(observability.ContextAttrs(ctx),
			slog.String("provider", provider),
			slog.String("model", modelID),
			slog.Duration("elapsed", time.Since(start)),
			slog.Int("completion_chars", len(resp.Completion)),
		)...,
	)
	return resp, nil
}
