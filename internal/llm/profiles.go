package llm

import (
	"encoding/json"
	"fmt"

	"github.com/duckmesh/sqlagent/internal/params"
)

// Profile describes how one provider family wants prompts wrapped, parameters
// named and responses shaped. Profiles are fixed at package init.
type Profile struct {
	Provider      Provider
	MaxTokensKey  string
	WrapPrompt    func(prompt string) string
	ComposeParams func(resolved params.Resolved) (map[string]any, error)
	ParseResponse func(raw []byte) (Response, error)

	normalizer *params.Normalizer
}

// Normalizer returns a new normalizer for the profile's canonical schema.
func (p Profile) Normalizer() *params.Normalizer {
	return p.normalizer.Clone()
}

var profiles = map[Provider]Profile{
	ProviderAnthropic: {
		Provider:      ProviderAnthropic,
		MaxTokensKey:  "max_tokens_to_sample",
		WrapPrompt:    wrapHumanAssistant,
		ComposeParams: composeAnthropic,
		ParseResponse: parseAnthropic,
		normalizer: Sampling().Extend([]params.Field{
			{Name: "anthropic_version"},
		}, nil),
	},
	ProviderCohere: {
		Provider:      ProviderCohere,
		MaxTokensKey:  "max_tokens",
		WrapPrompt:    passthrough,
		ComposeParams: composeCohere,
		ParseResponse: parseCohere,
		normalizer: Sampling().Extend([]params.Field{
			{Name: "return_likelihoods"},
		}, []params.Alias{
			{From: "returnLikelihoods", To: "return_likelihoods"},
		}),
	},
	ProviderAI21: {
		Provider:      ProviderAI21,
		MaxTokensKey:  "maxTokens",
		WrapPrompt:    passthrough,
		ComposeParams: composeAI21,
		ParseResponse: parseAI21,
		normalizer: Sampling().Extend([]params.Field{
			{Name: "count_penalty"},
			{Name: "presence_penalty"},
			{Name: "frequency_penalty"},
		}, []params.Alias{
			{From: "countPenalty", To: "count_penalty"},
			{From: "presencePenalty", To: "presence_penalty"},
			{From: "frequencyPenalty", To: "frequency_penalty"},
		}),
	},
}

func ProfileFor(provider Provider) (Profile, error) {
	profile, ok := profiles[provider]
	if !ok {
		return Profile{}, &UnsupportedProviderError{Provider: provider.String()}
	}
	return profile, nil
}

func wrapHumanAssistant(prompt string) string {
	return "\n\nHuman: " + prompt + "\n\nAssistant:"
}

func passthrough(prompt string) string {
	return prompt
}

// copyField moves a resolved canonical value to its wire name when present.
func copyField(wire map[string]any, resolved params.Resolved, canonical, wireName string) {
	if value, ok := resolved.Get(canonical); ok && value != nil {
		wire[wireName] = value
	}
}

func composeAnthropic(resolved params.Resolved) (map[string]any, error) {
	wire := map[string]any{}
	copyField(wire, resolved, "max_tokens", "max_tokens_to_sample")
	copyField(wire, resolved, "temperature", "temperature")
	copyField(wire, resolved, "top_k", "top_k")
	copyField(wire, resolved, "top_p", "top_p")
	copyField(wire, resolved, "stop_sequences", "stop_sequences")
	copyField(wire, resolved, "anthropic_version", "anthropic_version")
	return wire, nil
}

func composeCohere(resolved params.Resolved) (map[string]any, error) {
	wire := map[string]any{}
	copyField(wire, resolved, "max_tokens", "max_tokens")
	copyField(wire, resolved, "temperature", "temperature")
	copyField(wire, resolved, "top_p", "p")
	copyField(wire, resolved, "top_k", "k")
	copyField(wire, resolved, "stop_sequences", "stop_sequences")
	copyField(wire, resolved, "return_likelihoods", "return_likelihoods")
	return wire, nil
}

func composeAI21(resolved params.Resolved) (map[string]any, error) {
	wire := map[string]any{}
	copyField(wire, resolved, "max_tokens", "maxTokens")
	copyField(wire, resolved, "temperature", "temperature")
	copyField(wire, resolved, "top_p", "topP")
	copyField(wire, resolved, "stop_sequences", "stopSequences")
	for _, name := range []string{"count_penalty", "presence_penalty", "frequency_penalty"} {
		value, ok := resolved.Get(name)
		if !ok || value == nil {
			continue
		}
		group, err := penaltyGroup(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		wire[params.CamelizeLower(name)] = params.DeepTransformKeys(group, params.CamelizeLower)
	}
	return wire, nil
}

func penaltyGroup(value any) (map[string]any, error) {
	switch typed := value.(type) {
	case Penalty:
		return typed.snakeMap(), nil
	case *Penalty:
		if typed == nil {
			return nil, fmt.Errorf("nil penalty")
		}
		return typed.snakeMap(), nil
	case map[string]any:
		group := zeroPenalty()
		for k, v := range typed {
			group[params.Underscore(k)] = v
		}
		return group, nil
	default:
		return nil, fmt.Errorf("unsupported penalty value %T", value)
	}
}

func usageFrom(input, output, total *int) Usage {
	usage := Usage{InputTokens: input, OutputTokens: output, TotalTokens: total}
	if usage.TotalTokens == nil && input != nil && output != nil {
		usage.TotalTokens = intPtr(*input + *output)
	}
	return usage
}

func parseAnthropic(raw []byte) (Response, error) {
	var payload struct {
		Completion *string `json:"completion"`
		Usage      *struct {
			InputTokens  *int `json:"input_tokens"`
			OutputTokens *int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Response{}, fmt.Errorf("%w: decode anthropic response: %v", ErrMalformedResponse, err)
	}
	if payload.Completion == nil {
		return Response{}, fmt.Errorf("%w: anthropic response has no completion", ErrMalformedResponse)
	}
	resp := Response{Completion: *payload.Completion}
	if payload.Usage != nil {
		resp.Usage = usageFrom(payload.Usage.InputTokens, payload.Usage.OutputTokens, nil)
	}
	return resp, nil
}

func parseCohere(raw []byte) (Response, error) {
	var payload struct {
		Generations []struct {
			Text string `json:"text"`
		} `json:"generations"`
		Meta *struct {
			BilledUnits *struct {
				InputTokens  *int `json:"input_tokens"`
				OutputTokens *int `json:"output_tokens"`
			} `json:"billed_units"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Response{}, fmt.Errorf("%w: decode cohere response: %v", ErrMalformedResponse, err)
	}
	if len(payload.Generations) == 0 {
		return Response{}, fmt.Errorf("%w: cohere response has no generations", ErrMalformedResponse)
	}
	resp := Response{Completion: payload.Generations[0].Text}
	if payload.Meta != nil && payload.Meta.BilledUnits != nil {
		resp.Usage = usageFrom(payload.Meta.BilledUnits.InputTokens, payload.Meta.BilledUnits.OutputTokens, nil)
	}
	return resp, nil
}

func parseAI21(raw []byte) (Response, error) {
	var payload struct {
		Prompt *struct {
			Tokens []json.RawMessage `json:"tokens"`
		} `json:"prompt"`
		Completions []struct {
			Data struct {
				Text   string            `json:"text"`
				Tokens []json.RawMessage `json:"tokens"`
			} `json:"data"`
		} `json:"completions"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Response{}, fmt.Errorf("%w: decode ai21 response: %v", ErrMalformedResponse, err)
	}
	if len(payload.Completions) == 0 {
		return Response{}, fmt.Errorf("%w: ai21 response has no completions", ErrMalformedResponse)
	}
	first := payload.Completions[0]
	var input, output *int
	if payload.Prompt != nil && payload.Prompt.Tokens != nil {
		input = intPtr(len(payload.Prompt.Tokens))
	}
	if first.Data.Tokens != nil {
		output = intPtr(len(first.Data.Tokens))
	}
	return Response{Completion: first.Data.Text, Usage: usageFrom(input, output, nil)}, nil
}
