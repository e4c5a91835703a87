package llm

import "github.com/duckmesh/sqlagent/internal/params"

const DefaultModel = "anthropic.claude-v2"

// Defaults is an immutable set of canonical parameter values applied beneath
// every request. With returns a modified copy; the receiver never changes.
type Defaults struct {
	values map[string]any
}

func zeroPenalty() map[string]any {
	return Penalty{}.snakeMap()
}

func samplingFields() []params.Field {
	return []params.Field{
		{Name: "max_tokens", Default: 300, Description: "maximum tokens to generate"},
		{Name: "temperature", Default: 1.0},
		{Name: "top_k", Default: 250},
		{Name: "top_p", Default: 0.999},
		{Name: "stop_sequences", Default: []string{"\n\nHuman:"}},
	}
}

func samplingAliases() []params.Alias {
	return []params.Alias{
		{From: "max_tokens_to_sample", To: "max_tokens"},
		{From: "maxTokens", To: "max_tokens"},
		{From: "topK", To: "top_k"},
		{From: "k", To: "top_k"},
		{From: "topP", To: "top_p"},
		{From: "p", To: "top_p"},
		{From: "stop", To: "stop_sequences"},
		{From: "stopSequences", To: "stop_sequences"},
	}
}

// Sampling returns a fresh normalizer for the parameters every provider
// family shares.
func Sampling() *params.Normalizer {
	return params.New(samplingFields(), samplingAliases())
}

func DefaultSettings() Defaults {
	n := Sampling().Extend([]params.Field{
		{Name: "anthropic_version", Default: "bedrock-2023-05-31"},
		{Name: "return_likelihoods", Default: "NONE"},
		{Name: "count_penalty", Default: zeroPenalty()},
		{Name: "presence_penalty", Default: zeroPenalty()},
		{Name: "frequency_penalty", Default: zeroPenalty()},
	}, nil)
	return Defaults{values: n.Defaults()}
}

func (d Defaults) With(overrides map[string]any) Defaults {
	values := d.Map()
	for k, v := range overrides {
		values[k] = v
	}
	return Defaults{values: values}
}

func (d Defaults) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Map returns a copy of the default values.
func (d Defaults) Map() map[string]any {
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}
