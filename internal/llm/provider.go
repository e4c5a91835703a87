package llm

import (
	"strings"

	"github.com/duckmesh/sqlagent/internal/tokens"
)

type Provider int

const (
	ProviderAnthropic Provider = iota + 1
	ProviderCohere
	ProviderAI21
)

var providerNames = map[Provider]string{
	ProviderAnthropic: "anthropic",
	ProviderCohere:    "cohere",
	ProviderAI21:      "ai21",
}

func (p Provider) String() string {
	if name, ok := providerNames[p]; ok {
		return name
	}
	return "unknown"
}

func SupportedProviders() []Provider {
	return []Provider{ProviderAnthropic, ProviderCohere, ProviderAI21}
}

// ParseProvider classifies a model identifier by its family prefix.
func ParseProvider(modelID string) (Provider, error) {
	family := strings.ToLower(tokens.Family(modelID))
	for provider, name := range providerNames {
		if name == family {
			return provider, nil
		}
	}
	return 0, &UnsupportedProviderError{ModelID: modelID, Provider: family}
}
