// Package tokens estimates prompt sizes per model family and derives the
// generation budget left inside a model's context window.
package tokens

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

var (
	ErrUnsupportedModel    = errors.New("unsupported model")
	ErrTokenBudgetExceeded = errors.New("token budget exceeded")
)

type UnsupportedModelError struct {
	ModelID string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("no token counting rule for model %q", e.ModelID)
}

func (e *UnsupportedModelError) Unwrap() error { return ErrUnsupportedModel }

type BudgetExceededError struct {
	ModelID       string
	ContextWindow int
	PromptTokens  int
	SafetyMargin  int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("prompt uses %d of %d context tokens for model %q (safety margin %d); nothing left to generate",
		e.PromptTokens, e.ContextWindow, e.ModelID, e.SafetyMargin)
}

func (e *BudgetExceededError) Unwrap() error { return ErrTokenBudgetExceeded }

type Counter interface {
	Count(text, modelID string) (int, error)
	ContextWindow(modelID string) (int, error)
}

// Rule counts the tokens of text for one model family.
type Rule func(text string) int

type Registry struct {
	mu            sync.RWMutex
	rules         map[string]Rule
	familyWindows map[string]int
	modelWindows  map[string]int
}

// NewRegistry returns a registry preloaded with the families served through
// Bedrock.
func NewRegistry() *Registry {
	r := &Registry{
		rules:         map[string]Rule{},
		familyWindows: map[string]int{},
		modelWindows:  map[string]int{},
	}
	r.Register("anthropic", CharacterRule(3.5), 100000)
	r.Register("cohere", WordRule(4, 3), 4096)
	r.Register("ai21", AI21Rule, 8191)
	r.Register("amazon", CharacterRule(4), 8000)
	r.Register("meta", CharacterRule(4), 4096)

	r.SetContextWindow("anthropic.claude-v2", 100000)
	r.SetContextWindow("anthropic.claude-v2:1", 200000)
	r.SetContextWindow("anthropic.claude-instant-v1", 100000)
	r.SetContextWindow("cohere.command-text-v14", 4096)
	r.SetContextWindow("cohere.command-light-text-v14", 4096)
	r.SetContextWindow("ai21.j2-ultra-v1", 8191)
	r.SetContextWindow("ai21.j2-mid-v1", 8191)
	r.SetContextWindow("amazon.titan-text-express-v1", 8000)
	return r
}

// Register installs (or replaces) the counting rule and default context
// window for a family.
func (r *Registry) Register(family string, rule Rule, window int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	family = strings.ToLower(family)
	r.rules[family] = rule
	if window > 0 {
		r.familyWindows[family] = window
	}
}

func (r *Registry) SetContextWindow(modelID string, window int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelWindows[normalizeModel(modelID)] = window
}

func (r *Registry) Count(text, modelID string) (int, error) {
	r.mu.RLock()
	rule, ok := r.rules[Family(modelID)]
	r.mu.RUnlock()
	if !ok {
		return 0, &UnsupportedModelError{ModelID: modelID}
	}
	return rule(text), nil
}

func (r *Registry) ContextWindow(modelID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if window, ok := r.modelWindows[normalizeModel(modelID)]; ok {
		return window, nil
	}
	if window, ok := r.familyWindows[Family(modelID)]; ok {
		return window, nil
	}
	return 0, &UnsupportedModelError{ModelID: modelID}
}

// Family is the lowercased part of a model identifier before its first dot.
func Family(modelID string) string {
	family, _, _ := strings.Cut(normalizeModel(modelID), ".")
	return family
}

func normalizeModel(modelID string) string {
	return strings.ToLower(strings.TrimSpace(modelID))
}

// Budget returns how many tokens may be generated for prompt: the context
// window minus prompt tokens minus margin, capped at maxTokens when
// maxTokens > 0. A budget of zero or less is an error.
func Budget(counter Counter, modelID, prompt string, maxTokens, margin int) (int, error) {
	window, err := counter.ContextWindow(modelID)
	if err != nil {
		return 0, err
	}
	used, err := counter.Count(prompt, modelID)
	if err != nil {
		return 0, err
	}
	if margin < 0 {
		margin = 0
	}
	remaining := window - used - margin
	if remaining <= 0 {
		return 0, &BudgetExceededError{
			ModelID:       modelID,
			ContextWindow: window,
			PromptTokens:  used,
			SafetyMargin:  margin,
		}
	}
	if maxTokens > 0 && maxTokens < remaining {
		return maxTokens, nil
	}
	return remaining, nil
}

func CharacterRule(charsPerToken float64) Rule {
	return func(text string) int {
		n := utf8.RuneCountInString(text)
		if n == 0 {
			return 0
		}
		return int(math.Ceil(float64(n) / charsPerToken))
	}
}

// WordRule estimates num/den tokens per whitespace-separated word, rounded up.
func WordRule(num, den int) Rule {
	if den <= 0 {
		den = 1
	}
	return func(text string) int {
		n := len(strings.Fields(text))
		return (n*num + den - 1) / den
	}
}

// AI21Rule counts runs of letters/digits and every punctuation or symbol rune
// as separate tokens.
func AI21Rule(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			count++
			inWord = false
		}
	}
	return count
}
