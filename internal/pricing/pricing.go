// Package pricing turns token usage into a token-credit cost.
package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/qstarmachine/billing/internal/domain"
	"gopkg.in/yaml.v3"
)

// Token types a rate can be applied to.
const (
	TokenTypePrompt     = "prompt"
	TokenTypeCompletion = "completion"
)

// Rate is the credit multiplier per token for one model family.
type Rate struct {
	Prompt     float64 `yaml:"prompt" json:"prompt"`
	Completion float64 `yaml:"completion" json:"completion"`
}

// Operation describes a consumption request in enough detail to price it.
type Operation struct {
	Model     string  `json:"model" validate:"required"`
	Endpoint  string  `json:"endpoint"`
	ValueKey  string  `json:"valueKey"`
	TokenType string  `json:"tokenType" validate:"required,oneof=prompt completion"`
	Amount    float64 `json:"amount" validate:"gte=0"`

	// EndpointTokenConfig overrides the registry for custom endpoints, keyed by model.
	EndpointTokenConfig map[string]Rate `json:"endpointTokenConfig,omitempty"`
}

// Registry resolves multipliers from a rate table. It is read-only after construction.
type Registry struct {
	rates map[string]Rate
	keys  []string // longest first, for substring matching
}

// DefaultRates returns the built-in rate table.
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		"gpt-3.5-turbo":   {Prompt: 0.5, Completion: 1.5},
		"gpt-4":           {Prompt: 30, Completion: 60},
		"gpt-4-1106":      {Prompt: 10, Completion: 30},
		"gpt-4o":          {Prompt: 5, Completion: 15},
		"gpt-4o-mini":     {Prompt: 0.15, Completion: 0.6},
		"claude-3-opus":   {Prompt: 15, Completion: 75},
		"claude-3-sonnet": {Prompt: 3, Completion: 15},
		"claude-3-haiku":  {Prompt: 0.25, Completion: 1.25},
		"gemini":          {Prompt: 0.5, Completion: 1.5},
	}
}

// NewRegistry builds a registry from a rate table.
func NewRegistry(rates map[string]Rate) *Registry {
	r := &Registry{rates: make(map[string]Rate, len(rates))}
	for k, v := range rates {
		r.rates[k] = v
		r.keys = append(r.keys, k)
	}
	sort.Slice(r.keys, func(i, j int) bool {
		if len(r.keys[i]) != len(r.keys[j]) {
			return len(r.keys[i]) > len(r.keys[j])
		}
		return r.keys[i] < r.keys[j]
	})
	return r
}

type fileFormat struct {
	Rates map[string]Rate `yaml:"rates"`
}

// LoadFile reads a YAML rate table. An empty path yields the default table.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultRates()), nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}
	if len(f.Rates) == 0 {
		return nil, fmt.Errorf("pricing file %s defines no rates", path)
	}
	return NewRegistry(f.Rates), nil
}

// ValueKey returns the rate key matching model, preferring the most specific key.
func (r *Registry) ValueKey(model string) (string, bool) {
	if _, ok := r.rates[model]; ok {
		return model, true
	}
	for _, k := range r.keys {
		if strings.Contains(model, k) {
			return k, true
		}
	}
	return "", false
}

// Multiplier resolves the per-token multiplier for op.
// Unknown models, keys, or token types are errors, never a default rate.
func (r *Registry) Multiplier(op Operation) (float64, error) {
	var rate Rate
	if op.EndpointTokenConfig != nil {
		cfg, ok := op.EndpointTokenConfig[op.Model]
		if !ok {
			return 0, domain.ErrPricingNotFound(fmt.Sprintf("no endpoint pricing for model %q", op.Model))
		}
		rate = cfg
	} else {
		key := op.ValueKey
		if key == "" {
			var ok bool
			if key, ok = r.ValueKey(op.Model); !ok {
				return 0, domain.ErrPricingNotFound(fmt.Sprintf("no pricing registered for model %q", op.Model))
			}
		}
		var ok bool
		if rate, ok = r.rates[key]; !ok {
			return 0, domain.ErrPricingNotFound(fmt.Sprintf("no pricing registered for key %q", key))
		}
	}

	switch op.TokenType {
	case TokenTypePrompt:
		return rate.Prompt, nil
	case TokenTypeCompletion:
		return rate.Completion, nil
	default:
		return 0, domain.ErrPricingNotFound(fmt.Sprintf("unknown token type %q", op.TokenType))
	}
}

// TokenCost returns Amount * Multiplier(op).
func (r *Registry) TokenCost(op Operation) (float64, error) {
	if op.Amount < 0 {
		return 0, domain.ErrValidation("token amount must not be negative")
	}
	m, err := r.Multiplier(op)
	if err != nil {
		return 0, err
	}
	return op.Amount * m, nil
}
