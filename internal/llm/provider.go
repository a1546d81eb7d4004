// Package llm defines the narration provider contract and its backends.
//
// A Provider turns a system prompt, a user prompt and optional context into
// text plus token usage. Backends are selected by name from a Registry that
// is populated explicitly at startup.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Provider generates narration text
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// HealthChecker is implemented by providers that can report reachability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Request is one generation call
type Request struct {
	System  string
	User    string
	Context string // optional, empty when unused
}

// Usage is the token accounting reported by a backend. Zero when unknown.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a generation call
type Response struct {
	Text  string
	Usage Usage
}

// Params is the construction parameter bag declared in configuration
type Params map[string]any

// String returns a string parameter or def
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Float returns a numeric parameter or def
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Int returns an integer parameter or def
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Bool returns a boolean parameter or def
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Duration accepts either a Go duration string ("90s") or a number of seconds
func (p Params) Duration(key string, def time.Duration) time.Duration {
	switch v := p[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int, int64, float64:
		return time.Duration(p.Float(key, 0) * float64(time.Second))
	}
	return def
}

// Constructor builds a provider from its parameters
type Constructor func(params Params) (Provider, error)

// Registry maps provider names to constructors
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under name, replacing any previous one
func (r *Registry) Register(name string, ctor Constructor) {
	r.ctors[name] = ctor
}

// Names returns the registered provider names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the provider registered under name
func (r *Registry) New(name string, params Params) (Provider, error) {
	ctor, ok := r.ctors[name]
	if !ok {
		return nil, &ConfigurationError{
			Provider: name,
			Reason:   fmt.Sprintf("unknown provider (registered: %s)", strings.Join(r.Names(), ", ")),
		}
	}
	if params == nil {
		params = Params{}
	}
	return ctor(params)
}

// SelfCheck verifies that every named provider is registered
func (r *Registry) SelfCheck(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := r.ctors[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{
			Provider: strings.Join(missing, ", "),
			Reason:   fmt.Sprintf("not registered (registered: %s)", strings.Join(r.Names(), ", ")),
		}
	}
	return nil
}

// Shipped backend names
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// DefaultRegistry returns a registry holding every shipped backend
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ProviderOllama, NewOllama)
	r.Register(ProviderOpenAI, NewOpenAI)
	r.Register(ProviderGemini, NewGemini)
	return r
}

// ShippedProviders lists the backends DefaultRegistry must contain
func ShippedProviders() []string {
	return []string{ProviderGemini, ProviderOllama, ProviderOpenAI}
}

// EstimateTokens approximates the token count of the given text at four
// characters per token. It never returns less than 1.
func EstimateTokens(chunks ...string) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	if n/4 < 1 {
		return 1
	}
	return n / 4
}
