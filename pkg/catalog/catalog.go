// Package catalog holds the static model pricing table used to validate and
// meter inference requests.
package catalog

import (
	"sort"
)

// Model describes pricing and capability metadata for one backend model.
type Model struct {
	Name                 string  `json:"name" yaml:"name"`
	CostPerMillionTokens float64 `json:"cost_per_million_tokens" yaml:"cost_per_million_tokens"`
	ContextWindow        int     `json:"context_window" yaml:"context_window"`
}

// Catalog is an immutable lookup of models by name.
type Catalog struct {
	models map[string]Model
}

// New builds a Catalog. Later entries override earlier ones with the same name.
func New(models []Model) *Catalog {
	m := make(map[string]Model, len(models))
	for _, mod := range models {
		m[mod.Name] = mod
	}
	return &Catalog{models: m}
}

// Default returns the built-in serverless inference catalog.
func Default() *Catalog {
	return New(DefaultModels())
}

// DefaultModels lists the models served by the default inference endpoint.
func DefaultModels() []Model {
	return []Model{
		{Name: "llama3.1-8b-instruct", CostPerMillionTokens: 0.07, ContextWindow: 131072},
		{Name: "llama3.1-70b-instruct-fp8", CostPerMillionTokens: 0.35, ContextWindow: 131072},
		{Name: "llama3.3-70b-instruct-fp8", CostPerMillionTokens: 0.35, ContextWindow: 131072},
		{Name: "llama-4-scout-17b-16e-instruct", CostPerMillionTokens: 0.10, ContextWindow: 1000000},
		{Name: "llama-4-maverick-17b-128e-instruct-fp8", CostPerMillionTokens: 0.18, ContextWindow: 1000000},
		{Name: "hermes3-405b", CostPerMillionTokens: 0.80, ContextWindow: 131072},
		{Name: "deepseek-r1-671b", CostPerMillionTokens: 0.88, ContextWindow: 163840},
		{Name: "qwen25-coder-32b-instruct", CostPerMillionTokens: 0.07, ContextWindow: 32768},
	}
}

// Lookup returns the model with the given name.
func (c *Catalog) Lookup(name string) (Model, bool) {
	m, ok := c.models[name]
	return m, ok
}

// Models returns all models sorted by name.
func (c *Catalog) Models() []Model {
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Cost prices tokens for a model. Unknown models cost nothing.
func (c *Catalog) Cost(name string, tokens int) float64 {
	m, ok := c.models[name]
	if !ok {
		return 0
	}
	return float64(tokens) / 1_000_000 * m.CostPerMillionTokens
}
