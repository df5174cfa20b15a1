// Package audit evaluates audit rules and the LLM judge over the answers of
// a file and persists the results.
package audit

import (
	"encoding/json"
	"fmt"

	"docpipe/internal/domain"
)

// Finding is the outcome of a check for one field.
type Finding struct {
	Compliant  bool
	FieldPath  string
	Expected   string
	Actual     string
	Message    string
	Suggestion string
}

// Check evaluates one configured rule against an answer.
type Check interface {
	Evaluate(schema *domain.Schema, answer domain.Answer) []Finding
}

// Factory builds a Check from a rule's JSON config.
type Factory func(config json.RawMessage) (Check, error)

// Registry maps rule kinds to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Build returns the Check for rule, or an error if its kind is unknown or
// its config does not decode.
func (r *Registry) Build(rule domain.AuditRule) (Check, error) {
	f, ok := r.factories[rule.Kind]
	if !ok {
		return nil, fmt.Errorf("no check registered for kind %q", rule.Kind)
	}
	return f(rule.Config)
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	return out
}

// Builtin returns a registry holding the built-in rule kinds.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(KindRequired, newRequired)
	r.Register(KindEnum, newEnum)
	r.Register(KindPattern, newPattern)
	r.Register(KindTableNotEmpty, newTableNotEmpty)
	return r
}

func decodeConfig(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding rule config: %w", err)
	}
	return nil
}
