package audit

import (
	"sort"
	"strings"

	"docpipe/internal/domain"
	"docpipe/internal/logger"
)

// Engine turns the active rules of a schema into audit results.
type Engine struct {
	registry *Registry
	log      *logger.Logger
}

// NewEngine creates an Engine over registry.
func NewEngine(registry *Registry, log *logger.Logger) *Engine {
	return &Engine{registry: registry, log: log}
}

// OrderingKey places a result by the schema position of its first pointer,
// then by seq. Pointers outside the schema sort after every field.
func OrderingKey(schema *domain.Schema, pointers []string, seq int) int {
	pos := -1
	if len(pointers) > 0 {
		pos = schema.Spec.Position(pointers[0])
	}
	if pos < 0 {
		pos = len(schema.Spec.Leaves())
	}
	return pos*1000 + seq
}

// Audit evaluates rules in order against one answer of q. Each rule yields
// one result; rules that cannot be built are logged and skipped.
func (e *Engine) Audit(q *domain.Question, schema *domain.Schema, rules []domain.AuditRule, origin domain.AnswerOrigin) []domain.AuditResult {
	answer := q.Answer
	if origin == domain.OriginPreset {
		answer = q.AnswerPreset
	}

	out := make([]domain.AuditResult, 0, len(rules))
	for seq, rule := range rules {
		check, err := e.registry.Build(rule)
		if err != nil {
			e.log.Warn("audit.Engine: skipping rule", "rule_key", rule.RuleKey, "schema_id", schema.ID, "error", err)
			continue
		}
		findings := check.Evaluate(schema, answer)

		res := domain.AuditResult{
			FileID:      q.FileID,
			SchemaID:    q.SchemaID,
			QuestionID:  q.ID,
			RuleKey:     rule.RuleKey,
			Origin:      origin,
			Kind:        domain.AuditKindRule,
			IsCompliant: true,
		}
		var failed, all []string
		var suggestions []string
		res.Reasons = domain.StringList{}
		for _, f := range findings {
			all = append(all, f.FieldPath)
			if f.Compliant {
				continue
			}
			res.IsCompliant = false
			failed = append(failed, f.FieldPath)
			res.Reasons = append(res.Reasons, f.Message)
			if f.Suggestion != "" {
				suggestions = append(suggestions, f.Suggestion)
			}
		}
		pointers := all
		if !res.IsCompliant {
			pointers = failed
		}
		res.SchemaPointers = sortedByPosition(schema, pointers)
		res.Suggestion = strings.Join(suggestions, "; ")
		res.OrderingKey = OrderingKey(schema, res.SchemaPointers, seq)
		out = append(out, res)
	}
	return out
}

// sortedByPosition orders pointers by schema position, keeping the relative
// order of pointers outside the schema.
func sortedByPosition(schema *domain.Schema, pointers []string) domain.StringList {
	out := make(domain.StringList, len(pointers))
	copy(out, pointers)
	pos := func(p string) int {
		if i := schema.Spec.Position(p); i >= 0 {
			return i
		}
		return len(schema.Spec.Leaves())
	}
	sort.SliceStable(out, func(i, j int) bool { return pos(out[i]) < pos(out[j]) })
	return out
}
