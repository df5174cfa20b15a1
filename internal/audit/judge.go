package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docpipe/internal/domain"
	"docpipe/internal/llm"
	"docpipe/internal/port"
)

const judgeSystemPrompt = `You are a compliance reviewer. You check extracted document answers against a review scenario. Return ONLY valid JSON with no markdown formatting and no explanation.`

// JudgeRuleKey is the rule key of LLM judge results.
const JudgeRuleKey = "llm_judge"

// Judge asks an LLM whether each answered field complies with a scenario.
type Judge struct {
	client port.LLMClient
}

// NewJudge creates a Judge. A nil client disables judging.
func NewJudge(client port.LLMClient) *Judge {
	return &Judge{client: client}
}

// Enabled reports whether an LLM provider is configured.
func (j *Judge) Enabled() bool {
	return j != nil && j.client != nil
}

type judgeOutput struct {
	Results []struct {
		Field      string   `json:"field"`
		Compliant  bool     `json:"compliant"`
		Reasons    []string `json:"reasons"`
		Suggestion string   `json:"suggestion"`
	} `json:"results"`
}

// Judge evaluates the final answer of q under scenario.
func (j *Judge) Judge(ctx context.Context, scenario string, q *domain.Question, schema *domain.Schema) ([]domain.AuditResult, error) {
	if !j.Enabled() {
		return nil, domain.NewPipelineError(domain.KindRemoteUnavailable, "judge", errors.New("no llm provider configured"))
	}
	resp, err := j.client.Complete(ctx, port.LLMRequest{
		System: judgeSystemPrompt,
		Prompt: buildJudgePrompt(scenario, schema, q.Answer),
	})
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindRemoteUnavailable, "judge", err)
	}
	var out judgeOutput
	if err := llm.DecodeJSON(resp.Text, &out); err != nil {
		return nil, fmt.Errorf("judge (%s): %w", resp.Model, err)
	}

	results := make([]domain.AuditResult, 0, len(out.Results))
	for seq, r := range out.Results {
		if schema.Spec.Position(r.Field) < 0 {
			continue
		}
		pointers := domain.StringList{r.Field}
		reasons := domain.StringList(r.Reasons)
		if reasons == nil {
			reasons = domain.StringList{}
		}
		results = append(results, domain.AuditResult{
			FileID:         q.FileID,
			SchemaID:       q.SchemaID,
			QuestionID:     q.ID,
			RuleKey:        JudgeRuleKey,
			Origin:         domain.OriginFinal,
			Kind:           domain.AuditKindLLM,
			IsCompliant:    r.Compliant,
			Suggestion:     r.Suggestion,
			Reasons:        reasons,
			SchemaPointers: pointers,
			OrderingKey:    OrderingKey(schema, pointers, seq),
		})
	}
	return results, nil
}

func buildJudgePrompt(scenario string, schema *domain.Schema, answer domain.Answer) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SCENARIO:\n%s\n\nANSWERS:\n", scenario)
	for _, leaf := range schema.Spec.Leaves() {
		it, _ := answer.Item(leaf.Path)
		if leaf.Field.Type == domain.FieldTable {
			fmt.Fprintf(&sb, "- %s: %d rows\n", leaf.Path, len(it.Rows))
			for _, row := range it.Rows {
				fmt.Fprintf(&sb, "    %s\n", strings.Join(row, " | "))
			}
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", leaf.Path, it.Value)
	}
	sb.WriteString(`
For every field listed above decide whether the answer complies with the scenario.
Return a JSON object of the form:
{"results": [{"field": "<field>", "compliant": true, "reasons": ["..."], "suggestion": "..."}]}
`)
	return sb.String()
}
