package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docpipe/internal/domain"
	"docpipe/internal/interdoc"
	"docpipe/internal/llm"
	"docpipe/internal/port"
)

// defaultMaxChars bounds the document text sent to the model.
const defaultMaxChars = 60000

// Remote extracts answers by prompting an LLM with the document text and the
// schema's leaf fields.
type Remote struct {
	client   port.LLMClient
	maxChars int
}

// NewRemote creates a Remote extractor. A nil client makes every call fail
// with a RemoteUnavailable error.
func NewRemote(client port.LLMClient) *Remote {
	return &Remote{client: client, maxChars: defaultMaxChars}
}

type remoteOutput struct {
	Items []struct {
		Key        string     `json:"key"`
		Value      string     `json:"value"`
		Rows       [][]string `json:"rows"`
		Confidence float64    `json:"confidence"`
	} `json:"items"`
}

func (r *Remote) Extract(ctx context.Context, in port.ExtractInput) (*domain.Answer, error) {
	if r.client == nil {
		return nil, domain.NewPipelineError(domain.KindRemoteUnavailable, "extract", errors.New("no llm provider configured"))
	}
	if in.Doc == nil {
		return nil, errors.New("remote extractor: no parse artifact")
	}

	resp, err := r.client.Complete(ctx, port.LLMRequest{
		System: extractSystemPrompt,
		Prompt: BuildExtractPrompt(in.Schema, DocumentText(in.Doc, r.maxChars)),
	})
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindRemoteUnavailable, "extract", err)
	}

	var out remoteOutput
	if err := llm.DecodeJSON(resp.Text, &out); err != nil {
		return nil, fmt.Errorf("remote extractor (%s): %w", resp.Model, err)
	}

	byKey := make(map[string]int, len(out.Items))
	for i, it := range out.Items {
		byKey[it.Key] = i
	}
	ans := &domain.Answer{SchemaID: in.Schema.ID}
	for _, leaf := range in.Schema.Spec.Leaves() {
		item := domain.AnswerItem{Key: leaf.Path}
		if i, ok := byKey[leaf.Path]; ok {
			got := out.Items[i]
			item.Value = strings.TrimSpace(got.Value)
			item.Confidence = got.Confidence
			if leaf.Field.Type == domain.FieldTable {
				item.Rows = got.Rows
			}
			if leaf.Field.Type == domain.FieldEnum && item.Value != "" && !validOption(leaf.Field, item.Value) {
				item.Value = ""
				item.Confidence = 0
			}
		}
		ans.Items = append(ans.Items, item)
	}
	return ans, nil
}

func validOption(f domain.Field, v string) bool {
	for _, o := range f.Options {
		if strings.EqualFold(o, v) {
			return true
		}
	}
	return false
}

// DocumentText flattens the parse artifact to plain text: paragraphs one per
// line, table rows as pipe separated cells. Output is cut at maxChars runes.
func DocumentText(doc *interdoc.Document, maxChars int) string {
	var sb strings.Builder
	n := 0
	write := func(s string) bool {
		rs := []rune(s)
		if maxChars > 0 && n+len(rs) > maxChars {
			sb.WriteString(string(rs[:maxChars-n]))
			n = maxChars
			return false
		}
		sb.WriteString(s)
		n += len(rs)
		return true
	}
	for _, e := range doc.Elements {
		switch e.Type {
		case interdoc.ElementParagraph:
			if !write(e.TextOf() + "\n") {
				return sb.String()
			}
		case interdoc.ElementTable:
			for _, row := range e.Grid() {
				if !write(strings.Join(row, " | ") + "\n") {
					return sb.String()
				}
			}
		}
	}
	return sb.String()
}
