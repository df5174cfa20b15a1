package extractor

import "docpipe/internal/domain"

// ApplyEdits derives the final answer from preset by replaying edits in
// order. An edit for a key the extractor did not produce is appended.
func ApplyEdits(preset domain.Answer, edits []domain.AnswerEdit) domain.Answer {
	out := domain.Answer{SchemaID: preset.SchemaID, Items: make([]domain.AnswerItem, len(preset.Items))}
	copy(out.Items, preset.Items)

	for _, e := range edits {
		idx := -1
		for i := range out.Items {
			if out.Items[i].Key == e.Key {
				idx = i
				break
			}
		}
		if idx < 0 {
			out.Items = append(out.Items, domain.AnswerItem{Key: e.Key})
			idx = len(out.Items) - 1
		}
		out.Items[idx].Value = e.Value
		if e.Rows != nil {
			out.Items[idx].Rows = [][]string(e.Rows)
		}
		out.Items[idx].Confidence = 1
	}
	return out
}
