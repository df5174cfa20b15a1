package extractor

import (
	"fmt"
	"strings"

	"docpipe/internal/domain"
)

const extractSystemPrompt = `You are a document data extraction assistant. You read the text of a parsed document and fill in the requested fields. Return ONLY valid JSON with no markdown formatting and no explanation.`

// BuildExtractPrompt returns the extraction prompt for one schema.
func BuildExtractPrompt(schema *domain.Schema, text string) string {
	var sb strings.Builder
	sb.WriteString("Extract the following fields from the document.\n\nFIELDS:\n")
	for _, leaf := range schema.Spec.Leaves() {
		f := leaf.Field
		switch f.Type {
		case domain.FieldEnum:
			fmt.Fprintf(&sb, "- %s (one of: %s)\n", leaf.Path, strings.Join(f.Options, ", "))
		case domain.FieldTable:
			fmt.Fprintf(&sb, "- %s (table with columns: %s)\n", leaf.Path, strings.Join(f.Columns, ", "))
		default:
			fmt.Fprintf(&sb, "- %s (text)\n", leaf.Path)
		}
	}
	sb.WriteString(`
Return a JSON object of the form:
{"items": [{"key": "<field>", "value": "<text>", "rows": [["<cell>", ...]], "confidence": 0.0}]}

IMPORTANT INSTRUCTIONS:
- Use the field names exactly as listed as "key".
- For table fields fill "rows" in the listed column order and leave "value" empty.
- For enum fields "value" must be one of the listed options, or empty if none applies.
- Leave "value" empty when the document does not contain the field. Do not guess.
- "confidence" is between 0 and 1.

DOCUMENT:
`)
	sb.WriteString(text)
	return sb.String()
}
