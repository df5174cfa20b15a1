package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"docpipe/internal/domain"
)

// Built-in rule kinds.
const (
	KindRequired      = "required"
	KindEnum          = "enum"
	KindPattern       = "pattern"
	KindTableNotEmpty = "table_not_empty"
)

// requiredCheck checks that fields are not empty. Without configured fields
// every leaf flagged Required in the schema is checked.
type requiredCheck struct {
	Fields []string `json:"fields"`
}

func newRequired(raw json.RawMessage) (Check, error) {
	c := &requiredCheck{}
	return c, decodeConfig(raw, c)
}

func (c *requiredCheck) Evaluate(schema *domain.Schema, answer domain.Answer) []Finding {
	fields := c.Fields
	if len(fields) == 0 {
		for _, leaf := range schema.Spec.Leaves() {
			if leaf.Field.Required {
				fields = append(fields, leaf.Path)
			}
		}
	}
	out := make([]Finding, 0, len(fields))
	for _, path := range fields {
		it, _ := answer.Item(path)
		present := strings.TrimSpace(it.Value) != "" || len(it.Rows) > 0
		f := Finding{
			Compliant: present,
			FieldPath: path,
			Expected:  "non-empty value",
			Actual:    it.Value,
			Message:   fmt.Sprintf("%s is present", path),
		}
		if !present {
			f.Message = fmt.Sprintf("%s is missing or empty", path)
			f.Suggestion = fmt.Sprintf("fill in %s", path)
		}
		out = append(out, f)
	}
	return out
}

// enumCheck checks that a field holds one of the allowed options. Options
// default to the schema's enum options for the field.
type enumCheck struct {
	Field   string   `json:"field"`
	Options []string `json:"options"`
}

func newEnum(raw json.RawMessage) (Check, error) {
	c := &enumCheck{}
	if err := decodeConfig(raw, c); err != nil {
		return nil, err
	}
	if c.Field == "" {
		return nil, errors.New("enum rule: field is required")
	}
	return c, nil
}

func (c *enumCheck) Evaluate(schema *domain.Schema, answer domain.Answer) []Finding {
	options := c.Options
	if len(options) == 0 {
		for _, leaf := range schema.Spec.Leaves() {
			if leaf.Path == c.Field {
				options = leaf.Field.Options
			}
		}
	}
	it, _ := answer.Item(c.Field)
	expected := strings.Join(options, "|")
	if it.Value == "" {
		return []Finding{{Compliant: true, FieldPath: c.Field, Expected: expected,
			Message: fmt.Sprintf("%s is empty, skipping option check", c.Field)}}
	}
	for _, o := range options {
		if strings.EqualFold(o, it.Value) {
			return []Finding{{Compliant: true, FieldPath: c.Field, Expected: expected, Actual: it.Value,
				Message: fmt.Sprintf("%s is an allowed option", c.Field)}}
		}
	}
	return []Finding{{
		FieldPath:  c.Field,
		Expected:   expected,
		Actual:     it.Value,
		Message:    fmt.Sprintf("%s has value %q which is not one of %s", c.Field, it.Value, strings.Join(options, ", ")),
		Suggestion: fmt.Sprintf("use one of %s", strings.Join(options, ", ")),
	}}
}

// patternCheck checks a field against a regular expression. Empty values pass.
type patternCheck struct {
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
	re      *regexp.Regexp
}

func newPattern(raw json.RawMessage) (Check, error) {
	c := &patternCheck{}
	if err := decodeConfig(raw, c); err != nil {
		return nil, err
	}
	if c.Field == "" || c.Pattern == "" {
		return nil, errors.New("pattern rule: field and pattern are required")
	}
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern rule: %w", err)
	}
	c.re = re
	return c, nil
}

func (c *patternCheck) Evaluate(_ *domain.Schema, answer domain.Answer) []Finding {
	it, _ := answer.Item(c.Field)
	if it.Value == "" {
		return []Finding{{Compliant: true, FieldPath: c.Field, Expected: c.Pattern,
			Message: fmt.Sprintf("%s is empty, skipping format check", c.Field)}}
	}
	if c.re.MatchString(it.Value) {
		return []Finding{{Compliant: true, FieldPath: c.Field, Expected: c.Pattern, Actual: it.Value,
			Message: fmt.Sprintf("%s matches expected format", c.Field)}}
	}
	return []Finding{{
		FieldPath:  c.Field,
		Expected:   c.Pattern,
		Actual:     it.Value,
		Message:    fmt.Sprintf("%s has invalid format", c.Field),
		Suggestion: fmt.Sprintf("%s should match %s", c.Field, c.Pattern),
	}}
}

// tableNotEmptyCheck checks that a table field has at least one non-blank row.
type tableNotEmptyCheck struct {
	Field string `json:"field"`
}

func newTableNotEmpty(raw json.RawMessage) (Check, error) {
	c := &tableNotEmptyCheck{}
	if err := decodeConfig(raw, c); err != nil {
		return nil, err
	}
	if c.Field == "" {
		return nil, errors.New("table_not_empty rule: field is required")
	}
	return c, nil
}

func (c *tableNotEmptyCheck) Evaluate(_ *domain.Schema, answer domain.Answer) []Finding {
	it, _ := answer.Item(c.Field)
	for _, row := range it.Rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				return []Finding{{Compliant: true, FieldPath: c.Field, Expected: "at least one row",
					Actual: fmt.Sprintf("%d rows", len(it.Rows)), Message: fmt.Sprintf("%s has rows", c.Field)}}
			}
		}
	}
	return []Finding{{
		FieldPath:  c.Field,
		Expected:   "at least one row",
		Actual:     "0 rows",
		Message:    fmt.Sprintf("%s has no rows", c.Field),
		Suggestion: fmt.Sprintf("add the rows of %s", c.Field),
	}}
}
