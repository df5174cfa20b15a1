package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"docpipe/internal/domain"
)

func workbook(t *testing.T, sheets map[string][][]interface{}) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	return f
}

func TestLoadWorkbook(t *testing.T) {
	f := workbook(t, map[string][][]interface{}{
		"Schemas": {
			{"name", "extractor"},
			{"invoice", "remote"},
			{"memo", ""},
		},
		"Fields": {
			{"schema", "path", "type", "options", "columns", "keywords", "required"},
			{"invoice", "number", "text", "", "", "invoice no, inv #", "yes"},
			{"invoice", "seller.name", "", "", "", "", ""},
			{"invoice", "seller.state", "enum", "KA, MH", "", "", ""},
			{"invoice", "lines", "table", "", "description, amount", "", ""},
			{"memo", "subject", "text", "", "", "", ""},
		},
		"Rules": {
			{"schema", "rule_key", "rule_name", "kind", "config", "severity", "active"},
			{"invoice", "number_required", "Number present", "required", `{"fields":["number"]}`, "", ""},
			{"memo", "subject_required", "", "required", "", "warning", "no"},
		},
	})

	schemas, rules, err := loadWorkbook(f)
	require.NoError(t, err)
	require.Len(t, schemas, 2)

	inv := schemas[0]
	assert.Equal(t, "invoice", inv.name)
	assert.Equal(t, domain.ExtractorRemote, inv.extractor)
	assert.Equal(t, domain.ExtractorLocal, schemas[1].extractor)
	require.Len(t, inv.spec.Fields, 3)
	assert.Equal(t, []string{"invoice no", "inv #"}, inv.spec.Fields[0].Keywords)
	assert.True(t, inv.spec.Fields[0].Required)

	seller := inv.spec.Fields[1]
	assert.Equal(t, domain.FieldGroup, seller.Type)
	require.Len(t, seller.Children, 2)
	assert.Equal(t, domain.FieldText, seller.Children[0].Type)
	assert.Equal(t, []string{"KA", "MH"}, seller.Children[1].Options)
	assert.Equal(t, []string{"description", "amount"}, inv.spec.Fields[2].Columns)

	require.Len(t, rules, 2)
	assert.Equal(t, "error", rules[0].severity)
	assert.True(t, rules[0].active)
	assert.Equal(t, "subject_required", rules[1].name)
	assert.Equal(t, "{}", rules[1].config)
	assert.False(t, rules[1].active)
}

func TestLoadWorkbook_Errors(t *testing.T) {
	base := func() map[string][][]interface{} {
		return map[string][][]interface{}{
			"Schemas": {{"name"}, {"invoice"}},
			"Fields":  {{"schema", "path"}},
			"Rules":   {{"schema", "rule_key"}},
		}
	}

	sheets := base()
	sheets["Fields"] = append(sheets["Fields"], []interface{}{"receipt", "total"})
	_, _, err := loadWorkbook(workbook(t, sheets))
	assert.ErrorContains(t, err, `unknown schema "receipt"`)

	sheets = base()
	sheets["Rules"] = [][]interface{}{{"schema", "rule_key", "rule_name", "kind", "config"}, {"invoice", "k", "", "required", "{"}}
	_, _, err = loadWorkbook(workbook(t, sheets))
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestWriteSQL(t *testing.T) {
	var b strings.Builder
	err := writeSQL(&b, []seedSchema{{
		name:      "o'brien",
		extractor: domain.ExtractorLocal,
		spec:      domain.SchemaSpec{Fields: []domain.Field{{Name: "note", Type: domain.FieldText, Keywords: []string{"it's"}}}},
	}}, []seedRule{{schema: "o'brien", key: "k", name: "K", kind: "required", config: "{}", severity: "error", active: true}})
	require.NoError(t, err)

	sql := b.String()
	assert.True(t, strings.HasPrefix(sql, "-- Schema and audit rule seed data"))
	assert.Contains(t, sql, "VALUES ('o''brien', ")
	assert.Contains(t, sql, `"keywords":["it''s"]`)
	assert.Contains(t, sql, "ON CONFLICT (name) DO UPDATE")
	assert.Contains(t, sql, "FROM schemas WHERE name = 'o''brien'")
	assert.True(t, strings.HasSuffix(sql, "COMMIT;\n"))
}
