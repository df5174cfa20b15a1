package csvexport

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/domain"
)

func testSchema() *domain.Schema {
	return &domain.Schema{
		ID:   1,
		Name: "invoice",
		Spec: domain.SchemaSpec{Fields: []domain.Field{
			{Name: "number", Type: domain.FieldText},
			{Name: "seller", Type: domain.FieldGroup, Children: []domain.Field{
				{Name: "name", Type: domain.FieldText},
			}},
			{Name: "lines", Type: domain.FieldTable, Columns: []string{"item", "total"}},
		}},
	}
}

func TestWriteHeader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, testSchema())
	require.NoError(t, w.WriteHeader())
	w.Flush()
	require.NoError(t, w.Error())

	row, err := csv.NewReader(&buf).Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"File ID", "File Name", "Parse State", "Extract State", "number", "seller.name", "lines"}, row)
}

func TestWriteAnswer(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, testSchema())

	f := &domain.File{ID: 7, Name: "a.pdf", ParseState: domain.ParseStateComplete}
	q := &domain.Question{
		ExtractState: domain.ExtractDone,
		Answer: domain.Answer{SchemaID: 1, Items: []domain.AnswerItem{
			{Key: "number", Value: "INV-1"},
			{Key: "lines", Rows: [][]string{{"pen", "2"}, {"ink", "5"}}},
		}},
	}
	require.NoError(t, w.WriteAnswer(f, q))
	w.Flush()
	require.NoError(t, w.Error())

	row, err := csv.NewReader(&buf).Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "a.pdf", "complete", "done", "INV-1", "", "pen | 2 ; ink | 5"}, row)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Q1 Invoices", "Q1_Invoices"},
		{"a//b??c", "a_b_c"},
		{"__x__", "x"},
		{"???", "export"},
		{strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestBuildFilename(t *testing.T) {
	date := time.Now().Format("2006-01-02")
	assert.Equal(t, "report_2024_invoice_"+date+".csv", BuildFilename("report 2024.pdf", "invoice", "csv"))
	assert.Equal(t, "scan_"+date+".zip", BuildFilename("scan.png", "", "zip"))
}
