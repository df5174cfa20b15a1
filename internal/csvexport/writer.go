// Package csvexport renders extracted answers as CSV.
package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"docpipe/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// metaColumns lead every row; schema leaves follow in declaration order.
var metaColumns = []string{
	"File ID",
	"File Name",
	"Parse State",
	"Extract State",
}

// Writer writes one schema's answers as CSV, one row per file.
type Writer struct {
	csv    *csv.Writer
	leaves []domain.FieldPath
}

// NewWriter creates a Writer for schema that writes CSV to w.
func NewWriter(w io.Writer, schema *domain.Schema) *Writer {
	return &Writer{csv: csv.NewWriter(w), leaves: schema.Spec.Leaves()}
}

// Columns returns the header row.
func (w *Writer) Columns() []string {
	cols := make([]string, 0, len(metaColumns)+len(w.leaves))
	cols = append(cols, metaColumns...)
	for _, l := range w.leaves {
		cols = append(cols, l.Path)
	}
	return cols
}

// WriteHeader writes the header row.
func (w *Writer) WriteHeader() error {
	return w.csv.Write(w.Columns())
}

// WriteAnswer writes the final answer of q for file f. Table fields are
// flattened to "a | b ; c | d".
func (w *Writer) WriteAnswer(f *domain.File, q *domain.Question) error {
	row := make([]string, 0, len(metaColumns)+len(w.leaves))
	row = append(row,
		strconv.FormatInt(f.ID, 10),
		f.Name,
		string(f.ParseState),
		string(q.ExtractState),
	)
	for _, l := range w.leaves {
		it, _ := q.Answer.Item(l.Path)
		if len(it.Rows) > 0 {
			row = append(row, flattenRows(it.Rows))
			continue
		}
		row = append(row, it.Value)
	}
	return w.csv.Write(row)
}

// Flush flushes the underlying csv.Writer buffer.
func (w *Writer) Flush() {
	w.csv.Flush()
}

// Error returns any error from the underlying csv.Writer.
func (w *Writer) Error() error {
	return w.csv.Error()
}

func flattenRows(rows [][]string) string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = strings.Join(r, " | ")
	}
	return strings.Join(out, " ; ")
}

// nonAlphanumeric matches characters that are not alphanumeric, hyphen, or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// multiUnderscore matches consecutive underscores.
var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename cleans a name for use in Content-Disposition.
// Replaces non-alphanumeric chars (except - _) with _, collapses consecutive
// underscores, and truncates to 100 chars.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "export"
	}
	return s
}

// BuildFilename returns {sanitized_file}_{sanitized_schema}_{YYYY-MM-DD}.{ext}.
func BuildFilename(fileName, schemaName, ext string) string {
	base := strings.TrimSuffix(fileName, "."+domain.ExtensionOf(fileName))
	parts := []string{SanitizeFilename(base)}
	if schemaName != "" {
		parts = append(parts, SanitizeFilename(schemaName))
	}
	parts = append(parts, time.Now().Format("2006-01-02"))
	return fmt.Sprintf("%s.%s", strings.Join(parts, "_"), ext)
}
