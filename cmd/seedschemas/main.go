// Command seedschemas converts a schema workbook into a SQL seed file.
// The workbook has three sheets:
//
//	Schemas  name | extractor (local|remote)
//	Fields   schema | path (dotted for groups) | type | options | columns | keywords | required
//	Rules    schema | rule_key | rule_name | kind | config (JSON) | severity | active
//
// Usage: go run ./cmd/seedschemas [workbook.xlsx] [out.sql]
// Output: db/seeds/schemas.sql by default
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"docpipe/internal/domain"
)

type seedSchema struct {
	name      string
	extractor domain.ExtractorKind
	spec      domain.SchemaSpec
}

type seedRule struct {
	schema   string
	key      string
	name     string
	kind     string
	config   string
	severity string
	active   bool
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	xlsxPath := "db/seeds/schemas.xlsx"
	outPath := "db/seeds/schemas.sql"
	if len(os.Args) > 1 {
		xlsxPath = os.Args[1]
	}
	if len(os.Args) > 2 {
		outPath = os.Args[2]
	}

	f, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		return fmt.Errorf("open Excel file: %w", err)
	}
	defer func() { _ = f.Close() }()

	schemas, rules, err := loadWorkbook(f)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if err := writeSQL(out, schemas, rules); err != nil {
		return fmt.Errorf("write seed: %w", err)
	}
	log.Printf("Generated %d schemas and %d rules in %s", len(schemas), len(rules), outPath)
	return nil
}

func loadWorkbook(f *excelize.File) ([]seedSchema, []seedRule, error) {
	schemaRows, err := f.GetRows("Schemas")
	if err != nil {
		return nil, nil, fmt.Errorf("read Schemas sheet: %w", err)
	}
	byName := make(map[string]*seedSchema)
	var order []string
	for _, row := range dataRows(schemaRows) {
		name := cellVal(row, 0)
		if name == "" || byName[name] != nil {
			continue
		}
		kind := domain.ExtractorKind(strings.ToLower(cellVal(row, 1)))
		if kind != domain.ExtractorRemote {
			kind = domain.ExtractorLocal
		}
		byName[name] = &seedSchema{name: name, extractor: kind}
		order = append(order, name)
	}

	fieldRows, err := f.GetRows("Fields")
	if err != nil {
		return nil, nil, fmt.Errorf("read Fields sheet: %w", err)
	}
	for i, row := range dataRows(fieldRows) {
		s := byName[cellVal(row, 0)]
		if s == nil {
			return nil, nil, fmt.Errorf("fields row %d: unknown schema %q", i+2, cellVal(row, 0))
		}
		path := cellVal(row, 1)
		if path == "" {
			continue
		}
		field := domain.Field{
			Type:     domain.FieldType(strings.ToLower(cellVal(row, 2))),
			Options:  splitList(cellVal(row, 3)),
			Columns:  splitList(cellVal(row, 4)),
			Keywords: splitList(cellVal(row, 5)),
			Required: isTrue(cellVal(row, 6)),
		}
		if field.Type == "" {
			field.Type = domain.FieldText
		}
		insertField(&s.spec.Fields, strings.Split(path, "."), field)
	}

	ruleRows, err := f.GetRows("Rules")
	if err != nil {
		return nil, nil, fmt.Errorf("read Rules sheet: %w", err)
	}
	var rules []seedRule
	for i, row := range dataRows(ruleRows) {
		r := seedRule{
			schema:   cellVal(row, 0),
			key:      cellVal(row, 1),
			name:     cellVal(row, 2),
			kind:     cellVal(row, 3),
			config:   cellVal(row, 4),
			severity: cellVal(row, 5),
			active:   cellVal(row, 6) == "" || isTrue(cellVal(row, 6)),
		}
		if r.key == "" {
			continue
		}
		if byName[r.schema] == nil {
			return nil, nil, fmt.Errorf("rules row %d: unknown schema %q", i+2, r.schema)
		}
		if r.config == "" {
			r.config = "{}"
		}
		if !json.Valid([]byte(r.config)) {
			return nil, nil, fmt.Errorf("rules row %d: config is not valid JSON", i+2)
		}
		if r.severity == "" {
			r.severity = "error"
		}
		if r.name == "" {
			r.name = r.key
		}
		rules = append(rules, r)
	}

	schemas := make([]seedSchema, 0, len(order))
	for _, name := range order {
		schemas = append(schemas, *byName[name])
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].schema < rules[j].schema })
	return schemas, rules, nil
}

// insertField places field at path, creating group nodes on the way.
func insertField(fields *[]domain.Field, path []string, field domain.Field) {
	name := strings.TrimSpace(path[0])
	for i := range *fields {
		if (*fields)[i].Name != name {
			continue
		}
		if len(path) == 1 {
			field.Name = name
			field.Children = (*fields)[i].Children
			(*fields)[i] = field
			return
		}
		insertField(&(*fields)[i].Children, path[1:], field)
		return
	}
	if len(path) == 1 {
		field.Name = name
		*fields = append(*fields, field)
		return
	}
	group := domain.Field{Name: name, Type: domain.FieldGroup}
	insertField(&group.Children, path[1:], field)
	*fields = append(*fields, group)
}

func writeSQL(out io.Writer, schemas []seedSchema, rules []seedRule) error {
	var b strings.Builder
	b.WriteString("-- Schema and audit rule seed data generated from Excel.\n")
	fmt.Fprintf(&b, "-- %d schemas, %d rules.\nBEGIN;\n\n", len(schemas), len(rules))

	for _, s := range schemas {
		spec, err := json.Marshal(s.spec)
		if err != nil {
			return fmt.Errorf("encode schema %s: %w", s.name, err)
		}
		fmt.Fprintf(&b, "INSERT INTO schemas (name, spec, extractor) VALUES ('%s', '%s', '%s')\n",
			escapeSQL(s.name), escapeSQL(string(spec)), s.extractor)
		b.WriteString("ON CONFLICT (name) DO UPDATE SET spec = EXCLUDED.spec, extractor = EXCLUDED.extractor;\n")
	}
	if len(rules) > 0 {
		b.WriteString("\n")
	}
	for _, r := range rules {
		fmt.Fprintf(&b, "INSERT INTO audit_rules (schema_id, rule_key, rule_name, kind, config, severity, active)\n"+
			"  SELECT id, '%s', '%s', '%s', '%s', '%s', %t FROM schemas WHERE name = '%s'\n",
			escapeSQL(r.key), escapeSQL(r.name), escapeSQL(r.kind), escapeSQL(r.config), escapeSQL(r.severity),
			r.active, escapeSQL(r.schema))
		b.WriteString("ON CONFLICT (schema_id, rule_key) DO UPDATE SET rule_name = EXCLUDED.rule_name, " +
			"kind = EXCLUDED.kind, config = EXCLUDED.config, severity = EXCLUDED.severity, active = EXCLUDED.active;\n")
	}
	b.WriteString("\nCOMMIT;\n")

	_, err := io.WriteString(out, b.String())
	return err
}

// dataRows skips the header row.
func dataRows(rows [][]string) [][]string {
	if len(rows) < 2 {
		return nil
	}
	return rows[1:]
}

func cellVal(row []string, idx int) string {
	if idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isTrue(s string) bool {
	switch strings.ToLower(s) {
	case "1", "y", "yes", "true", "x":
		return true
	}
	return false
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
