package extractor

import (
	"context"
	"errors"
	"strings"

	"docpipe/internal/domain"
	"docpipe/internal/interdoc"
	"docpipe/internal/port"
)

// Local extracts answers from the parse artifact with label matching:
// text fields look for "<label>: value", enum fields for the first option
// mentioned and table fields for the table whose header best matches the
// field columns.
type Local struct{}

// NewLocal creates a Local extractor.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Extract(ctx context.Context, in port.ExtractInput) (*domain.Answer, error) {
	if in.Doc == nil {
		return nil, errors.New("local extractor: no parse artifact")
	}
	ans := &domain.Answer{SchemaID: in.Schema.ID}
	for _, leaf := range in.Schema.Spec.Leaves() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := domain.AnswerItem{Key: leaf.Path}
		switch leaf.Field.Type {
		case domain.FieldTable:
			item.Rows, item.Boxes = findTable(in.Doc, leaf.Field)
		case domain.FieldEnum:
			item.Value, item.Boxes = findOption(in.Doc, leaf.Field)
		default:
			item.Value, item.Boxes = findLabeled(in.Doc, leaf.Field)
		}
		if item.Value != "" || len(item.Rows) > 0 {
			item.Confidence = 0.5
		}
		ans.Items = append(ans.Items, item)
	}
	return ans, nil
}

func labels(f domain.Field) []string {
	out := []string{strings.ToLower(f.Name)}
	for _, k := range f.Keywords {
		out = append(out, strings.ToLower(k))
	}
	return out
}

func boxOf(page int, r interdoc.Rect) []domain.Box {
	return []domain.Box{{Page: page, Rect: [4]float64(r)}}
}

// findLabeled returns the text after "<label>:" in a paragraph, or the cell
// right of a cell holding the label.
func findLabeled(doc *interdoc.Document, f domain.Field) (string, []domain.Box) {
	names := labels(f)
	for _, e := range doc.Elements {
		switch e.Type {
		case interdoc.ElementParagraph:
			for _, line := range strings.Split(e.TextOf(), "\n") {
				if v, ok := afterLabel(line, names); ok {
					return v, boxOf(e.Page, e.Outline)
				}
			}
		case interdoc.ElementTable:
			for _, c := range e.Cells {
				key := strings.ToLower(strings.TrimRight(strings.TrimSpace(c.Text), ":："))
				if !contains(names, key) {
					continue
				}
				for _, n := range e.Cells {
					if n.Row == c.Row && n.Col == c.Col+1 && strings.TrimSpace(n.Text) != "" {
						return strings.TrimSpace(n.Text), boxOf(n.Page, n.Box)
					}
				}
			}
		}
	}
	return "", nil
}

func afterLabel(line string, names []string) (string, bool) {
	lower := strings.ToLower(line)
	for _, name := range names {
		i := strings.Index(lower, name)
		if i < 0 || i+len(name) > len(line) {
			continue
		}
		rest := strings.TrimLeft(line[i+len(name):], " \t")
		for _, sep := range []string{":", "："} {
			if strings.HasPrefix(rest, sep) {
				if v := strings.TrimSpace(rest[len(sep):]); v != "" {
					return v, true
				}
			}
		}
	}
	return "", false
}

func findOption(doc *interdoc.Document, f domain.Field) (string, []domain.Box) {
	for _, e := range doc.Elements {
		if e.Type != interdoc.ElementParagraph {
			continue
		}
		text := strings.ToLower(e.TextOf())
		for _, opt := range f.Options {
			if opt != "" && strings.Contains(text, strings.ToLower(opt)) {
				return opt, boxOf(e.Page, e.Outline)
			}
		}
	}
	return "", nil
}

// findTable picks the table whose first row matches most of f.Columns and
// returns its body projected onto those columns. Without columns the first
// table is returned whole.
func findTable(doc *interdoc.Document, f domain.Field) ([][]string, []domain.Box) {
	var best *interdoc.Element
	var bestIdx []int
	bestScore := 0
	for i := range doc.Elements {
		e := &doc.Elements[i]
		if e.Type != interdoc.ElementTable || len(e.Cells) == 0 {
			continue
		}
		if len(f.Columns) == 0 {
			best = e
			break
		}
		grid := e.Grid()
		idx, score := matchHeader(grid[0], f.Columns)
		if score > bestScore {
			best, bestIdx, bestScore = e, idx, score
		}
	}
	if best == nil {
		return nil, nil
	}
	grid := best.Grid()
	if len(grid) < 2 {
		return nil, boxOf(best.Page, best.Outline)
	}
	if bestIdx == nil {
		return grid[1:], boxOf(best.Page, best.Outline)
	}
	rows := make([][]string, 0, len(grid)-1)
	for _, r := range grid[1:] {
		row := make([]string, len(bestIdx))
		for j, col := range bestIdx {
			if col >= 0 && col < len(r) {
				row[j] = r[col]
			}
		}
		rows = append(rows, row)
	}
	return rows, boxOf(best.Page, best.Outline)
}

func matchHeader(header []string, columns []string) ([]int, int) {
	idx := make([]int, len(columns))
	score := 0
	for j, col := range columns {
		idx[j] = -1
		for k, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), col) {
				idx[j] = k
				score++
				break
			}
		}
	}
	return idx, score
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
