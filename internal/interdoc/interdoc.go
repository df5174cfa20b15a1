// Package interdoc models the structured document returned by the remote
// parse service: ordered elements with typed cells plus a chapter outline.
package interdoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"docpipe/internal/domain"
)

// ElementType is the kind of a layout element.
type ElementType string

const (
	ElementParagraph  ElementType = "paragraph"
	ElementTable      ElementType = "table"
	ElementPageHeader ElementType = "page_header"
	ElementPageFooter ElementType = "page_footer"
	ElementImage      ElementType = "image"
	ElementShape      ElementType = "shape"
)

// Rect is x0, y0, x1, y1 in PDF points.
type Rect [4]float64

// Document is a decoded parse artifact.
type Document struct {
	Pages      []Page     `json:"pages"`
	Elements   []Element  `json:"elements"`
	Syllabuses []Syllabus `json:"syllabuses"`
	OCR        bool       `json:"ocr,omitempty"`
	OCRExpired bool       `json:"ocr_expired,omitempty"`
}

// Page describes one PDF page.
type Page struct {
	Page     int     `json:"page"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation"`
	OCR      bool    `json:"ocr,omitempty"`
}

// Element is one layout element in reading order.
type Element struct {
	Index    int         `json:"index"`
	Type     ElementType `json:"type"`
	Page     int         `json:"page"`
	Outline  Rect        `json:"outline"`
	Text     string      `json:"text,omitempty"`
	Chars    []Char      `json:"chars,omitempty"`
	Cells    []Cell      `json:"cells,omitempty"`
	Fragment bool        `json:"fragment,omitempty"`
}

// Cell is one table cell.
type Cell struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Text  string `json:"text"`
	Chars []Char `json:"chars,omitempty"`
	Page  int    `json:"page"`
	Box   Rect   `json:"box"`
}

// Char is one character with its box.
type Char struct {
	Text string `json:"text"`
	Box  Rect   `json:"box"`
}

// Syllabus is one outline (chapter) entry. Parent is -1 for roots.
type Syllabus struct {
	Index  int    `json:"index"`
	Parent int    `json:"parent"`
	Title  string `json:"title"`
	Level  int    `json:"level"`
	Page   int    `json:"page"`
	Box    Rect   `json:"box"`
}

// Decode parses and validates a parse artifact. It returns ErrOCRExpired when
// an OCR'd document came back empty because OCR credits ran out, and
// ErrParseInvalid for anything that does not decode or has no content.
func Decode(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.NewPipelineError(domain.KindParseInvalid, "decode", errors.New("empty parse artifact"))
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.NewPipelineError(domain.KindParseInvalid, "decode", err)
	}
	if err := doc.Validate(); err != nil {
		if doc.OCRExpired {
			return &doc, domain.NewPipelineError(domain.KindOCRExpired, "decode", err)
		}
		return &doc, err
	}
	return &doc, nil
}

// Validate requires at least one non-fragment element.
func (d *Document) Validate() error {
	for _, e := range d.Elements {
		if !e.Fragment {
			return nil
		}
	}
	return domain.NewPipelineError(domain.KindParseInvalid, "validate",
		fmt.Errorf("no content elements among %d", len(d.Elements)))
}

// CharsOf returns the characters of a paragraph. When the parser did not emit
// per-char boxes every rune gets the element outline.
func (e Element) CharsOf() []Char {
	if len(e.Chars) > 0 {
		return e.Chars
	}
	return synthChars(e.Text, e.Outline)
}

// CharsOf returns the characters of a cell, synthesizing boxes when absent.
func (c Cell) CharsOf() []Char {
	if len(c.Chars) > 0 {
		return c.Chars
	}
	return synthChars(c.Text, c.Box)
}

// TextOf returns the element text, joining chars when Text is empty.
func (e Element) TextOf() string {
	if e.Text != "" || len(e.Chars) == 0 {
		return e.Text
	}
	var sb strings.Builder
	for _, ch := range e.Chars {
		sb.WriteString(ch.Text)
	}
	return sb.String()
}

// Grid returns the table cells as rows of text. A table of n cells spans at
// most n rows and n columns; cells placed outside that are dropped.
func (e Element) Grid() [][]string {
	limit := len(e.Cells)
	inRange := func(c Cell) bool {
		return c.Row >= 0 && c.Col >= 0 && c.Row < limit && c.Col < limit
	}
	rows, cols := 0, 0
	for _, c := range e.Cells {
		if !inRange(c) {
			continue
		}
		if c.Row+1 > rows {
			rows = c.Row + 1
		}
		if c.Col+1 > cols {
			cols = c.Col + 1
		}
	}
	grid := make([][]string, rows)
	for i := range grid {
		grid[i] = make([]string, cols)
	}
	for _, c := range e.Cells {
		if inRange(c) {
			grid[c.Row][c.Col] = c.Text
		}
	}
	return grid
}

func synthChars(text string, box Rect) []Char {
	out := make([]Char, 0, len(text))
	for _, r := range text {
		out = append(out, Char{Text: string(r), Box: box})
	}
	return out
}
