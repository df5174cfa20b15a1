package cachebuilder

import (
	"unicode/utf8"

	"docpipe/internal/interdoc"
)

// SearchIndex is the search string of a document and the position of every
// character in it. Offsets count runes.
type SearchIndex struct {
	Text    string
	Entries []MapEntry
	Ranges  []PageRange
}

const (
	elementSep   = '#'
	paragraphSep = '\n'
)

// BuildSearchIndex concatenates paragraph and table-cell text in reading
// order. Consecutive paragraphs are separated by a newline; every other
// element boundary and every cell boundary by '#'.
func BuildSearchIndex(doc *interdoc.Document) *SearchIndex {
	idx := &SearchIndex{}
	var text []rune
	prev := interdoc.ElementType("")

	emit := func(chars []interdoc.Char, page, elem int) {
		for _, ch := range chars {
			for _, r := range ch.Text {
				idx.Entries = append(idx.Entries, MapEntry{Offset: len(text), Page: page, Box: ch.Box, Element: elem})
				text = append(text, r)
			}
		}
	}

	for _, e := range doc.Elements {
		if e.Type != interdoc.ElementParagraph && e.Type != interdoc.ElementTable {
			continue
		}
		if len(text) > 0 {
			if prev == interdoc.ElementParagraph && e.Type == interdoc.ElementParagraph {
				text = append(text, paragraphSep)
			} else {
				text = append(text, elementSep)
			}
		}
		switch e.Type {
		case interdoc.ElementParagraph:
			emit(e.CharsOf(), e.Page, e.Index)
		case interdoc.ElementTable:
			for i, c := range e.Cells {
				if i > 0 {
					text = append(text, elementSep)
				}
				page := c.Page
				if page == 0 {
					page = e.Page
				}
				emit(c.CharsOf(), page, e.Index)
			}
		}
		prev = e.Type
	}

	idx.Text = string(text)
	idx.Ranges = pageRanges(idx.Entries)
	return idx
}

// Shards splits the char map into ShardSize-wide offset windows. Shard n
// covers offsets [n*ShardSize, (n+1)*ShardSize); a window without characters
// yields an empty shard so shard numbers stay addressable by offset.
func (s *SearchIndex) Shards() [][]MapEntry {
	n := utf8.RuneCountInString(s.Text)
	if n == 0 {
		return nil
	}
	shards := make([][]MapEntry, (n+ShardSize-1)/ShardSize)
	for i := range shards {
		shards[i] = []MapEntry{}
	}
	for _, e := range s.Entries {
		k := e.Offset / ShardSize
		shards[k] = append(shards[k], e)
	}
	return shards
}

func pageRanges(entries []MapEntry) []PageRange {
	var out []PageRange
	pos := map[int]int{}
	for _, e := range entries {
		i, ok := pos[e.Page]
		if !ok {
			pos[e.Page] = len(out)
			out = append(out, PageRange{Page: e.Page, Start: e.Offset, End: e.Offset + 1})
			continue
		}
		if e.Offset < out[i].Start {
			out[i].Start = e.Offset
		}
		if e.Offset+1 > out[i].End {
			out[i].End = e.Offset + 1
		}
	}
	return out
}
