package cachebuilder

import "docpipe/internal/interdoc"

// BuildChapters flattens the outline, keeping entries at most MaxChapterLvl
// deep. Depth is derived from the parent chain; entries below a dropped
// ancestor are dropped too. Indices are renumbered densely.
func BuildChapters(syllabuses []interdoc.Syllabus) []ChapterEntry {
	byIndex := make(map[int]interdoc.Syllabus, len(syllabuses))
	for _, s := range syllabuses {
		byIndex[s.Index] = s
	}

	depth := make(map[int]int, len(syllabuses))
	var depthOf func(idx int, guard int) int
	depthOf = func(idx int, guard int) int {
		if d, ok := depth[idx]; ok {
			return d
		}
		s, ok := byIndex[idx]
		if !ok || s.Parent < 0 || guard > len(syllabuses) {
			depth[idx] = 1
			return 1
		}
		d := depthOf(s.Parent, guard+1) + 1
		depth[idx] = d
		return d
	}

	out := make([]ChapterEntry, 0, len(syllabuses))
	renum := make(map[int]int, len(syllabuses))
	for _, s := range syllabuses {
		d := depthOf(s.Index, 0)
		if d > MaxChapterLvl {
			continue
		}
		parent := -1
		if s.Parent >= 0 {
			p, ok := renum[s.Parent]
			if !ok {
				continue
			}
			parent = p
		}
		renum[s.Index] = len(out)
		out = append(out, ChapterEntry{
			Index:  len(out),
			Parent: parent,
			Title:  s.Title,
			Level:  d,
			Page:   s.Page,
			Box:    s.Box,
		})
	}
	return out
}
