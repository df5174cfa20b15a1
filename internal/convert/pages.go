package convert

import (
	"bytes"
	"regexp"

	"github.com/ledongthuc/pdf"
)

var pageObject = regexp.MustCompile(`/Type\s*/Page[^s]`)

// EstimatePages returns the page count of a PDF. Files the reader cannot open
// fall back to counting page objects; the result is at least 1.
func EstimatePages(data []byte) (n int) {
	defer func() {
		if recover() != nil {
			n = countPageObjects(data)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err == nil {
		if pages := r.NumPage(); pages > 0 {
			return pages
		}
	}
	return countPageObjects(data)
}

func countPageObjects(data []byte) int {
	n := len(pageObject.FindAllIndex(data, -1))
	if n == 0 {
		return 1
	}
	return n
}
