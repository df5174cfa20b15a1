package convert

import (
	"bytes"
	"fmt"
	"html"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"
)

// imageToPDF wraps an image as a single page sized to its natural dimensions,
// one pixel per point.
func imageToPDF(data []byte, ext string) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	w, h := float64(cfg.Width), float64(cfg.Height)

	imageType := "PNG"
	if ext == "jpg" || ext == "jpeg" {
		imageType = "JPG"
	}

	doc := fpdf.NewCustom(&fpdf.InitType{
		UnitStr: "pt",
		Size:    fpdf.SizeType{Wd: w, Ht: h},
	})
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.AddPage()

	opts := fpdf.ImageOptions{ImageType: imageType}
	doc.RegisterImageOptionsReader("page", opts, bytes.NewReader(data))
	doc.ImageOptions("page", 0, 0, w, h, false, opts, 0, "")

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write image pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// excelToHTML renders every sheet of a workbook as an HTML table.
func excelToHTML(data []byte) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString(htmlHead)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		fmt.Fprintf(&b, "<h2>%s</h2>\n<table>\n", html.EscapeString(sheet))
		for _, row := range rows {
			b.WriteString("<tr>")
			for _, cell := range row {
				fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(cell))
			}
			b.WriteString("</tr>\n")
		}
		b.WriteString("</table>\n")
	}
	b.WriteString(htmlTail)
	return []byte(b.String()), nil
}

// textToHTML wraps plain text in a preformatted block.
func textToHTML(data []byte) []byte {
	var b strings.Builder
	b.WriteString(htmlHead)
	b.WriteString("<pre>")
	b.WriteString(html.EscapeString(string(data)))
	b.WriteString("</pre>\n")
	b.WriteString(htmlTail)
	return []byte(b.String())
}

const htmlHead = `<!DOCTYPE html>
<html><head><meta charset="utf-8">
<style>
body { font-family: sans-serif; font-size: 10pt; }
table { border-collapse: collapse; margin-bottom: 1em; }
td { border: 1px solid #999; padding: 2px 4px; }
pre { white-space: pre-wrap; }
</style></head><body>
`

const htmlTail = "</body></html>\n"
