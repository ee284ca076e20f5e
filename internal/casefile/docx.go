package casefile

import (
	"bytes"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/myrjola/amlnarrator/internal/document"
	"github.com/myrjola/amlnarrator/internal/errors"
)

// DocxText extracts the paragraphs and tables of a .docx file in document order. Tables become pipe tables.
func DocxText(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(err, "parse docx")
	}
	var blocks []string
	for _, item := range doc.Document.Body.Items {
		switch o := item.(type) {
		case *docx.Paragraph:
			blocks = append(blocks, o.String())
		case *docx.Table:
			if table := tableMarkdown(o); table != "" {
				blocks = append(blocks, table)
			}
		}
	}
	return strings.TrimSpace(strings.Join(blocks, "\n")), nil
}

func tableMarkdown(t *docx.Table) string {
	if len(t.TableRows) == 0 {
		return ""
	}
	cells := func(row *docx.WTableRow) []string {
		out := make([]string, 0, len(row.TableCells))
		for _, cell := range row.TableCells {
			parts := make([]string, 0, len(cell.Paragraphs))
			for _, p := range cell.Paragraphs {
				parts = append(parts, strings.TrimSpace(p.String()))
			}
			out = append(out, strings.TrimSpace(strings.Join(parts, " ")))
		}
		return out
	}
	header := cells(t.TableRows[0])
	rows := make([][]string, 0, len(t.TableRows)-1)
	for _, row := range t.TableRows[1:] {
		rows = append(rows, cells(row))
	}
	return document.MarkdownTable(header, rows)
}
