package document

import (
	"io"

	"github.com/fumiama/go-docx"

	"github.com/myrjola/amlnarrator/internal/errors"
)

const (
	styleTitle    = "Title"
	styleHeading1 = "Heading1"
	styleQuote    = "Quote"

	// Half-points.
	sizeTitle    = "32"
	sizeHeading1 = "28"
)

// RenderDocument lays out markup as a Word document.
func RenderDocument(markup string) *docx.Docx {
	doc := docx.New().WithDefaultTheme()
	for _, block := range Parse(markup) {
		switch block.Type {
		case BlockHeading:
			style, size := styleTitle, sizeTitle
			if block.Level > 0 {
				style, size = styleHeading1, sizeHeading1
			}
			p := doc.AddParagraph().Style(style)
			for _, run := range block.Runs {
				addText(p, run.Text).Bold().Size(size)
			}
		case BlockQuote:
			p := doc.AddParagraph().Style(styleQuote)
			for _, run := range block.Runs {
				r := addText(p, run.Text).Italic()
				if run.Bold {
					r.Bold()
				}
			}
		case BlockParagraph:
			p := doc.AddParagraph().Justification("both")
			addRuns(p, block.Runs, false)
		case BlockTable:
			addTable(doc, block.Table)
		}
	}
	return doc
}

// WriteDocument renders markup as a .docx archive into w.
func WriteDocument(w io.Writer, markup string) error {
	if _, err := RenderDocument(markup).WriteTo(w); err != nil {
		return errors.Wrap(err, "write docx")
	}
	return nil
}

func addTable(doc *docx.Docx, table *Table) {
	if len(table.Header) == 0 {
		return
	}
	t := doc.AddTable(len(table.Rows)+1, len(table.Header), 0, nil)
	for j, cell := range table.Header {
		addRuns(t.TableRows[0].TableCells[j].AddParagraph(), parseRuns(cell), true)
	}
	for i, row := range table.Rows {
		for j, cell := range row {
			addRuns(t.TableRows[i+1].TableCells[j].AddParagraph(), parseRuns(cell), false)
		}
	}
}

func addRuns(p *docx.Paragraph, runs []Run, bold bool) {
	for _, run := range runs {
		r := addText(p, run.Text)
		if bold || run.Bold {
			r.Bold()
		}
	}
}

// addText appends a run whose surrounding whitespace survives Word's normalisation.
func addText(p *docx.Paragraph, text string) *docx.Run {
	r := p.AddText(text)
	for _, child := range r.Children {
		if t, ok := child.(*docx.Text); ok {
			t.XMLSpace = "preserve"
		}
	}
	return r
}
