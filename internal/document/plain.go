package document

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/myrjola/amlnarrator/internal/errors"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// RenderPlain renders markup as reading-order text without formatting markers. Table cells are separated
// by tabs and blocks by a blank line.
func RenderPlain(markup string) (string, error) {
	var html bytes.Buffer
	if err := markdown.Convert([]byte(plainMarkdown(Parse(markup))), &html); err != nil {
		return "", errors.Wrap(err, "convert markdown")
	}

	doc, err := goquery.NewDocumentFromReader(&html)
	if err != nil {
		return "", errors.Wrap(err, "parse html")
	}

	var blocks []string
	doc.Find("body").Children().Each(func(_ int, s *goquery.Selection) {
		if text := blockText(s); text != "" {
			blocks = append(blocks, text)
		}
	})
	return strings.Join(blocks, "\n\n"), nil
}

func blockText(s *goquery.Selection) string {
	if goquery.NodeName(s) != "table" {
		return strings.TrimSpace(s.Text())
	}

	var rows []string
	s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		rows = append(rows, strings.Join(cells, "\t"))
	})
	return strings.Join(rows, "\n")
}
