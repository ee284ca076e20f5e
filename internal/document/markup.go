package document

import (
	"strings"
)

// RenderMarkup concatenates narrative sections into a single markup document.
func RenderMarkup(sections []string) string {
	return strings.Join(sections, "\n\n")
}

// MarkdownTable writes a pipe table. Rows are fitted to the header width.
func MarkdownTable(header []string, rows [][]string) string {
	if len(header) == 0 {
		return ""
	}
	var sb strings.Builder
	writeRow := func(cells []string) {
		sb.WriteString("|")
		for _, cell := range cells {
			sb.WriteString(" ")
			sb.WriteString(escapeCell(cell))
			sb.WriteString(" |")
		}
		sb.WriteString("\n")
	}

	writeRow(header)
	sb.WriteString("|")
	for range header {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	for _, row := range rows {
		writeRow(fitRow(row, len(header)))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func escapeCell(cell string) string {
	cell = strings.Join(strings.Fields(cell), " ")
	return strings.ReplaceAll(cell, "|", `\|`)
}

// asciiPunctuation is every character CommonMark lets a backslash escape.
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// plainMarkdown rewrites parsed blocks as CommonMark whose text is fully escaped. Bold runs lose their markers
// and a markdown renderer sees exactly the structure Parse found.
func plainMarkdown(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case BlockHeading:
			parts = append(parts, strings.Repeat("#", block.Level+2)+" "+escapeText(block.Text()))
		case BlockQuote:
			parts = append(parts, "> "+escapeText(block.Text()))
		case BlockTable:
			parts = append(parts, plainTable(block.Table))
		case BlockParagraph:
			parts = append(parts, escapeText(block.Text()))
		}
	}
	return strings.Join(parts, "\n\n")
}

func plainTable(table *Table) string {
	if len(table.Header) == 0 {
		return ""
	}
	writeRow := func(sb *strings.Builder, cells []string) {
		escaped := make([]string, len(cells))
		for i, cell := range cells {
			escaped[i] = escapeText(runsText(parseRuns(strings.Join(strings.Fields(cell), " "))))
		}
		sb.WriteString("| " + strings.Join(escaped, " | ") + " |\n")
	}

	var sb strings.Builder
	writeRow(&sb, table.Header)
	sb.WriteString("|" + strings.Repeat(" --- |", len(table.Header)) + "\n")
	for _, row := range table.Rows {
		writeRow(&sb, fitRow(row, len(table.Header)))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func runsText(runs []Run) string {
	var sb strings.Builder
	for _, run := range runs {
		sb.WriteString(run.Text)
	}
	return sb.String()
}

func escapeText(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r < 0x80 && strings.ContainsRune(asciiPunctuation, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
