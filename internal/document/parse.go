package document

import (
	"regexp"
	"strings"
)

// BlockType distinguishes the structural elements of a narrative.
type BlockType int

const (
	BlockParagraph BlockType = iota
	BlockHeading
	BlockQuote
	BlockTable
)

// Run is a span of text rendered with uniform weight.
type Run struct {
	Text string
	Bold bool
}

// Table is a pipe table whose rows all have the header's width.
type Table struct {
	Header []string
	Rows   [][]string
}

// Block is one structural element of a narrative. Runs is set for headings, quotes and paragraphs,
// Table only for tables.
type Block struct {
	Type  BlockType
	Level int
	Runs  []Run
	Table *Table
}

// Text returns the concatenated run text of the block.
func (b Block) Text() string {
	var sb strings.Builder
	for _, run := range b.Runs {
		sb.WriteString(run.Text)
	}
	return sb.String()
}

var separatorRow = regexp.MustCompile(`^[\s|:-]+$`)

// Parse splits narrative markup into blocks.
//
// Every non-blank line is its own block. Lines starting with | belong to the table being collected;
// blank lines inside a table are skipped and do not end it.
func Parse(markup string) []Block {
	var (
		blocks     []Block
		tableLines []string
	)
	flush := func() {
		if len(tableLines) == 0 {
			return
		}
		blocks = append(blocks, Block{Type: BlockTable, Table: parseTable(tableLines)})
		tableLines = nil
	}

	for _, line := range strings.Split(markup, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "|") {
			tableLines = append(tableLines, trimmed)
			continue
		}
		flush()

		if level, text, ok := heading(trimmed); ok {
			blocks = append(blocks, Block{Type: BlockHeading, Level: level, Runs: parseRuns(text)})
			continue
		}
		if strings.HasPrefix(trimmed, ">") {
			text := strings.TrimSpace(strings.TrimPrefix(trimmed, ">"))
			blocks = append(blocks, Block{Type: BlockQuote, Runs: parseRuns(text)})
			continue
		}
		blocks = append(blocks, Block{Type: BlockParagraph, Runs: parseRuns(trimmed)})
	}
	flush()

	return blocks
}

// heading recognises ATX headings. # and ## map to level 0, deeper headings to level 1.
func heading(line string) (int, string, bool) {
	hashes := 0
	for hashes < len(line) && line[hashes] == '#' {
		hashes++
	}
	if hashes == 0 || hashes > 6 {
		return 0, "", false
	}
	rest := line[hashes:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	level := 1
	if hashes <= 2 {
		level = 0
	}
	return level, strings.TrimSpace(rest), true
}

// parseRuns splits text on paired ** markers. An unmatched marker is kept as literal text.
func parseRuns(text string) []Run {
	var runs []Run
	rest := text
	for {
		start := strings.Index(rest, "**")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+2:], "**")
		if end < 0 {
			break
		}
		if start > 0 {
			runs = append(runs, Run{Text: rest[:start]})
		}
		if bold := rest[start+2 : start+2+end]; bold != "" {
			runs = append(runs, Run{Text: bold, Bold: true})
		}
		rest = rest[start+2+end+2:]
	}
	if rest != "" {
		runs = append(runs, Run{Text: rest})
	}
	return runs
}

func parseTable(lines []string) *Table {
	header := splitRow(lines[0])
	body := lines[1:]
	if len(body) > 0 && separatorRow.MatchString(body[0]) {
		body = body[1:]
	}

	table := &Table{Header: header, Rows: make([][]string, 0, len(body))}
	for _, line := range body {
		table.Rows = append(table.Rows, fitRow(splitRow(line), len(header)))
	}
	return table
}

// splitRow splits a pipe row into trimmed cells. Empty interior cells are kept and \| is a literal pipe.
func splitRow(line string) []string {
	line = strings.TrimPrefix(strings.TrimSpace(line), "|")
	if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) {
		line = strings.TrimSuffix(line, "|")
	}

	var (
		cells []string
		cell  strings.Builder
	)
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line) && line[i+1] == '|':
			cell.WriteByte('|')
			i++
		case line[i] == '|':
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()
		default:
			cell.WriteByte(line[i])
		}
	}
	return append(cells, strings.TrimSpace(cell.String()))
}

func fitRow(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}
