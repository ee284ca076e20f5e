package casefile

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/myrjola/amlnarrator/internal/document"
	"github.com/myrjola/amlnarrator/internal/errors"
)

// headerSearchRows bounds how far down a sheet the header row is searched for.
const headerSearchRows = 10

var amounts = message.NewPrinter(language.Spanish)

// Sheet is a visible worksheet reduced to a header and data rows.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Markdown renders the sheet as a pipe table.
func (s Sheet) Markdown() string {
	return document.MarkdownTable(s.Header, s.Rows)
}

// ReadWorkbook extracts the visible sheets of an .xlsx file in workbook order.
//
// Report exports carry title rows above the table, so the header is the first row among the leading rows that has
// as many filled cells as the widest row of the sheet. Numbers lose their sign, amount columns are formatted as euros
// and fraction-only columns as percentages.
func ReadWorkbook(data []byte) ([]Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "open workbook")
	}
	defer func() {
		_ = f.Close()
	}()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		visible, err := f.GetSheetVisible(name)
		if err != nil {
			return nil, errors.Wrap(err, "sheet visibility")
		}
		if !visible {
			continue
		}
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, errors.Wrap(err, "read sheet")
		}
		sheet, ok := tableOf(name, rows)
		if !ok {
			continue
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

func filled(row []string) int {
	n := 0
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			n++
		}
	}
	return n
}

func tableOf(name string, rows [][]string) (Sheet, bool) {
	widest := 0
	for _, row := range rows {
		widest = max(widest, filled(row))
	}
	if widest == 0 {
		return Sheet{}, false
	}

	headerIdx := -1
	first := -1
	for i, row := range rows {
		n := filled(row)
		if n == 0 {
			continue
		}
		if first < 0 {
			first = i
		}
		if n == widest {
			headerIdx = i
			break
		}
		if i >= headerSearchRows {
			break
		}
	}
	if headerIdx < 0 {
		headerIdx = first
	}

	header := trimmed(rows[headerIdx])
	for len(header) > 0 && header[len(header)-1] == "" {
		header = header[:len(header)-1]
	}
	var body [][]string
	for _, row := range rows[headerIdx+1:] {
		if filled(row) == 0 {
			continue
		}
		cells := trimmed(row)
		if len(cells) > len(header) {
			cells = cells[:len(header)]
		}
		for len(cells) < len(header) {
			cells = append(cells, "")
		}
		body = append(body, cells)
	}
	formatColumns(header, body)
	return Sheet{Name: name, Header: header, Rows: body}, true
}

func trimmed(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = strings.TrimSpace(cell)
	}
	return out
}

func formatColumns(header []string, rows [][]string) {
	for col, title := range header {
		isAmount := strings.Contains(strings.ToLower(title), "importe")
		percent := !isAmount && fractionColumn(rows, col)
		for _, row := range rows {
			v, err := strconv.ParseFloat(row[col], 64)
			if err != nil {
				continue
			}
			v = math.Abs(v)
			switch {
			case isAmount:
				row[col] = FormatAmount(v)
			case percent:
				row[col] = strconv.Itoa(int(math.Round(v*100))) + "%"
			default:
				row[col] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
	}
}

// fractionColumn reports whether every number in the column lies in [0, 1] and at least one is not whole.
func fractionColumn(rows [][]string, col int) bool {
	fraction := false
	for _, row := range rows {
		v, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			continue
		}
		v = math.Abs(v)
		if v > 1 {
			return false
		}
		if v != math.Trunc(v) {
			fraction = true
		}
	}
	return fraction
}

// FormatAmount formats v as euros with Spanish separators.
func FormatAmount(v float64) string {
	return amounts.Sprintf("%.2f €", v)
}

var digits = regexp.MustCompile(`\d+`)

// pickSheet returns the first sheet whose name contains keyword. When several match, the one whose name carries a
// number found in the account number wins.
func pickSheet(sheets []Sheet, keyword string, accountNumber string) (Sheet, bool) {
	var matches []Sheet
	for _, sheet := range sheets {
		if strings.Contains(strings.ToLower(sheet.Name), keyword) {
			matches = append(matches, sheet)
		}
	}
	if len(matches) == 0 {
		return Sheet{}, false
	}
	if len(matches) > 1 && accountNumber != "" {
		for _, sheet := range matches {
			for _, num := range digits.FindAllString(sheet.Name, -1) {
				if strings.Contains(accountNumber, num) {
					return sheet, true
				}
			}
		}
	}
	return matches[0], true
}

// sheetsMarkdown renders every sheet under a heading with its name.
func sheetsMarkdown(sheets []Sheet) string {
	sections := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		sections = append(sections, "### "+sheet.Name+":\n\n"+sheet.Markdown())
	}
	return strings.Join(sections, "\n\n")
}
