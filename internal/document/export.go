package document

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
)

// Format is an export file format.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatDocx     Format = "docx"
)

var ErrUnknownFormat = errors.NewSentinel("unknown export format")

// ParseFormat validates s as an export format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	switch f {
	case FormatText, FormatMarkdown, FormatDocx:
		return f, nil
	default:
		return "", errors.Wrap(ErrUnknownFormat, "parse format", slog.String("format", s))
	}
}

// ContentType is the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatDocx:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Filename is the deterministic export name of a report.
func Filename(t time.Time, rt models.ReportType, caseID string, f Format) string {
	return fmt.Sprintf("%s-%s-%s.%s", t.Format("20060102-1504"), rt, caseID, f)
}

// Render encodes the narrative sections in format f.
func Render(sections []string, f Format) ([]byte, error) {
	markup := RenderMarkup(sections)
	switch f {
	case FormatMarkdown:
		return []byte(markup), nil
	case FormatText:
		text, err := RenderPlain(markup)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	case FormatDocx:
		var buf bytes.Buffer
		if err := WriteDocument(&buf, markup); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Wrap(ErrUnknownFormat, "render", slog.String("format", string(f)))
	}
}
