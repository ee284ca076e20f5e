// Package classify tells diagram descriptions apart from prose answers.
package classify

import (
	"strings"

	"github.com/myrjola/amlnarrator/internal/models"
)

const fence = "```"

// Classify returns [models.KindGraph] when the whole answer is wrapped in a fenced block or in double quotes.
// Trailing line breaks are ignored. Everything else is [models.KindProse].
func Classify(answer string) models.Kind {
	if _, ok := unwrap(answer); ok {
		return models.KindGraph
	}
	return models.KindProse
}

// GraphDescription returns the DOT description inside a graph answer. It returns an empty string, meaning no
// diagram, when the answer is prose or the envelope does not contain a graph.
func GraphDescription(answer string) string {
	body, ok := unwrap(answer)
	if !ok {
		return ""
	}
	description := strings.TrimSpace(body)
	keyword := strings.ToLower(description)
	for _, prefix := range []string{"strict ", "digraph", "graph"} {
		if strings.HasPrefix(keyword, prefix) {
			if !strings.HasSuffix(description, "}") {
				return ""
			}
			return description
		}
	}
	return ""
}

// unwrap strips the envelope of a graph answer and the language tag of a fenced block.
func unwrap(answer string) (string, bool) {
	text := strings.TrimRight(answer, "\r\n")
	switch {
	case len(text) >= 2*len(fence) && strings.HasPrefix(text, fence) && strings.HasSuffix(text, fence):
		body := text[len(fence) : len(text)-len(fence)]
		if newline := strings.IndexByte(body, '\n'); newline >= 0 && !strings.ContainsAny(body[:newline], "{ ") {
			// Drop the info string, e.g., "dot" in ```dot.
			body = body[newline+1:]
		}
		return body, true
	case len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`):
		return text[1 : len(text)-1], true
	default:
		return "", false
	}
}
