package questions

import (
	"embed"
	"log/slog"
	"strings"
	"text/template"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
)

// ErrMalformedInput is returned when a prompt cannot be resolved from the available inputs.
var ErrMalformedInput = errors.NewSentinel("malformed input")

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Option("missingkey=zero").ParseFS(promptFS, "prompts/*.tmpl"))

// render executes the named prompt template.
func render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := prompts.ExecuteTemplate(&sb, name+".tmpl", data); err != nil {
		return "", errors.Wrap(errors.Join(ErrMalformedInput, err), "render prompt", slog.String("template", name))
	}
	return strings.TrimSpace(sb.String()), nil
}

// RuleKind tells how a slot obtains its prompt.
type RuleKind int

const (
	// RuleStatic is a fixed prompt.
	RuleStatic RuleKind = iota
	// RuleFromAnswers builds the prompt from the answers of earlier slots.
	RuleFromAnswers
	// RuleFromDocuments builds the prompt from the case documents.
	RuleFromDocuments
	// RuleInherit copies the answer of a slot of another report type without asking.
	RuleInherit
)

// Input is what a prompt rule may read.
type Input struct {
	// Answers of the slots before the one being resolved.
	Answers   map[models.SlotTag]string
	Documents models.Documents
}

// PromptRule resolves the prompt of a slot.
type PromptRule struct {
	kind      RuleKind
	text      string
	answers   func(answers map[models.SlotTag]string) (string, error)
	documents func(docs models.Documents) (string, error)
	source    models.ReportType
	tag       models.SlotTag
}

func Static(text string) PromptRule {
	return PromptRule{kind: RuleStatic, text: text}
}

func FromAnswers(fn func(answers map[models.SlotTag]string) (string, error)) PromptRule {
	return PromptRule{kind: RuleFromAnswers, answers: fn}
}

func FromDocuments(fn func(docs models.Documents) (string, error)) PromptRule {
	return PromptRule{kind: RuleFromDocuments, documents: fn}
}

// Inherit reuses the answer of slot tag of report type source.
func Inherit(source models.ReportType, tag models.SlotTag) PromptRule {
	return PromptRule{kind: RuleInherit, source: source, tag: tag}
}

func (r PromptRule) Kind() RuleKind {
	return r.kind
}

// Inherits returns the slot an inheriting rule copies from.
func (r PromptRule) Inherits() (models.ReportType, models.SlotTag, bool) {
	return r.source, r.tag, r.kind == RuleInherit
}

// Resolve builds the prompt. Inheriting rules have no prompt and fail with ErrMalformedInput, as does a blank result.
func (r PromptRule) Resolve(in Input) (string, error) {
	var (
		prompt string
		err    error
	)
	switch r.kind {
	case RuleStatic:
		prompt = r.text
	case RuleFromAnswers:
		prompt, err = r.answers(in.Answers)
	case RuleFromDocuments:
		prompt, err = r.documents(in.Documents)
	case RuleInherit:
		return "", errors.Wrap(ErrMalformedInput, "inheriting rule has no prompt",
			slog.String("source", string(r.source)), slog.String("tag", string(r.tag)))
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.Wrap(ErrMalformedInput, "empty prompt")
	}
	return prompt, nil
}
