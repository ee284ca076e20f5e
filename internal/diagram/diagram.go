// Package diagram renders graph slot answers with Graphviz.
package diagram

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/myrjola/amlnarrator/internal/classify"
	"github.com/myrjola/amlnarrator/internal/errors"
)

var (
	// ErrNoDiagram is returned for answers that carry no graph description.
	ErrNoDiagram = errors.NewSentinel("answer has no diagram")
	// ErrRenderFailed is returned when the layout program is missing or rejects the description.
	ErrRenderFailed = errors.NewSentinel("diagram rendering failed")
)

const (
	DefaultBinary = "dot"
	DefaultFormat = "png"
)

type Renderer struct {
	binary string
	format string
	logger *slog.Logger
}

type Option func(*Renderer)

// WithBinary runs binary instead of dot from PATH.
func WithBinary(binary string) Option {
	return func(r *Renderer) {
		r.binary = binary
	}
}

// WithFormat selects the Graphviz output format, e.g., svg.
func WithFormat(format string) Option {
	return func(r *Renderer) {
		r.format = format
	}
}

func New(logger *slog.Logger, opts ...Option) *Renderer {
	r := &Renderer{
		binary: DefaultBinary,
		format: DefaultFormat,
		logger: logger.With("source", "diagram.Renderer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Format is the file extension of the rendered images.
func (r *Renderer) Format() string {
	return r.format
}

// Render lays out the graph described by answer.
func (r *Renderer) Render(ctx context.Context, answer string) ([]byte, error) {
	description := classify.GraphDescription(answer)
	if description == "" {
		return nil, ErrNoDiagram
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, "-T"+r.format) //nolint:gosec // binary is set by the operator.
	cmd.Stdin = strings.NewReader(description)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "render diagram")
		}
		r.logger.LogAttrs(ctx, slog.LevelWarn, "diagram rendering failed",
			slog.String("binary", r.binary), slog.String("stderr", strings.TrimSpace(stderr.String())))
		return nil, errors.Wrap(errors.Join(ErrRenderFailed, err), "render diagram",
			slog.String("stderr", strings.TrimSpace(stderr.String())))
	}
	if stdout.Len() == 0 {
		return nil, errors.Wrap(ErrRenderFailed, "empty diagram output")
	}
	return stdout.Bytes(), nil
}
