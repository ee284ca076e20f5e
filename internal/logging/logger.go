package logging

import (
	"context"
	"io"
	"log/slog"
)

// New creates a JSON logger writing to w whose records carry the attributes added with [WithAttrs].
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewContextHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: nil,
	})))
}

// WithLevel returns a logger that drops records below level before they reach the handler of logger.
func WithLevel(logger *slog.Logger, level slog.Leveler) *slog.Logger {
	return slog.New(&levelHandler{Handler: logger.Handler(), level: level})
}

type levelHandler struct {
	slog.Handler
	level slog.Leveler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() && h.Handler.Enabled(ctx, level)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
