package diagram_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrjola/amlnarrator/internal/diagram"
	"github.com/myrjola/amlnarrator/internal/testhelpers"
)

// fakeDot writes an executable that stands in for Graphviz.
func fakeDot(t *testing.T, script string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "dot")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o700))
	return p
}

func TestRenderer_Render(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := testhelpers.NewLogger(io.Discard)
	answer := "```dot\ndigraph G { a -> b }\n```"

	echo := fakeDot(t, `[ "$1" = "-Tsvg" ] || exit 2; printf '<svg>'; cat`)
	failing := fakeDot(t, `echo "syntax error in line 1" >&2; exit 1`)
	silent := fakeDot(t, `cat > /dev/null`)

	tests := []struct {
		name    string
		binary  string
		answer  string
		want    string
		wantErr error
	}{
		{name: "renders description", binary: echo, answer: answer, want: "<svg>digraph G { a -> b }"},
		{name: "prose", binary: echo, answer: "Texto sin grafo", wantErr: diagram.ErrNoDiagram},
		{name: "unclosed graph", binary: echo, answer: "```\ndigraph G { a -> b\n```", wantErr: diagram.ErrNoDiagram},
		{name: "layout error", binary: failing, answer: answer, wantErr: diagram.ErrRenderFailed},
		{name: "empty output", binary: silent, answer: answer, wantErr: diagram.ErrRenderFailed},
		{name: "missing binary", binary: filepath.Join(t.TempDir(), "missing"), answer: answer,
			wantErr: diagram.ErrRenderFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := diagram.New(logger, diagram.WithBinary(tt.binary), diagram.WithFormat("svg"))
			got, err := r.Render(ctx, tt.answer)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRenderer_cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := diagram.New(testhelpers.NewLogger(io.Discard), diagram.WithBinary(fakeDot(t, "sleep 5")))
	_, err := r.Render(ctx, `"graph G { a -- b }"`)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, diagram.DefaultFormat, r.Format())
}
