package executor_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/myrjola/amlnarrator/internal/ai"
	"github.com/myrjola/amlnarrator/internal/executor"
	"github.com/myrjola/amlnarrator/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

type scriptedStream struct {
	fragments []string
	err       error
}

func (s *scriptedStream) Recv() (string, error) {
	if len(s.fragments) > 0 {
		fragment := s.fragments[0]
		s.fragments = s.fragments[1:]
		return fragment, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error { return nil }

// attemptScript describes one attempt: either the call itself fails, or it streams fragments and then ends with err
// (nil meaning a clean end of stream).
type attemptScript struct {
	callErr   error
	fragments []string
	err       error
}

type scriptedCall struct {
	script []attemptScript
	calls  int
}

func (c *scriptedCall) call(_ context.Context) (ai.Stream, error) {
	step := c.script[len(c.script)-1]
	if c.calls < len(c.script) {
		step = c.script[c.calls]
	}
	c.calls++
	if step.callErr != nil {
		return nil, step.callErr
	}
	return &scriptedStream{fragments: append([]string(nil), step.fragments...), err: step.err}, nil
}

var errTransient = fmt.Errorf("%w: rate limited", ai.ErrTransient)

type recorder struct {
	events []executor.Event
	sleeps []time.Duration
}

func (r *recorder) observe(event executor.Event) {
	r.events = append(r.events, event)
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func newExecutor(r *recorder) *executor.Executor {
	return executor.New(testhelpers.NewLogger(io.Discard), executor.WithSleep(r.sleep))
}

func TestExecutor_Execute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		script       []attemptScript
		maxRetries   int
		wantText     string
		wantAttempts int
		wantSentinel bool
		wantDiscards int
	}{
		{
			name:         "first attempt succeeds",
			script:       []attemptScript{{fragments: []string{"Cash ", "deposits"}}},
			maxRetries:   10,
			wantText:     "Cash deposits",
			wantAttempts: 1,
		},
		{
			name: "two transient failures then success",
			script: []attemptScript{
				{callErr: errTransient},
				{fragments: []string{"partial "}, err: errTransient},
				{fragments: []string{"full ", "answer"}},
			},
			maxRetries:   10,
			wantText:     "full answer",
			wantAttempts: 3,
			wantDiscards: 2,
		},
		{
			name: "empty answers are retried",
			script: []attemptScript{
				{fragments: []string{""}},
				{fragments: []string{"  "}},
				{fragments: []string{"answer"}},
			},
			maxRetries:   5,
			wantText:     "answer",
			wantAttempts: 3,
			wantDiscards: 2,
		},
		{
			name:         "always failing returns the sentinel",
			script:       []attemptScript{{callErr: errTransient}},
			maxRetries:   4,
			wantText:     executor.Sentinel,
			wantAttempts: 4,
			wantSentinel: true,
			wantDiscards: 4,
		},
		{
			name:         "zero max retries uses the default",
			script:       []attemptScript{{fragments: []string{"x"}, err: errTransient}},
			maxRetries:   0,
			wantText:     executor.Sentinel,
			wantAttempts: executor.DefaultMaxRetries,
			wantSentinel: true,
			wantDiscards: executor.DefaultMaxRetries,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &recorder{}
			call := &scriptedCall{script: tt.script}
			result, err := newExecutor(r).Execute(context.Background(), call.call, tt.maxRetries, r.observe)
			require.NoError(t, err)
			require.Equal(t, tt.wantText, result.Text)
			require.Equal(t, tt.wantAttempts, result.Attempts)
			require.Equal(t, tt.wantAttempts, call.calls)
			require.Equal(t, tt.wantSentinel, result.Sentinel)
			require.Len(t, r.sleeps, tt.wantAttempts-1)

			// Replaying the events the way a display would ends with the returned text.
			var shown string
			discards := 0
			for _, event := range r.events {
				switch event.Type {
				case executor.EventFragment:
					shown += event.Fragment
				case executor.EventDiscard:
					shown = ""
					discards++
				}
			}
			require.Equal(t, tt.wantText, shown)
			require.Equal(t, tt.wantDiscards, discards)
		})
	}
}

func TestExecutor_fatalAbortsImmediately(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	call := &scriptedCall{script: []attemptScript{{callErr: fmt.Errorf("%w: invalid api key", ai.ErrFatal)}}}
	result, err := newExecutor(r).Execute(context.Background(), call.call, 10, r.observe)
	require.ErrorIs(t, err, ai.ErrFatal)
	require.Equal(t, 1, call.calls)
	require.Equal(t, 1, result.Attempts)
	require.False(t, result.Sentinel)
	require.Empty(t, result.Text)
	require.Empty(t, r.sleeps)
}

func TestExecutor_cancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	call := &scriptedCall{script: []attemptScript{{callErr: errTransient}}}
	e := executor.New(testhelpers.NewLogger(io.Discard),
		executor.WithBackoff(executor.Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 1}),
		executor.WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}))
	_, err := e.Execute(ctx, call.call, 10, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, call.calls)
}

type fakeBackend struct {
	once      string
	streamed  []string
	questions []string
}

func (b *fakeBackend) CallOnce(_ context.Context, _ string, question string) (string, error) {
	b.questions = append(b.questions, question)
	return b.once, nil
}

func (b *fakeBackend) CallStreaming(_ context.Context, _ string, question string) (ai.Stream, error) {
	b.questions = append(b.questions, question)
	return &scriptedStream{fragments: append([]string(nil), b.streamed...)}, nil
}

func TestCallModes(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{once: "digraph { a -> b }", streamed: []string{"pro", "se"}}
	r := &recorder{}
	e := newExecutor(r)

	result, err := e.Execute(context.Background(), executor.Blocking(backend, "C-1/sar", "graph?"), 3, r.observe)
	require.NoError(t, err)
	require.Equal(t, "digraph { a -> b }", result.Text)

	result, err = e.Execute(context.Background(), executor.Streaming(backend, "C-1/sar", "prose?"), 3, r.observe)
	require.NoError(t, err)
	require.Equal(t, "prose", result.Text)
	require.Equal(t, []string{"graph?", "prose?"}, backend.questions)
}
