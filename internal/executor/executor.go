// Package executor turns a possibly failing, possibly streaming backend call into a fully accumulated answer.
package executor

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/myrjola/amlnarrator/internal/ai"
	"github.com/myrjola/amlnarrator/internal/errors"
)

// Sentinel is the answer of a call whose attempts all failed transiently.
const Sentinel = "No response generated from the API after multiple attempts."

// DefaultMaxRetries is the number of attempts made when the caller passes zero.
const DefaultMaxRetries = 10

var errEmptyAnswer = errors.NewSentinel("empty answer")

// Call starts one attempt. Every invocation must start from scratch.
type Call func(ctx context.Context) (ai.Stream, error)

// Streaming issues the question with [ai.Backend.CallStreaming].
func Streaming(backend ai.Backend, sessionID string, question string) Call {
	return func(ctx context.Context) (ai.Stream, error) {
		return backend.CallStreaming(ctx, sessionID, question)
	}
}

// Blocking issues the question with [ai.Backend.CallOnce] and exposes the answer as a single fragment.
func Blocking(backend ai.Backend, sessionID string, question string) Call {
	return func(ctx context.Context) (ai.Stream, error) {
		answer, err := backend.CallOnce(ctx, sessionID, question)
		if err != nil {
			return nil, err
		}
		return &singleFragment{fragment: answer, sent: false}, nil
	}
}

type singleFragment struct {
	fragment string
	sent     bool
}

func (s *singleFragment) Recv() (string, error) {
	if s.sent {
		return "", io.EOF
	}
	s.sent = true
	return s.fragment, nil
}

func (s *singleFragment) Close() error {
	return nil
}

type EventType int

const (
	// EventFragment carries a piece of the answer.
	EventFragment EventType = iota
	// EventDiscard tells that the fragments of the attempt are void because it failed.
	EventDiscard
)

type Event struct {
	Type     EventType
	Attempt  int
	Fragment string
	Err      error
}

// Observer receives fragments as they arrive for progressive display. It is called synchronously.
type Observer func(Event)

// Backoff controls the wait between attempts.
type Backoff struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the delay.
	Max time.Duration
	// Multiplier scales the delay after each attempt.
	Multiplier float64
	// JitterFraction adds random jitter as a fraction of the computed delay (0.25 = ±25%).
	JitterFraction float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:        2 * time.Second,
		Max:            30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Result describes how an answer was obtained.
type Result struct {
	Text     string
	Attempts int
	// Sentinel is set when Text is [Sentinel] because every attempt failed.
	Sentinel bool
}

type Executor struct {
	backoff Backoff
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

type Option func(*Executor)

func WithBackoff(backoff Backoff) Option {
	return func(e *Executor) {
		e.backoff = backoff
	}
}

// WithSleep replaces the wait between attempts, e.g., to avoid real delays in tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func New(logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		backoff: DefaultBackoff(),
		sleep:   sleepContext,
		logger:  logger.With("source", "Executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs call until it produces a non-empty answer or maxRetries attempts have been made.
//
// Transient failures and empty answers are retried with exponential backoff. When the attempts run out, the result
// is [Sentinel] and the error is nil. Any other failure, including cancellation of ctx, aborts immediately and is
// returned as an error.
func (e *Executor) Execute(ctx context.Context, call Call, maxRetries int, observer Observer) (Result, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if observer == nil {
		observer = func(Event) {}
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		text, err := e.attempt(ctx, call, attempt, observer)
		switch {
		case err == nil && strings.TrimSpace(text) != "":
			return Result{Text: text, Attempts: attempt, Sentinel: false}, nil
		case err == nil:
			lastErr = errEmptyAnswer
		case ctx.Err() != nil:
			return Result{Text: "", Attempts: attempt, Sentinel: false}, errors.Wrap(err, "attempt cancelled",
				slog.Int("attempt", attempt))
		case !ai.IsTransient(err):
			return Result{Text: "", Attempts: attempt, Sentinel: false}, errors.Wrap(err, "attempt failed",
				slog.Int("attempt", attempt))
		default:
			lastErr = err
		}

		observer(Event{Type: EventDiscard, Attempt: attempt, Fragment: "", Err: lastErr})
		if attempt == maxRetries {
			break
		}
		delay := computeBackoff(attempt-1, e.backoff)
		e.logger.LogAttrs(ctx, slog.LevelWarn, "retrying call",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxRetries),
			slog.Duration("backoff", delay),
			errors.SlogError(lastErr))
		if err = e.sleep(ctx, delay); err != nil {
			return Result{Text: "", Attempts: attempt, Sentinel: false}, errors.Wrap(err, "wait for retry")
		}
	}

	e.logger.LogAttrs(ctx, slog.LevelError, "giving up after all attempts",
		slog.Int("attempts", maxRetries), errors.SlogError(lastErr))
	observer(Event{Type: EventFragment, Attempt: maxRetries, Fragment: Sentinel, Err: nil})
	return Result{Text: Sentinel, Attempts: maxRetries, Sentinel: true}, nil
}

// attempt consumes one call. The accumulated text is only meaningful when err is nil.
func (e *Executor) attempt(ctx context.Context, call Call, attempt int, observer Observer) (string, error) {
	stream, err := call(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			e.logger.LogAttrs(ctx, slog.LevelDebug, "could not close stream", errors.SlogError(closeErr))
		}
	}()

	var answer strings.Builder
	for {
		fragment, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			return answer.String(), nil
		}
		if recvErr != nil {
			return "", recvErr
		}
		if fragment == "" {
			continue
		}
		answer.WriteString(fragment)
		observer(Event{Type: EventFragment, Attempt: attempt, Fragment: fragment, Err: nil})
	}
}

func computeBackoff(attempt int, cfg Backoff) time.Duration {
	delay := float64(cfg.Initial) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}

	// Apply jitter: ±JitterFraction of delay.
	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange //nolint:gosec // jitter needs no cryptographic randomness.
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
