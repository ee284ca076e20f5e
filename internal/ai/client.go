package ai

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"golang.org/x/time/rate"
)

// Backend obtains answers to questions asked within a conversation session.
type Backend interface {
	// CallOnce blocks until the whole answer is available.
	CallOnce(ctx context.Context, sessionID string, question string) (string, error)
	// CallStreaming returns the answer as a sequence of fragments.
	CallStreaming(ctx context.Context, sessionID string, question string) (Stream, error)
}

// Stream is a lazy, finite and non-restartable sequence of answer fragments. Recv returns io.EOF after the last
// fragment.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// History is the conversation store the client reads context from and records finished exchanges to.
type History interface {
	Append(ctx context.Context, sessionID string, messages ...models.Message) error
	History(ctx context.Context, sessionID string) ([]models.Message, error)
}

// Request is a vendor-neutral completion request.
type Request struct {
	Model       string
	Temperature float64
	MaxTokens   int
	System      string
	Messages    []models.Message
}

// Provider talks to one vendor's completion API. Implementations classify their errors with ErrTransient and
// ErrFatal.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Settings are fixed for a report generation run.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

const DefaultMaxTokens = 4096

// Client is the [Backend] that scopes provider calls to conversation sessions.
type Client struct {
	provider Provider
	history  History
	settings Settings
	system   string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

type Option func(*Client)

// WithRateLimiter makes every call wait for limiter first. Share one limiter between clients to bound the request
// rate of concurrent runs.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

func NewClient(provider Provider, history History, settings Settings, logger *slog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(settings.Model) == "" {
		return nil, fatal(errors.New("model is required"))
	}
	if settings.Temperature < 0 || settings.Temperature > 2 {
		return nil, fatal(errors.New("temperature out of range", slog.Float64("temperature", settings.Temperature)))
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = DefaultMaxTokens
	}
	c := &Client{
		provider: provider,
		history:  history,
		settings: settings,
		system:   "",
		limiter:  nil,
		logger:   logger.With("source", "ai.Client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithSystemPrompt returns a copy of the client that sends prompt as the system prompt.
func (c *Client) WithSystemPrompt(prompt string) *Client {
	clone := *c
	clone.system = prompt
	return &clone
}

func (c *Client) Settings() Settings {
	return c.settings
}

// CallOnce asks question within the session and records the exchange once the answer is complete.
func (c *Client) CallOnce(ctx context.Context, sessionID string, question string) (string, error) {
	req, err := c.request(ctx, sessionID, question)
	if err != nil {
		return "", err
	}
	answer, err := c.provider.Complete(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "complete", slog.String("session_id", sessionID))
	}
	if err = c.record(ctx, sessionID, question, answer); err != nil {
		return "", err
	}
	return answer, nil
}

// CallStreaming asks question within the session. The exchange is recorded when the stream reaches its end, so an
// interrupted stream leaves no trace in the session.
func (c *Client) CallStreaming(ctx context.Context, sessionID string, question string) (Stream, error) {
	req, err := c.request(ctx, sessionID, question)
	if err != nil {
		return nil, err
	}
	stream, err := c.provider.Stream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "open stream", slog.String("session_id", sessionID))
	}
	return &recordingStream{
		ctx:       ctx,
		client:    c,
		inner:     stream,
		sessionID: sessionID,
		question:  question,
		answer:    strings.Builder{},
		done:      false,
	}, nil
}

func (c *Client) request(ctx context.Context, sessionID string, question string) (Request, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Request{}, errors.Wrap(err, "wait for rate limiter")
		}
	}
	history, err := c.history.History(ctx, sessionID)
	if err != nil {
		return Request{}, errors.Wrap(err, "load history", slog.String("session_id", sessionID))
	}
	for i, message := range history {
		switch message.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			return Request{}, fatal(errors.New("malformed session",
				slog.String("session_id", sessionID), slog.Int("index", i), slog.String("role", string(message.Role))))
		}
	}
	messages := make([]models.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: question})
	c.logger.LogAttrs(ctx, slog.LevelDebug, "prepared completion request",
		slog.String("session_id", sessionID),
		slog.Int("history", len(history)),
		slog.String("model", c.settings.Model))
	return Request{
		Model:       c.settings.Model,
		Temperature: c.settings.Temperature,
		MaxTokens:   c.settings.MaxTokens,
		System:      c.system,
		Messages:    messages,
	}, nil
}

// record appends the question and its answer. Empty answers are not recorded because the caller retries them.
func (c *Client) record(ctx context.Context, sessionID string, question string, answer string) error {
	if strings.TrimSpace(answer) == "" {
		return nil
	}
	if err := c.history.Append(ctx, sessionID,
		models.Message{Role: models.RoleUser, Content: question},
		models.Message{Role: models.RoleAssistant, Content: answer},
	); err != nil {
		return errors.Wrap(err, "record exchange", slog.String("session_id", sessionID))
	}
	return nil
}

type recordingStream struct {
	ctx       context.Context //nolint:containedctx // the exchange is recorded from Recv.
	client    *Client
	inner     Stream
	sessionID string
	question  string
	answer    strings.Builder
	done      bool
}

func (s *recordingStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	fragment, err := s.inner.Recv()
	if errors.Is(err, io.EOF) {
		s.done = true
		if recordErr := s.client.record(s.ctx, s.sessionID, s.question, s.answer.String()); recordErr != nil {
			return "", recordErr
		}
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	s.answer.WriteString(fragment)
	return fragment, nil
}

func (s *recordingStream) Close() error {
	return s.inner.Close()
}
