package ai

import (
	"context"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
)

// AnthropicProvider serves completions from the Anthropic Messages API.
type AnthropicProvider struct {
	client sdk.Client
}

// NewAnthropicProvider creates the provider. Retries are disabled in the SDK because the executor owns them.
func NewAnthropicProvider(opts ...option.RequestOption) *AnthropicProvider {
	opts = append([]option.RequestOption{option.WithMaxRetries(0)}, opts...)
	return &AnthropicProvider{
		client: sdk.NewClient(opts...),
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	message, err := p.client.Messages.New(ctx, messageParams(req))
	if err != nil {
		return "", classifyAnthropic(ctx, errors.Wrap(err, "create message"))
	}
	var answer strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			answer.WriteString(block.Text)
		}
	}
	return answer.String(), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	stream := p.client.Messages.NewStreaming(ctx, messageParams(req))
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropic(ctx, errors.Wrap(err, "create message stream"))
	}
	return &anthropicStream{ctx: ctx, stream: stream}, nil
}

func messageParams(req Request) sdk.MessageNewParams {
	messages := make([]sdk.MessageParam, 0, len(req.Messages))
	system := req.System
	for _, message := range req.Messages {
		switch message.Role {
		case models.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(message.Content)))
		case models.RoleSystem:
			// The Messages API only accepts a single top-level system prompt.
			system = strings.TrimSpace(system + "\n\n" + message.Content)
		case models.RoleUser:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(message.Content)))
		}
	}
	params := sdk.MessageNewParams{ //nolint:exhaustruct // this is better for readability
		Model:       sdk.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    messages,
		Temperature: sdk.Float(req.Temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}} //nolint:exhaustruct // this is better for readability
	}
	return params
}

type anthropicStream struct {
	ctx    context.Context //nolint:containedctx // needed to tell cancellation apart from transport errors.
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *anthropicStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" {
			return event.Delta.Text, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", classifyAnthropic(s.ctx, errors.Wrap(err, "receive message event"))
	}
	return "", io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

func classifyAnthropic(ctx context.Context, err error) error {
	var apiErr *sdk.Error
	switch {
	case ctx.Err() != nil:
		return classifyTransport(ctx, err)
	case errors.As(err, &apiErr):
		return classifyStatus(apiErr.StatusCode, err)
	default:
		return classifyTransport(ctx, err)
	}
}
