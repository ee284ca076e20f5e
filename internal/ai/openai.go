package ai

import (
	"context"
	"io"
	"math"

	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider serves completions from OpenAI or Azure OpenAI deployments.
type OpenAIProvider struct {
	client *openai.Client
}

func NewOpenAIProvider(config openai.ClientConfig) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	completion, err := p.client.CreateChatCompletion(ctx, chatCompletionRequest(req, false))
	if err != nil {
		return "", classifyOpenAI(ctx, errors.Wrap(err, "create chat completion"))
	}
	if len(completion.Choices) == 0 {
		return "", transient(errors.New("chat completion without choices"))
	}
	return completion.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, chatCompletionRequest(req, true))
	if err != nil {
		return nil, classifyOpenAI(ctx, errors.Wrap(err, "create chat completion stream"))
	}
	return &openAIStream{ctx: ctx, stream: stream}, nil
}

func chatCompletionRequest(req Request, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{ //nolint:exhaustruct // this is better for readability
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, message := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch message.Role {
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleUser:
		}
		messages = append(messages, openai.ChatCompletionMessage{ //nolint:exhaustruct // this is better for readability
			Role:    role,
			Content: message.Content,
		})
	}
	// The temperature field is omitted when zero, which the API reads as its default of 1.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	return openai.ChatCompletionRequest{ //nolint:exhaustruct // this is better for readability
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
		Messages:    messages,
		Stream:      stream,
	}
}

type openAIStream struct {
	ctx    context.Context //nolint:containedctx // needed to tell cancellation apart from transport errors.
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	response, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return "", io.EOF
	}
	if err != nil {
		return "", classifyOpenAI(s.ctx, errors.Wrap(err, "receive chat completion chunk"))
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Delta.Content, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func classifyOpenAI(ctx context.Context, err error) error {
	var (
		apiErr     *openai.APIError
		requestErr *openai.RequestError
	)
	switch {
	case ctx.Err() != nil:
		return classifyTransport(ctx, err)
	case errors.As(err, &apiErr):
		return classifyStatus(apiErr.HTTPStatusCode, err)
	case errors.As(err, &requestErr):
		return classifyStatus(requestErr.HTTPStatusCode, err)
	default:
		return classifyTransport(ctx, err)
	}
}
