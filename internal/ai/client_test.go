package ai_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/myrjola/amlnarrator/internal/ai"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

type memoryHistory struct {
	mu       sync.Mutex
	sessions map[string][]models.Message
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{sessions: map[string][]models.Message{}}
}

func (h *memoryHistory) Append(_ context.Context, sessionID string, messages ...models.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = append(h.sessions[sessionID], messages...)
	return nil
}

func (h *memoryHistory) History(_ context.Context, sessionID string) ([]models.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Message(nil), h.sessions[sessionID]...), nil
}

type sliceStream struct {
	fragments []string
	err       error
	closed    bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	fragment := s.fragments[0]
	s.fragments = s.fragments[1:]
	return fragment, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type fakeProvider struct {
	answer    []string
	streamErr error
	requests  []ai.Request
}

func (p *fakeProvider) Complete(_ context.Context, req ai.Request) (string, error) {
	p.requests = append(p.requests, req)
	var answer string
	for _, fragment := range p.answer {
		answer += fragment
	}
	return answer, nil
}

func (p *fakeProvider) Stream(_ context.Context, req ai.Request) (ai.Stream, error) {
	p.requests = append(p.requests, req)
	return &sliceStream{fragments: append([]string(nil), p.answer...), err: p.streamErr}, nil
}

func drain(t *testing.T, stream ai.Stream) (string, error) {
	t.Helper()
	var answer string
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return answer, nil
		}
		if err != nil {
			return answer, err
		}
		answer += fragment
	}
}

func newClient(t *testing.T, provider ai.Provider, history ai.History) *ai.Client {
	t.Helper()
	client, err := ai.NewClient(provider, history, ai.Settings{Model: "gpt-4o", Temperature: 0},
		testhelpers.NewLogger(io.Discard))
	require.NoError(t, err)
	return client.WithSystemPrompt("You are a compliance analyst.")
}

func TestClient_CallOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	history := newMemoryHistory()
	provider := &fakeProvider{answer: []string{"Cash ", "deposits."}}
	client := newClient(t, provider, history)

	answer, err := client.CallOnce(ctx, "C-1/pre-narrative", "What triggered the alert?")
	require.NoError(t, err)
	require.Equal(t, "Cash deposits.", answer)

	_, err = client.CallOnce(ctx, "C-1/pre-narrative", "Who is the principal?")
	require.NoError(t, err)

	require.Len(t, provider.requests, 2)
	second := provider.requests[1]
	require.Equal(t, "You are a compliance analyst.", second.System)
	require.Equal(t, "gpt-4o", second.Model)
	require.Equal(t, ai.DefaultMaxTokens, second.MaxTokens)
	require.Equal(t, []models.Message{
		{Role: models.RoleUser, Content: "What triggered the alert?"},
		{Role: models.RoleAssistant, Content: "Cash deposits."},
		{Role: models.RoleUser, Content: "Who is the principal?"},
	}, second.Messages)

	recorded, err := history.History(ctx, "C-1/pre-narrative")
	require.NoError(t, err)
	require.Len(t, recorded, 4)
}

func TestClient_CallStreaming(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name         string
		provider     *fakeProvider
		wantAnswer   string
		wantErr      bool
		wantRecorded int
	}{
		{
			name:         "complete stream is recorded",
			provider:     &fakeProvider{answer: []string{"Jane ", "Doe"}},
			wantAnswer:   "Jane Doe",
			wantRecorded: 2,
		},
		{
			name:         "interrupted stream leaves no trace",
			provider:     &fakeProvider{answer: []string{"Jane "}, streamErr: errors.NewSentinel("connection reset")},
			wantAnswer:   "Jane ",
			wantErr:      true,
			wantRecorded: 0,
		},
		{
			name:         "empty answer is not recorded",
			provider:     &fakeProvider{answer: []string{"", "  "}},
			wantAnswer:   "  ",
			wantRecorded: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			history := newMemoryHistory()
			client := newClient(t, tt.provider, history)
			stream, err := client.CallStreaming(ctx, "C-1/sar", "Summarise")
			require.NoError(t, err)
			answer, err := drain(t, stream)
			require.NoError(t, stream.Close())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantAnswer, answer)
			recorded, err := history.History(ctx, "C-1/sar")
			require.NoError(t, err)
			require.Len(t, recorded, tt.wantRecorded)
		})
	}
}

func TestClient_malformedSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	history := newMemoryHistory()
	require.NoError(t, history.Append(ctx, "C-1/sar", models.Message{Role: "tool", Content: "?"}))
	client := newClient(t, &fakeProvider{answer: []string{"x"}}, history)

	_, err := client.CallOnce(ctx, "C-1/sar", "question")
	require.ErrorIs(t, err, ai.ErrFatal)
	require.False(t, ai.IsTransient(err))
}

func TestNewClient_settings(t *testing.T) {
	t.Parallel()
	logger := testhelpers.NewLogger(io.Discard)
	tests := []struct {
		name     string
		settings ai.Settings
		wantErr  bool
	}{
		{name: "valid", settings: ai.Settings{Model: "gpt-4o", Temperature: 0.7}},
		{name: "missing model", settings: ai.Settings{Temperature: 0.7}, wantErr: true},
		{name: "negative temperature", settings: ai.Settings{Model: "gpt-4o", Temperature: -1}, wantErr: true},
		{name: "too hot", settings: ai.Settings{Model: "gpt-4o", Temperature: 2.5}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ai.NewClient(&fakeProvider{}, newMemoryHistory(), tt.settings, logger)
			if tt.wantErr {
				require.ErrorIs(t, err, ai.ErrFatal)
				return
			}
			require.NoError(t, err)
		})
	}
}
