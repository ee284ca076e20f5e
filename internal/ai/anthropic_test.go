package ai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/myrjola/amlnarrator/internal/ai"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/stretchr/testify/require"
)

type messagesRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
	System []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role string `json:"role"`
	} `json:"messages"`
}

func writeEvent(w http.ResponseWriter, event string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func newAnthropicServer(t *testing.T, status int, requests chan<- messagesRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if requests != nil {
			requests <- req
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"failure"}}`))
			return
		}
		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
				`"content":[{"type":"text","text":"blocking answer"}],"stop_reason":"end_turn",` +
				`"usage":{"input_tokens":1,"output_tokens":2}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message",`+
			`"role":"assistant","model":"claude-test","content":[],"stop_reason":null,`+
			`"usage":{"input_tokens":1,"output_tokens":1}}}`)
		writeEvent(w, "content_block_start", `{"type":"content_block_start","index":0,`+
			`"content_block":{"type":"text","text":""}}`)
		for _, fragment := range []string{"Hel", "lo"} {
			writeEvent(w, "content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":0,`+
				`"delta":{"type":"text_delta","text":%q}}`, fragment))
		}
		writeEvent(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		writeEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},`+
			`"usage":{"output_tokens":2}}`)
		writeEvent(w, "message_stop", `{"type":"message_stop"}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func newAnthropicProvider(server *httptest.Server) *ai.AnthropicProvider {
	return ai.NewAnthropicProvider(option.WithAPIKey("test-key"), option.WithBaseURL(server.URL))
}

func TestAnthropicProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	requests := make(chan messagesRequest, 2)
	provider := newAnthropicProvider(newAnthropicServer(t, http.StatusOK, requests))
	req := ai.Request{
		Model:     "claude-test",
		MaxTokens: 128,
		System:    "system prompt",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "first"},
			{Role: models.RoleAssistant, Content: "reply"},
			{Role: models.RoleUser, Content: "second"},
		},
	}

	answer, err := provider.Complete(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "blocking answer", answer)
	sent := <-requests
	require.Len(t, sent.System, 1)
	require.Equal(t, "system prompt", sent.System[0].Text)
	require.Len(t, sent.Messages, 3)
	require.Equal(t, "assistant", sent.Messages[1].Role)

	stream, err := provider.Stream(ctx, req)
	require.NoError(t, err)
	defer func() { require.NoError(t, stream.Close()) }()
	answer, err = drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, "Hello", answer)
	require.True(t, (<-requests).Stream)
}

func TestAnthropicProvider_errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status        int
		wantTransient bool
	}{
		{status: http.StatusTooManyRequests, wantTransient: true},
		{status: http.StatusInternalServerError, wantTransient: true},
		{status: http.StatusUnauthorized, wantTransient: false},
		{status: http.StatusBadRequest, wantTransient: false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			provider := newAnthropicProvider(newAnthropicServer(t, tt.status, nil))
			req := ai.Request{Model: "claude-test", MaxTokens: 16,
				Messages: []models.Message{{Role: models.RoleUser, Content: "q"}}}

			_, err := provider.Complete(context.Background(), req)
			require.Error(t, err)
			require.Equal(t, tt.wantTransient, ai.IsTransient(err))
			require.Equal(t, !tt.wantTransient, ai.IsFatal(err))
		})
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     ai.ProviderConfig
		wantErr bool
	}{
		{name: "openai", cfg: ai.ProviderConfig{Interface: "openai", OpenAIAPIKey: "k"}},
		{name: "openai without key", cfg: ai.ProviderConfig{Interface: "openai"}, wantErr: true},
		{name: "azure", cfg: ai.ProviderConfig{Interface: "Azure", AzureAPIKey: "k", AzureEndpoint: "https://x"}},
		{name: "azure without endpoint", cfg: ai.ProviderConfig{Interface: "azure", AzureAPIKey: "k"}, wantErr: true},
		{name: "anthropic", cfg: ai.ProviderConfig{Interface: "anthropic", AnthropicAPIKey: "k"}},
		{name: "unknown", cfg: ai.ProviderConfig{Interface: "llama"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider, err := ai.NewProvider(tt.cfg)
			if tt.wantErr {
				require.ErrorIs(t, err, ai.ErrFatal)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, provider)
		})
	}
}
