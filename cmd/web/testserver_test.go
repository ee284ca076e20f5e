package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrjola/amlnarrator/internal/e2etest"
	"github.com/myrjola/amlnarrator/internal/testhelpers"
)

// newCompletionServer fakes the chat completions API. Diagram questions get a fenced DOT description, the rest get
// a numbered prose answer. Streaming answers arrive in two fragments.
func newCompletionServer(t *testing.T) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream   bool `json:"stream"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		n := calls.Add(1)
		answer := fmt.Sprintf("Respuesta **%d** del análisis.", n)
		if strings.Contains(req.Messages[len(req.Messages)-1].Content, "digraph G {") {
			answer = "```dot\ndigraph G { cliente -> cuenta }\n```"
		}
		if !req.Stream {
			body, err := json.Marshal(map[string]any{
				"id": "1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
				"choices": []map[string]any{{
					"index": 0, "finish_reason": "stop",
					"message": map[string]string{"role": "assistant", "content": answer},
				}},
			})
			assert.NoError(t, err)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		half := len(answer) / 2
		for _, fragment := range []string{answer[:half], answer[half:]} {
			chunk, err := json.Marshal(map[string]any{
				"id": "1", "object": "chat.completion.chunk", "created": 1, "model": "gpt-4o",
				"choices": []map[string]any{{
					"index": 0, "finish_reason": nil,
					"delta": map[string]string{"content": fragment},
				}},
			})
			assert.NoError(t, err)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)
	return server
}

// testEnv returns the environment of a server backed by the fake completion server, an in-memory database and a
// storage directory holding one pre-narrative case.
func testEnv(t *testing.T) func(string) (string, bool) {
	t.Helper()
	completions := newCompletionServer(t)
	store := testhelpers.NewStore(t, map[string][]byte{
		"Prenarrativas/C1 - UE - 0001/Alerta.json":  []byte(`{"numero_cuenta": "ES0000000000000000000001"}`),
		"Prenarrativas/C1 - UE - 0001/Cliente.json": []byte(`{"nombre": "John Doe", "documento": "00000000T"}`),
	})

	dot := filepath.Join(t.TempDir(), "dot")
	require.NoError(t, os.WriteFile(dot, []byte("#!/bin/sh\ncat\n"), 0o700)) //nolint:gosec // test script.

	env := map[string]string{
		"AMLNARRATOR_ADDR":       "localhost:0",
		"AMLNARRATOR_SQLITE_URL": ":memory:",
		"OPENAI_API_KEY":         "test-key",
		"OPENAI_BASE_URL":        completions.URL + "/v1",
		"STORAGE_DIR":            store.Root(),
		"DOT_BINARY":             dot,
		"AMLNARRATOR_LOG_LEVEL":  "debug",
	}
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

type testServer struct {
	client *e2etest.Client
}

// startTestServer starts the test server and stops it when the test ends.
func startTestServer(t *testing.T, w io.Writer, lookupEnv func(string) (string, bool)) testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	server, err := e2etest.StartServer(ctx, w, lookupEnv, run)
	if err != nil {
		cancel()
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		cancel()
		<-server.Done()
	})
	return testServer{client: server.Client()}
}

// Do sends a request with the given method to urlPath.
func (s *testServer) Do(t *testing.T, method string, urlPath string) *http.Response {
	t.Helper()
	resp, err := s.client.Do(t.Context(), method, urlPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Get fetches a URL and returns the response.
func (s *testServer) Get(t *testing.T, urlPath string) *http.Response {
	t.Helper()
	return s.Do(t, http.MethodGet, urlPath)
}

// GetJSON fetches a URL, checks the status, and decodes the JSON body into v.
func (s *testServer) GetJSON(t *testing.T, urlPath string, status int, v any) {
	t.Helper()
	resp := s.Get(t, urlPath)
	require.Equal(t, status, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// Events reads the server-sent events of urlPath until the server ends the stream.
func (s *testServer) Events(t *testing.T, urlPath string) []e2etest.Event {
	t.Helper()
	events, err := s.client.Events(t.Context(), urlPath)
	require.NoError(t, err)
	return events
}
