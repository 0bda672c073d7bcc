package tests

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolify/toolify/internal/config"
	"github.com/toolify/toolify/internal/middleware"
	"github.com/toolify/toolify/internal/proxy"
)

// TestProxyIntegration exercises the full OpenAI-in, OpenAI-out pipeline
// against a stub upstream that echoes back a canned completion.
func TestProxyIntegration(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-provider-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-test",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],
			"usage": {"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}
		}`))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		UpstreamServices: []config.UpstreamService{
			{
				Name:        "test-upstream",
				ServiceType: "openai",
				BaseURL:     upstream.URL,
				APIKey:      "test-provider-key",
				Priority:    100,
				Models:      []string{"test-model"},
			},
		},
		ClientAuth: config.ClientAuth{AllowedKeys: []string{"test-key"}},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	require.NoError(t, cfgMgr.Save(cfg))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	pipeline := proxy.New(cfgMgr, logger)
	handler := proxy.NewOpenAIHandler(pipeline)

	requestBody := map[string]any{
		"model": "test-model",
		"messages": []map[string]any{
			{"role": "user", "content": "Hello, world!"},
		},
	}
	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-key")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	choices, ok := resp["choices"].([]any)
	require.True(t, ok)
	require.Len(t, choices, 1)
}

// TestProxyIntegration_GeminiStreamVerbTriggersStreaming verifies that
// hitting :streamGenerateContent actually takes the streaming code path,
// even though Gemini's JSON body never carries a "stream" field — the verb
// in the URL is the only signal, and it has to make it all the way through
// candidate selection to the upstream request and the response encoding.
func TestProxyIntegration_GeminiStreamVerbTriggersStreaming(t *testing.T) {
	var hitPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitPath = r.URL.Path + "?" + r.URL.RawQuery
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hi\"}]},\"finishReason\":\"STOP\"}]}\n\n"))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		UpstreamServices: []config.UpstreamService{
			{
				Name:        "test-gemini",
				ServiceType: "gemini",
				BaseURL:     upstream.URL,
				APIKey:      "test-provider-key",
				Priority:    100,
				Models:      []string{"gemini-1.5-pro"},
			},
		},
		ClientAuth: config.ClientAuth{AllowedKeys: []string{"test-key"}},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	require.NoError(t, cfgMgr.Save(cfg))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	pipeline := proxy.New(cfgMgr, logger)
	handler := proxy.NewGeminiHandler(pipeline)

	requestBody := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": "hi"}}},
		},
	}
	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-1.5-pro:streamGenerateContent", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-key")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	assert.Contains(t, hitPath, ":streamGenerateContent", "upstream must be asked for the streaming endpoint")
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"), "client response must itself be streamed")
	assert.Contains(t, rr.Body.String(), "data: ")
}

// TestProxyIntegration_RejectsUnauthenticated verifies client auth gating
// rejects a keyless request to the OpenAI endpoint.
func TestProxyIntegration_RejectsUnauthenticated(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		UpstreamServices: []config.UpstreamService{
			{Name: "test-upstream", ServiceType: "openai", BaseURL: "http://localhost:0", Models: []string{"test-model"}},
		},
		ClientAuth: config.ClientAuth{AllowedKeys: []string{"test-key"}},
	}

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)
	require.NoError(t, cfgMgr.Save(cfg))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	pipeline := proxy.New(cfgMgr, logger)
	authed := middleware.NewMiddlewareSet(cfgMgr, logger).DefaultChain().Handler(proxy.NewOpenAIHandler(pipeline))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	authed.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
