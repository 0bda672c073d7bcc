package proxy

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/toolify/toolify/internal/codec"
)

// OpenAIHandler serves POST /v1/chat/completions.
type OpenAIHandler struct{ pipeline *Pipeline }

func NewOpenAIHandler(p *Pipeline) *OpenAIHandler { return &OpenAIHandler{pipeline: p} }

func (h *OpenAIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Handle(w, r, codec.OpenAI, "", nil)
}

// AnthropicHandler serves POST /v1/messages.
type AnthropicHandler struct{ pipeline *Pipeline }

func NewAnthropicHandler(p *Pipeline) *AnthropicHandler { return &AnthropicHandler{pipeline: p} }

func (h *AnthropicHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Handle(w, r, codec.Anthropic, "", nil)
}

// GeminiHandler serves POST /v1beta/models/{model}:generateContent and
// /v1beta/models/{model}:streamGenerateContent, extracting the model name
// from the URL path since Gemini's wire body doesn't carry it.
type GeminiHandler struct{ pipeline *Pipeline }

func NewGeminiHandler(p *Pipeline) *GeminiHandler { return &GeminiHandler{pipeline: p} }

func (h *GeminiHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream := geminiStreamFromPath(r.URL.Path)
	h.pipeline.Handle(w, r, codec.Gemini, geminiModelFromPath(r.URL.Path), &stream)
}

// geminiModelFromPath extracts "model-name" from
// ".../models/model-name:generateContent" or
// ".../models/model-name:streamGenerateContent".
func geminiModelFromPath(path string) string {
	const marker = "/models/"
	idx := strings.Index(path, marker)
	if idx == -1 {
		return ""
	}
	rest := path[idx+len(marker):]
	if colon := strings.IndexByte(rest, ':'); colon != -1 {
		return rest[:colon]
	}
	return rest
}

// geminiStreamFromPath reports whether the request hit the streaming verb.
// Gemini's wire body carries no "stream" field at all: :generateContent and
// :streamGenerateContent are distinct URLs, and the verb is the only place
// this ever gets signaled.
func geminiStreamFromPath(path string) bool {
	return strings.HasSuffix(path, ":streamGenerateContent")
}

// ModelsHandler serves GET /v1/models: the union of every configured
// upstream's advertised model set, in OpenAI's models list shape (the
// format most clients expect this endpoint to speak regardless of which
// wire format they otherwise use).
type ModelsHandler struct{ pipeline *Pipeline }

func NewModelsHandler(p *Pipeline) *ModelsHandler { return &ModelsHandler{pipeline: p} }

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.pipeline.config.Get()

	seen := make(map[string]bool)
	var ids []string
	for _, svc := range cfg.UpstreamServices {
		for _, m := range svc.Models {
			if !seen[m] {
				seen[m] = true
				ids = append(ids, m)
			}
		}
	}

	type modelEntry struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	entries := make([]modelEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, modelEntry{ID: id, Object: "model"})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": entries})
}
