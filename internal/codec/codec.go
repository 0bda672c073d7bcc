// Package codec implements the three wire-format codecs Toolify bridges
// between: OpenAI Chat Completions, Anthropic Messages, and Google Gemini
// generateContent. Each codec decodes wire bytes into the canonical types in
// internal/model and encodes canonical types back into wire bytes, in both
// directions, for both buffered and streaming responses.
package codec

import "github.com/toolify/toolify/internal/model"

// Format names the three wire formats Toolify bridges.
type Format string

const (
	OpenAI    Format = "openai"
	Anthropic Format = "anthropic"
	Gemini    Format = "gemini"
)

// StreamDecoder consumes raw upstream stream lines (already split from
// their transport framing — SSE "data:" payloads; Gemini is requested with
// alt=sse, so its stream arrives the same way) and produces canonical deltas.
type StreamDecoder interface {
	// Feed processes one line of upstream stream data.
	Feed(line []byte) ([]model.Delta, error)
	// Close flushes any buffered state at stream end.
	Close() []model.Delta
}

// StreamEncoder renders canonical deltas into this format's wire framing,
// ready to be written directly to the client connection (including any
// "data: " / "event: " prefixing and trailing newlines the format needs).
type StreamEncoder interface {
	Encode(d model.Delta) []byte
}

// Codec is the full bidirectional contract for one wire format.
type Codec interface {
	Name() Format

	DecodeRequest(body []byte) (*model.Request, error)
	EncodeRequest(req *model.Request) ([]byte, error)

	DecodeResponse(body []byte) (*model.Response, error)
	EncodeResponse(resp *model.Response) ([]byte, error)

	NewStreamDecoder() StreamDecoder
	NewStreamEncoder(model, respID string) StreamEncoder
}

// Registry looks codecs up by format name.
type Registry struct {
	codecs map[Format]Codec
}

// NewRegistry builds a Registry with all three built-in codecs.
func NewRegistry() *Registry {
	return &Registry{codecs: map[Format]Codec{
		OpenAI:    NewOpenAICodec(),
		Anthropic: NewAnthropicCodec(),
		Gemini:    NewGeminiCodec(),
	}}
}

// Get returns the codec for a format, or nil if unknown.
func (r *Registry) Get(f Format) Codec {
	return r.codecs[f]
}
