package codec

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/toolify/toolify/internal/model"
)

// newID synthesizes a canonical response ID with the given prefix, e.g.
// "msg_" or "chatcmpl-".
func newID(prefix string) string {
	return prefix + uuid.NewString()
}

// decodeAllJSON decodes every JSON value present in data, in order. Some
// upstreams defensively observed in the wild pack more than one JSON object
// into a single SSE data line; a plain json.Unmarshal would only see (or
// error on) the first one, so the OpenAI and Gemini stream decoders use this
// helper instead. The Anthropic stream decoder decodes one object per line.
func decodeAllJSON(data []byte, out func(json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if err.Error() == "EOF" {
				return nil
			}
			return err
		}
		if err := out(raw); err != nil {
			return err
		}
	}
}

// reparseToolResult attempts to JSON-decode a tool result's text content so
// it can be embedded as structured JSON rather than a doubly-encoded
// string, falling back to the raw text when it isn't valid JSON.
func reparseToolResult(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return text
}

// openAIFinishReason maps a canonical finish reason to OpenAI's vocabulary.
func openAIFinishReason(f model.FinishReason) string {
	switch f {
	case model.FinishStop:
		return "stop"
	case model.FinishLength:
		return "length"
	case model.FinishToolCalls:
		return "tool_calls"
	case model.FinishContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

// finishReasonFromOpenAI maps OpenAI's finish_reason vocabulary to canonical.
func finishReasonFromOpenAI(s string) model.FinishReason {
	switch s {
	case "length":
		return model.FinishLength
	case "tool_calls", "function_call":
		return model.FinishToolCalls
	case "content_filter":
		return model.FinishContentFilter
	case "stop", "":
		return model.FinishStop
	default:
		return model.FinishStop
	}
}

// anthropicStopReason maps a canonical finish reason to Anthropic's
// vocabulary.
func anthropicStopReason(f model.FinishReason) string {
	switch f {
	case model.FinishLength:
		return "max_tokens"
	case model.FinishToolCalls:
		return "tool_use"
	case model.FinishContentFilter:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

// finishReasonFromAnthropic maps Anthropic's stop_reason vocabulary to
// canonical.
func finishReasonFromAnthropic(s string) model.FinishReason {
	switch s {
	case "max_tokens":
		return model.FinishLength
	case "tool_use":
		return model.FinishToolCalls
	case "stop_sequence":
		return model.FinishContentFilter
	case "end_turn", "":
		return model.FinishStop
	default:
		return model.FinishStop
	}
}

// finishReasonFromGemini maps Gemini's finishReason vocabulary to canonical.
// hasToolCalls overrides to FinishToolCalls regardless of the wire value,
// since Gemini reports STOP even when the candidate carries functionCall
// parts.
func finishReasonFromGemini(s string, hasToolCalls bool) model.FinishReason {
	if hasToolCalls {
		return model.FinishToolCalls
	}
	switch s {
	case "MAX_TOKENS":
		return model.FinishLength
	case "SAFETY", "RECITATION":
		return model.FinishContentFilter
	default:
		return model.FinishStop
	}
}

// geminiFinishReason maps a canonical finish reason to Gemini's vocabulary.
// Gemini has no distinct "tool calls" terminal reason; STOP is used and the
// presence of functionCall parts communicates the rest.
func geminiFinishReason(f model.FinishReason) string {
	switch f {
	case model.FinishLength:
		return "MAX_TOKENS"
	case model.FinishContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}
