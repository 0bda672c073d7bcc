// Package model defines Toolify's canonical, wire-format-independent
// representation of a chat request, response, and streaming delta. Every
// wire codec decodes into these types and encodes out of them; nothing in
// the rest of the codebase should depend on an OpenAI, Anthropic, or Gemini
// shape directly.
package model

import "encoding/json"

// PartType identifies the kind of content carried by a Part.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
)

// Part is one element of a message's ordered content sequence. Only the
// fields relevant to Type are populated; the rest are zero.
type Part struct {
	Type PartType

	// PartText
	Text string

	// PartImage
	ImageMediaType string
	ImageData      string // base64-encoded bytes, or empty if ImageURL is set
	ImageURL       string

	// PartToolUse: a model-issued tool call, native or extracted from XML.
	ToolCallID   string
	ToolName     string
	ToolRawArgs  json.RawMessage // raw JSON object; may be a raw fallback string wrapped in quotes if the model's arguments text was not valid JSON
	ToolArgsFail bool            // true if ToolRawArgs is a raw-string fallback rather than parsed JSON

	// PartToolResult: a client-supplied result for a prior tool call.
	ToolResultForID string
	ToolResultText  string
	ToolResultIsErr bool
}

// Message is one turn in a conversation. Content is always represented as
// an ordered slice of Parts; PlainText records whether the wire form this
// message was decoded from used a bare string (so codecs that support both
// shapes can round-trip the simpler one instead of always emitting an
// array).
type Message struct {
	Role      string // "system", "user", "assistant", "tool"
	Content   []Part
	PlainText bool
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema object, verbatim
}

// ReasoningEffort is the coarse three-level effort knob shared across wire
// formats; see internal/reasoning for the conversion to/from provider-native
// thinking-token budgets.
type ReasoningEffort string

const (
	ReasoningNone   ReasoningEffort = ""
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// Request is a canonical chat completion request.
type Request struct {
	Model           string
	Messages        []Message
	SystemPrompt    string // hoisted out of Messages for formats that carry it separately (Anthropic, Gemini)
	Tools           []Tool
	Stream          bool
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	Stop            []string
	ReasoningEffort ReasoningEffort

	// InjectedToolPrompt is set by the proxy pipeline when function-calling
	// injection is active for this request; codecs never set it.
	InjectedToolPrompt string
}

// FinishReason is the canonical reason a response ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Usage reports token accounting, when the upstream provided it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a canonical, non-streaming chat completion response.
type Response struct {
	ID           string
	Model        string
	Content      []Part
	FinishReason FinishReason
	Usage        *Usage
}

// DeltaKind identifies the kind of streaming event a Delta carries.
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaToolCallStart
	DeltaToolCallArgs
	DeltaToolCallEnd
	DeltaDone
)

// Delta is one canonical streaming event. Only the fields relevant to Kind
// are populated.
type Delta struct {
	Kind DeltaKind

	Text string // DeltaText

	Index int    // DeltaToolCallStart/Args/End: ordinal position among tool calls in this response
	ID    string // DeltaToolCallStart
	Name  string // DeltaToolCallStart

	ArgsFragment string // DeltaToolCallArgs: incremental bytes of the arguments JSON

	FinishReason FinishReason // DeltaDone
	Usage        *Usage       // DeltaDone, when the upstream reports usage on the final event
}
