package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolify/toolify/internal/model"
)

func TestGeminiCodec_DecodeRequest_SystemAndThinking(t *testing.T) {
	c := NewGeminiCodec()

	body := []byte(`{
		"systemInstruction": {"parts": [{"text": "be terse"}]},
		"generationConfig": {"thinkingConfig": {"thinkingBudget": 8192}},
		"contents": [{"role": "user", "parts": [{"text": "hi"}]}]
	}`)

	req, err := c.DecodeRequest(body)
	require.NoError(t, err)

	assert.Equal(t, "be terse", req.SystemPrompt)
	assert.Equal(t, model.ReasoningMedium, req.ReasoningEffort)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "hi", req.Messages[0].Content[0].Text)
}

func TestGeminiCodec_DecodeRequest_FunctionCallRoundTrip(t *testing.T) {
	c := NewGeminiCodec()

	body := []byte(`{
		"contents": [
			{"role": "model", "parts": [{"functionCall": {"name": "get_weather", "args": {"city": "nyc"}}}]},
			{"role": "user", "parts": [{"functionResponse": {"name": "get_weather", "response": {"temp": 72}}}]}
		]
	}`)

	req, err := c.DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	call := req.Messages[0].Content[0]
	assert.Equal(t, model.PartToolUse, call.Type)
	assert.Equal(t, "get_weather", call.ToolName)
	assert.Equal(t, "get_weather", call.ToolCallID, "gemini correlates by name, so name doubles as the call ID")

	result := req.Messages[1].Content[0]
	assert.Equal(t, model.PartToolResult, result.Type)
	assert.Equal(t, "get_weather", result.ToolResultForID)
	assert.JSONEq(t, `{"temp":72}`, result.ToolResultText)
}

func TestGeminiCodec_EncodeRequest_MergesMultipleTools(t *testing.T) {
	c := NewGeminiCodec()

	req := &model.Request{
		Messages: []model.Message{{Role: "user", Content: []model.Part{{Type: model.PartText, Text: "hi"}}}},
		Tools: []model.Tool{
			{Name: "a", Parameters: json.RawMessage(`{}`)},
			{Name: "b", Parameters: json.RawMessage(`{}`)},
		},
	}

	out, err := c.EncodeRequest(req)
	require.NoError(t, err)

	var w gwRequest
	require.NoError(t, json.Unmarshal(out, &w))
	require.Len(t, w.Tools, 1, "gemini requires one tool entry grouping all declarations")
	assert.Len(t, w.Tools[0].FunctionDeclarations, 2)
}

func TestGeminiCodec_EncodeRequest_InjectedPromptPrependsSystem(t *testing.T) {
	c := NewGeminiCodec()

	req := &model.Request{
		SystemPrompt:       "base",
		InjectedToolPrompt: "use tools like this",
		Messages:           []model.Message{{Role: "user", Content: []model.Part{{Type: model.PartText, Text: "hi"}}}},
	}

	out, err := c.EncodeRequest(req)
	require.NoError(t, err)

	var w gwRequest
	require.NoError(t, json.Unmarshal(out, &w))
	require.NotNil(t, w.SystemInstruction)
	assert.Contains(t, joinPartsText(w.SystemInstruction.Parts), "use tools like this")
	assert.Contains(t, joinPartsText(w.SystemInstruction.Parts), "base")
}

func TestGeminiCodec_DecodeResponse_FunctionCallSetsFinishReason(t *testing.T) {
	c := NewGeminiCodec()

	body := []byte(`{
		"candidates": [{
			"content": {"role": "model", "parts": [{"functionCall": {"name": "get_weather", "args": {"city": "nyc"}}}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
	}`)

	resp, err := c.DecodeResponse(body)
	require.NoError(t, err)

	assert.Equal(t, model.FinishToolCalls, resp.FinishReason, "Gemini reports STOP even with a function call part")
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "get_weather", resp.Content[0].ToolName)
	assert.NotEmpty(t, resp.Content[0].ToolCallID, "a client-facing ID is synthesized even though Gemini itself only tracks the call by name")
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestGeminiCodec_EncodeResponse_PlainText(t *testing.T) {
	c := NewGeminiCodec()

	resp := &model.Response{
		Model:        "gemini-2.0-flash",
		Content:      []model.Part{{Type: model.PartText, Text: "hello"}},
		FinishReason: model.FinishStop,
	}

	out, err := c.EncodeResponse(resp)
	require.NoError(t, err)

	var w gwResponse
	require.NoError(t, json.Unmarshal(out, &w))
	require.Len(t, w.Candidates, 1)
	assert.Equal(t, "STOP", w.Candidates[0].FinishReason)
	assert.Equal(t, "hello", w.Candidates[0].Content.Parts[0].Text)
}

func TestGeminiCodec_Streaming_ToolCallPreservesName(t *testing.T) {
	c := NewGeminiCodec()
	dec := c.NewStreamDecoder()

	line := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"nyc"}}}]}}]}`)
	deltas, err := dec.Feed(line)
	require.NoError(t, err)
	require.Len(t, deltas, 3)
	assert.Equal(t, model.DeltaToolCallStart, deltas[0].Kind)
	assert.Equal(t, "get_weather", deltas[0].Name)
	assert.Equal(t, model.DeltaToolCallArgs, deltas[1].Kind)
	assert.JSONEq(t, `{"city":"nyc"}`, deltas[1].ArgsFragment)
	assert.Equal(t, model.DeltaToolCallEnd, deltas[2].Kind)

	final := dec.Close()
	require.Len(t, final, 1)
	assert.Equal(t, model.FinishToolCalls, final[0].FinishReason)

	enc := c.NewStreamEncoder("gemini-2.0-flash", "")
	encodedStart := enc.Encode(deltas[0])
	assert.Nil(t, encodedStart, "gemini has no separate start event on the wire")

	encodedArgs := enc.Encode(deltas[1])
	assert.Contains(t, string(encodedArgs), `"name":"get_weather"`, "the remembered name must survive into the args event")
}

func TestGeminiCodec_Streaming_NoDoneSentinel(t *testing.T) {
	c := NewGeminiCodec()
	dec := c.NewStreamDecoder()

	deltas, err := dec.Feed([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}`))
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, model.DeltaText, deltas[0].Kind)

	final := dec.Close()
	require.Len(t, final, 1)
	assert.Equal(t, model.FinishStop, final[0].FinishReason)
}
