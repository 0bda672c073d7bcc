package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolify/toolify/internal/model"
)

func TestOpenAICodec_DecodeRequest_HoistsSystemAndToolCalls(t *testing.T) {
	c := NewOpenAICodec()

	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "what's the weather?"},
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"nyc\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "72F"}
		]
	}`)

	req, err := c.DecodeRequest(body)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "be terse", req.SystemPrompt)
	require.Len(t, req.Messages, 3)

	assistant := req.Messages[1]
	require.Len(t, assistant.Content, 1)
	assert.Equal(t, model.PartToolUse, assistant.Content[0].Type)
	assert.Equal(t, "call_1", assistant.Content[0].ToolCallID)
	assert.False(t, assistant.Content[0].ToolArgsFail)

	toolMsg := req.Messages[2]
	require.Len(t, toolMsg.Content, 1)
	assert.Equal(t, model.PartToolResult, toolMsg.Content[0].Type)
	assert.Equal(t, "call_1", toolMsg.Content[0].ToolResultForID)
	assert.Equal(t, "72F", toolMsg.Content[0].ToolResultText)
}

func TestOpenAICodec_DecodeRequest_MalformedArgumentsFallback(t *testing.T) {
	c := NewOpenAICodec()

	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "not json"}}
			]}
		]
	}`)

	req, err := c.DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Content, 1)
	assert.True(t, req.Messages[0].Content[0].ToolArgsFail)
}

func TestOpenAICodec_EncodeRequest_InjectedPromptPrependsSystem(t *testing.T) {
	c := NewOpenAICodec()

	req := &model.Request{
		Model:              "gpt-4o",
		SystemPrompt:       "base",
		InjectedToolPrompt: "use xml tool calls",
		Messages:           []model.Message{{Role: "user", Content: []model.Part{{Type: model.PartText, Text: "hi"}}, PlainText: true}},
	}

	out, err := c.EncodeRequest(req)
	require.NoError(t, err)

	var w owRequest
	require.NoError(t, json.Unmarshal(out, &w))
	require.NotEmpty(t, w.Messages)
	assert.Equal(t, "system", w.Messages[0].Role)

	var sysText string
	require.NoError(t, json.Unmarshal(w.Messages[0].Content, &sysText))
	assert.Contains(t, sysText, "use xml tool calls")
	assert.Contains(t, sysText, "base")
}

func TestOpenAICodec_DecodeResponse_ToolCalls(t *testing.T) {
	c := NewOpenAICodec()

	body := []byte(`{
		"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": null,
			"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "{}"}}]},
			"finish_reason": "tool_calls"}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}
	}`)

	resp, err := c.DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, model.FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "f", resp.Content[0].ToolName)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestOpenAICodec_Streaming_ToolCallAccumulation(t *testing.T) {
	c := NewOpenAICodec()
	dec := c.NewStreamDecoder()

	deltas, err := dec.Feed([]byte(`{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"f","arguments":""}}]}}]}`))
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, model.DeltaToolCallStart, deltas[0].Kind)

	deltas, err = dec.Feed([]byte(`{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"x\":1}"}}]}}]}`))
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, model.DeltaToolCallArgs, deltas[0].Kind)

	deltas, err = dec.Feed([]byte(`[DONE]`))
	require.NoError(t, err)
	assert.Empty(t, deltas)

	final := dec.Close()
	require.Len(t, final, 2, "tool call end, then done")
	assert.Equal(t, model.DeltaToolCallEnd, final[0].Kind)
	assert.Equal(t, model.DeltaDone, final[1].Kind)
	assert.Equal(t, model.FinishToolCalls, final[1].FinishReason)
}

func TestOpenAICodec_StreamEncoder_EmitsDoneSentinel(t *testing.T) {
	c := NewOpenAICodec()
	enc := c.NewStreamEncoder("gpt-4o", "")

	out := enc.Encode(model.Delta{Kind: model.DeltaDone, FinishReason: model.FinishStop})
	assert.Contains(t, string(out), "data: [DONE]")
}
