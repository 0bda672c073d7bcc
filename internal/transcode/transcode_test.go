package transcode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolify/toolify/internal/codec"
)

func newTestTranscoder() *Transcoder {
	return New(codec.NewRegistry())
}

func TestTranscoder_Request_OpenAIToAnthropic(t *testing.T) {
	tc := newTestTranscoder()

	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "hello"}
		]
	}`)

	out, err := tc.Request(codec.OpenAI, codec.Anthropic, body)
	require.NoError(t, err)

	var w struct {
		System   string `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &w))
	assert.Equal(t, "be terse", w.System)
	require.Len(t, w.Messages, 1)
	assert.Equal(t, "user", w.Messages[0].Role)
}

func TestTranscoder_Request_UnknownFormatErrors(t *testing.T) {
	tc := newTestTranscoder()
	_, err := tc.Request(codec.Format("nonexistent"), codec.OpenAI, []byte(`{}`))
	assert.Error(t, err)
}

func TestTranscoder_Response_AnthropicToOpenAI(t *testing.T) {
	tc := newTestTranscoder()

	body := []byte(`{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-sonnet",
		"content": [{"type": "text", "text": "hi there"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 3, "output_tokens": 2}
	}`)

	out, err := tc.Response(codec.Anthropic, codec.OpenAI, body)
	require.NoError(t, err)

	var w struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(out, &w))
	require.Len(t, w.Choices, 1)
	assert.Equal(t, "hi there", w.Choices[0].Message.Content)
	assert.Equal(t, "stop", w.Choices[0].FinishReason)
}

func TestTranscoder_StreamPipe_OpenAIToGeminiPreservesToolName(t *testing.T) {
	tc := newTestTranscoder()

	pipe, err := tc.NewStreamPipe(codec.OpenAI, codec.Gemini, "gemini-1.5-pro", "resp_1")
	require.NoError(t, err)

	chunk1 := []byte(`{"id":"chatcmpl_1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`)
	out1, err := pipe.Feed(chunk1)
	require.NoError(t, err)
	assert.Empty(t, out1, "a bare tool-call start carries no arguments yet and Gemini has no start event")

	chunk2 := []byte(`{"id":"chatcmpl_1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":\"nyc\"}"}}]}}]}`)
	out2, err := pipe.Feed(chunk2)
	require.NoError(t, err)
	assert.Contains(t, string(out2), `"name":"get_weather"`, "tool name must survive the cross-format relay, not just the start event")

	chunk3 := []byte(`[DONE]`)
	_, err = pipe.Feed(chunk3)
	require.NoError(t, err)

	final := pipe.Close()
	_ = final
}

func TestTranscoder_StreamPipe_Close_FlushesBufferedState(t *testing.T) {
	tc := newTestTranscoder()

	pipe, err := tc.NewStreamPipe(codec.Anthropic, codec.OpenAI, "gpt-4o", "resp_1")
	require.NoError(t, err)

	_, err = pipe.Feed([]byte(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
	require.NoError(t, err)
	_, err = pipe.Feed([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`))
	require.NoError(t, err)

	out := pipe.Close()
	assert.Contains(t, string(out), "[DONE]")
}
