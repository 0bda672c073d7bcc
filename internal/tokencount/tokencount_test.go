package tokencount

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/toolify/toolify/internal/model"
)

func TestCount_EmptyString(t *testing.T) {
	assert.Equal(t, 0, Count(""))
}

func TestCount_Monotonic(t *testing.T) {
	short := Count("hi")
	long := Count("hi there, this is a much longer sentence with many more tokens in it")
	assert.Less(t, short, long)
}

func TestCountRequest_SumsSystemMessagesAndTools(t *testing.T) {
	req := &model.Request{
		SystemPrompt: "you are a helpful assistant",
		Messages: []model.Message{
			{Role: "user", Content: []model.Part{{Type: model.PartText, Text: "what is the weather in nyc"}}},
			{Role: "tool", Content: []model.Part{{Type: model.PartToolResult, ToolResultText: "72 degrees and sunny"}}},
		},
		Tools: []model.Tool{
			{Name: "get_weather", Description: "look up the weather", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	}

	total := CountRequest(req)
	zero := CountRequest(&model.Request{})
	assert.Greater(t, total, zero)
}

func TestCountRequest_IgnoresNonTextParts(t *testing.T) {
	withImage := &model.Request{
		Messages: []model.Message{
			{Role: "user", Content: []model.Part{{Type: model.PartImage, ImageData: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}}},
		},
	}
	assert.Equal(t, 0, CountRequest(withImage))
}
