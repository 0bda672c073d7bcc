package promptgen

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/toolify/toolify/internal/model"
)

func sampleTools() []model.Tool {
	return []model.Tool{
		{Name: "get_weather", Description: "look up current weather", Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)},
	}
}

func TestGenerate_DetailedIncludesWorkedExample(t *testing.T) {
	out := Generate(sampleTools(), Detailed, "")
	assert.Contains(t, out, "get_weather")
	assert.Contains(t, out, "EXAMPLE")
	assert.Contains(t, out, "<tool_call>")
}

func TestGenerate_OptimizedDropsWorkedExample(t *testing.T) {
	out := Generate(sampleTools(), Optimized, "")
	assert.Contains(t, out, "get_weather")
	assert.NotContains(t, out, "EXAMPLE")
}

func TestGenerate_RendersPrettyJSONSchema(t *testing.T) {
	out := Generate(sampleTools(), Detailed, "")
	assert.Contains(t, out, `"city"`)
}

func TestGenerate_CustomTemplateOverridesBuiltin(t *testing.T) {
	out := Generate(sampleTools(), Detailed, "CUSTOM PREAMBLE\n{{tools_list}}\nCUSTOM END")
	assert.True(t, strings.HasPrefix(out, "CUSTOM PREAMBLE"))
	assert.Contains(t, out, "get_weather")
	assert.Contains(t, out, "CUSTOM END")
	assert.NotContains(t, out, "TOOL USAGE RULES")
}

func TestGenerate_MultipleToolsSeparatedByBlankLine(t *testing.T) {
	tools := []model.Tool{
		{Name: "a", Description: "first tool"},
		{Name: "b", Description: "second tool"},
	}
	out := Generate(tools, Optimized, "")
	assert.Contains(t, out, "### a")
	assert.Contains(t, out, "### b")
	assert.Contains(t, out, "first tool\n\n\n### b")
}

func TestGenerate_InvalidParametersJSONFallsBackToRawText(t *testing.T) {
	tools := []model.Tool{
		{Name: "broken", Description: "has malformed schema", Parameters: json.RawMessage(`not json`)},
	}
	out := Generate(tools, Optimized, "")
	assert.Contains(t, out, "not json")
}
