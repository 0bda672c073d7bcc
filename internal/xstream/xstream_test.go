package xstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolify/toolify/internal/model"
	"github.com/toolify/toolify/internal/toolmap"
)

func TestExtractor_PlainTextPassesThroughImmediately(t *testing.T) {
	x := NewExtractor(&toolmap.IDGenerator{}, nil)
	deltas := x.Feed("hello there")

	require.Len(t, deltas, 1)
	assert.Equal(t, model.DeltaText, deltas[0].Kind)
	assert.Equal(t, "hello there", deltas[0].Text)
}

func TestExtractor_WithholdsPartialTriggerSuffix(t *testing.T) {
	x := NewExtractor(&toolmap.IDGenerator{}, nil)
	deltas := x.Feed("hi there <tool_c")

	require.Len(t, deltas, 1)
	assert.Equal(t, "hi there ", deltas[0].Text, "the partial trigger prefix must be withheld, not emitted as text")
}

func TestExtractor_CompleteToolCallSplitAcrossChunks(t *testing.T) {
	x := NewExtractor(&toolmap.IDGenerator{}, nil)

	var all []model.Delta
	all = append(all, x.Feed("before ")...)
	all = append(all, x.Feed("<tool_c")...)
	all = append(all, x.Feed("all><name>get_weather</nam")...)
	all = append(all, x.Feed("e><arguments>{\"city\":")...)
	all = append(all, x.Feed("\"nyc\"}</arguments></tool_call> after")...)

	var kinds []model.DeltaKind
	for _, d := range all {
		kinds = append(kinds, d.Kind)
	}

	assert.Contains(t, kinds, model.DeltaToolCallStart)
	assert.Contains(t, kinds, model.DeltaToolCallArgs)
	assert.Contains(t, kinds, model.DeltaToolCallEnd)

	var name string
	var argsFrag string
	for _, d := range all {
		if d.Kind == model.DeltaToolCallStart {
			name = d.Name
		}
		if d.Kind == model.DeltaToolCallArgs {
			argsFrag += d.ArgsFragment
		}
	}
	assert.Equal(t, "get_weather", name)
	assert.Equal(t, `{"city":"nyc"}`, argsFrag)

	var before, after string
	for _, d := range all {
		if d.Kind == model.DeltaText {
			if before == "" {
				before = d.Text
			} else {
				after += d.Text
			}
		}
	}
	assert.Equal(t, "before ", before)
	assert.Contains(t, after, "after")
}

func TestExtractor_OnCallOpenFiresWithClientIDAndName(t *testing.T) {
	var openedID, openedName string
	x := NewExtractor(&toolmap.IDGenerator{}, func(clientID, name string) { openedID, openedName = clientID, name })

	x.Feed(`<tool_call><name>get_weather</name><arguments>{}</arguments></tool_call>`)
	assert.NotEmpty(t, openedID)
	assert.Equal(t, "get_weather", openedName)
}

func TestExtractor_ThinkBlockTextPassesThroughUnscanned(t *testing.T) {
	x := NewExtractor(&toolmap.IDGenerator{}, nil)
	deltas := x.Feed(`<think>pondering <tool_call> not real</think>done`)

	var text string
	for _, d := range deltas {
		if d.Kind == model.DeltaText {
			text += d.Text
		}
	}
	assert.Contains(t, text, "<think>")
	assert.Contains(t, text, "<tool_call>")
	assert.Contains(t, text, "done")

	for _, d := range deltas {
		assert.NotEqual(t, model.DeltaToolCallStart, d.Kind, "tool-call triggers inside a think block must not be extracted")
	}
}

func TestExtractor_MultipleToolCallsGetIncrementingIndex(t *testing.T) {
	x := NewExtractor(&toolmap.IDGenerator{}, nil)
	deltas := x.Feed(`<tool_call><name>a</name><arguments>{}</arguments></tool_call><tool_call><name>b</name><arguments>{}</arguments></tool_call>`)

	var starts []model.Delta
	for _, d := range deltas {
		if d.Kind == model.DeltaToolCallStart {
			starts = append(starts, d)
		}
	}
	require.Len(t, starts, 2)
	assert.Equal(t, 0, starts[0].Index)
	assert.Equal(t, 1, starts[1].Index)
}

func TestExtractor_Close_FlushesPendingBytesAsText(t *testing.T) {
	x := NewExtractor(&toolmap.IDGenerator{}, nil)
	x.Feed("trailing <tool_c")

	final := x.Close(model.FinishStop, &model.Usage{TotalTokens: 10})

	var text string
	var done *model.Delta
	for i := range final {
		if final[i].Kind == model.DeltaText {
			text += final[i].Text
		}
		if final[i].Kind == model.DeltaDone {
			done = &final[i]
		}
	}
	assert.Contains(t, text, "<tool_c")
	require.NotNil(t, done)
	assert.Equal(t, model.FinishStop, done.FinishReason)
	assert.Equal(t, 10, done.Usage.TotalTokens)
}

func TestExtractor_Close_ReportsToolCallsFinishWhenAnyCompleted(t *testing.T) {
	x := NewExtractor(&toolmap.IDGenerator{}, nil)
	x.Feed(`<tool_call><name>a</name><arguments>{}</arguments></tool_call>`)

	final := x.Close(model.FinishStop, nil)
	done := final[len(final)-1]
	assert.Equal(t, model.DeltaDone, done.Kind)
	assert.Equal(t, model.FinishToolCalls, done.FinishReason)
}

func TestExtractor_Close_PreservesErrorFinishOverToolCalls(t *testing.T) {
	x := NewExtractor(&toolmap.IDGenerator{}, nil)
	x.Feed(`<tool_call><name>a</name><arguments>{}</arguments></tool_call>`)

	final := x.Close(model.FinishError, nil)
	done := final[len(final)-1]
	assert.Equal(t, model.FinishError, done.FinishReason)
}
