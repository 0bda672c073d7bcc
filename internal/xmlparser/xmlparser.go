// Package xmlparser extracts Toolify's injected tool-call sublanguage
// (<tool_call><name>...</name><arguments>{...}</arguments></tool_call>) out
// of a complete, already-buffered assistant message. This is the
// non-streaming counterpart to internal/xstream; callers with a full
// message in hand (non-streaming responses, or a streaming response that
// was reassembled before the extractor saw it) use this instead.
package xmlparser

import (
	"encoding/json"
	"strings"
)

const (
	openTrigger  = "<tool_call>"
	closeTrigger = "</tool_call>"
	nameOpen     = "<name>"
	nameClose    = "</name>"
	argsOpen     = "<arguments>"
	argsClose    = "</arguments>"
	thinkOpen    = "<think>"
	thinkClose   = "</think>"
)

// Invocation is one extracted tool call.
type Invocation struct {
	Name        string
	ArgumentsRaw json.RawMessage
	ArgsValid   bool
}

// Segment is either a run of plain text (Invocation == nil) or one
// extracted tool call (Text == "").
type Segment struct {
	Text       string
	Invocation *Invocation
}

// Parse scans message for <tool_call> blocks, returning the ordered
// sequence of text and invocation segments. Text inside <think>...</think>
// blocks is preserved as plain text and never scanned for tool calls, per
// the think-block safety rule shared with the streaming extractor.
func Parse(message string) []Segment {
	var segments []Segment
	var textBuf strings.Builder

	flushText := func() {
		if textBuf.Len() > 0 {
			segments = append(segments, Segment{Text: textBuf.String()})
			textBuf.Reset()
		}
	}

	i := 0
	for i < len(message) {
		rest := message[i:]

		if strings.HasPrefix(rest, thinkOpen) {
			end := strings.Index(rest, thinkClose)
			if end == -1 {
				// Unterminated think block: treat the remainder as plain text.
				textBuf.WriteString(rest)
				i = len(message)
				break
			}
			blockEnd := end + len(thinkClose)
			textBuf.WriteString(rest[:blockEnd])
			i += blockEnd
			continue
		}

		if strings.HasPrefix(rest, openTrigger) {
			afterOpen := rest[len(openTrigger):]
			closeIdx := strings.Index(afterOpen, closeTrigger)
			if closeIdx == -1 {
				// Unterminated tool call: treat the remainder as plain text
				// rather than silently dropping it.
				textBuf.WriteString(rest)
				i = len(message)
				break
			}

			inner := afterOpen[:closeIdx]
			inv := parseInvocation(inner)
			flushText()
			segments = append(segments, Segment{Invocation: inv})

			i += len(openTrigger) + closeIdx + len(closeTrigger)
			continue
		}

		textBuf.WriteByte(message[i])
		i++
	}
	flushText()

	return segments
}

func parseInvocation(inner string) *Invocation {
	inv := &Invocation{}

	if s := strings.Index(inner, nameOpen); s != -1 {
		afterName := inner[s+len(nameOpen):]
		if e := strings.Index(afterName, nameClose); e != -1 {
			inv.Name = strings.TrimSpace(afterName[:e])
		}
	}

	if s := strings.Index(inner, argsOpen); s != -1 {
		afterArgs := inner[s+len(argsOpen):]
		if e := strings.Index(afterArgs, argsClose); e != -1 {
			raw := strings.TrimSpace(afterArgs[:e])
			if json.Valid([]byte(raw)) {
				inv.ArgumentsRaw = json.RawMessage(raw)
				inv.ArgsValid = true
			} else {
				// Fall back to the raw text wrapped as a JSON string so
				// callers always hold valid JSON, with ArgsValid recording
				// that this is a fallback, not a parsed object.
				encoded, _ := json.Marshal(raw)
				inv.ArgumentsRaw = encoded
				inv.ArgsValid = false
			}
		}
	}

	if inv.ArgumentsRaw == nil {
		inv.ArgumentsRaw = json.RawMessage("{}")
	}

	return inv
}
