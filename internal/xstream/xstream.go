// Package xstream implements the streaming counterpart to internal/xmlparser:
// an explicit state machine that consumes upstream text in arbitrarily
// chunked pieces and emits canonical model.Delta events, extracting
// <tool_call> blocks as they complete without ever buffering more than a
// trigger's worth of text when no tool call is in progress.
package xstream

import (
	"strings"

	"github.com/toolify/toolify/internal/model"
	"github.com/toolify/toolify/internal/toolmap"
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

	// maxCaptureBytes bounds a single tool call's accumulated buffer so a
	// runaway or malformed upstream can't grow it without limit.
	maxCaptureBytes = 1 << 20
)

type state int

const (
	statePassThrough state = iota
	stateThink
	stateSeekName
	stateSeekArgsOpen
	stateStreamArgs
	stateSeekCallClose
)

// Extractor is a single-use, not-concurrency-safe streaming state machine.
// Construct one per upstream response.
type Extractor struct {
	st state

	// pending holds unresolved trailing bytes that might be the prefix of a
	// trigger, withheld from the client until they are resolved one way or
	// the other. Used in statePassThrough (against both <tool_call> and
	// <think>) and stateThink (against </think> alone).
	pending []byte

	// capture accumulates bytes of the current tool-call block, from just
	// after <tool_call> onward, until </tool_call> closes it.
	capture []byte
	// emittedArgs is how many bytes of the <arguments> section have already
	// been emitted as ArgsFragment deltas.
	emittedArgs int
	argsStart   int // offset into capture where <arguments> content begins, once known

	index      int // ordinal of the current/next tool call in this response
	callCount  int // how many calls have been fully extracted
	callID     string
	callName   string
	idGen      *toolmap.IDGenerator
	onCallOpen func(clientID, name string) // optional hook, e.g. to register with a toolmap.Map
}

// NewExtractor constructs an Extractor. idGen generates client-visible IDs
// for extracted calls; onCallOpen, if non-nil, is invoked with each newly
// synthesized ID and its call name as soon as both are known (useful for
// wiring the correlation into a toolmap.Map before arguments finish
// streaming).
func NewExtractor(idGen *toolmap.IDGenerator, onCallOpen func(clientID, name string)) *Extractor {
	return &Extractor{idGen: idGen, onCallOpen: onCallOpen}
}

// Feed consumes one chunk of upstream text and returns the canonical deltas
// it produces, if any.
func (x *Extractor) Feed(chunk string) []model.Delta {
	var out []model.Delta
	data := append(x.pending, chunk...)
	x.pending = nil

	for {
		switch x.st {
		case statePassThrough:
			more, consumed := x.feedPassThrough(data, &out)
			if !consumed {
				return out
			}
			data = more

		case stateThink:
			more, consumed := x.feedThink(data, &out)
			if !consumed {
				return out
			}
			data = more

		default: // inside a tool-call block
			more, consumed := x.feedCapture(data, &out)
			if !consumed {
				return out
			}
			data = more
		}
	}
}

// feedPassThrough scans data for the earliest of <tool_call> or <think>.
// It returns (remainder, true) if it made progress and should be re-run,
// or (nil, false) once data is fully consumed or withheld as pending.
func (x *Extractor) feedPassThrough(data []byte, out *[]model.Delta) ([]byte, bool) {
	triggers := []string{openTrigger, thinkOpen}

	idx, trig := findEarliest(data, triggers)
	if idx == -1 {
		keep := longestPendingSuffix(data, triggers)
		if keep < len(data) {
			emitText(out, string(data[:len(data)-keep]))
		}
		if keep > 0 {
			x.pending = append([]byte(nil), data[len(data)-keep:]...)
		}
		return nil, false
	}

	if idx > 0 {
		emitText(out, string(data[:idx]))
	}

	rest := data[idx+len(trig):]
	if trig == thinkOpen {
		emitText(out, thinkOpen)
		x.st = stateThink
		return rest, true
	}

	x.st = stateSeekName
	x.capture = x.capture[:0]
	x.emittedArgs = 0
	x.argsStart = -1
	x.callID = ""
	x.callName = ""
	return rest, true
}

func (x *Extractor) feedThink(data []byte, out *[]model.Delta) ([]byte, bool) {
	triggers := []string{thinkClose}
	idx, _ := findEarliest(data, triggers)
	if idx == -1 {
		keep := longestPendingSuffix(data, triggers)
		if keep < len(data) {
			emitText(out, string(data[:len(data)-keep]))
		}
		if keep > 0 {
			x.pending = append([]byte(nil), data[len(data)-keep:]...)
		}
		return nil, false
	}

	emitText(out, string(data[:idx])+thinkClose)
	x.st = statePassThrough
	return data[idx+len(thinkClose):], true
}

func (x *Extractor) feedCapture(data []byte, out *[]model.Delta) ([]byte, bool) {
	if len(x.capture) < maxCaptureBytes {
		room := maxCaptureBytes - len(x.capture)
		if room > len(data) {
			room = len(data)
		}
		x.capture = append(x.capture, data[:room]...)
		data = data[room:]
	} else {
		data = nil
	}

	switch x.st {
	case stateSeekName:
		s := strings.Index(string(x.capture), nameOpen)
		if s == -1 {
			return nil, false
		}
		e := strings.Index(string(x.capture[s+len(nameOpen):]), nameClose)
		if e == -1 {
			return nil, false
		}
		x.callName = strings.TrimSpace(string(x.capture[s+len(nameOpen) : s+len(nameOpen)+e]))
		x.callID = x.idGen.Next()
		if x.onCallOpen != nil {
			x.onCallOpen(x.callID, x.callName)
		}
		*out = append(*out, model.Delta{Kind: model.DeltaToolCallStart, Index: x.index, ID: x.callID, Name: x.callName})
		x.st = stateSeekArgsOpen
		return data, true

	case stateSeekArgsOpen:
		s := strings.Index(string(x.capture), argsOpen)
		if s == -1 {
			return nil, false
		}
		x.argsStart = s + len(argsOpen)
		x.emittedArgs = 0
		x.st = stateStreamArgs
		return data, true

	case stateStreamArgs:
		closeIdx := strings.Index(string(x.capture[x.argsStart:]), argsClose)
		var safeEnd int
		if closeIdx != -1 {
			safeEnd = x.argsStart + closeIdx
		} else {
			safeEnd = len(x.capture) - (len(argsClose) - 1)
			if safeEnd < x.argsStart+x.emittedArgs {
				safeEnd = x.argsStart + x.emittedArgs
			}
		}
		if safeEnd > x.argsStart+x.emittedArgs {
			frag := string(x.capture[x.argsStart+x.emittedArgs : safeEnd])
			*out = append(*out, model.Delta{Kind: model.DeltaToolCallArgs, Index: x.index, ArgsFragment: frag})
			x.emittedArgs += len(frag)
		}
		if closeIdx == -1 {
			return nil, false
		}
		x.st = stateSeekCallClose
		return data, true

	case stateSeekCallClose:
		afterArgs := x.argsStart + x.emittedArgs + len(argsClose)
		idx := strings.Index(string(x.capture[afterArgs:]), closeTrigger)
		if idx == -1 {
			return nil, false
		}
		*out = append(*out, model.Delta{Kind: model.DeltaToolCallEnd, Index: x.index})
		x.index++
		x.callCount++
		x.st = statePassThrough
		consumedInCapture := afterArgs + idx + len(closeTrigger)
		leftover := append([]byte(nil), x.capture[consumedInCapture:]...)
		x.capture = x.capture[:0]
		return append(leftover, data...), true
	}

	return nil, false
}

// Close flushes any withheld pending bytes as a final text delta and emits
// the terminal Done event. If the stream ended mid tool-call, the raw
// accumulated bytes are flushed as best-effort text rather than discarded,
// and finish is reported as stop since no call completed.
func (x *Extractor) Close(finish model.FinishReason, usage *model.Usage) []model.Delta {
	var out []model.Delta

	if x.st != statePassThrough && x.st != stateThink && len(x.capture) > 0 {
		emitText(&out, openTrigger+string(x.capture))
		finish = model.FinishStop
	}
	if len(x.pending) > 0 {
		emitText(&out, string(x.pending))
		x.pending = nil
	}

	if x.callCount > 0 && finish != model.FinishError {
		finish = model.FinishToolCalls
	}

	out = append(out, model.Delta{Kind: model.DeltaDone, FinishReason: finish, Usage: usage})
	return out
}

func emitText(out *[]model.Delta, text string) {
	if text == "" {
		return
	}
	*out = append(*out, model.Delta{Kind: model.DeltaText, Text: text})
}

// findEarliest returns the earliest full match among candidates, or -1.
func findEarliest(data []byte, candidates []string) (int, string) {
	best := -1
	bestTrig := ""
	s := string(data)
	for _, c := range candidates {
		if i := strings.Index(s, c); i >= 0 && (best == -1 || i < best) {
			best, bestTrig = i, c
		}
	}
	return best, bestTrig
}

// longestPendingSuffix returns the length of the longest suffix of data that
// is a proper (shorter than the full trigger) prefix of any candidate,
// withheld in case more bytes complete the match.
func longestPendingSuffix(data []byte, candidates []string) int {
	max := 0
	for _, c := range candidates {
		limit := len(c) - 1
		if limit > len(data) {
			limit = len(data)
		}
		for l := limit; l > 0; l-- {
			if strings.HasSuffix(string(data), c[:l]) {
				if l > max {
					max = l
				}
				break
			}
		}
	}
	return max
}
