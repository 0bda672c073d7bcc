package codec

import (
	"encoding/json"
	"fmt"

	"github.com/toolify/toolify/internal/model"
	"github.com/toolify/toolify/internal/reasoning"
)

// anthropicCodec implements Codec for the Anthropic Messages wire format.
type anthropicCodec struct{}

// NewAnthropicCodec constructs the Anthropic codec.
func NewAnthropicCodec() Codec { return &anthropicCodec{} }

func (anthropicCodec) Name() Format { return Anthropic }

// --- wire shapes ---

type awImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type awBlock struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Source     *awImageSource  `json:"source,omitempty"`
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

type awMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type awTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type awThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type awRequest struct {
	Model         string          `json:"model"`
	System        json.RawMessage `json:"system,omitempty"`
	Messages      []awMessage     `json:"messages"`
	Tools         []awTool        `json:"tools,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	MaxTokens     *int            `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Thinking      *awThinking     `json:"thinking,omitempty"`
}

type awUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type awResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Role         string    `json:"role"`
	Content      []awBlock `json:"content"`
	Model        string    `json:"model"`
	StopReason   string    `json:"stop_reason"`
	Usage        awUsage   `json:"usage"`
}

// --- request decode/encode ---

func (anthropicCodec) DecodeRequest(body []byte) (*model.Request, error) {
	var w awRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("anthropic: decode request: %w", err)
	}

	req := &model.Request{
		Model:         w.Model,
		Stream:        w.Stream,
		Temperature:   w.Temperature,
		TopP:          w.TopP,
		MaxTokens:     w.MaxTokens,
		Stop:          w.StopSequences,
		SystemPrompt:  decodeAWSystem(w.System),
	}
	if w.Thinking != nil && w.Thinking.Type == "enabled" {
		req.ReasoningEffort = reasoning.BudgetToEffort(w.Thinking.BudgetTokens)
	}

	for _, wm := range w.Messages {
		msg := model.Message{Role: wm.Role}
		msg.Content, msg.PlainText = decodeAWContent(wm.Content)
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range w.Tools {
		req.Tools = append(req.Tools, model.Tool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}

	return req, nil
}

func (anthropicCodec) EncodeRequest(req *model.Request) ([]byte, error) {
	w := awRequest{
		Model:         req.Model,
		Stream:        req.Stream,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		MaxTokens:     req.MaxTokens,
		StopSequences: req.Stop,
	}
	if req.MaxTokens == nil {
		defaultMax := 4096
		w.MaxTokens = &defaultMax
	}

	sys := req.SystemPrompt
	if req.InjectedToolPrompt != "" {
		sys = req.InjectedToolPrompt + "\n\n" + sys
	}
	if sys != "" {
		w.System = encodeOWText(sys)
	}

	if req.ReasoningEffort != model.ReasoningNone {
		w.Thinking = &awThinking{Type: "enabled", BudgetTokens: reasoning.EffortToBudget(req.ReasoningEffort)}
	}

	for _, m := range req.Messages {
		content, err := encodeAWContent(m.Content, m.PlainText)
		if err != nil {
			return nil, err
		}
		w.Messages = append(w.Messages, awMessage{Role: normalizeAWRole(m.Role), Content: content})
	}

	for _, t := range req.Tools {
		w.Tools = append(w.Tools, awTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	return json.Marshal(w)
}

// normalizeAWRole maps canonical roles onto Anthropic's two-role message
// vocabulary; a "tool" role message becomes a "user" message carrying a
// tool_result block, matching Anthropic's shape.
func normalizeAWRole(role string) string {
	if role == "tool" {
		return "user"
	}
	return role
}

func decodeAWSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []awBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out string
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return ""
}

func decodeAWContent(raw json.RawMessage) ([]model.Part, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, true
		}
		return []model.Part{{Type: model.PartText, Text: s}}, true
	}

	var blocks []awBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, true
	}
	var parts []model.Part
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, model.Part{Type: model.PartText, Text: b.Text})
		case "image":
			p := model.Part{Type: model.PartImage}
			if b.Source != nil {
				if b.Source.Type == "url" {
					p.ImageURL = b.Source.URL
				} else {
					p.ImageMediaType = b.Source.MediaType
					p.ImageData = b.Source.Data
				}
			}
			parts = append(parts, p)
		case "tool_use":
			args := b.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			parts = append(parts, model.Part{Type: model.PartToolUse, ToolCallID: b.ID, ToolName: b.Name, ToolRawArgs: args})
		case "tool_result":
			text, isErr := decodeAWToolResultContent(b.Content)
			parts = append(parts, model.Part{Type: model.PartToolResult, ToolResultForID: b.ToolUseID, ToolResultText: text, ToolResultIsErr: isErr || b.IsError})
		}
	}
	return parts, false
}

func decodeAWToolResultContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, false
	}
	var blocks []awBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out string
		for _, b := range blocks {
			out += b.Text
		}
		return out, false
	}
	return string(raw), false
}

func encodeAWContent(parts []model.Part, plain bool) (json.RawMessage, error) {
	if plain && len(parts) == 1 && parts[0].Type == model.PartText {
		return encodeOWText(parts[0].Text), nil
	}
	if len(parts) == 0 {
		return encodeOWText(""), nil
	}

	var blocks []awBlock
	for _, p := range parts {
		switch p.Type {
		case model.PartText:
			blocks = append(blocks, awBlock{Type: "text", Text: p.Text})
		case model.PartImage:
			src := &awImageSource{}
			if p.ImageURL != "" {
				src.Type = "url"
				src.URL = p.ImageURL
			} else {
				src.Type = "base64"
				src.MediaType = p.ImageMediaType
				src.Data = p.ImageData
			}
			blocks = append(blocks, awBlock{Type: "image", Source: src})
		case model.PartToolUse:
			input := p.ToolRawArgs
			if p.ToolArgsFail {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, awBlock{Type: "tool_use", ID: p.ToolCallID, Name: p.ToolName, Input: input})
		case model.PartToolResult:
			content, _ := json.Marshal(p.ToolResultText)
			blocks = append(blocks, awBlock{Type: "tool_result", ToolUseID: p.ToolResultForID, Content: content, IsError: p.ToolResultIsErr})
		}
	}
	return json.Marshal(blocks)
}

// --- response decode/encode ---

func (anthropicCodec) DecodeResponse(body []byte) (*model.Response, error) {
	var w awResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	resp := &model.Response{ID: w.ID, Model: w.Model, FinishReason: finishReasonFromAnthropic(w.StopReason)}
	for _, b := range w.Content {
		switch b.Type {
		case "text":
			resp.Content = append(resp.Content, model.Part{Type: model.PartText, Text: b.Text})
		case "tool_use":
			args := b.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			resp.Content = append(resp.Content, model.Part{Type: model.PartToolUse, ToolCallID: b.ID, ToolName: b.Name, ToolRawArgs: args})
		}
	}
	resp.Usage = &model.Usage{PromptTokens: w.Usage.InputTokens, CompletionTokens: w.Usage.OutputTokens, TotalTokens: w.Usage.InputTokens + w.Usage.OutputTokens}
	return resp, nil
}

func (anthropicCodec) EncodeResponse(resp *model.Response) ([]byte, error) {
	id := resp.ID
	if id == "" {
		id = newID("msg_")
	}
	w := awResponse{ID: id, Type: "message", Role: "assistant", Model: resp.Model, StopReason: anthropicStopReason(resp.FinishReason)}

	for _, p := range resp.Content {
		switch p.Type {
		case model.PartText:
			w.Content = append(w.Content, awBlock{Type: "text", Text: p.Text})
		case model.PartToolUse:
			args := p.ToolRawArgs
			if p.ToolArgsFail {
				args = json.RawMessage("{}")
			}
			w.Content = append(w.Content, awBlock{Type: "tool_use", ID: p.ToolCallID, Name: p.ToolName, Input: args})
		}
	}
	if len(w.Content) == 0 {
		w.Content = append(w.Content, awBlock{Type: "text", Text: ""})
	}
	if resp.Usage != nil {
		w.Usage = awUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	}
	return json.Marshal(w)
}

// --- streaming ---

type sseEvent struct {
	Type string `json:"type"`
}

func (anthropicCodec) NewStreamDecoder() StreamDecoder {
	return &anthropicStreamDecoder{blocks: make(map[int]*anthropicBlockState)}
}

type anthropicBlockState struct {
	kind string // "text" or "tool_use"
	id   string
	name string
}

type anthropicStreamDecoder struct {
	blocks     map[int]*anthropicBlockState
	lastFinish model.FinishReason
	usage      *model.Usage
}

func (d *anthropicStreamDecoder) Feed(line []byte) ([]model.Delta, error) {
	trimmed := trimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var out []model.Delta

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	var typ string
	if t, ok := envelope["type"]; ok {
		_ = json.Unmarshal(t, &typ)
	}

	switch typ {
	case "content_block_start":
		var ev struct {
			Index        int `json:"index"`
			ContentBlock struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
		}
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return nil, err
		}
		st := &anthropicBlockState{kind: ev.ContentBlock.Type, id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
		d.blocks[ev.Index] = st
		if st.kind == "tool_use" {
			out = append(out, model.Delta{Kind: model.DeltaToolCallStart, Index: ev.Index, ID: st.id, Name: st.name})
		}

	case "content_block_delta":
		var ev struct {
			Index int `json:"index"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
		}
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return nil, err
		}
		switch ev.Delta.Type {
		case "text_delta":
			out = append(out, model.Delta{Kind: model.DeltaText, Text: ev.Delta.Text})
		case "input_json_delta":
			out = append(out, model.Delta{Kind: model.DeltaToolCallArgs, Index: ev.Index, ArgsFragment: ev.Delta.PartialJSON})
		}

	case "content_block_stop":
		var ev struct {
			Index int `json:"index"`
		}
		_ = json.Unmarshal(trimmed, &ev)
		if st, ok := d.blocks[ev.Index]; ok && st.kind == "tool_use" {
			out = append(out, model.Delta{Kind: model.DeltaToolCallEnd, Index: ev.Index})
		}

	case "message_delta":
		var ev struct {
			Delta struct {
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		_ = json.Unmarshal(trimmed, &ev)
		d.lastFinish = finishReasonFromAnthropic(ev.Delta.StopReason)
		d.usage = &model.Usage{CompletionTokens: ev.Usage.OutputTokens}

	case "message_start":
		var ev struct {
			Message struct {
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
		}
		_ = json.Unmarshal(trimmed, &ev)
		d.usage = &model.Usage{PromptTokens: ev.Message.Usage.InputTokens}
	}

	return out, nil
}

func (d *anthropicStreamDecoder) Close() []model.Delta {
	finish := d.lastFinish
	if finish == "" {
		finish = model.FinishStop
	}
	return []model.Delta{{Kind: model.DeltaDone, FinishReason: finish, Usage: d.usage}}
}

type anthropicStreamEncoder struct {
	model      string
	id         string
	blockIndex int
	openKind   string // "" | "text" | "tool_use"
	toolIndex  map[int]int
}

func (anthropicCodec) NewStreamEncoder(m, respID string) StreamEncoder {
	if respID == "" {
		respID = newID("msg_")
	}
	return &anthropicStreamEncoder{model: m, id: respID, blockIndex: -1, toolIndex: make(map[int]int)}
}

func sseFrame(event string, payload any) []byte {
	b, _ := json.Marshal(payload)
	out := []byte("event: " + event + "\ndata: ")
	out = append(out, b...)
	return append(out, '\n', '\n')
}

func (e *anthropicStreamEncoder) Encode(d model.Delta) []byte {
	var out []byte

	switch d.Kind {
	case model.DeltaText:
		if e.openKind != "text" {
			out = append(out, e.closeCurrent()...)
			e.blockIndex++
			e.openKind = "text"
			out = append(out, sseFrame("content_block_start", map[string]any{
				"type": "content_block_start", "index": e.blockIndex,
				"content_block": map[string]any{"type": "text", "text": ""},
			})...)
		}
		out = append(out, sseFrame("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": e.blockIndex,
			"delta": map[string]any{"type": "text_delta", "text": d.Text},
		})...)

	case model.DeltaToolCallStart:
		out = append(out, e.closeCurrent()...)
		e.blockIndex++
		e.openKind = "tool_use"
		e.toolIndex[d.Index] = e.blockIndex
		out = append(out, sseFrame("content_block_start", map[string]any{
			"type": "content_block_start", "index": e.blockIndex,
			"content_block": map[string]any{"type": "tool_use", "id": d.ID, "name": d.Name, "input": map[string]any{}},
		})...)

	case model.DeltaToolCallArgs:
		idx := e.toolIndex[d.Index]
		out = append(out, sseFrame("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": idx,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": d.ArgsFragment},
		})...)

	case model.DeltaToolCallEnd:
		return nil // closed lazily by the next block or message_stop

	case model.DeltaDone:
		out = append(out, e.closeCurrent()...)
		usage := map[string]any{"output_tokens": 0}
		if d.Usage != nil {
			usage["output_tokens"] = d.Usage.CompletionTokens
		}
		out = append(out, sseFrame("message_delta", map[string]any{
			"type": "message_delta",
			"delta": map[string]any{"stop_reason": anthropicStopReason(d.FinishReason)},
			"usage": usage,
		})...)
		out = append(out, sseFrame("message_stop", map[string]any{"type": "message_stop"})...)
	}

	return out
}

func (e *anthropicStreamEncoder) closeCurrent() []byte {
	if e.openKind == "" {
		return nil
	}
	e.openKind = ""
	return sseFrame("content_block_stop", map[string]any{"type": "content_block_stop", "index": e.blockIndex})
}

// MessageStart renders the initial message_start event a caller should send
// before any deltas, since it carries the response ID up front.
func (e *anthropicStreamEncoder) MessageStart() []byte {
	return sseFrame("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": e.id, "type": "message", "role": "assistant", "content": []any{},
			"model": e.model, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
}
