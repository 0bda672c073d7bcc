package codec

import (
	"encoding/json"
	"fmt"

	"github.com/toolify/toolify/internal/model"
)

// openAICodec implements Codec for the OpenAI Chat Completions wire format.
type openAICodec struct{}

// NewOpenAICodec constructs the OpenAI codec.
func NewOpenAICodec() Codec { return &openAICodec{} }

func (openAICodec) Name() Format { return OpenAI }

// --- wire shapes ---

type owMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []owToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type owToolCall struct {
	Index    *int          `json:"index,omitempty"`
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function owToolCallFn  `json:"function"`
}

type owToolCallFn struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type owContentPart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *owImageURL `json:"image_url,omitempty"`
}

type owImageURL struct {
	URL string `json:"url"`
}

type owTool struct {
	Type     string     `json:"type"`
	Function owFunction `json:"function"`
}

type owFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type owRequest struct {
	Model           string          `json:"model"`
	Messages        []owMessage     `json:"messages"`
	Tools           []owTool        `json:"tools,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	MaxTokens       *int            `json:"max_tokens,omitempty"`
	Stop            []string        `json:"stop,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
}

type owUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type owChoice struct {
	Index        int       `json:"index"`
	Message      owMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type owResponse struct {
	ID      string     `json:"id"`
	Object  string     `json:"object"`
	Model   string     `json:"model"`
	Choices []owChoice `json:"choices"`
	Usage   *owUsage   `json:"usage,omitempty"`
}

type owDelta struct {
	Role      string       `json:"role,omitempty"`
	Content   string       `json:"content,omitempty"`
	ToolCalls []owToolCall `json:"tool_calls,omitempty"`
}

type owChunkChoice struct {
	Index        int     `json:"index"`
	Delta        owDelta `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type owChunk struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Model   string          `json:"model"`
	Choices []owChunkChoice `json:"choices"`
	Usage   *owUsage        `json:"usage,omitempty"`
}

// --- request decode/encode ---

func (openAICodec) DecodeRequest(body []byte) (*model.Request, error) {
	var w owRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("openai: decode request: %w", err)
	}

	req := &model.Request{
		Model:           w.Model,
		Stream:          w.Stream,
		Temperature:     w.Temperature,
		TopP:            w.TopP,
		MaxTokens:       w.MaxTokens,
		Stop:            w.Stop,
		ReasoningEffort: model.ReasoningEffort(w.ReasoningEffort),
	}

	for _, wm := range w.Messages {
		if wm.Role == "system" {
			req.SystemPrompt = joinSystemText(req.SystemPrompt, decodeOWTextOnly(wm.Content))
			continue
		}

		msg := model.Message{Role: wm.Role}

		if wm.Role == "tool" {
			msg.Content = []model.Part{{
				Type:            model.PartToolResult,
				ToolResultForID: wm.ToolCallID,
				ToolResultText:  decodeOWTextOnly(wm.Content),
			}}
			req.Messages = append(req.Messages, msg)
			continue
		}

		parts, plain := decodeOWContent(wm.Content)
		msg.Content = parts
		msg.PlainText = plain

		for _, tc := range wm.ToolCalls {
			raw, failed := parseArgsString(tc.Function.Arguments)
			msg.Content = append(msg.Content, model.Part{
				Type:         model.PartToolUse,
				ToolCallID:   tc.ID,
				ToolName:     tc.Function.Name,
				ToolRawArgs:  raw,
				ToolArgsFail: failed,
			})
			msg.PlainText = false
		}

		req.Messages = append(req.Messages, msg)
	}

	for _, t := range w.Tools {
		req.Tools = append(req.Tools, model.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	return req, nil
}

func (openAICodec) EncodeRequest(req *model.Request) ([]byte, error) {
	w := owRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}
	if req.ReasoningEffort != model.ReasoningNone {
		w.ReasoningEffort = string(req.ReasoningEffort)
	}

	sys := req.SystemPrompt
	if req.InjectedToolPrompt != "" {
		sys = req.InjectedToolPrompt + "\n\n" + sys
	}
	if sys != "" {
		w.Messages = append(w.Messages, owMessage{Role: "system", Content: encodeOWText(sys)})
	}

	for _, m := range req.Messages {
		w.Messages = append(w.Messages, encodeOWMessage(m)...)
	}

	// Tools are stripped from the wire request when function-calling
	// injection is active; the proxy does this by clearing Tools on its
	// per-attempt copy of the request before calling EncodeRequest, so the
	// codec simply encodes whatever Tools it is given.
	for _, t := range req.Tools {
		w.Tools = append(w.Tools, owTool{Type: "function", Function: owFunction{
			Name: t.Name, Description: t.Description, Parameters: t.Parameters,
		}})
	}

	return json.Marshal(w)
}

func encodeOWMessage(m model.Message) []owMessage {
	if m.Role == "tool" {
		var out []owMessage
		for _, p := range m.Content {
			if p.Type == model.PartToolResult {
				out = append(out, owMessage{Role: "tool", ToolCallID: p.ToolResultForID, Content: encodeOWText(p.ToolResultText)})
			}
		}
		return out
	}

	var toolResults []owMessage
	var toolCalls []owToolCall
	var contentParts []model.Part

	for _, p := range m.Content {
		switch p.Type {
		case model.PartToolResult:
			toolResults = append(toolResults, owMessage{Role: "tool", ToolCallID: p.ToolResultForID, Content: encodeOWText(p.ToolResultText)})
		case model.PartToolUse:
			args := string(p.ToolRawArgs)
			if p.ToolArgsFail {
				var s string
				_ = json.Unmarshal(p.ToolRawArgs, &s)
				args = s
			}
			toolCalls = append(toolCalls, owToolCall{ID: p.ToolCallID, Type: "function", Function: owToolCallFn{Name: p.ToolName, Arguments: args}})
		default:
			contentParts = append(contentParts, p)
		}
	}

	var out []owMessage
	out = append(out, toolResults...)

	if len(contentParts) > 0 || len(toolCalls) > 0 || len(toolResults) == 0 {
		wm := owMessage{Role: m.Role, ToolCalls: toolCalls}
		if len(contentParts) > 0 {
			plain := m.PlainText && len(contentParts) == 1 && contentParts[0].Type == model.PartText
			if plain {
				wm.Content = encodeOWText(contentParts[0].Text)
			} else {
				wm.Content = encodeOWParts(contentParts)
			}
		}
		out = append(out, wm)
	}

	return out
}

func decodeOWTextOnly(raw json.RawMessage) string {
	parts, _ := decodeOWContent(raw)
	var s string
	for _, p := range parts {
		if p.Type == model.PartText {
			s += p.Text
		}
	}
	return s
}

func decodeOWContent(raw json.RawMessage) ([]model.Part, bool) {
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

	var arr []owContentPart
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, true
	}
	var parts []model.Part
	for _, a := range arr {
		switch a.Type {
		case "text":
			parts = append(parts, model.Part{Type: model.PartText, Text: a.Text})
		case "image_url":
			url := ""
			if a.ImageURL != nil {
				url = a.ImageURL.URL
			}
			parts = append(parts, model.Part{Type: model.PartImage, ImageURL: url})
		}
	}
	return parts, false
}

func encodeOWText(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func encodeOWParts(parts []model.Part) json.RawMessage {
	var out []owContentPart
	for _, p := range parts {
		switch p.Type {
		case model.PartText:
			out = append(out, owContentPart{Type: "text", Text: p.Text})
		case model.PartImage:
			out = append(out, owContentPart{Type: "image_url", ImageURL: &owImageURL{URL: p.ImageURL}})
		}
	}
	b, _ := json.Marshal(out)
	return b
}

func parseArgsString(s string) (json.RawMessage, bool) {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), false
	}
	encoded, _ := json.Marshal(s)
	return encoded, true
}

func joinSystemText(existing, add string) string {
	if existing == "" {
		return add
	}
	if add == "" {
		return existing
	}
	return existing + "\n\n" + add
}

// --- response decode/encode ---

func (openAICodec) DecodeResponse(body []byte) (*model.Response, error) {
	var w owResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(w.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}
	choice := w.Choices[0]

	resp := &model.Response{ID: w.ID, Model: w.Model}
	parts, _ := decodeOWContent(choice.Message.Content)
	resp.Content = parts
	for _, tc := range choice.Message.ToolCalls {
		raw, failed := parseArgsString(tc.Function.Arguments)
		resp.Content = append(resp.Content, model.Part{
			Type: model.PartToolUse, ToolCallID: tc.ID, ToolName: tc.Function.Name,
			ToolRawArgs: raw, ToolArgsFail: failed,
		})
	}
	resp.FinishReason = finishReasonFromOpenAI(choice.FinishReason)
	if w.Usage != nil {
		resp.Usage = &model.Usage{PromptTokens: w.Usage.PromptTokens, CompletionTokens: w.Usage.CompletionTokens, TotalTokens: w.Usage.TotalTokens}
	}
	return resp, nil
}

func (openAICodec) EncodeResponse(resp *model.Response) ([]byte, error) {
	id := resp.ID
	if id == "" {
		id = newID("chatcmpl-")
	}

	wm := owMessage{Role: "assistant"}
	var textParts []model.Part
	for _, p := range resp.Content {
		if p.Type == model.PartToolUse {
			args := string(p.ToolRawArgs)
			if p.ToolArgsFail {
				var s string
				_ = json.Unmarshal(p.ToolRawArgs, &s)
				args = s
			}
			wm.ToolCalls = append(wm.ToolCalls, owToolCall{ID: p.ToolCallID, Type: "function", Function: owToolCallFn{Name: p.ToolName, Arguments: args}})
		} else {
			textParts = append(textParts, p)
		}
	}
	if len(textParts) == 1 && textParts[0].Type == model.PartText {
		wm.Content = encodeOWText(textParts[0].Text)
	} else if len(textParts) > 0 {
		wm.Content = encodeOWParts(textParts)
	}

	w := owResponse{
		ID:     id,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []owChoice{{
			Index:        0,
			Message:      wm,
			FinishReason: openAIFinishReason(resp.FinishReason),
		}},
	}
	if resp.Usage != nil {
		w.Usage = &owUsage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	return json.Marshal(w)
}

// --- streaming ---

type openAIStreamDecoder struct {
	openIdx    []int
	started    map[int]bool
	lastFinish model.FinishReason
	lastUsage  *model.Usage
	sawAny     bool
}

func (openAICodec) NewStreamDecoder() StreamDecoder {
	return &openAIStreamDecoder{started: make(map[int]bool)}
}

func (d *openAIStreamDecoder) Feed(line []byte) ([]model.Delta, error) {
	var out []model.Delta
	trimmed := trimSpace(line)
	if string(trimmed) == "[DONE]" {
		return out, nil
	}

	err := decodeAllJSON(trimmed, func(raw json.RawMessage) error {
		var chunk owChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return err
		}
		d.sawAny = true
		if chunk.Usage != nil {
			d.lastUsage = &model.Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens, TotalTokens: chunk.Usage.TotalTokens}
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		c := chunk.Choices[0]
		if c.Delta.Content != "" {
			out = append(out, model.Delta{Kind: model.DeltaText, Text: c.Delta.Content})
		}
		for _, tc := range c.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if !d.started[idx] {
				d.started[idx] = true
				d.openIdx = append(d.openIdx, idx)
				out = append(out, model.Delta{Kind: model.DeltaToolCallStart, Index: idx, ID: tc.ID, Name: tc.Function.Name})
			}
			if tc.Function.Arguments != "" {
				out = append(out, model.Delta{Kind: model.DeltaToolCallArgs, Index: idx, ArgsFragment: tc.Function.Arguments})
			}
		}
		if c.FinishReason != nil {
			d.lastFinish = finishReasonFromOpenAI(*c.FinishReason)
		}
		return nil
	})
	return out, err
}

func (d *openAIStreamDecoder) Close() []model.Delta {
	var out []model.Delta
	for _, idx := range d.openIdx {
		out = append(out, model.Delta{Kind: model.DeltaToolCallEnd, Index: idx})
	}
	finish := d.lastFinish
	if finish == "" {
		if len(d.openIdx) > 0 {
			finish = model.FinishToolCalls
		} else {
			finish = model.FinishStop
		}
	}
	out = append(out, model.Delta{Kind: model.DeltaDone, FinishReason: finish, Usage: d.lastUsage})
	return out
}

type openAIStreamEncoder struct {
	model string
	id    string
	sent  map[int]bool
}

func (openAICodec) NewStreamEncoder(m, respID string) StreamEncoder {
	if respID == "" {
		respID = newID("chatcmpl-")
	}
	return &openAIStreamEncoder{model: m, id: respID, sent: make(map[int]bool)}
}

func (e *openAIStreamEncoder) Encode(d model.Delta) []byte {
	chunk := owChunk{ID: e.id, Object: "chat.completion.chunk", Model: e.model}
	choice := owChunkChoice{Index: 0}

	switch d.Kind {
	case model.DeltaText:
		choice.Delta.Content = d.Text
	case model.DeltaToolCallStart:
		idx := d.Index
		choice.Delta.ToolCalls = []owToolCall{{Index: &idx, ID: d.ID, Type: "function", Function: owToolCallFn{Name: d.Name}}}
	case model.DeltaToolCallArgs:
		idx := d.Index
		choice.Delta.ToolCalls = []owToolCall{{Index: &idx, Function: owToolCallFn{Arguments: d.ArgsFragment}}}
	case model.DeltaToolCallEnd:
		return nil
	case model.DeltaDone:
		reason := openAIFinishReason(d.FinishReason)
		choice.FinishReason = &reason
		chunk.Choices = []owChunkChoice{choice}
		b, _ := json.Marshal(chunk)
		out := append([]byte("data: "), b...)
		out = append(out, '\n', '\n')
		if d.Usage != nil {
			usageChunk := owChunk{ID: e.id, Object: "chat.completion.chunk", Model: e.model, Usage: &owUsage{
				PromptTokens: d.Usage.PromptTokens, CompletionTokens: d.Usage.CompletionTokens, TotalTokens: d.Usage.TotalTokens,
			}}
			ub, _ := json.Marshal(usageChunk)
			out = append(out, []byte("data: ")...)
			out = append(out, ub...)
			out = append(out, '\n', '\n')
		}
		out = append(out, []byte("data: [DONE]\n\n")...)
		return out
	}

	chunk.Choices = []owChunkChoice{choice}
	b, _ := json.Marshal(chunk)
	out := append([]byte("data: "), b...)
	return append(out, '\n', '\n')
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\t' || b[j-1] == '\n' || b[j-1] == '\r') {
		j--
	}
	return b[i:j]
}
