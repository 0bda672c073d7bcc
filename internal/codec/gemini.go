package codec

import (
	"encoding/json"
	"fmt"

	"github.com/toolify/toolify/internal/model"
	"github.com/toolify/toolify/internal/reasoning"
)

// geminiCodec implements Codec for the Google Gemini generateContent wire
// format.
type geminiCodec struct{}

// NewGeminiCodec constructs the Gemini codec.
func NewGeminiCodec() Codec { return &geminiCodec{} }

func (geminiCodec) Name() Format { return Gemini }

// --- wire shapes ---

type gwInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type gwFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type gwFunctionResponse struct {
	Name     string `json:"name"`
	Response any    `json:"response"`
}

type gwPart struct {
	Text             string              `json:"text,omitempty"`
	InlineData       *gwInlineData       `json:"inlineData,omitempty"`
	FileData         *gwFileData         `json:"fileData,omitempty"`
	FunctionCall     *gwFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *gwFunctionResponse `json:"functionResponse,omitempty"`
}

type gwFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type gwContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gwPart `json:"parts"`
}

type gwFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type gwTool struct {
	FunctionDeclarations []gwFunctionDecl `json:"functionDeclarations"`
}

type gwThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type gwGenerationConfig struct {
	Temperature     *float64          `json:"temperature,omitempty"`
	TopP            *float64          `json:"topP,omitempty"`
	MaxOutputTokens *int              `json:"maxOutputTokens,omitempty"`
	StopSequences   []string          `json:"stopSequences,omitempty"`
	ThinkingConfig  *gwThinkingConfig `json:"thinkingConfig,omitempty"`
}

type gwRequest struct {
	Contents          []gwContent         `json:"contents"`
	SystemInstruction *gwContent          `json:"systemInstruction,omitempty"`
	Tools             []gwTool            `json:"tools,omitempty"`
	GenerationConfig  *gwGenerationConfig `json:"generationConfig,omitempty"`
}

type gwUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

type gwCandidate struct {
	Content      gwContent `json:"content"`
	FinishReason string    `json:"finishReason,omitempty"`
	Index        int       `json:"index,omitempty"`
}

type gwResponse struct {
	Candidates    []gwCandidate    `json:"candidates,omitempty"`
	UsageMetadata *gwUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string           `json:"modelVersion,omitempty"`
	ResponseID    string           `json:"responseId,omitempty"`
}

// --- request decode/encode ---

func (geminiCodec) DecodeRequest(body []byte) (*model.Request, error) {
	var w gwRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("gemini: decode request: %w", err)
	}

	req := &model.Request{}
	if w.SystemInstruction != nil {
		req.SystemPrompt = joinPartsText(w.SystemInstruction.Parts)
	}
	if w.GenerationConfig != nil {
		gc := w.GenerationConfig
		req.Temperature = gc.Temperature
		req.TopP = gc.TopP
		req.MaxTokens = gc.MaxOutputTokens
		req.Stop = gc.StopSequences
		if gc.ThinkingConfig != nil {
			req.ReasoningEffort = reasoning.BudgetToEffort(gc.ThinkingConfig.ThinkingBudget)
		}
	}

	for _, c := range w.Contents {
		msg := model.Message{Role: canonicalRoleFromGemini(c.Role)}
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				args, _ := json.Marshal(p.FunctionCall.Args)
				// Gemini has no call-ID concept; function_call/function_response
				// pairs correlate by name, so the name doubles as ToolCallID here.
				msg.Content = append(msg.Content, model.Part{Type: model.PartToolUse, ToolCallID: p.FunctionCall.Name, ToolName: p.FunctionCall.Name, ToolRawArgs: args})
			case p.FunctionResponse != nil:
				text := stringifyResponse(p.FunctionResponse.Response)
				msg.Content = append(msg.Content, model.Part{Type: model.PartToolResult, ToolResultForID: p.FunctionResponse.Name, ToolResultText: text})
			case p.InlineData != nil:
				msg.Content = append(msg.Content, model.Part{Type: model.PartImage, ImageMediaType: p.InlineData.MimeType, ImageData: p.InlineData.Data})
			case p.FileData != nil:
				msg.Content = append(msg.Content, model.Part{Type: model.PartImage, ImageMediaType: p.FileData.MimeType, ImageURL: p.FileData.FileURI})
			default:
				msg.Content = append(msg.Content, model.Part{Type: model.PartText, Text: p.Text})
			}
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range w.Tools {
		for _, fd := range t.FunctionDeclarations {
			req.Tools = append(req.Tools, model.Tool{Name: fd.Name, Description: fd.Description, Parameters: fd.Parameters})
		}
	}

	return req, nil
}

func (geminiCodec) EncodeRequest(req *model.Request) ([]byte, error) {
	w := gwRequest{}

	sys := req.SystemPrompt
	if req.InjectedToolPrompt != "" {
		sys = req.InjectedToolPrompt + "\n\n" + sys
	}
	if sys != "" {
		w.SystemInstruction = &gwContent{Parts: []gwPart{{Text: sys}}}
	}

	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil || len(req.Stop) > 0 || req.ReasoningEffort != model.ReasoningNone {
		gc := &gwGenerationConfig{Temperature: req.Temperature, TopP: req.TopP, MaxOutputTokens: req.MaxTokens, StopSequences: req.Stop}
		if req.ReasoningEffort != model.ReasoningNone {
			gc.ThinkingConfig = &gwThinkingConfig{ThinkingBudget: reasoning.EffortToBudget(req.ReasoningEffort)}
		}
		w.GenerationConfig = gc
	}

	for _, m := range req.Messages {
		role := geminiRoleFromCanonical(m.Role)
		var parts []gwPart
		for _, p := range m.Content {
			switch p.Type {
			case model.PartText:
				parts = append(parts, gwPart{Text: p.Text})
			case model.PartImage:
				if p.ImageURL != "" {
					parts = append(parts, gwPart{FileData: &gwFileData{MimeType: p.ImageMediaType, FileURI: p.ImageURL}})
				} else {
					parts = append(parts, gwPart{InlineData: &gwInlineData{MimeType: p.ImageMediaType, Data: p.ImageData}})
				}
			case model.PartToolUse:
				var args map[string]any
				_ = json.Unmarshal(p.ToolRawArgs, &args)
				parts = append(parts, gwPart{FunctionCall: &gwFunctionCall{Name: p.ToolName, Args: args}})
			case model.PartToolResult:
				parts = append(parts, gwPart{FunctionResponse: &gwFunctionResponse{Name: p.ToolResultForID, Response: reparseToolResult(p.ToolResultText)}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		w.Contents = append(w.Contents, gwContent{Role: role, Parts: parts})
	}

	for _, t := range req.Tools {
		w.Tools = append(w.Tools, gwTool{FunctionDeclarations: []gwFunctionDecl{{Name: t.Name, Description: t.Description, Parameters: t.Parameters}}})
	}
	// Gemini requires functionDeclarations grouped under a single tool
	// entry; merge them if there is more than one.
	if len(w.Tools) > 1 {
		merged := gwTool{}
		for _, t := range w.Tools {
			merged.FunctionDeclarations = append(merged.FunctionDeclarations, t.FunctionDeclarations...)
		}
		w.Tools = []gwTool{merged}
	}

	return json.Marshal(w)
}

func canonicalRoleFromGemini(role string) string {
	if role == "model" {
		return "assistant"
	}
	return "user"
}

func geminiRoleFromCanonical(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

func joinPartsText(parts []gwPart) string {
	var s string
	for _, p := range parts {
		s += p.Text
	}
	return s
}

func stringifyResponse(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// --- response decode/encode ---

func (geminiCodec) DecodeResponse(body []byte) (*model.Response, error) {
	var w gwResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(w.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: response has no candidates")
	}
	cand := w.Candidates[0]

	resp := &model.Response{ID: w.ResponseID, Model: w.ModelVersion}
	hasTool := false
	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			hasTool = true
			args, _ := json.Marshal(p.FunctionCall.Args)
			resp.Content = append(resp.Content, model.Part{Type: model.PartToolUse, ToolCallID: newID("call_"), ToolName: p.FunctionCall.Name, ToolRawArgs: args})
		default:
			resp.Content = append(resp.Content, model.Part{Type: model.PartText, Text: p.Text})
		}
	}
	resp.FinishReason = finishReasonFromGemini(cand.FinishReason, hasTool)
	if w.UsageMetadata != nil {
		resp.Usage = &model.Usage{
			PromptTokens: w.UsageMetadata.PromptTokenCount, CompletionTokens: w.UsageMetadata.CandidatesTokenCount, TotalTokens: w.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

func (geminiCodec) EncodeResponse(resp *model.Response) ([]byte, error) {
	var parts []gwPart
	hasTool := false
	for _, p := range resp.Content {
		switch p.Type {
		case model.PartText:
			parts = append(parts, gwPart{Text: p.Text})
		case model.PartToolUse:
			hasTool = true
			var args map[string]any
			_ = json.Unmarshal(p.ToolRawArgs, &args)
			parts = append(parts, gwPart{FunctionCall: &gwFunctionCall{Name: p.ToolName, Args: args}})
		}
	}

	w := gwResponse{
		ModelVersion: resp.Model,
		ResponseID:   resp.ID,
		Candidates: []gwCandidate{{
			Content:      gwContent{Role: "model", Parts: parts},
			FinishReason: geminiFinishReason(orToolCalls(resp.FinishReason, hasTool)),
		}},
	}
	if resp.Usage != nil {
		w.UsageMetadata = &gwUsageMetadata{PromptTokenCount: resp.Usage.PromptTokens, CandidatesTokenCount: resp.Usage.CompletionTokens, TotalTokenCount: resp.Usage.TotalTokens}
	}
	return json.Marshal(w)
}

func orToolCalls(f model.FinishReason, hasTool bool) model.FinishReason {
	if hasTool {
		return model.FinishToolCalls
	}
	return f
}

// --- streaming ---
//
// Gemini's streamGenerateContent endpoint, requested with alt=sse, frames
// each event exactly like OpenAI's SSE: "data: {...}\n\n" lines carrying one
// full gwResponse object per event (Gemini does not send a terminal
// "[DONE]" sentinel; the stream simply closes).

type geminiStreamDecoder struct {
	lastFinish model.FinishReason
	usage      *model.Usage
	sawTool    bool
}

func (geminiCodec) NewStreamDecoder() StreamDecoder {
	return &geminiStreamDecoder{}
}

func (d *geminiStreamDecoder) Feed(line []byte) ([]model.Delta, error) {
	trimmed := trimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var out []model.Delta

	err := decodeAllJSON(trimmed, func(raw json.RawMessage) error {
		var w gwResponse
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		if w.UsageMetadata != nil {
			d.usage = &model.Usage{PromptTokens: w.UsageMetadata.PromptTokenCount, CompletionTokens: w.UsageMetadata.CandidatesTokenCount, TotalTokens: w.UsageMetadata.TotalTokenCount}
		}
		if len(w.Candidates) == 0 {
			return nil
		}
		cand := w.Candidates[0]
		for i, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				d.sawTool = true
				args, _ := json.Marshal(p.FunctionCall.Args)
				out = append(out,
					model.Delta{Kind: model.DeltaToolCallStart, Index: i, ID: newID("call_"), Name: p.FunctionCall.Name},
					model.Delta{Kind: model.DeltaToolCallArgs, Index: i, ArgsFragment: string(args)},
					model.Delta{Kind: model.DeltaToolCallEnd, Index: i},
				)
			default:
				if p.Text != "" {
					out = append(out, model.Delta{Kind: model.DeltaText, Text: p.Text})
				}
			}
		}
		if cand.FinishReason != "" {
			d.lastFinish = finishReasonFromGemini(cand.FinishReason, d.sawTool)
		}
		return nil
	})
	return out, err
}

func (d *geminiStreamDecoder) Close() []model.Delta {
	finish := d.lastFinish
	if finish == "" {
		if d.sawTool {
			finish = model.FinishToolCalls
		} else {
			finish = model.FinishStop
		}
	}
	return []model.Delta{{Kind: model.DeltaDone, FinishReason: finish, Usage: d.usage}}
}

type geminiStreamEncoder struct {
	model string
	names map[int]string
}

func (geminiCodec) NewStreamEncoder(m, _ string) StreamEncoder {
	return &geminiStreamEncoder{model: m, names: make(map[int]string)}
}

func (e *geminiStreamEncoder) Encode(d model.Delta) []byte {
	var cand gwCandidate
	cand.Content.Role = "model"

	switch d.Kind {
	case model.DeltaText:
		cand.Content.Parts = []gwPart{{Text: d.Text}}
	case model.DeltaToolCallStart:
		// Gemini has no separate start event; remember the name for when
		// the arguments arrive.
		e.names[d.Index] = d.Name
		return nil
	case model.DeltaToolCallArgs:
		var args map[string]any
		_ = json.Unmarshal([]byte(d.ArgsFragment), &args)
		cand.Content.Parts = []gwPart{{FunctionCall: &gwFunctionCall{Name: e.names[d.Index], Args: args}}}
	case model.DeltaToolCallEnd:
		delete(e.names, d.Index)
		return nil
	case model.DeltaDone:
		cand.FinishReason = geminiFinishReason(d.FinishReason)
		w := gwResponse{ModelVersion: e.model, Candidates: []gwCandidate{cand}}
		if d.Usage != nil {
			w.UsageMetadata = &gwUsageMetadata{PromptTokenCount: d.Usage.PromptTokens, CandidatesTokenCount: d.Usage.CompletionTokens, TotalTokenCount: d.Usage.TotalTokens}
		}
		b, _ := json.Marshal(w)
		out := append([]byte("data: "), b...)
		return append(out, '\n', '\n')
	}

	w := gwResponse{ModelVersion: e.model, Candidates: []gwCandidate{cand}}
	b, _ := json.Marshal(w)
	out := append([]byte("data: "), b...)
	return append(out, '\n', '\n')
}
