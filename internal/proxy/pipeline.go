// Package proxy is the assembly point: it receives an HTTP request in one
// of the three client wire formats, decodes it, selects and attempts
// upstream candidates in priority order, drives tool-call injection and
// extraction, and writes back a response in the client's own format.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/toolify/toolify/internal/codec"
	"github.com/toolify/toolify/internal/config"
	"github.com/toolify/toolify/internal/model"
	"github.com/toolify/toolify/internal/promptgen"
	"github.com/toolify/toolify/internal/proxyerr"
	"github.com/toolify/toolify/internal/router"
	"github.com/toolify/toolify/internal/toolmap"
	"github.com/toolify/toolify/internal/transcode"
	"github.com/toolify/toolify/internal/xmlparser"
	"github.com/toolify/toolify/internal/xstream"
)

// Pipeline wires the codec registry, transcoder, router, and tool-call
// machinery into one request handler shared by every client endpoint.
type Pipeline struct {
	config          *config.Manager
	registry        *codec.Registry
	transcoder      *transcode.Transcoder
	toolIDs         *toolmap.IDGenerator
	toolCorrelation *toolmap.Map
	client          *http.Client
	logger          *slog.Logger
}

// New builds a Pipeline. The HTTP client timeout is driven by
// config.Server.Timeout at request time, not fixed here.
func New(cfg *config.Manager, logger *slog.Logger) *Pipeline {
	reg := codec.NewRegistry()
	return &Pipeline{
		config:          cfg,
		registry:        reg,
		transcoder:      transcode.New(reg),
		toolIDs:         &toolmap.IDGenerator{},
		toolCorrelation: toolmap.New(toolmap.DefaultTTL, toolmap.DefaultCapacity),
		client:          &http.Client{},
		logger:          logger,
	}
}

func serviceFormat(serviceType string) codec.Format {
	switch serviceType {
	case "anthropic":
		return codec.Anthropic
	case "gemini":
		return codec.Gemini
	default:
		return codec.OpenAI
	}
}

func upstreamEndpoint(svc config.UpstreamService, upstreamModel string, stream bool) string {
	base := strings.TrimRight(svc.BaseURL, "/")
	switch svc.ServiceType {
	case "anthropic":
		return base + "/messages"
	case "gemini":
		verb := "generateContent"
		if stream {
			verb = "streamGenerateContent?alt=sse"
		}
		return fmt.Sprintf("%s/models/%s:%s", base, upstreamModel, verb)
	default:
		return base + "/chat/completions"
	}
}

func setAuthHeader(req *http.Request, svc config.UpstreamService) {
	if svc.APIKey == "" {
		return
	}
	switch svc.ServiceType {
	case "anthropic":
		req.Header.Set("x-api-key", svc.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case "gemini":
		req.Header.Set("x-goog-api-key", svc.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+svc.APIKey)
	}
}

// Handle serves one client request already known to be in clientFormat.
// pathModel, when non-empty, is the model name extracted from the URL path
// (Gemini's {model}:generateContent convention), which overrides whatever
// the body carries. streamOverride, when non-nil, overrides the decoded
// request's Stream flag — Gemini signals streaming via the URL verb
// (:generateContent vs :streamGenerateContent) rather than a body field, so
// its wire codec never sets Stream itself.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request, clientFormat codec.Format, pathModel string, streamOverride *bool) {
	cfg := p.config.Get()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		proxyerr.Wrap(proxyerr.MalformedRequest, err, "failed to read request body").WriteHTTP(w, clientFormat)
		return
	}

	req, err := p.transcoder.DecodeRequest(clientFormat, body)
	if err != nil {
		proxyerr.Wrap(proxyerr.MalformedRequest, err, "invalid %s request", clientFormat).WriteHTTP(w, clientFormat)
		return
	}
	if pathModel != "" {
		req.Model = pathModel
	}
	if streamOverride != nil {
		req.Stream = *streamOverride
	}

	hintedModel := router.ApplyRouterHints(req, cfg.Features.LongContextModel)
	candidates := router.Select(cfg.UpstreamServices, hintedModel)
	if len(candidates) == 0 && hintedModel != req.Model {
		candidates = router.Select(cfg.UpstreamServices, req.Model)
	}
	if len(candidates) == 0 {
		proxyerr.New(proxyerr.ModelUnavailable, "no configured upstream advertises model %q", req.Model).WriteHTTP(w, clientFormat)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout(cfg))
	defer cancel()
	var lastErr error

	for _, cand := range candidates {
		upstreamFmt := serviceFormat(cand.Service.ServiceType)
		injected := p.decideInjection(cfg, cand.Service, req)

		wireReq := cloneRequestForAttempt(req, cand.UpstreamModel, injected, cfg)
		wireReq = p.resolveToolResultCorrelation(wireReq, upstreamFmt)
		wireBody, err := p.transcoder.EncodeRequest(upstreamFmt, wireReq)
		if err != nil {
			lastErr = fmt.Errorf("encode request for %s: %w", cand.Service.Name, err)
			continue
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamEndpoint(cand.Service, cand.UpstreamModel, req.Stream), strings.NewReader(string(wireBody)))
		if err != nil {
			lastErr = err
			continue
		}
		httpReq.Header.Set("Content-Type", "application/json")
		setAuthHeader(httpReq, cand.Service)

		p.logger.Info("proxying request", "upstream", cand.Service.Name, "model", cand.UpstreamModel, "stream", req.Stream)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			p.logger.Warn("upstream request failed", "upstream", cand.Service.Name, "error", err)
			lastErr = err
			continue
		}

		if router.ClassifyStatus(resp.StatusCode) == router.Retriable {
			p.logger.Warn("upstream returned retriable status", "upstream", cand.Service.Name, "status", resp.StatusCode)
			lastErr = fmt.Errorf("upstream %s: status %d", cand.Service.Name, resp.StatusCode)
			_ = resp.Body.Close()
			continue
		}

		p.finishAttempt(w, resp, upstreamFmt, clientFormat, req, injected)
		return
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		proxyerr.Wrap(proxyerr.DeadlineExceeded, lastErr, "request deadline exceeded").WriteHTTP(w, clientFormat)
		return
	}
	router.ExhaustedError(lastErr).WriteHTTP(w, clientFormat)
}

// decideInjection resolves whether function-calling injection is active for
// this attempt: the service's tri-state overrides the global default, and
// injection only ever applies when the request actually declares tools.
func (p *Pipeline) decideInjection(cfg *config.Config, svc config.UpstreamService, req *model.Request) bool {
	if !cfg.Features.EnableFunctionCalling || len(req.Tools) == 0 {
		return false
	}
	return svc.InjectFunctionCalling.Resolve(cfg.Features.InjectFunctionCalling)
}

// cloneRequestForAttempt builds the per-attempt request: the upstream model
// name substituted in, and — when injection is active — the tool prompt
// synthesized and tools stripped so the upstream never sees a tools field it
// doesn't support.
func cloneRequestForAttempt(req *model.Request, upstreamModel string, injected bool, cfg *config.Config) *model.Request {
	clone := *req
	clone.Model = upstreamModel

	if injected {
		variant := promptgen.Detailed
		clone.InjectedToolPrompt = promptgen.Generate(req.Tools, variant, cfg.Features.PromptTemplate)
		clone.Tools = nil
	}
	return &clone
}

// resolveToolResultCorrelation rewrites tool_result parts' ToolResultForID
// from the client-facing ID to whatever identifier this attempt's upstream
// needs, when the two differ. Every wire format round-trips a tool_call ID
// verbatim to the client, but Gemini's FunctionCall/FunctionResponse pairs
// correlate by function name rather than by ID — so a tool_result carrying
// an ID minted for a different provider, or synthesized during XML
// extraction, needs resolving back to a name before it reaches Gemini's
// wire format. Non-Gemini attempts, and Gemini attempts with nothing to
// resolve, return req unchanged.
func (p *Pipeline) resolveToolResultCorrelation(req *model.Request, upstreamFmt codec.Format) *model.Request {
	if upstreamFmt != codec.Gemini {
		return req
	}

	needsRewrite := false
	for _, m := range req.Messages {
		for _, part := range m.Content {
			if part.Type == model.PartToolResult {
				if _, ok := p.toolCorrelation.Get(part.ToolResultForID); ok {
					needsRewrite = true
				}
			}
		}
	}
	if !needsRewrite {
		return req
	}

	clone := *req
	clone.Messages = make([]model.Message, len(req.Messages))
	for i, m := range req.Messages {
		clone.Messages[i] = m
		changed := false
		content := make([]model.Part, len(m.Content))
		for j, part := range m.Content {
			if part.Type == model.PartToolResult {
				if name, ok := p.toolCorrelation.Get(part.ToolResultForID); ok {
					part.ToolResultForID = name
					changed = true
				}
			}
			content[j] = part
		}
		if changed {
			clone.Messages[i].Content = content
		}
	}
	return &clone
}

func (p *Pipeline) finishAttempt(w http.ResponseWriter, resp *http.Response, upstreamFmt, clientFmt codec.Format, req *model.Request, injected bool) {
	defer resp.Body.Close()

	bodyReader, err := decompressReader(resp)
	if err != nil {
		proxyerr.Wrap(proxyerr.Internal, err, "decompression error").WriteHTTP(w, clientFmt)
		return
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.refuseUpstream(w, bodyReader, upstreamFmt, clientFmt, resp.StatusCode)
		return
	}

	isStream := req.Stream && looksLikeStream(resp.Header)
	if isStream {
		p.streamResponse(w, bodyReader, upstreamFmt, clientFmt, req, injected)
		return
	}
	p.bufferedResponse(w, bodyReader, upstreamFmt, clientFmt, injected)
}

func looksLikeStream(h http.Header) bool {
	ct := h.Get("Content-Type")
	return strings.Contains(ct, "text/event-stream") || h.Get("Transfer-Encoding") == "chunked"
}

// refuseUpstream propagates a non-retriable upstream error verbatim, at the
// same status code, transcoded into the client's format where possible.
func (p *Pipeline) refuseUpstream(w http.ResponseWriter, bodyReader io.Reader, upstreamFmt, clientFmt codec.Format, status int) {
	raw, _ := io.ReadAll(bodyReader)
	message := extractErrorMessage(raw)
	proxyerr.New(proxyerr.UpstreamRefused, "%s", message).WithStatus(status).WriteHTTP(w, clientFmt)
}

// extractErrorMessage best-effort pulls a human-readable message out of
// whatever JSON error envelope the upstream used, without needing to know
// its exact shape.
func extractErrorMessage(raw []byte) string {
	var probe struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &probe); err == nil {
			if probe.Error.Message != "" {
				return probe.Error.Message
			}
			if probe.Message != "" {
				return probe.Message
			}
		}
	}
	if len(raw) == 0 {
		return "upstream returned an error with no body"
	}
	return string(raw)
}

func (p *Pipeline) bufferedResponse(w http.ResponseWriter, bodyReader io.Reader, upstreamFmt, clientFmt codec.Format, injected bool) {
	raw, err := io.ReadAll(bodyReader)
	if err != nil {
		proxyerr.Wrap(proxyerr.Internal, err, "failed to read upstream response").WriteHTTP(w, clientFmt)
		return
	}

	resp, err := p.transcoder.DecodeResponse(upstreamFmt, raw)
	if err != nil {
		proxyerr.Wrap(proxyerr.Internal, err, "failed to decode upstream response").WriteHTTP(w, clientFmt)
		return
	}

	if injected && !hasNativeToolUse(resp.Content) {
		resp.Content = extractXMLToolCalls(resp.Content, p.toolIDs)
		if hasNativeToolUse(resp.Content) {
			resp.FinishReason = model.FinishToolCalls
		}
	}
	p.correlateToolCalls(resp.Content)

	out, err := p.transcoder.EncodeResponse(clientFmt, resp)
	if err != nil {
		proxyerr.Wrap(proxyerr.Internal, err, "failed to encode %s response", clientFmt).WriteHTTP(w, clientFmt)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// correlateToolCalls records every tool_use part's client-facing ID against
// its ToolName in the correlation map. The client-facing ID is what every
// wire format round-trips verbatim in a later tool_result, but re-addressing
// a different candidate on a subsequent turn (Gemini in particular, whose
// FunctionCall/FunctionResponse pair correlates by name rather than by ID)
// needs the name back, not the ID the client saw.
func (p *Pipeline) correlateToolCalls(parts []model.Part) {
	for _, part := range parts {
		if part.Type == model.PartToolUse && part.ToolCallID != "" {
			p.toolCorrelation.Put(part.ToolCallID, part.ToolName)
		}
	}
}

func hasNativeToolUse(parts []model.Part) bool {
	for _, p := range parts {
		if p.Type == model.PartToolUse {
			return true
		}
	}
	return false
}

// extractXMLToolCalls runs the non-streaming XML extractor over a
// response's concatenated text content, per the Open Question resolution
// that native tool calls always win and XML extraction only runs when the
// response carries none.
func extractXMLToolCalls(parts []model.Part, idGen *toolmap.IDGenerator) []model.Part {
	var text strings.Builder
	for _, p := range parts {
		if p.Type == model.PartText {
			text.WriteString(p.Text)
		}
	}
	segments := xmlparser.Parse(text.String())

	foundCall := false
	var out []model.Part
	for _, seg := range segments {
		if seg.Invocation != nil {
			foundCall = true
			out = append(out, model.Part{
				Type:         model.PartToolUse,
				ToolCallID:   idGen.Next(),
				ToolName:     seg.Invocation.Name,
				ToolRawArgs:  seg.Invocation.ArgumentsRaw,
				ToolArgsFail: !seg.Invocation.ArgsValid,
			})
		} else if seg.Text != "" {
			out = append(out, model.Part{Type: model.PartText, Text: seg.Text})
		}
	}
	if !foundCall {
		return parts
	}
	return out
}

func (p *Pipeline) streamResponse(w http.ResponseWriter, bodyReader io.Reader, upstreamFmt, clientFmt codec.Format, req *model.Request, injected bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	targetCodec := p.registry.Get(clientFmt)
	encoder := targetCodec.NewStreamEncoder(req.Model, "")
	if pre, ok := encoder.(interface{ MessageStart() []byte }); ok {
		_, _ = w.Write(pre.MessageStart())
		flush(w)
	}

	decoder := p.registry.Get(upstreamFmt).NewStreamDecoder()
	var extractor *xstream.Extractor
	if injected {
		extractor = xstream.NewExtractor(p.toolIDs, p.toolCorrelation.Put)
	}

	scanner := bufio.NewScanner(bodyReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ": ") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		deltas, err := decoder.Feed([]byte(payload))
		if err != nil {
			p.logger.Error("stream decode error", "error", err)
			continue
		}
		p.emitDeltas(w, encoder, extractor, deltas)
		flush(w)
	}
	if err := scanner.Err(); err != nil {
		p.logger.Error("stream scan error", "error", err)
	}

	p.emitDeltas(w, encoder, extractor, decoder.Close())
	flush(w)
}

// emitDeltas routes decoded canonical deltas to the target encoder,
// piping DeltaText through the XML extractor first when injection is
// active — native tool-call deltas (which should not occur when tools were
// stripped, but are passed through faithfully if they do) bypass the
// extractor entirely. Text keeps flowing through the extractor either way,
// so a stream carrying both native and XML tool calls forwards both.
func (p *Pipeline) emitDeltas(w http.ResponseWriter, encoder codec.StreamEncoder, extractor *xstream.Extractor, deltas []model.Delta) {
	for _, d := range deltas {
		if d.Kind == model.DeltaToolCallStart && d.ID != "" && d.Name != "" {
			p.toolCorrelation.Put(d.ID, d.Name)
		}
		if extractor == nil {
			_, _ = w.Write(encoder.Encode(d))
			continue
		}
		switch d.Kind {
		case model.DeltaText:
			for _, xd := range extractor.Feed(d.Text) {
				_, _ = w.Write(encoder.Encode(xd))
			}
		case model.DeltaDone:
			for _, xd := range extractor.Close(d.FinishReason, d.Usage) {
				_, _ = w.Write(encoder.Encode(xd))
			}
		default:
			_, _ = w.Write(encoder.Encode(d))
		}
	}
}

// requestTimeout resolves the per-request deadline from server config.
func requestTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.Timeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(cfg.Server.Timeout) * time.Second
}
