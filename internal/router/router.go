// Package router selects and orders candidate upstream services for a
// requested model, and classifies upstream failures as retriable or
// terminal.
package router

import (
	"net"
	"sort"

	"github.com/toolify/toolify/internal/config"
	"github.com/toolify/toolify/internal/model"
	"github.com/toolify/toolify/internal/proxyerr"
	"github.com/toolify/toolify/internal/tokencount"
)

// LongContextTokenThreshold mirrors the teacher's router.longContext trigger:
// requests whose estimated input exceeds this many tokens have their model
// name rewritten to the configured long-context model, when one is set.
const LongContextTokenThreshold = 60000

// Candidate is one upstream service ordered and ready for the pipeline to
// attempt, with its per-service model rewrite already applied.
type Candidate struct {
	Service      config.UpstreamService
	UpstreamModel string
}

// Select returns the ordered list of candidates for a requested model,
// highest priority first. Services whose Models set includes neither the
// requested model nor its mapped name are excluded, as are services with
// incomplete configuration (no api_key, no base_url): those are silently
// skipped here rather than collected and left to fail with an unauthenticated
// 401 once an upstream call is already underway.
func Select(services []config.UpstreamService, requestedModel string) []Candidate {
	var candidates []Candidate
	for _, svc := range services {
		if svc.APIKey == "" || svc.BaseURL == "" {
			continue
		}
		mapped := svc.MappedModel(requestedModel)
		if !svc.SupportsModel(mapped) && !svc.SupportsModel(requestedModel) {
			continue
		}
		candidates = append(candidates, Candidate{Service: svc, UpstreamModel: mapped})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Service.Priority > candidates[j].Service.Priority
	})
	return candidates
}

// ApplyRouterHints rewrites the requested model name before candidate
// selection, mirroring the teacher's token-triggered long-context override.
// longContextModel is the configured fallback model name for oversized
// requests (empty disables the hint). Hints may only rewrite the model
// name; they never reorder or filter the candidate list produced by Select.
func ApplyRouterHints(req *model.Request, longContextModel string) string {
	if longContextModel == "" {
		return req.Model
	}
	if tokencount.CountRequest(req) > LongContextTokenThreshold {
		return longContextModel
	}
	return req.Model
}

// FailureClass classifies an upstream outcome for retry purposes.
type FailureClass int

const (
	// Terminal means: stop, transcode and return this outcome verbatim.
	Terminal FailureClass = iota
	// Retriable means: try the next candidate.
	Retriable
)

// ClassifyStatus classifies an upstream HTTP status code.
func ClassifyStatus(status int) FailureClass {
	if status == 429 || (status >= 500 && status <= 599) {
		return Retriable
	}
	return Terminal
}

// ClassifyError classifies a transport-level error (no HTTP status at all).
func ClassifyError(err error) FailureClass {
	if err == nil {
		return Terminal
	}
	if _, ok := err.(net.Error); ok {
		return Retriable
	}
	return Retriable
}

// ExhaustedError builds the UpstreamExhausted error returned when every
// candidate has been tried and all failed retriably.
func ExhaustedError(lastErr error) *proxyerr.Error {
	return proxyerr.Wrap(proxyerr.UpstreamExhausted, lastErr, "all upstream candidates exhausted")
}
