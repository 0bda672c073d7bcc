// Package proxyerr defines Toolify's typed error kinds and renders them
// into each wire format's native error body.
package proxyerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/toolify/toolify/internal/codec"
)

// Kind names one of Toolify's error classes.
type Kind string

const (
	MalformedRequest Kind = "malformed_request"
	Unauthorized     Kind = "unauthorized"
	ModelUnavailable Kind = "model_unavailable"
	UpstreamRefused  Kind = "upstream_refused"
	UpstreamExhausted Kind = "upstream_exhausted"
	DeadlineExceeded Kind = "deadline_exceeded"
	Internal         Kind = "internal"
)

var statusByKind = map[Kind]int{
	MalformedRequest:  http.StatusBadRequest,
	Unauthorized:      http.StatusUnauthorized,
	ModelUnavailable:  http.StatusNotFound,
	UpstreamRefused:   http.StatusBadRequest, // overridden per-instance from the upstream's actual status
	UpstreamExhausted: http.StatusBadGateway,
	DeadlineExceeded:  http.StatusGatewayTimeout,
	Internal:          http.StatusInternalServerError,
}

// Error is a typed proxy error carrying enough information to render a
// format-appropriate response body.
type Error struct {
	Kind    Kind
	Status  int // 0 means "use statusByKind[Kind]"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code this error should be reported with.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithStatus overrides the HTTP status Toolify reports for this error,
// used by UpstreamRefused to propagate the upstream's actual 4xx verbatim.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// owErrorBody / awErrorBody / gwErrorBody mirror each provider's native
// error envelope (OpenAI, Anthropic and Gemini respectively).
type owErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

type awErrorBody struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type gwErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Encode renders this error in the given client wire format.
func (e *Error) Encode(format codec.Format) []byte {
	status := e.HTTPStatus()
	switch format {
	case codec.Anthropic:
		body := awErrorBody{Type: "error"}
		body.Error.Type = string(e.Kind)
		body.Error.Message = e.Message
		b, _ := json.Marshal(body)
		return b
	case codec.Gemini:
		body := gwErrorBody{}
		body.Error.Code = status
		body.Error.Message = e.Message
		body.Error.Status = string(e.Kind)
		b, _ := json.Marshal(body)
		return b
	default: // OpenAI
		body := owErrorBody{}
		body.Error.Message = e.Message
		body.Error.Type = string(e.Kind)
		b, _ := json.Marshal(body)
		return b
	}
}

// WriteHTTP writes this error as the given format's native error body with
// the correct status code and content type.
func (e *Error) WriteHTTP(w http.ResponseWriter, format codec.Format) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_, _ = w.Write(e.Encode(format))
}

// As reports whether err is (or wraps) a *proxyerr.Error, returning it.
func As(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}
