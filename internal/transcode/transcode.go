// Package transcode composes the per-format codecs in internal/codec into
// any-direction translation: decode a request or response in one wire
// format into the canonical model, then encode it back out in another.
package transcode

import (
	"fmt"

	"github.com/toolify/toolify/internal/codec"
	"github.com/toolify/toolify/internal/model"
)

// Transcoder bridges any pair of the three supported wire formats.
type Transcoder struct {
	registry *codec.Registry
}

// New builds a Transcoder over the given codec registry.
func New(registry *codec.Registry) *Transcoder {
	return &Transcoder{registry: registry}
}

func (t *Transcoder) codec(f codec.Format) (codec.Codec, error) {
	c := t.registry.Get(f)
	if c == nil {
		return nil, fmt.Errorf("transcode: no codec registered for format %q", f)
	}
	return c, nil
}

// DecodeRequest parses a wire request body in the given format into the
// canonical model.
func (t *Transcoder) DecodeRequest(from codec.Format, body []byte) (*model.Request, error) {
	c, err := t.codec(from)
	if err != nil {
		return nil, err
	}
	return c.DecodeRequest(body)
}

// EncodeRequest renders a canonical request as a wire request body in the
// given format.
func (t *Transcoder) EncodeRequest(to codec.Format, req *model.Request) ([]byte, error) {
	c, err := t.codec(to)
	if err != nil {
		return nil, err
	}
	return c.EncodeRequest(req)
}

// Request translates a wire request body from one format directly to
// another, round-tripping through the canonical model.
func (t *Transcoder) Request(from, to codec.Format, body []byte) ([]byte, error) {
	req, err := t.DecodeRequest(from, body)
	if err != nil {
		return nil, fmt.Errorf("transcode: decode %s request: %w", from, err)
	}
	out, err := t.EncodeRequest(to, req)
	if err != nil {
		return nil, fmt.Errorf("transcode: encode %s request: %w", to, err)
	}
	return out, nil
}

// DecodeResponse parses a wire response body in the given format into the
// canonical model.
func (t *Transcoder) DecodeResponse(from codec.Format, body []byte) (*model.Response, error) {
	c, err := t.codec(from)
	if err != nil {
		return nil, err
	}
	return c.DecodeResponse(body)
}

// EncodeResponse renders a canonical response as a wire response body in
// the given format.
func (t *Transcoder) EncodeResponse(to codec.Format, resp *model.Response) ([]byte, error) {
	c, err := t.codec(to)
	if err != nil {
		return nil, err
	}
	return c.EncodeResponse(resp)
}

// Response translates a wire response body from one format directly to
// another.
func (t *Transcoder) Response(from, to codec.Format, body []byte) ([]byte, error) {
	resp, err := t.DecodeResponse(from, body)
	if err != nil {
		return nil, fmt.Errorf("transcode: decode %s response: %w", from, err)
	}
	out, err := t.EncodeResponse(to, resp)
	if err != nil {
		return nil, fmt.Errorf("transcode: encode %s response: %w", to, err)
	}
	return out, nil
}

// StreamPipe is a live decode/encode pair bridging one streaming response
// from its source format to a target format, line by line.
type StreamPipe struct {
	dec codec.StreamDecoder
	enc codec.StreamEncoder
}

// NewStreamPipe starts a streaming transcode from one format to another.
// respID and modelName are whatever the target format needs to stamp on its
// framing (e.g. OpenAI's chunk "id"/"model" fields); callers that need an
// initial frame before any delta (Anthropic's message_start) must handle it
// via the target codec's encoder directly — see internal/codec/anthropic.go.
func (t *Transcoder) NewStreamPipe(from, to codec.Format, modelName, respID string) (*StreamPipe, error) {
	fromCodec, err := t.codec(from)
	if err != nil {
		return nil, err
	}
	toCodec, err := t.codec(to)
	if err != nil {
		return nil, err
	}
	return &StreamPipe{
		dec: fromCodec.NewStreamDecoder(),
		enc: toCodec.NewStreamEncoder(modelName, respID),
	}, nil
}

// Feed decodes one upstream line and re-encodes every resulting delta in
// the target format, concatenating their wire bytes.
func (p *StreamPipe) Feed(line []byte) ([]byte, error) {
	deltas, err := p.dec.Feed(line)
	if err != nil {
		return nil, err
	}
	return p.encodeAll(deltas), nil
}

// Close flushes any buffered decoder state and encodes the resulting
// terminal deltas.
func (p *StreamPipe) Close() []byte {
	return p.encodeAll(p.dec.Close())
}

func (p *StreamPipe) encodeAll(deltas []model.Delta) []byte {
	var out []byte
	for _, d := range deltas {
		out = append(out, p.enc.Encode(d)...)
	}
	return out
}
