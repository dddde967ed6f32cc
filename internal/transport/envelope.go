// Package transport defines the abstract mesh-transport contract the
// protocol layer is built against, plus the wire framing every concrete
// implementation uses. The mesh itself — addressing, path discovery, link
// establishment and retry — is an external collaborator; this package only
// fixes the shape actors agree on: typed envelopes, zlib(JSON(...)) framed.
package transport

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Envelope is the typed message every actor sends and receives. FromHash
// is the sender's own destination identifier.
type Envelope struct {
	Type     string          `json:"type"`
	FromHash string          `json:"from_hash"`
	FromRole string          `json:"from_role"`
	Payload  json.RawMessage `json:"payload"`
	TS       time.Time       `json:"ts"`
}

// NewEnvelope builds an envelope carrying payload, marshalled to JSON.
func NewEnvelope(msgType, fromHash, fromRole string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("transport: marshal payload: %w", err)
	}
	return Envelope{
		Type:     msgType,
		FromHash: fromHash,
		FromRole: fromRole,
		Payload:  data,
		TS:       time.Now().UTC(),
	}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Encode compresses an envelope to the wire format: zlib(JSON(envelope)).
func Encode(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal envelope: %w", err)
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("transport: compress envelope: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("transport: compress envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses a wire frame back into an Envelope. Malformed input
// (decompression or JSON failure) is reported with ErrMalformedEnvelope
// wrapped in, per spec.md §7: the receiver drops it silently at the
// protocol layer, logging only.
func DecodeFrame(frame []byte) (Envelope, error) {
	r, err := zlib.NewReader(bytes.NewReader(frame))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: decompress: %v", ErrMalformedEnvelope, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: read: %v", ErrMalformedEnvelope, err)
	}

	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: parse: %v", ErrMalformedEnvelope, err)
	}
	return e, nil
}
