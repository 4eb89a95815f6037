// Package signaling carries the WebSocket signaling phase of a call: the JSON
// envelope codec, a client that dispatches received envelopes, and a
// two-party relay.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MaxFrameSize caps a single inbound WebSocket frame. Session descriptions and
// candidates are a few KiB at most.
const MaxFrameSize = 1 << 20

// MessageType identifies the kind of signaling envelope.
type MessageType string

const (
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
)

var (
	ErrMalformedEnvelope = errors.New("malformed signaling envelope")
	ErrUnknownType       = errors.New("unknown signaling envelope type")
)

// Envelope is the JSON structure exchanged over the WebSocket. Message is
// itself JSON: a session description for offer/answer, an ICE candidate init
// for candidate.
type Envelope struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Valid reports whether t is one of the three known envelope types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	}
	return false
}

// NewEnvelope JSON-encodes payload into the message field.
func NewEnvelope(typ MessageType, payload any) (Envelope, error) {
	if !typ.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}

	return Envelope{Type: typ, Message: string(data)}, nil
}

// Encode serializes an envelope into a JSON text frame.
func Encode(env Envelope) ([]byte, error) {
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return json.Marshal(env)
}

// Decode parses a received frame.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if !env.Type.Valid() {
		return env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

// SessionDescription decodes the message of an offer or answer envelope. The
// description type comes from the envelope, not from the inner payload.
func (e Envelope) SessionDescription() (webrtc.SessionDescription, error) {
	var typ webrtc.SDPType
	switch e.Type {
	case TypeOffer:
		typ = webrtc.SDPTypeOffer
	case TypeAnswer:
		typ = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%s envelope carries no session description", e.Type)
	}

	var payload struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal([]byte(e.Message), &payload); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s message: %v", ErrMalformedEnvelope, e.Type, err)
	}

	return webrtc.SessionDescription{Type: typ, SDP: payload.SDP}, nil
}

// Candidate decodes the message of a candidate envelope.
func (e Envelope) Candidate() (webrtc.ICECandidateInit, error) {
	if e.Type != TypeCandidate {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%s envelope carries no ICE candidate", e.Type)
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(e.Message), &init); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: candidate message: %v", ErrMalformedEnvelope, err)
	}
	return init, nil
}
