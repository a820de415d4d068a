// Package signal maps call session actions to broadcast events on the shared
// signaling room and inbound room traffic back to typed envelopes. The room
// has no per-recipient routing — every peer receives every message — so the
// adapter filters on the envelope's to field before delivering anything.
package signal

import (
	"errors"
	"fmt"
)

// Kind tags a signaling envelope.
type Kind string

const (
	KindCall    Kind = "call"    // caller → callee: offer SDP + caller display metadata
	KindAnswer  Kind = "answer"  // callee → caller: answer SDP
	KindICE     Kind = "ice"     // either → other: one trickle ICE candidate
	KindDecline Kind = "decline" // callee → caller: call refused before answer
	KindHangup  Kind = "hangup"  // either side: end an active call
	KindCancel  Kind = "cancel"  // caller → callee: withdrawn before answer
)

// CandidateInit is the standard RTCIceCandidateInit shape (W3C WebRTC).
// Defined here so the wire format does not depend on Pion types.
type CandidateInit struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Envelope is the single wire shape for all call signaling. Kind-specific
// fields are optional and validated per kind.
type Envelope struct {
	Kind   Kind   `json:"kind"`
	CallID string `json:"callId"`
	From   string `json:"from"`
	To     string `json:"to"`
	TS     int64  `json:"ts"`

	// call only — caller display metadata for the incoming-call UI.
	FromName      string `json:"fromName,omitempty"`
	FromUsername  string `json:"fromUsername,omitempty"`
	FromAvatarURL string `json:"fromAvatarUrl,omitempty"`

	// call (offer) and answer.
	SDP string `json:"sdp,omitempty"`

	// ice only.
	Candidate *CandidateInit `json:"candidate,omitempty"`
}

var errEnvelope = errors.New("invalid signaling envelope")

// Validate checks the envelope is complete for its kind.
func (e *Envelope) Validate() error {
	if e.CallID == "" || e.From == "" || e.To == "" {
		return fmt.Errorf("%w: missing callId/from/to", errEnvelope)
	}
	switch e.Kind {
	case KindCall, KindAnswer:
		if e.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", errEnvelope, e.Kind)
		}
	case KindICE:
		if e.Candidate == nil || e.Candidate.Candidate == "" {
			return fmt.Errorf("%w: ice without candidate", errEnvelope)
		}
	case KindDecline, KindHangup, KindCancel:
	default:
		return fmt.Errorf("%w: unknown kind %q", errEnvelope, e.Kind)
	}
	return nil
}
