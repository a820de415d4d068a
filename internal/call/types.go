// Package call implements the two-party call session state machine. Both
// ends of a call run the identical automaton, differentiated only by role:
// the caller produces the offer, the callee the answer. At most one session
// exists per client; the manager enforces that and owns every transition.
package call

import (
	"context"
	"errors"

	"github.com/parley-p2p/parley/internal/media"
	"github.com/parley-p2p/parley/internal/signal"
)

// Signaler is what the manager needs from the signaling layer.
type Signaler interface {
	Send(ctx context.Context, env signal.Envelope)
	Subscribe() (chan signal.Envelope, func())
}

var (
	// ErrBusy rejects a new call while a session is live.
	ErrBusy = errors.New("call in progress")

	// ErrNoSession means the intent has no session to act on.
	ErrNoSession = errors.New("no call session")

	// ErrInvalidState means the intent does not apply to the session's
	// current lifecycle state.
	ErrInvalidState = errors.New("not valid in current call state")
)

// EventType tags a call event delivered to UI subscribers.
type EventType string

const (
	EventIncoming    EventType = "incoming"     // new inbound call, session now ringing
	EventState       EventType = "state"        // lifecycle or toggle change
	EventQuality     EventType = "quality"      // connection quality change
	EventRemoteTrack EventType = "remote-track" // a remote media track started arriving
	EventElapsed     EventType = "elapsed"      // once per second while active
	EventEnded       EventType = "ended"        // session over, reason attached
)

// Event is one observable call state change.
type Event struct {
	Type     EventType       `json:"type"`
	Session  Snapshot        `json:"session"`
	Reason   string          `json:"reason,omitempty"`
	Track    media.TrackKind `json:"track,omitempty"`
}

// Snapshot is the externally visible view of the session, safe to serve
// over the viewer API.
type Snapshot struct {
	State         string `json:"state"`
	Role          string `json:"role,omitempty"`
	CallID        string `json:"callId,omitempty"`
	PeerID        string `json:"peerId,omitempty"`
	PeerName      string `json:"peerName,omitempty"`
	PeerUsername  string `json:"peerUsername,omitempty"`
	PeerAvatarURL string `json:"peerAvatarUrl,omitempty"`
	Quality       string `json:"quality,omitempty"`
	StartedAt     int64  `json:"startedAt,omitempty"` // unix millis, zero unless active
	ElapsedSec    int64  `json:"elapsedSec,omitempty"`
	Muted         bool   `json:"muted,omitempty"`
	VideoDisabled bool   `json:"videoDisabled,omitempty"`
	SpeakerOn     bool   `json:"speakerOn,omitempty"`
}
