// Package media owns the local capture devices and the peer transport for a
// single call. Two bindings exist: the native Pion WebRTC transport and a
// simulated no-op transport used when no media stack is available (and in
// tests). The call state machine drives either through the same Binding
// interface and never touches Pion types directly.
package media

import (
	"context"
	"fmt"

	"github.com/parley-p2p/parley/internal/signal"
)

// Quality is the coarse connection quality derived from the transport's raw
// connectivity signal. Fair and Poor are reserved for a round-trip-statistics
// heuristic the minimal connectivity signal cannot produce.
type Quality int

const (
	QualityConnecting Quality = iota
	QualityGood
	QualityFair
	QualityPoor
	QualityDisconnected
)

func (q Quality) String() string {
	switch q {
	case QualityConnecting:
		return "connecting"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	case QualityDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// TrackKind identifies a remote media track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Callbacks are registered at binding construction, before any transport
// exists, so no candidate or track can be missed.
type Callbacks struct {
	// Candidate fires once per locally discovered ICE candidate.
	Candidate func(signal.CandidateInit)

	// Connectivity fires on every transport connectivity change.
	Connectivity func(Quality)

	// RemoteTrack fires when a remote track starts arriving.
	RemoteTrack func(TrackKind)
}

// Binding is the capability interface between the call state machine and the
// media/transport layer. All methods are safe to call exactly as the state
// machine does: setup methods are idempotent, Teardown is idempotent and safe
// on a never-initialized binding.
type Binding interface {
	// AcquireMedia captures local audio+video. Idempotent: a held stream
	// is reused. Failure is a MediaAcquisitionError.
	AcquireMedia(ctx context.Context) error

	// CreateTransport constructs the peer transport (idempotent) with the
	// fixed reachability-assist server list. Failure is a TransportSetupError.
	CreateTransport() error

	// CreateOffer produces and applies the local offer description.
	CreateOffer(ctx context.Context) (sdp string, err error)

	// CreateAnswer produces and applies the local answer description.
	// The remote offer must already be applied.
	CreateAnswer(ctx context.Context) (sdp string, err error)

	// ApplyRemoteDescription sets the remote description. kind is
	// "offer" or "answer".
	ApplyRemoteDescription(kind, sdp string) error

	// AddCandidate applies one remote ICE candidate. The remote
	// description must already be applied; ordering correction lives in
	// the call session, not here.
	AddCandidate(c signal.CandidateInit) error

	// SetAudioEnabled and SetVideoEnabled toggle track transmission
	// without renegotiation.
	SetAudioEnabled(on bool)
	SetVideoEnabled(on bool)

	// RemoteSink exposes the remote media fan-out for UI rendering.
	// Nil until the transport exists.
	RemoteSink() *RemoteSink

	// Teardown stops and releases all local and remote media and closes
	// the transport. Idempotent.
	Teardown()
}

// Factory builds a fresh binding for one call session.
type Factory func(cb Callbacks) Binding

// MediaAcquisitionError reports that camera/microphone capture failed
// (device unavailable or permission denied).
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// TransportSetupError reports that the peer transport could not be
// constructed or negotiated.
type TransportSetupError struct {
	Op  string
	Err error
}

func (e *TransportSetupError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportSetupError) Unwrap() error { return e.Err }
