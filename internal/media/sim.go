package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-p2p/parley/internal/signal"
)

// SimBinding is a transport stand-in for hosts without a media stack. It
// produces placeholder descriptions, records every candidate handed to it,
// and exposes Emit hooks so tests can drive the callbacks the way a real
// transport would.
type SimBinding struct {
	cb Callbacks

	// FailAcquire, when set, makes AcquireMedia fail with it.
	FailAcquire error

	// FailRemoteDesc, when set, makes ApplyRemoteDescription fail with it.
	FailRemoteDesc error

	mu            sync.Mutex
	mediaAcquired bool
	transportUp   bool
	localDesc     string
	remoteKind    string
	remoteSDP     string
	applied       []signal.CandidateInit
	audioOn       bool
	videoOn       bool
	torn          bool
	sink          *RemoteSink
}

// NewSimFactory returns a Factory producing simulated bindings.
func NewSimFactory() Factory {
	return func(cb Callbacks) Binding { return NewSim(cb) }
}

func NewSim(cb Callbacks) *SimBinding {
	return &SimBinding{cb: cb, audioOn: true, videoOn: true}
}

func (b *SimBinding) AcquireMedia(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailAcquire != nil {
		return &MediaAcquisitionError{Err: b.FailAcquire}
	}
	b.mediaAcquired = true
	return nil
}

func (b *SimBinding) CreateTransport() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.transportUp {
		b.transportUp = true
		b.sink = NewRemoteSink(nil)
	}
	return nil
}

func (b *SimBinding) CreateOffer(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.transportUp {
		return "", &TransportSetupError{Op: "offer", Err: errNoTransport}
	}
	b.localDesc = "v=0 sim-offer"
	return b.localDesc, nil
}

func (b *SimBinding) CreateAnswer(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.transportUp {
		return "", &TransportSetupError{Op: "answer", Err: errNoTransport}
	}
	if b.remoteSDP == "" {
		return "", &TransportSetupError{Op: "answer", Err: fmt.Errorf("no remote offer applied")}
	}
	b.localDesc = "v=0 sim-answer"
	return b.localDesc, nil
}

func (b *SimBinding) ApplyRemoteDescription(kind, sdp string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.transportUp {
		return &TransportSetupError{Op: "remote description", Err: errNoTransport}
	}
	if b.FailRemoteDesc != nil {
		return &TransportSetupError{Op: "remote description", Err: b.FailRemoteDesc}
	}
	b.remoteKind = kind
	b.remoteSDP = sdp
	return nil
}

func (b *SimBinding) AddCandidate(c signal.CandidateInit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remoteSDP == "" {
		return &TransportSetupError{Op: "candidate", Err: fmt.Errorf("no remote description")}
	}
	b.applied = append(b.applied, c)
	return nil
}

func (b *SimBinding) SetAudioEnabled(on bool) {
	b.mu.Lock()
	b.audioOn = on
	b.mu.Unlock()
}

func (b *SimBinding) SetVideoEnabled(on bool) {
	b.mu.Lock()
	b.videoOn = on
	b.mu.Unlock()
}

func (b *SimBinding) RemoteSink() *RemoteSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

func (b *SimBinding) Teardown() {
	b.mu.Lock()
	if b.torn {
		b.mu.Unlock()
		return
	}
	b.torn = true
	sink := b.sink
	b.sink = nil
	b.mu.Unlock()

	if sink != nil {
		sink.Close()
	}
}

// EmitCandidate drives the candidate callback like a real transport would.
func (b *SimBinding) EmitCandidate(c signal.CandidateInit) {
	if b.cb.Candidate != nil {
		b.cb.Candidate(c)
	}
}

// EmitConnectivity drives the connectivity callback.
func (b *SimBinding) EmitConnectivity(q Quality) {
	if b.cb.Connectivity != nil {
		b.cb.Connectivity(q)
	}
}

// EmitRemoteTrack drives the remote-track callback.
func (b *SimBinding) EmitRemoteTrack(kind TrackKind) {
	if b.cb.RemoteTrack != nil {
		b.cb.RemoteTrack(kind)
	}
}

// Applied returns the remote candidates applied so far, in order.
func (b *SimBinding) Applied() []signal.CandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]signal.CandidateInit, len(b.applied))
	copy(out, b.applied)
	return out
}

// RemoteDescription returns the last applied remote description.
func (b *SimBinding) RemoteDescription() (kind, sdp string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remoteKind, b.remoteSDP
}

// AudioEnabled reports the current audio transmission state.
func (b *SimBinding) AudioEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.audioOn
}

// VideoEnabled reports the current video transmission state.
func (b *SimBinding) VideoEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.videoOn
}

// TornDown reports whether Teardown has run.
func (b *SimBinding) TornDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.torn
}
