package media

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/parley-p2p/parley/internal/signal"
)

// PionBinding is the native transport: a Pion PeerConnection carrying
// VP8+Opus captured via pion/mediadevices.
type PionBinding struct {
	cb          Callbacks
	stunServers []string

	mu       sync.Mutex
	selector *mediadevices.CodecSelector
	stream   mediadevices.MediaStream
	pc       *webrtc.PeerConnection
	sink     *RemoteSink
	senders  map[TrackKind]*senderSlot
	torn     bool
}

// senderSlot remembers the original track so mute/unmute can swap it back.
type senderSlot struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// NewPionFactory returns a Factory producing native bindings configured with
// the given reachability-assist (STUN) servers.
func NewPionFactory(stunServers []string) Factory {
	return func(cb Callbacks) Binding {
		return &PionBinding{
			cb:          cb,
			stunServers: stunServers,
			senders:     make(map[TrackKind]*senderSlot),
		}
	}
}

// AcquireMedia captures local audio+video with graceful fallback
// (video+audio, then video-only, then audio-only). Idempotent.
func (b *PionBinding) AcquireMedia(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream != nil {
		return nil
	}

	selector, err := newCodecSelector()
	if err != nil {
		return &MediaAcquisitionError{Err: err}
	}

	stream, err := captureUserMedia(selector)
	if err != nil {
		return &MediaAcquisitionError{Err: err}
	}

	b.selector = selector
	b.stream = stream
	log.Printf("MEDIA: local capture ready (%d tracks)", len(stream.GetTracks()))
	return nil
}

// CreateTransport constructs the PeerConnection and registers the candidate,
// connectivity, and remote-track callbacks. Idempotent.
func (b *PionBinding) CreateTransport() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pc != nil {
		return nil
	}

	mediaEngine := &webrtc.MediaEngine{}
	if b.selector != nil {
		b.selector.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return &TransportSetupError{Op: "codecs", Err: err}
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return &TransportSetupError{Op: "interceptors", Err: err}
	}

	// Generous ICE timeouts so a brief NAT hiccup does not immediately
	// terminate the call. The 5 s default disconnectedTimeout is too
	// short for paths that see short outages during re-keying.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: b.stunServers}},
	})
	if err != nil {
		return &TransportSetupError{Op: "create", Err: err}
	}

	sink := NewRemoteSink(pc)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || b.cb.Candidate == nil {
			return
		}
		init := c.ToJSON()
		out := signal.CandidateInit{Candidate: init.Candidate}
		if init.SDPMid != nil {
			out.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			out.SDPMLineIndex = *init.SDPMLineIndex
		}
		b.cb.Candidate(out)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if b.cb.Connectivity != nil {
			b.cb.Connectivity(mapConnectivity(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := TrackAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = TrackVideo
		}
		log.Printf("MEDIA: remote %s track arrived (%s)", kind, track.Codec().MimeType)
		if b.cb.RemoteTrack != nil {
			b.cb.RemoteTrack(kind)
		}
		go sink.consume(kind, track)
	})

	// Attach whatever local tracks capture produced; add recvonly
	// transceivers for the rest so the SDP always has both m-lines.
	haveKind := map[TrackKind]bool{}
	if b.stream != nil {
		for _, track := range b.stream.GetTracks() {
			kind := TrackAudio
			if track.Kind() == webrtc.RTPCodecTypeVideo {
				kind = TrackVideo
			}
			sender, err := pc.AddTrack(track)
			if err != nil {
				log.Printf("MEDIA: add %s track: %v", kind, err)
				continue
			}
			b.senders[kind] = &senderSlot{sender: sender, track: track}
			haveKind[kind] = true
		}
	}
	for kind, codec := range map[TrackKind]webrtc.RTPCodecType{
		TrackVideo: webrtc.RTPCodecTypeVideo,
		TrackAudio: webrtc.RTPCodecTypeAudio,
	} {
		if haveKind[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(codec, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Printf("MEDIA: add recvonly %s transceiver: %v", kind, err)
		}
	}

	b.pc = pc
	b.sink = sink
	return nil
}

func (b *PionBinding) CreateOffer(ctx context.Context) (string, error) {
	b.mu.Lock()
	pc := b.pc
	b.mu.Unlock()
	if pc == nil {
		return "", &TransportSetupError{Op: "offer", Err: errNoTransport}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", &TransportSetupError{Op: "offer", Err: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", &TransportSetupError{Op: "offer", Err: err}
	}
	return offer.SDP, nil
}

func (b *PionBinding) CreateAnswer(ctx context.Context) (string, error) {
	b.mu.Lock()
	pc := b.pc
	b.mu.Unlock()
	if pc == nil {
		return "", &TransportSetupError{Op: "answer", Err: errNoTransport}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", &TransportSetupError{Op: "answer", Err: err}
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", &TransportSetupError{Op: "answer", Err: err}
	}
	return answer.SDP, nil
}

func (b *PionBinding) ApplyRemoteDescription(kind, sdp string) error {
	b.mu.Lock()
	pc := b.pc
	b.mu.Unlock()
	if pc == nil {
		return &TransportSetupError{Op: "remote description", Err: errNoTransport}
	}

	desc := webrtc.SessionDescription{SDP: sdp, Type: webrtc.NewSDPType(kind)}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return &TransportSetupError{Op: "remote description", Err: err}
	}
	return nil
}

func (b *PionBinding) AddCandidate(c signal.CandidateInit) error {
	b.mu.Lock()
	pc := b.pc
	b.mu.Unlock()
	if pc == nil {
		return &TransportSetupError{Op: "candidate", Err: errNoTransport}
	}

	mid := c.SDPMid
	idx := c.SDPMLineIndex
	return pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
}

// SetAudioEnabled toggles transmission by swapping the sender's track in or
// out. ReplaceTrack does not renegotiate, which is the point: mute is track
// disable, not track removal.
func (b *PionBinding) SetAudioEnabled(on bool) { b.setTrackEnabled(TrackAudio, on) }

// SetVideoEnabled toggles camera transmission without renegotiation.
func (b *PionBinding) SetVideoEnabled(on bool) { b.setTrackEnabled(TrackVideo, on) }

func (b *PionBinding) setTrackEnabled(kind TrackKind, on bool) {
	b.mu.Lock()
	slot := b.senders[kind]
	b.mu.Unlock()
	if slot == nil {
		return
	}

	var err error
	if on {
		err = slot.sender.ReplaceTrack(slot.track)
	} else {
		err = slot.sender.ReplaceTrack(nil)
	}
	if err != nil {
		log.Printf("MEDIA: toggle %s enabled=%v: %v", kind, on, err)
	}
}

func (b *PionBinding) RemoteSink() *RemoteSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

// Teardown releases capture devices, closes the remote sink, and closes the
// PeerConnection. Idempotent; safe on a never-initialized binding.
func (b *PionBinding) Teardown() {
	b.mu.Lock()
	if b.torn {
		b.mu.Unlock()
		return
	}
	b.torn = true
	stream := b.stream
	pc := b.pc
	sink := b.sink
	b.stream = nil
	b.pc = nil
	b.sink = nil
	b.senders = make(map[TrackKind]*senderSlot)
	b.mu.Unlock()

	if stream != nil {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
	}
	if sink != nil {
		sink.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Printf("MEDIA: close transport: %v", err)
		}
	}
}

type noTransportError struct{}

func (noTransportError) Error() string { return "no transport" }

var errNoTransport = noTransportError{}

func mapConnectivity(s webrtc.PeerConnectionState) Quality {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return QualityGood
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return QualityConnecting
	default:
		return QualityDisconnected
	}
}
