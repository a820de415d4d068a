package media

import (
	"log"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteSink fans remote RTP payloads out to UI subscribers. One sink exists
// per transport; tracks are fed into it from the transport's OnTrack handler.
type RemoteSink struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	subs      map[TrackKind]map[chan []byte]struct{}
	videoSSRC uint32
	closed    bool
}

func NewRemoteSink(pc *webrtc.PeerConnection) *RemoteSink {
	return &RemoteSink{
		pc:   pc,
		subs: map[TrackKind]map[chan []byte]struct{}{},
	}
}

// Subscribe returns a channel of RTP payloads for one track kind and a cancel
// function. Video subscribers trigger a keyframe request so a stream joined
// mid-call decodes without waiting for the next natural keyframe.
func (s *RemoteSink) Subscribe(kind TrackKind) (chan []byte, func()) {
	ch := make(chan []byte, 128)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if s.subs[kind] == nil {
		s.subs[kind] = map[chan []byte]struct{}{}
	}
	s.subs[kind][ch] = struct{}{}
	ssrc := s.videoSSRC
	s.mu.Unlock()

	if kind == TrackVideo && ssrc != 0 {
		s.requestKeyFrame(ssrc)
	}

	cancel := func() {
		s.mu.Lock()
		if set, ok := s.subs[kind]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// consume reads one remote track until it ends, broadcasting every payload.
func (s *RemoteSink) consume(kind TrackKind, track *webrtc.TrackRemote) {
	if kind == TrackVideo {
		s.mu.Lock()
		s.videoSSRC = uint32(track.SSRC())
		hasSubs := len(s.subs[kind]) > 0
		s.mu.Unlock()
		if hasSubs {
			s.requestKeyFrame(uint32(track.SSRC()))
		}
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.broadcast(kind, pkt)
	}
}

func (s *RemoteSink) broadcast(kind TrackKind, pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for ch := range s.subs[kind] {
		// Slow subscribers lose packets rather than stalling the reader.
		select {
		case ch <- pkt.Payload:
		default:
		}
	}
}

func (s *RemoteSink) requestKeyFrame(ssrc uint32) {
	if s.pc == nil {
		return
	}
	err := s.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
	if err != nil {
		log.Printf("MEDIA: keyframe request: %v", err)
	}
}

// Close releases all subscriber channels. Idempotent.
func (s *RemoteSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, set := range s.subs {
		for ch := range set {
			close(ch)
		}
	}
	s.subs = map[TrackKind]map[chan []byte]struct{}{}
}
