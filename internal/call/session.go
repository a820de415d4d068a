package call

import (
	"log"
	"time"

	"github.com/parley-p2p/parley/internal/media"
	"github.com/parley-p2p/parley/internal/signal"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateOutgoing
	StateIncoming
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoing:
		return "outgoing"
	case StateIncoming:
		return "incoming"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Role fixes which side of the offer/answer exchange this session plays.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}

// session holds everything one call owns. All fields are guarded by the
// manager's mutex; nothing here is a package-level singleton.
type session struct {
	callID   string
	role     Role
	localID  string
	remoteID string

	remoteName      string
	remoteUsername  string
	remoteAvatarURL string

	state     State
	quality   media.Quality
	startedAt time.Time

	muted         bool
	videoDisabled bool
	speakerOn     bool

	// bufferedOffer holds the remote offer SDP between the inbound call
	// event and the local answer intent.
	bufferedOffer string

	// remoteApplied gates candidate application: until the remote
	// description is set, candidates accumulate in pending.
	remoteApplied bool
	pending       []signal.CandidateInit

	// answering dedupes the async answer path: a second answer envelope
	// (or a repeated local answer intent) must not start another setup.
	answering bool

	binding media.Binding
}

// bufferCandidate appends one early candidate in arrival order.
func (s *session) bufferCandidate(c signal.CandidateInit) {
	s.pending = append(s.pending, c)
}

// flushPending applies buffered candidates in arrival order and clears the
// buffer. Call only after the remote description has been applied.
func (s *session) flushPending() {
	for _, c := range s.pending {
		if err := s.binding.AddCandidate(c); err != nil {
			log.Printf("CALL [%s]: buffered candidate: %v", shortCallID(s.callID), err)
		}
	}
	s.pending = nil
}

// discardPending drops the buffer without applying. Used on teardown so a
// closed transport never sees a drain.
func (s *session) discardPending() {
	s.pending = nil
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		State:         s.state.String(),
		Role:          s.role.String(),
		CallID:        s.callID,
		PeerID:        s.remoteID,
		PeerName:      s.remoteName,
		PeerUsername:  s.remoteUsername,
		PeerAvatarURL: s.remoteAvatarURL,
		Quality:       s.quality.String(),
		Muted:         s.muted,
		VideoDisabled: s.videoDisabled,
		SpeakerOn:     s.speakerOn,
	}
	if s.state == StateActive && !s.startedAt.IsZero() {
		snap.StartedAt = s.startedAt.UnixMilli()
		snap.ElapsedSec = int64(time.Since(s.startedAt).Seconds())
	}
	return snap
}

func shortCallID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
