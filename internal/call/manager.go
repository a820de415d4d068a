package call

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-p2p/parley/internal/identity"
	"github.com/parley-p2p/parley/internal/media"
	"github.com/parley-p2p/parley/internal/signal"
)

// Manager owns the single call session and drives every lifecycle
// transition: local intents on one side, inbound signaling envelopes on the
// other. Transitions are serialized on mu; the async setup steps (media
// acquisition, offer/answer creation) run off the lock and re-check state
// before committing, so a cancel arriving mid-setup wins.
type Manager struct {
	sig     Signaler
	factory media.Factory
	ident   identity.Source

	mu   sync.Mutex
	sess *session

	tickerStop chan struct{}

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}

	runCtx context.Context
}

func NewManager(sig Signaler, factory media.Factory, ident identity.Source) *Manager {
	return &Manager{
		sig:       sig,
		factory:   factory,
		ident:     ident,
		listeners: make(map[chan Event]struct{}),
		runCtx:    context.Background(),
	}
}

// Start launches the signaling dispatch loop. The subscription is taken
// before Start returns so no envelope delivered after Start can be missed;
// the loop runs until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()
	ch, cancel := m.sig.Subscribe()
	go m.dispatchLoop(ctx, ch, cancel)
}

func (m *Manager) dispatchLoop(ctx context.Context, ch chan signal.Envelope, cancel func()) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.sess != nil {
				m.endSessionLocked("shutting down", "")
			}
			m.mu.Unlock()
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			m.handleEnvelope(env)
		}
	}
}

// ─── Local intents ───────────────────────────────────────────────────────────

// StartCall begins an outgoing call to peerID. Rejected with ErrBusy while
// any session is live.
func (m *Manager) StartCall(peerID, peerName string) (Snapshot, error) {
	m.mu.Lock()
	if m.sess != nil {
		snap := m.sess.snapshot()
		m.mu.Unlock()
		return snap, ErrBusy
	}

	s := &session{
		callID:     uuid.NewString(),
		role:       RoleCaller,
		localID:    m.ident().ID,
		remoteID:   peerID,
		remoteName: peerName,
		state:      StateOutgoing,
		quality:    media.QualityConnecting,
	}
	s.binding = m.factory(m.bindingCallbacks(s))
	m.sess = s
	snap := s.snapshot()
	m.mu.Unlock()

	log.Printf("CALL [%s]: outgoing to %s", shortCallID(s.callID), peerID)
	m.emit(Event{Type: EventState, Session: snap})

	go m.setupOutgoing(s)
	return snap, nil
}

// setupOutgoing acquires media, builds the transport, and broadcasts the
// offer. Runs off the lock; every commit point re-checks that the session is
// still the live one in its pre-transition state.
func (m *Manager) setupOutgoing(s *session) {
	if err := s.binding.AcquireMedia(m.runCtx); err != nil {
		m.failSession(s, err)
		return
	}
	if err := s.binding.CreateTransport(); err != nil {
		m.failSession(s, err)
		return
	}
	offer, err := s.binding.CreateOffer(m.runCtx)
	if err != nil {
		m.failSession(s, err)
		return
	}

	m.mu.Lock()
	if m.sess != s || s.state != StateOutgoing {
		// Canceled while setting up. Teardown already ran.
		m.mu.Unlock()
		return
	}
	self := m.ident()
	env := signal.Envelope{
		Kind:          signal.KindCall,
		CallID:        s.callID,
		To:            s.remoteID,
		SDP:           offer,
		FromName:      self.DisplayName,
		FromUsername:  self.Username,
		FromAvatarURL: self.AvatarURL,
	}
	m.mu.Unlock()

	m.sig.Send(m.runCtx, env)
	log.Printf("CALL [%s]: offer sent", shortCallID(s.callID))
}

// Answer accepts the ringing incoming call.
func (m *Manager) Answer() (Snapshot, error) {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return Snapshot{State: StateIdle.String()}, ErrNoSession
	}
	if s.state != StateIncoming {
		snap := s.snapshot()
		m.mu.Unlock()
		return snap, ErrInvalidState
	}
	if s.answering {
		snap := s.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	s.answering = true
	snap := s.snapshot()
	m.mu.Unlock()

	go m.setupAnswer(s)
	return snap, nil
}

// setupAnswer acquires media, applies the buffered offer, flushes early
// candidates, then creates and broadcasts the answer.
func (m *Manager) setupAnswer(s *session) {
	if err := s.binding.AcquireMedia(m.runCtx); err != nil {
		m.failSession(s, err)
		return
	}
	if err := s.binding.CreateTransport(); err != nil {
		m.failSession(s, err)
		return
	}

	m.mu.Lock()
	if m.sess != s || s.state != StateIncoming {
		m.mu.Unlock()
		return
	}
	offer := s.bufferedOffer
	m.mu.Unlock()

	if err := s.binding.ApplyRemoteDescription("offer", offer); err != nil {
		m.failSession(s, err)
		return
	}

	// Flip remoteApplied and drain the buffer under the lock so candidates
	// arriving concurrently keep their order relative to the buffered ones.
	m.mu.Lock()
	if m.sess != s || s.state != StateIncoming {
		m.mu.Unlock()
		return
	}
	s.remoteApplied = true
	s.flushPending()
	m.mu.Unlock()

	answer, err := s.binding.CreateAnswer(m.runCtx)
	if err != nil {
		m.failSession(s, err)
		return
	}

	m.mu.Lock()
	if m.sess != s || s.state != StateIncoming {
		m.mu.Unlock()
		return
	}
	s.state = StateActive
	s.startedAt = time.Now()
	env := signal.Envelope{
		Kind:   signal.KindAnswer,
		CallID: s.callID,
		To:     s.remoteID,
		SDP:    answer,
	}
	snap := s.snapshot()
	m.startTickerLocked()
	m.mu.Unlock()

	m.sig.Send(m.runCtx, env)
	log.Printf("CALL [%s]: answered, active", shortCallID(s.callID))
	m.emit(Event{Type: EventState, Session: snap})
}

// Decline refuses the ringing incoming call.
func (m *Manager) Decline() error {
	return m.endByIntent(StateIncoming, signal.KindDecline, "declined")
}

// Cancel withdraws the outgoing call before it is answered.
func (m *Manager) Cancel() error {
	return m.endByIntent(StateOutgoing, signal.KindCancel, "canceled")
}

// HangUp ends the active call.
func (m *Manager) HangUp() error {
	return m.endByIntent(StateActive, signal.KindHangup, "hung up")
}

// endByIntent is the shared local-termination path: synchronous local
// teardown, best-effort peer notification.
func (m *Manager) endByIntent(want State, notify signal.Kind, reason string) error {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.state != want {
		m.mu.Unlock()
		return ErrInvalidState
	}
	m.endSessionLocked(reason, notify)
	m.mu.Unlock()
	return nil
}

// ToggleMute enables or disables the local audio track. Local-only: no
// signaling event, no renegotiation.
func (m *Manager) ToggleMute(muted bool) (Snapshot, error) {
	return m.toggle(func(s *session) {
		s.muted = muted
		s.binding.SetAudioEnabled(!muted)
	})
}

// ToggleVideo enables or disables the local video track without
// renegotiation.
func (m *Manager) ToggleVideo(disabled bool) (Snapshot, error) {
	return m.toggle(func(s *session) {
		s.videoDisabled = disabled
		s.binding.SetVideoEnabled(!disabled)
	})
}

// ToggleSpeaker flips the output routing flag. Output routing itself is a
// renderer concern; the session only tracks the requested state.
func (m *Manager) ToggleSpeaker(on bool) (Snapshot, error) {
	return m.toggle(func(s *session) { s.speakerOn = on })
}

func (m *Manager) toggle(apply func(*session)) (Snapshot, error) {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return Snapshot{State: StateIdle.String()}, ErrNoSession
	}
	apply(s)
	snap := s.snapshot()
	m.mu.Unlock()

	m.emit(Event{Type: EventState, Session: snap})
	return snap, nil
}

// ─── Inbound signaling ───────────────────────────────────────────────────────

func (m *Manager) handleEnvelope(env signal.Envelope) {
	m.mu.Lock()

	if env.Kind == signal.KindCall {
		m.handleInboundCallLocked(env)
		m.mu.Unlock()
		return
	}

	s := m.sess
	if s == nil || env.CallID != s.callID {
		// Stale or foreign event. Not an error.
		m.mu.Unlock()
		return
	}

	switch env.Kind {
	case signal.KindAnswer:
		if s.state != StateOutgoing || s.answering {
			// Duplicate answer (or one already in flight) is a no-op.
			m.mu.Unlock()
			return
		}
		s.answering = true
		m.mu.Unlock()
		go m.applyAnswer(s, env.SDP)
		return

	case signal.KindICE:
		if env.Candidate != nil {
			if s.remoteApplied {
				if err := s.binding.AddCandidate(*env.Candidate); err != nil {
					log.Printf("CALL [%s]: candidate: %v", shortCallID(s.callID), err)
				}
			} else {
				s.bufferCandidate(*env.Candidate)
			}
		}

	case signal.KindDecline:
		if s.state == StateOutgoing {
			m.endSessionLocked("declined by peer", "")
		}

	case signal.KindCancel:
		switch s.state {
		case StateIncoming, StateOutgoing:
			m.endSessionLocked("canceled by caller", "")
		case StateActive:
			// The caller withdraws after we answered only when its own
			// answer application failed. Staying active would strand
			// this side in a dead call.
			m.endSessionLocked("canceled by peer", "")
		}

	case signal.KindHangup:
		if s.state == StateActive {
			m.endSessionLocked("hung up by peer", "")
		}
	}
	m.mu.Unlock()
}

// handleInboundCallLocked creates the callee session, or auto-declines when
// a session is already live.
func (m *Manager) handleInboundCallLocked(env signal.Envelope) {
	if m.sess != nil {
		if env.CallID == m.sess.callID {
			return // duplicate offer broadcast
		}
		// Busy: refuse the new call without touching the live session.
		log.Printf("CALL [%s]: busy, declining call from %s", shortCallID(env.CallID), env.From)
		go m.sig.Send(m.runCtx, signal.Envelope{
			Kind:   signal.KindDecline,
			CallID: env.CallID,
			To:     env.From,
		})
		return
	}

	s := &session{
		callID:          env.CallID,
		role:            RoleCallee,
		localID:         m.ident().ID,
		remoteID:        env.From,
		remoteName:      env.FromName,
		remoteUsername:  env.FromUsername,
		remoteAvatarURL: env.FromAvatarURL,
		state:           StateIncoming,
		quality:         media.QualityConnecting,
		bufferedOffer:   env.SDP,
	}
	s.binding = m.factory(m.bindingCallbacks(s))
	m.sess = s

	log.Printf("CALL [%s]: incoming from %s", shortCallID(s.callID), env.From)
	m.emit(Event{Type: EventIncoming, Session: s.snapshot()})
}

// applyAnswer completes the caller side: apply the answer description, flush
// buffered candidates, go active.
func (m *Manager) applyAnswer(s *session, sdp string) {
	if err := s.binding.ApplyRemoteDescription("answer", sdp); err != nil {
		m.failSession(s, err)
		return
	}

	m.mu.Lock()
	if m.sess != s || s.state != StateOutgoing {
		m.mu.Unlock()
		return
	}
	s.remoteApplied = true
	s.flushPending()
	s.state = StateActive
	s.startedAt = time.Now()
	snap := s.snapshot()
	m.startTickerLocked()
	m.mu.Unlock()

	log.Printf("CALL [%s]: answered by peer, active", shortCallID(s.callID))
	m.emit(Event{Type: EventState, Session: snap})
}

// ─── Binding callbacks ───────────────────────────────────────────────────────

func (m *Manager) bindingCallbacks(s *session) media.Callbacks {
	return media.Callbacks{
		Candidate: func(c signal.CandidateInit) {
			m.mu.Lock()
			live := m.sess == s && s.state != StateEnded
			env := signal.Envelope{
				Kind:      signal.KindICE,
				CallID:    s.callID,
				To:        s.remoteID,
				Candidate: &c,
			}
			m.mu.Unlock()
			if live {
				m.sig.Send(m.runCtx, env)
			}
		},
		Connectivity: func(q media.Quality) {
			m.mu.Lock()
			if m.sess != s || s.state == StateEnded {
				m.mu.Unlock()
				return
			}
			s.quality = q
			snap := s.snapshot()
			m.mu.Unlock()
			m.emit(Event{Type: EventQuality, Session: snap})
		},
		RemoteTrack: func(kind media.TrackKind) {
			m.mu.Lock()
			if m.sess != s || s.state == StateEnded {
				m.mu.Unlock()
				return
			}
			snap := s.snapshot()
			m.mu.Unlock()
			m.emit(Event{Type: EventRemoteTrack, Session: snap, Track: kind})
		},
	}
}

// ─── Termination ─────────────────────────────────────────────────────────────

// failSession tears the session down after a media or transport failure.
// The peer is notified so it does not ring (or wait) forever.
func (m *Manager) failSession(s *session, err error) {
	m.mu.Lock()
	if m.sess != s || s.state == StateEnded {
		m.mu.Unlock()
		return
	}
	log.Printf("CALL [%s]: setup failed: %v", shortCallID(s.callID), err)

	notify := signal.Kind("")
	switch s.state {
	case StateOutgoing:
		notify = signal.KindCancel
	case StateIncoming:
		notify = signal.KindDecline
	case StateActive:
		notify = signal.KindHangup
	}
	m.endSessionLocked(err.Error(), notify)
	m.mu.Unlock()
}

// endSessionLocked is the single exit path from every non-terminal state.
// It marks the session Ended, discards buffered candidates, releases the
// binding, notifies the peer (best effort), and resets the manager to idle.
// Idempotent: a session already Ended is left alone.
func (m *Manager) endSessionLocked(reason string, notify signal.Kind) {
	s := m.sess
	if s == nil || s.state == StateEnded {
		return
	}
	s.state = StateEnded
	s.quality = media.QualityDisconnected
	s.discardPending()
	m.stopTickerLocked()
	m.sess = nil

	log.Printf("CALL [%s]: ended (%s)", shortCallID(s.callID), reason)

	// Teardown can block on device/transport close; keep it off the lock.
	go s.binding.Teardown()

	if notify != "" {
		env := signal.Envelope{Kind: notify, CallID: s.callID, To: s.remoteID}
		go m.sig.Send(m.runCtx, env)
	}

	m.emit(Event{Type: EventEnded, Session: s.snapshot(), Reason: reason})
}

// ─── Observation ─────────────────────────────────────────────────────────────

// Snapshot returns the current session view, or an idle snapshot.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return Snapshot{State: StateIdle.String()}
	}
	return m.sess.snapshot()
}

// RemoteSink exposes the live session's remote media fan-out, or nil.
func (m *Manager) RemoteSink() *media.RemoteSink {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil
	}
	return m.sess.binding.RemoteSink()
}

// Subscribe returns a channel of call events and a cancel function.
func (m *Manager) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 32)

	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel := func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) emit(evt Event) {
	m.listenerMu.RLock()
	for ch := range m.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
	m.listenerMu.RUnlock()
}

// ─── Duration ticker ─────────────────────────────────────────────────────────

// startTickerLocked begins the once-per-second elapsed emitter. The only
// periodic task in the package; canceled on any transition out of Active.
func (m *Manager) startTickerLocked() {
	if m.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	m.tickerStop = stop

	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				m.mu.Lock()
				if m.sess == nil || m.sess.state != StateActive {
					m.mu.Unlock()
					return
				}
				snap := m.sess.snapshot()
				m.mu.Unlock()
				m.emit(Event{Type: EventElapsed, Session: snap})
			}
		}
	}()
}

func (m *Manager) stopTickerLocked() {
	if m.tickerStop != nil {
		close(m.tickerStop)
		m.tickerStop = nil
	}
}
