package signal

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/parley-p2p/parley/internal/util"
)

// Room is the broadcast surface the adapter needs from the p2p layer.
// Publish is best-effort: the room gives no delivery or ordering guarantee
// across the network, and may duplicate or drop messages.
type Room interface {
	Publish(ctx context.Context, data []byte) error
	SetHandler(fn func(fromPeer string, data []byte))
}

// LogEntry is one line of the signaling debug log.
type LogEntry struct {
	Dir    string `json:"dir"` // send|recv|drop
	Kind   Kind   `json:"kind"`
	CallID string `json:"callId"`
	Peer   string `json:"peer"`
	TS     int64  `json:"ts"`
	Note   string `json:"note,omitempty"`
}

const logCap = 256

// Adapter serializes outbound envelopes onto the room and fans validated,
// filtered inbound envelopes out to subscribers.
type Adapter struct {
	room   Room
	selfID string

	listenerMu sync.RWMutex
	listeners  map[chan Envelope]struct{}

	logs *util.RingBuffer[LogEntry]
}

// New creates an adapter bound to the room and starts receiving immediately.
func New(room Room, selfID string) *Adapter {
	a := &Adapter{
		room:      room,
		selfID:    selfID,
		listeners: make(map[chan Envelope]struct{}),
		logs:      util.NewRingBuffer[LogEntry](logCap),
	}
	room.SetHandler(a.handleInbound)
	return a
}

// Send broadcasts an envelope, stamping from and ts. A failed broadcast is
// logged and swallowed: the local state machine must reflect user intent
// immediately, and the room has no retry layer anyway.
func (a *Adapter) Send(ctx context.Context, env Envelope) {
	env.From = a.selfID
	if env.TS == 0 {
		env.TS = time.Now().UnixMilli()
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("SIGNAL: marshal %s: %v", env.Kind, err)
		return
	}
	if err := a.room.Publish(ctx, data); err != nil {
		log.Printf("SIGNAL: send %s [%s] failed: %v", env.Kind, env.CallID, err)
		a.record("drop", env.Kind, env.CallID, env.To, err.Error())
		return
	}
	a.record("send", env.Kind, env.CallID, env.To, "")
}

// Subscribe returns a channel of inbound envelopes addressed to this peer
// and a cancel function. Envelopes from other peers' conversations never
// reach subscribers.
func (a *Adapter) Subscribe() (chan Envelope, func()) {
	ch := make(chan Envelope, 64)

	a.listenerMu.Lock()
	a.listeners[ch] = struct{}{}
	a.listenerMu.Unlock()

	cancel := func() {
		a.listenerMu.Lock()
		if _, ok := a.listeners[ch]; ok {
			delete(a.listeners, ch)
			close(ch)
		}
		a.listenerMu.Unlock()
	}
	return ch, cancel
}

// Log returns a snapshot of the recent signaling log, oldest first.
func (a *Adapter) Log() []LogEntry {
	return a.logs.Snapshot()
}

// handleInbound is invoked by the room once per received message.
func (a *Adapter) handleInbound(fromPeer string, data []byte) {
	// Gossipsub can echo our own publishes back.
	if fromPeer == a.selfID {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("SIGNAL: bad message from %s: %v", shortID(fromPeer), err)
		return
	}
	if err := env.Validate(); err != nil {
		log.Printf("SIGNAL: %v (from %s)", err, shortID(fromPeer))
		return
	}

	// The from field is self-reported; trust the transport's sender instead.
	if env.From != fromPeer {
		a.record("drop", env.Kind, env.CallID, fromPeer, "from mismatch")
		return
	}

	// Shared broadcast room: self-filtering on the recipient is a
	// correctness requirement, not an optimization.
	if env.To != a.selfID {
		return
	}

	a.record("recv", env.Kind, env.CallID, env.From, "")

	a.listenerMu.RLock()
	for ch := range a.listeners {
		select {
		case ch <- env:
		default:
			log.Printf("SIGNAL: subscriber full, dropping %s [%s]", env.Kind, env.CallID)
		}
	}
	a.listenerMu.RUnlock()
}

func (a *Adapter) record(dir string, kind Kind, callID, peer, note string) {
	a.logs.Push(LogEntry{
		Dir:    dir,
		Kind:   kind,
		CallID: callID,
		Peer:   peer,
		TS:     time.Now().UnixMilli(),
		Note:   note,
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
