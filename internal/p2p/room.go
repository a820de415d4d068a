package p2p

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// Room wraps one gossipsub topic as a broadcast surface: publish bytes,
// receive every subscribed peer's bytes. No delivery or ordering guarantee;
// the topic may echo our own publishes back.
type Room struct {
	topic *pubsub.Topic

	mu      sync.RWMutex
	handler func(fromPeer string, data []byte)
}

func newRoom(ctx context.Context, ps *pubsub.PubSub, name string) (*Room, error) {
	topic, err := ps.Join(name)
	if err != nil {
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}

	r := &Room{topic: topic}
	go r.receiveLoop(ctx, sub)
	return r, nil
}

// Publish broadcasts data to every subscriber of the topic.
func (r *Room) Publish(ctx context.Context, data []byte) error {
	return r.topic.Publish(ctx, data)
}

// SetHandler registers the single inbound handler. The handler receives the
// original publisher's peer ID, not the forwarding hop.
func (r *Room) SetHandler(fn func(fromPeer string, data []byte)) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

func (r *Room) receiveLoop(ctx context.Context, sub *pubsub.Subscription) {
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			return
		}

		r.mu.RLock()
		fn := r.handler
		r.mu.RUnlock()
		if fn != nil {
			fn(m.GetFrom().String(), m.Data)
		}
	}
}
