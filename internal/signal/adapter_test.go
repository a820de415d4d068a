package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// fakeRoom captures publishes and lets tests inject inbound messages.
type fakeRoom struct {
	mu        sync.Mutex
	published [][]byte
	handler   func(fromPeer string, data []byte)
}

func (r *fakeRoom) Publish(_ context.Context, data []byte) error {
	r.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	r.published = append(r.published, cp)
	r.mu.Unlock()
	return nil
}

func (r *fakeRoom) SetHandler(fn func(fromPeer string, data []byte)) {
	r.handler = fn
}

func (r *fakeRoom) inject(from string, env Envelope) {
	b, _ := json.Marshal(env)
	r.handler(from, b)
}

func recvOrTimeout(t *testing.T, ch chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("no envelope delivered")
	}
	return Envelope{}
}

func TestSendStampsFromAndTimestamp(t *testing.T) {
	room := &fakeRoom{}
	a := New(room, "me")

	a.Send(context.Background(), Envelope{Kind: KindHangup, CallID: "c1", To: "them"})

	room.mu.Lock()
	defer room.mu.Unlock()
	if len(room.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(room.published))
	}
	var env Envelope
	if err := json.Unmarshal(room.published[0], &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.From != "me" {
		t.Fatalf("from = %q, want me", env.From)
	}
	if env.TS == 0 {
		t.Fatal("ts not stamped")
	}
}

func TestInboundFiltering(t *testing.T) {
	room := &fakeRoom{}
	a := New(room, "me")
	ch, cancel := a.Subscribe()
	defer cancel()

	valid := Envelope{Kind: KindHangup, CallID: "c1", From: "them", To: "me", TS: 1}

	t.Run("delivers addressed envelope", func(t *testing.T) {
		room.inject("them", valid)
		got := recvOrTimeout(t, ch)
		if got.CallID != "c1" {
			t.Fatalf("callId = %q", got.CallID)
		}
	})

	t.Run("drops own echo", func(t *testing.T) {
		echo := valid
		echo.From = "me"
		room.inject("me", echo)
		assertNothing(t, ch)
	})

	t.Run("drops other recipients", func(t *testing.T) {
		other := valid
		other.To = "someone-else"
		room.inject("them", other)
		assertNothing(t, ch)
	})

	t.Run("drops spoofed from", func(t *testing.T) {
		spoofed := valid
		spoofed.From = "impostor"
		room.inject("them", spoofed)
		assertNothing(t, ch)
	})

	t.Run("drops malformed payloads", func(t *testing.T) {
		room.handler("them", []byte("{not json"))
		assertNothing(t, ch)
	})

	t.Run("drops invalid envelopes", func(t *testing.T) {
		room.inject("them", Envelope{Kind: KindCall, CallID: "c2", From: "them", To: "me"}) // call without sdp
		assertNothing(t, ch)
	})
}

func assertNothing(t *testing.T, ch chan Envelope) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("unexpected delivery: %+v", env)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	a := New(&fakeRoom{}, "me")
	_, cancel := a.Subscribe()
	cancel()
	cancel() // second cancel must not panic on a closed channel
}

func TestLogRecordsTraffic(t *testing.T) {
	room := &fakeRoom{}
	a := New(room, "me")

	a.Send(context.Background(), Envelope{Kind: KindDecline, CallID: "c1", To: "them"})
	room.inject("them", Envelope{Kind: KindHangup, CallID: "c1", From: "them", To: "me", TS: 1})

	log := a.Log()
	if len(log) != 2 {
		t.Fatalf("log has %d entries, want 2", len(log))
	}
	if log[0].Dir != "send" || log[0].Kind != KindDecline {
		t.Fatalf("first entry = %+v", log[0])
	}
	if log[1].Dir != "recv" || log[1].Kind != KindHangup {
		t.Fatalf("second entry = %+v", log[1])
	}
}

func TestEnvelopeValidate(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		ok   bool
	}{
		{"call with sdp", Envelope{Kind: KindCall, CallID: "c", From: "a", To: "b", SDP: "v=0"}, true},
		{"call without sdp", Envelope{Kind: KindCall, CallID: "c", From: "a", To: "b"}, false},
		{"answer without sdp", Envelope{Kind: KindAnswer, CallID: "c", From: "a", To: "b"}, false},
		{"ice with candidate", Envelope{Kind: KindICE, CallID: "c", From: "a", To: "b", Candidate: &CandidateInit{Candidate: "candidate:1"}}, true},
		{"ice without candidate", Envelope{Kind: KindICE, CallID: "c", From: "a", To: "b"}, false},
		{"hangup bare", Envelope{Kind: KindHangup, CallID: "c", From: "a", To: "b"}, true},
		{"missing routing", Envelope{Kind: KindHangup, CallID: "c"}, false},
		{"unknown kind", Envelope{Kind: "ring", CallID: "c", From: "a", To: "b"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.env.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
