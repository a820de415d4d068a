package state

import (
	"testing"
	"time"
)

func TestPeerTable(t *testing.T) {
	t.Run("upsert and get", func(t *testing.T) {
		pt := NewPeerTable()
		pt.Upsert("p1", "Alice", "alice", "", false)

		sp, ok := pt.Get("p1")
		if !ok || sp.DisplayName != "Alice" {
			t.Fatalf("got %+v, ok=%v", sp, ok)
		}
	})

	t.Run("remove unknown is a no-op", func(t *testing.T) {
		pt := NewPeerTable()
		pt.Remove("ghost")
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		pt := NewPeerTable()
		pt.Upsert("p1", "Alice", "alice", "", false)
		snap := pt.Snapshot()
		delete(snap, "p1")
		if _, ok := pt.Get("p1"); !ok {
			t.Fatal("mutating snapshot affected the table")
		}
	})

	t.Run("prune drops stale peers", func(t *testing.T) {
		pt := NewPeerTable()
		pt.Upsert("old", "Old", "old", "", false)
		pt.Upsert("fresh", "Fresh", "fresh", "", false)

		pt.mu.Lock()
		sp := pt.peers["old"]
		sp.LastSeen = time.Now().Add(-time.Minute)
		pt.peers["old"] = sp
		pt.mu.Unlock()

		pt.PruneOlderThan(time.Now().Add(-30 * time.Second))
		if _, ok := pt.Get("old"); ok {
			t.Fatal("stale peer survived prune")
		}
		if _, ok := pt.Get("fresh"); !ok {
			t.Fatal("fresh peer pruned")
		}
	})

	t.Run("events reach subscribers", func(t *testing.T) {
		pt := NewPeerTable()
		ch := pt.Subscribe()
		defer pt.Unsubscribe(ch)

		pt.Upsert("p1", "Alice", "alice", "", false)
		select {
		case evt := <-ch:
			if evt.Type != "update" || evt.PeerID != "p1" {
				t.Fatalf("event = %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("no update event")
		}

		pt.Remove("p1")
		select {
		case evt := <-ch:
			if evt.Type != "remove" || evt.PeerID != "p1" {
				t.Fatalf("event = %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("no remove event")
		}
	})
}
