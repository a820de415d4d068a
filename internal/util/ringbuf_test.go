package util

import "testing"

func TestRingBuffer(t *testing.T) {
	t.Run("partial fill keeps order", func(t *testing.T) {
		r := NewRingBuffer[int](4)
		r.Push(1)
		r.Push(2)
		got := r.Snapshot()
		if len(got) != 2 || got[0] != 1 || got[1] != 2 {
			t.Fatalf("snapshot = %v", got)
		}
	})

	t.Run("overwrites oldest when full", func(t *testing.T) {
		r := NewRingBuffer[int](3)
		for i := 1; i <= 5; i++ {
			r.Push(i)
		}
		got := r.Snapshot()
		if len(got) != 3 || got[0] != 3 || got[2] != 5 {
			t.Fatalf("snapshot = %v", got)
		}
		if r.Len() != 3 {
			t.Fatalf("len = %d", r.Len())
		}
	})

	t.Run("empty buffer", func(t *testing.T) {
		r := NewRingBuffer[string](2)
		if got := r.Snapshot(); len(got) != 0 {
			t.Fatalf("snapshot = %v", got)
		}
	})
}
