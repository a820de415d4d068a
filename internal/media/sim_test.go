package media

import (
	"context"
	"errors"
	"testing"

	"github.com/parley-p2p/parley/internal/signal"
)

func TestSimNegotiationSequence(t *testing.T) {
	b := NewSim(Callbacks{})
	ctx := context.Background()

	if _, err := b.CreateOffer(ctx); err == nil {
		t.Fatal("offer before transport must fail")
	}

	if err := b.AcquireMedia(ctx); err != nil {
		t.Fatalf("AcquireMedia: %v", err)
	}
	if err := b.CreateTransport(); err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	offer, err := b.CreateOffer(ctx)
	if err != nil || offer == "" {
		t.Fatalf("CreateOffer: %q, %v", offer, err)
	}

	if _, err := b.CreateAnswer(ctx); err == nil {
		t.Fatal("answer without remote offer must fail")
	}
	if err := b.ApplyRemoteDescription("offer", "v=0 remote"); err != nil {
		t.Fatalf("ApplyRemoteDescription: %v", err)
	}
	answer, err := b.CreateAnswer(ctx)
	if err != nil || answer == "" {
		t.Fatalf("CreateAnswer: %q, %v", answer, err)
	}
}

func TestSimCandidateRequiresRemoteDescription(t *testing.T) {
	b := NewSim(Callbacks{})
	_ = b.AcquireMedia(context.Background())
	_ = b.CreateTransport()

	c := signal.CandidateInit{Candidate: "candidate:1"}
	if err := b.AddCandidate(c); err == nil {
		t.Fatal("candidate before remote description must fail")
	}

	_ = b.ApplyRemoteDescription("offer", "v=0")
	if err := b.AddCandidate(c); err != nil {
		t.Fatalf("AddCandidate: %v", err)
	}
	if got := b.Applied(); len(got) != 1 {
		t.Fatalf("applied = %d, want 1", len(got))
	}
}

func TestSimAcquireFailure(t *testing.T) {
	b := NewSim(Callbacks{})
	b.FailAcquire = errors.New("no camera")

	err := b.AcquireMedia(context.Background())
	var mediaErr *MediaAcquisitionError
	if !errors.As(err, &mediaErr) {
		t.Fatalf("error = %v, want MediaAcquisitionError", err)
	}
}

func TestSimTeardownIdempotent(t *testing.T) {
	t.Run("initialized binding", func(t *testing.T) {
		b := NewSim(Callbacks{})
		_ = b.AcquireMedia(context.Background())
		_ = b.CreateTransport()

		b.Teardown()
		b.Teardown()
		b.Teardown()
		if !b.TornDown() {
			t.Fatal("not torn down")
		}
		if b.RemoteSink() != nil {
			t.Fatal("sink survived teardown")
		}
	})

	t.Run("never-initialized binding", func(t *testing.T) {
		b := NewSim(Callbacks{})
		b.Teardown() // must not panic
		b.Teardown()
	})
}

func TestSimCallbackHooks(t *testing.T) {
	var gotCandidate signal.CandidateInit
	var gotQuality Quality
	var gotTrack TrackKind

	b := NewSim(Callbacks{
		Candidate:    func(c signal.CandidateInit) { gotCandidate = c },
		Connectivity: func(q Quality) { gotQuality = q },
		RemoteTrack:  func(k TrackKind) { gotTrack = k },
	})

	b.EmitCandidate(signal.CandidateInit{Candidate: "candidate:7"})
	b.EmitConnectivity(QualityGood)
	b.EmitRemoteTrack(TrackVideo)

	if gotCandidate.Candidate != "candidate:7" {
		t.Fatalf("candidate = %q", gotCandidate.Candidate)
	}
	if gotQuality != QualityGood {
		t.Fatalf("quality = %v", gotQuality)
	}
	if gotTrack != TrackVideo {
		t.Fatalf("track = %v", gotTrack)
	}
}

func TestQualityStrings(t *testing.T) {
	cases := map[Quality]string{
		QualityConnecting:   "connecting",
		QualityGood:         "good",
		QualityFair:         "fair",
		QualityPoor:         "poor",
		QualityDisconnected: "disconnected",
	}
	for q, want := range cases {
		if got := q.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", q, got, want)
		}
	}
}
