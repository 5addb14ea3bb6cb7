package domain

import (
	"testing"
	"time"
)

func TestClampProficiency(t *testing.T) {
	t.Parallel()

	cases := map[int]int{-5: 0, 0: 0, 42: 42, 100: 100, 130: 100}
	for in, want := range cases {
		if got := ClampProficiency(in); got != want {
			t.Errorf("ClampProficiency(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestTopicPublicDropsIdentifiers(t *testing.T) {
	t.Parallel()

	topic := Topic{ID: 7, SessionID: 3, Name: "Photosynthesis", Proficiency: 8, CreatedAt: time.Unix(10, 0)}
	pub := topic.Public()
	if pub.Name != "Photosynthesis" || pub.Proficiency != 8 {
		t.Fatalf("unexpected projection: %+v", pub)
	}
	if topic.Mastered() {
		t.Fatal("topic at 8 must not be mastered")
	}
}

func TestSessionBusyFor(t *testing.T) {
	t.Parallel()

	since := time.Unix(100, 0)
	s := &Session{Busy: true, BusySince: &since}
	if got := s.BusyFor(time.Unix(160, 0)); got != time.Minute {
		t.Fatalf("expected 1m busy, got %v", got)
	}
	s.Busy = false
	if got := s.BusyFor(time.Unix(160, 0)); got != 0 {
		t.Fatalf("idle session should report 0, got %v", got)
	}
}
