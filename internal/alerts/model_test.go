package alerts

import (
	"fmt"
	"testing"
	"time"
)

func TestRecentBoundedToFiveNewestFirst(t *testing.T) {
	m := NewModel(5, 0)
	base := time.Now()

	for i := 0; i < 8; i++ {
		m.Record(Event{Ticker: fmt.Sprintf("T%d", i), Proba: float64(i) / 10}, base)
	}

	got := m.Recent()
	if len(got) != 5 {
		t.Fatalf("len(Recent) = %d, want 5", len(got))
	}
	// Last 5 events, newest first: T7, T6, T5, T4, T3.
	want := []string{"T7", "T6", "T5", "T4", "T3"}
	for i, w := range want {
		if got[i].Ticker != w {
			t.Errorf("Recent[%d] = %q, want %q", i, got[i].Ticker, w)
		}
	}
}

func TestRecentNeverExceedsBoundMidStream(t *testing.T) {
	m := NewModel(5, 0)
	base := time.Now()
	for i := 0; i < 50; i++ {
		m.Record(Event{Ticker: "X"}, base)
		if n := len(m.Recent()); n > 5 {
			t.Fatalf("after %d events, len(Recent) = %d, exceeds bound", i+1, n)
		}
	}
}

func TestHighlightExpiresAfterTTL(t *testing.T) {
	m := NewModel(5, 3*time.Second)
	base := time.Unix(1000, 0)

	m.Record(Event{Ticker: "ABCD"}, base)
	if !m.IsHighlighted("ABCD") {
		t.Fatal("ABCD not highlighted immediately after event")
	}

	m.ExpireHighlights(base.Add(2999 * time.Millisecond))
	if !m.IsHighlighted("ABCD") {
		t.Fatal("ABCD expired before TTL elapsed")
	}

	removed := m.ExpireHighlights(base.Add(3 * time.Second))
	if len(removed) != 1 || removed[0] != "ABCD" {
		t.Fatalf("removed = %v, want [ABCD]", removed)
	}
	if m.IsHighlighted("ABCD") {
		t.Fatal("ABCD still highlighted after TTL")
	}
}

func TestEarlyRemovalOnRepeatedAlerts(t *testing.T) {
	// Two alerts for the same ticker at t=0 and t=1s. Each schedules its own
	// expiry; the first timer firing at t=3s removes the highlight even
	// though the second alert's window runs to t=4s.
	m := NewModel(5, 3*time.Second)
	base := time.Unix(1000, 0)

	m.Record(Event{Ticker: "ABCD"}, base)
	m.Record(Event{Ticker: "ABCD"}, base.Add(time.Second))

	m.ExpireHighlights(base.Add(2900 * time.Millisecond))
	if !m.IsHighlighted("ABCD") {
		t.Fatal("highlighted gone before first timer fired")
	}

	removed := m.ExpireHighlights(base.Add(3 * time.Second))
	if len(removed) != 1 || removed[0] != "ABCD" {
		t.Fatalf("removed = %v, want [ABCD] at first timer", removed)
	}

	// The second entry fires at t=4s and must harmlessly no-op.
	removed = m.ExpireHighlights(base.Add(4 * time.Second))
	if len(removed) != 0 {
		t.Fatalf("removed = %v, want none from stale second entry", removed)
	}
	if m.IsHighlighted("ABCD") {
		t.Fatal("ABCD re-highlighted by stale entry")
	}
}

func TestReHighlightAfterRemoval(t *testing.T) {
	m := NewModel(5, 3*time.Second)
	base := time.Unix(1000, 0)

	m.Record(Event{Ticker: "ABCD"}, base)
	m.ExpireHighlights(base.Add(3 * time.Second))

	// A fresh alert after removal highlights again with its own window.
	m.Record(Event{Ticker: "ABCD"}, base.Add(5*time.Second))
	if !m.IsHighlighted("ABCD") {
		t.Fatal("fresh alert after removal did not highlight")
	}
	m.ExpireHighlights(base.Add(8 * time.Second))
	if m.IsHighlighted("ABCD") {
		t.Fatal("fresh alert window did not expire")
	}
}

func TestNextExpiry(t *testing.T) {
	m := NewModel(5, 3*time.Second)
	if !m.NextExpiry().IsZero() {
		t.Fatal("NextExpiry non-zero on empty model")
	}

	base := time.Unix(1000, 0)
	m.Record(Event{Ticker: "A"}, base.Add(time.Second))
	m.Record(Event{Ticker: "B"}, base)

	want := base.Add(3 * time.Second)
	if got := m.NextExpiry(); !got.Equal(want) {
		t.Errorf("NextExpiry = %v, want earliest %v", got, want)
	}
}

func TestHighlightedReturnsCopy(t *testing.T) {
	m := NewModel(5, time.Minute)
	m.Record(Event{Ticker: "A"}, time.Now())

	snap := m.Highlighted()
	delete(snap, "A")
	if !m.IsHighlighted("A") {
		t.Fatal("mutating snapshot affected model state")
	}
}
