package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func newTestManager() (*Manager, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClock()
	return NewManager(fc, Config{IdleTimeout: 10 * time.Minute}), fc
}

func TestSecondOwnerIsRejected(t *testing.T) {
	m, _ := newTestManager()

	a, err := m.Start("m1", "conn-a", "ref-1")
	if err != nil {
		t.Fatalf("start a: %v", err)
	}
	if !a.IsActive || a.ID == "" {
		t.Fatalf("unexpected session: %+v", a)
	}

	if _, err := m.Start("m1", "conn-b", "ref-2"); !errors.Is(err, matcherr.ErrStateConflict) {
		t.Fatalf("expected conflict for b, got %v", err)
	}

	again, err := m.Start("m1", "conn-a", "ref-1")
	if err != nil || again.ID != a.ID {
		t.Fatalf("owner restart should return the same session: %v %+v", err, again)
	}

	// Other matches are independent.
	if _, err := m.Start("m2", "conn-b", "ref-2"); err != nil {
		t.Fatalf("start on m2: %v", err)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	m, _ := newTestManager()

	s, _ := m.Start("m1", "conn-a", "")
	if _, err := m.End(s.ID, "conn-b"); !errors.Is(err, matcherr.ErrAuthorization) {
		t.Fatalf("non-owner end should be unauthorized, got %v", err)
	}

	ended, err := m.End(s.ID, "conn-a")
	if err != nil || ended.IsActive {
		t.Fatalf("end: %v %+v", err, ended)
	}
	again, err := m.End(s.ID, "conn-a")
	if err != nil || again.IsActive {
		t.Fatalf("second end should be a no-op: %v %+v", err, again)
	}

	if st := m.Status("m1"); st.IsActive {
		t.Fatalf("status should be inactive: %+v", st)
	}
	if _, err := m.Start("m1", "conn-b", ""); err != nil {
		t.Fatalf("b should start after a ended: %v", err)
	}
}

func TestRequireOwnership(t *testing.T) {
	m, _ := newTestManager()

	if err := m.Require("m1", "conn-a"); !errors.Is(err, matcherr.ErrStateConflict) {
		t.Fatalf("expected conflict without a session, got %v", err)
	}
	m.Start("m1", "conn-a", "")
	if err := m.Require("m1", "conn-a"); err != nil {
		t.Fatalf("owner should pass: %v", err)
	}
	if err := m.Require("m1", "conn-b"); !errors.Is(err, matcherr.ErrStateConflict) {
		t.Fatalf("expected conflict for non-owner, got %v", err)
	}
}

func TestDisconnectEndsOwnedSessions(t *testing.T) {
	m, _ := newTestManager()

	var mu sync.Mutex
	var reasons []EndReason
	m.OnEnd(func(_ Session, reason EndReason) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, reason)
	})

	m.Start("m1", "conn-a", "")
	m.Start("m2", "conn-a", "")
	m.Start("m3", "conn-b", "")

	ended := m.EndForConnection("conn-a", "")
	if len(ended) != 2 {
		t.Fatalf("expected 2 sessions ended, got %d", len(ended))
	}
	if len(m.Active()) != 1 {
		t.Fatalf("conn-b's session should survive")
	}
	if _, err := m.Start("m1", "conn-b", ""); err != nil {
		t.Fatalf("another connection should take over: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 2 || reasons[0] != EndReasonDisconnect {
		t.Fatalf("got reasons %v", reasons)
	}
}

func TestIdleTimeoutExpiresSession(t *testing.T) {
	m, fc := newTestManager()

	expired := make(chan Session, 1)
	m.OnEnd(func(s Session, reason EndReason) {
		if reason == EndReasonIdle {
			expired <- s
		}
	})

	s, _ := m.Start("m1", "conn-a", "")

	fc.Advance(6 * time.Minute)
	m.Touch("m1", "conn-a")
	fc.Advance(6 * time.Minute)
	if !m.Status("m1").IsActive {
		t.Fatalf("touch should postpone expiry")
	}

	fc.Advance(4 * time.Minute)
	select {
	case got := <-expired:
		if got.ID != s.ID || got.IsActive {
			t.Fatalf("unexpected expired session: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not expire")
	}
	waitFor(t, func() bool { return !m.Status("m1").IsActive })
}
