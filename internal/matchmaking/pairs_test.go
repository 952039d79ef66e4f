package matchmaking

import "testing"

func TestPairTable_RecordIsBidirectional(t *testing.T) {
	pt := NewPairTable()
	pt.Record("a", "b", "s1")

	if partner, _, ok := pt.Partner("a"); !ok || partner != "b" {
		t.Errorf("a's partner = %q, ok=%v, want b", partner, ok)
	}
	if partner, _, ok := pt.Partner("b"); !ok || partner != "a" {
		t.Errorf("b's partner = %q, ok=%v, want a", partner, ok)
	}
}

func TestPairTable_ResolveAndRelease(t *testing.T) {
	pt := NewPairTable()
	pt.Record("a", "b", "s1")

	partner, sessionID, ok := pt.ResolveAndRelease("a")
	if !ok || partner != "b" || sessionID != "s1" {
		t.Fatalf("ResolveAndRelease(a) = (%q, %q, %v), want (b, s1, true)", partner, sessionID, ok)
	}

	// Both directions must be gone.
	if _, _, ok := pt.Partner("a"); ok {
		t.Errorf("a still paired after release")
	}
	if _, _, ok := pt.Partner("b"); ok {
		t.Errorf("b still paired after release (dangling half-pair)")
	}
}

func TestPairTable_ResolveAndReleaseIdempotent(t *testing.T) {
	pt := NewPairTable()
	pt.Record("a", "b", "s1")

	if _, _, ok := pt.ResolveAndRelease("a"); !ok {
		t.Fatalf("first release should succeed")
	}
	if _, _, ok := pt.ResolveAndRelease("a"); ok {
		t.Errorf("second release should return ok=false")
	}
	if _, _, ok := pt.ResolveAndRelease("nobody"); ok {
		t.Errorf("release of unknown identity should return ok=false")
	}
}

func TestPairTable_HalfPairingGuard(t *testing.T) {
	// A<->B paired; B ends and is immediately re-paired with C. Releasing A
	// afterwards must not destroy B<->C.
	pt := NewPairTable()
	pt.Record("a", "b", "s1")

	if partner, _, ok := pt.ResolveAndRelease("b"); !ok || partner != "a" {
		t.Fatalf("b's release = (%q, ok=%v), want (a, true)", partner, ok)
	}
	pt.Record("b", "c", "s2")

	if _, _, ok := pt.ResolveAndRelease("a"); ok {
		t.Errorf("releasing a must return ok=false once b has moved on")
	}
	if partner, sessionID, ok := pt.Partner("b"); !ok || partner != "c" || sessionID != "s2" {
		t.Errorf("b's new pairing was disturbed: (%q, %q, %v)", partner, sessionID, ok)
	}
	if partner, _, ok := pt.Partner("c"); !ok || partner != "b" {
		t.Errorf("c's pairing was disturbed: (%q, %v)", partner, ok)
	}
}

func TestPairTable_ReleaseSession(t *testing.T) {
	pt := NewPairTable()
	pt.Record("a", "b", "s1")

	if !pt.ReleaseSession("s1", "a", "b") {
		t.Fatalf("expected ReleaseSession to tear down s1")
	}
	if pt.Size() != 0 {
		t.Errorf("expected empty table, size=%d", pt.Size())
	}
}

func TestPairTable_ReleaseSessionIgnoresNewerPairing(t *testing.T) {
	pt := NewPairTable()
	pt.Record("a", "b", "s1")

	// Both parties ended and were re-paired with each other under a new
	// session before the old expiry fired.
	pt.ResolveAndRelease("a")
	pt.Record("a", "b", "s2")

	if pt.ReleaseSession("s1", "a", "b") {
		t.Errorf("stale expiry must not release the newer session")
	}
	if partner, sessionID, ok := pt.Partner("a"); !ok || partner != "b" || sessionID != "s2" {
		t.Errorf("newer pairing disturbed: (%q, %q, %v)", partner, sessionID, ok)
	}
}
