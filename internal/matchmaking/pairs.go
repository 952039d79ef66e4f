package matchmaking

// pairing is one direction of an active call relationship.
type pairing struct {
	Partner   string
	SessionID string
}

// PairTable tracks which two users are currently in a live call together.
// The relation is symmetric: recording a pairing writes both directions, and
// a dangling half-pair is a correctness bug. Like Queue, it relies on the
// Engine's mutex for serialization.
type PairTable struct {
	pairs map[string]pairing
}

// NewPairTable returns an empty pair table.
func NewPairTable() *PairTable {
	return &PairTable{pairs: make(map[string]pairing)}
}

// Record stores the bidirectional pairing a<->b for the given session.
func (t *PairTable) Record(a, b, sessionID string) {
	t.pairs[a] = pairing{Partner: b, SessionID: sessionID}
	t.pairs[b] = pairing{Partner: a, SessionID: sessionID}
}

// Partner returns the current partner and session for id.
func (t *PairTable) Partner(id string) (partner, sessionID string, ok bool) {
	p, ok := t.pairs[id]
	return p.Partner, p.SessionID, ok
}

// ResolveAndRelease looks up id's partner and removes id's own entry. The
// reverse entry is removed — and the partner reported — only if it still
// points back at id. If the partner has already ended the call and been
// paired with someone new, their newer pairing is left untouched and
// ResolveAndRelease returns ok=false.
func (t *PairTable) ResolveAndRelease(id string) (partner, sessionID string, ok bool) {
	own, found := t.pairs[id]
	if !found {
		return "", "", false
	}
	delete(t.pairs, id)

	reverse, found := t.pairs[own.Partner]
	if !found || reverse.Partner != id {
		// Partner already moved on; do not destroy their new pairing.
		return "", "", false
	}
	delete(t.pairs, own.Partner)
	return own.Partner, own.SessionID, true
}

// ReleaseSession removes the a<->b pairing only if both directions still
// belong to the given session. It is used by the server-side expiry teardown,
// which must not touch pairings the parties have since re-formed.
func (t *PairTable) ReleaseSession(sessionID, a, b string) bool {
	pa, okA := t.pairs[a]
	pb, okB := t.pairs[b]
	if !okA || !okB || pa.SessionID != sessionID || pb.SessionID != sessionID {
		return false
	}
	if pa.Partner != b || pb.Partner != a {
		return false
	}
	delete(t.pairs, a)
	delete(t.pairs, b)
	return true
}

// Size returns the number of users currently in a call (two per pairing).
func (t *PairTable) Size() int {
	return len(t.pairs)
}
