// Package matchmaking implements the in-memory live-call matching engine:
// a queue of waiting participants, a mutual-compatibility matcher, session
// issuance with time-boxed media credentials, and the active-call pair
// tracker. All state is process-local and rebuilt empty on restart; a crash
// simply drops waiting users, who rejoin.
package matchmaking

import "time"

// Gender is the enumerated gender value used in compatibility checks.
// GenderAny is only meaningful as a preference wildcard.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
	GenderAny    Gender = "any"
)

// Preferences describes what kind of partner a participant is looking for.
type Preferences struct {
	DesiredGender Gender `json:"desired_gender"`
	MinAge        int    `json:"min_age"`
	MaxAge        int    `json:"max_age"`
}

// Participant is one user currently waiting for a live call.
type Participant struct {
	ID       string
	Gender   Gender
	Age      int
	Prefs    Preferences
	JoinedAt time.Time
}

// Queue holds waiting participants keyed by identity, preserving insertion
// order for the matcher's scan. It is NOT safe for concurrent use on its own;
// the Engine serializes all access through its mutex.
type Queue struct {
	entries map[string]*Participant
	order   []string // identities in insertion order
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{entries: make(map[string]*Participant)}
}

// Join inserts or replaces the waiting entry for p.ID. Re-joining replaces
// the prior entry in place, keeping its original scan position.
func (q *Queue) Join(p *Participant) {
	if _, ok := q.entries[p.ID]; !ok {
		q.order = append(q.order, p.ID)
	}
	q.entries[p.ID] = p
}

// Leave removes the entry for id if present; it is a no-op otherwise.
func (q *Queue) Leave(id string) {
	if _, ok := q.entries[id]; !ok {
		return
	}
	delete(q.entries, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Contains reports whether id is currently waiting.
func (q *Queue) Contains(id string) bool {
	_, ok := q.entries[id]
	return ok
}

// Get returns the waiting entry for id, or nil.
func (q *Queue) Get(id string) *Participant {
	return q.entries[id]
}

// Size returns the number of waiting participants.
func (q *Queue) Size() int {
	return len(q.entries)
}

// Iterate calls fn for each waiting participant in insertion order until fn
// returns false. The order is not a fairness guarantee; it is simply the scan
// order the matcher uses.
func (q *Queue) Iterate(fn func(p *Participant) bool) {
	// Snapshot the order so fn may remove entries mid-scan.
	ids := make([]string, len(q.order))
	copy(ids, q.order)
	for _, id := range ids {
		p, ok := q.entries[id]
		if !ok {
			continue
		}
		if !fn(p) {
			return
		}
	}
}
