package matchmaking

import "testing"

func TestQueue_JoinAndContains(t *testing.T) {
	q := NewQueue()
	q.Join(participant("a", GenderMale, 30, GenderAny, 18, 99))

	if !q.Contains("a") {
		t.Errorf("expected a to be queued")
	}
	if q.Contains("b") {
		t.Errorf("did not expect b to be queued")
	}
	if q.Size() != 1 {
		t.Errorf("expected size 1, got %d", q.Size())
	}
}

func TestQueue_RejoinReplacesEntry(t *testing.T) {
	q := NewQueue()
	q.Join(participant("a", GenderMale, 30, GenderAny, 18, 99))
	q.Join(participant("b", GenderMale, 30, GenderAny, 18, 99))
	q.Join(participant("a", GenderMale, 31, GenderFemale, 25, 35))

	if q.Size() != 2 {
		t.Fatalf("rejoin must not duplicate: size=%d", q.Size())
	}
	if got := q.Get("a"); got.Age != 31 || got.Prefs.DesiredGender != GenderFemale {
		t.Errorf("rejoin did not replace entry: %+v", got)
	}

	// Replacement keeps the original scan position.
	var order []string
	q.Iterate(func(p *Participant) bool {
		order = append(order, p.ID)
		return true
	})
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("unexpected scan order: %v", order)
	}
}

func TestQueue_LeaveIsNoOpWhenAbsent(t *testing.T) {
	q := NewQueue()
	q.Leave("ghost") // must not panic

	q.Join(participant("a", GenderMale, 30, GenderAny, 18, 99))
	q.Leave("a")
	q.Leave("a")

	if q.Size() != 0 {
		t.Errorf("expected empty queue, size=%d", q.Size())
	}
}

func TestQueue_IterateInsertionOrder(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"c", "a", "b"} {
		q.Join(participant(id, GenderMale, 30, GenderAny, 18, 99))
	}

	var order []string
	q.Iterate(func(p *Participant) bool {
		order = append(order, p.ID)
		return true
	})

	want := []string{"c", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("scan order %v, want %v", order, want)
		}
	}
}

func TestQueue_IterateStopsEarly(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"a", "b", "c"} {
		q.Join(participant(id, GenderMale, 30, GenderAny, 18, 99))
	}

	var seen int
	q.Iterate(func(p *Participant) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Errorf("expected iteration to stop after 1 entry, saw %d", seen)
	}
}

func TestQueue_IterateTolerantOfMidScanRemoval(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"a", "b", "c"} {
		q.Join(participant(id, GenderMale, 30, GenderAny, 18, 99))
	}

	var seen []string
	q.Iterate(func(p *Participant) bool {
		seen = append(seen, p.ID)
		if p.ID == "a" {
			q.Leave("b") // simulate a stale-candidate drop mid-scan
		}
		return true
	})

	if len(seen) != 2 || seen[0] != "a" || seen[1] != "c" {
		t.Errorf("expected scan to skip removed entry, saw %v", seen)
	}
}
