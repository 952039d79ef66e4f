package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCredentialIssuance is returned when the media credential call fails
// after both parties have already been removed from the queue. The engine
// re-enqueues both parties before returning it, so the caller only needs to
// tell the entrant to retry.
var ErrCredentialIssuance = errors.New("matchmaking: credential issuance failed")

// errSkipCandidate marks a recoverable per-candidate failure (stale or
// incomplete profile). It never escapes the engine.
var errSkipCandidate = errors.New("matchmaking: skip candidate")

// Config holds the engine's tunables.
type Config struct {
	SessionTTL    time.Duration // hard lifetime of an issued call session
	ChannelPrefix string        // namespace prepended to the session id
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:    5 * time.Minute,
		ChannelPrefix: "amora-call-",
	}
}

// Engine pairs waiting users by mutual compatibility, issues call sessions,
// and tracks active pairings. The queue and pair table are guarded by a
// single mutex; every scan-then-mutate step runs while holding it, so a
// waiting user can never be matched twice. Blocking external calls (profile
// lookup, credential issuance) happen outside the lock, after the matched
// pair has already been removed from the queue.
type Engine struct {
	cfg      Config
	profiles ProfileDirectory
	creds    CredentialService

	mu     sync.Mutex
	queue  *Queue
	pairs  *PairTable
	timers map[string]*time.Timer // sessionID -> expiry timer

	available func(id string) bool         // optional reachability probe
	onExpire  func(sessionID, a, b string) // server-side expiry notification
}

// NewEngine creates an engine with empty queue and pair state.
func NewEngine(cfg Config, profiles ProfileDirectory, creds CredentialService) *Engine {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultConfig().ChannelPrefix
	}
	return &Engine{
		cfg:      cfg,
		profiles: profiles,
		creds:    creds,
		queue:    NewQueue(),
		pairs:    NewPairTable(),
		timers:   make(map[string]*time.Timer),
	}
}

// SetAvailabilityCheck installs a non-blocking predicate the matcher uses to
// re-check that a selected candidate is still reachable. Candidates failing
// the check are discarded from the queue instead of being matched.
func (e *Engine) SetAvailabilityCheck(fn func(id string) bool) {
	e.available = fn
}

// SetOnExpire installs the callback invoked when a session reaches its hard
// expiry with the pairing still intact. It is called outside the engine lock.
func (e *Engine) SetOnExpire(fn func(sessionID, a, b string)) {
	e.onExpire = fn
}

// Join enqueues the participant and immediately attempts to match them.
//
// Returns (nil, nil) when no compatible partner is waiting: the entrant stays
// queued until a partner arrives or they leave. Returns ErrCredentialIssuance
// (both parties re-enqueued) when the credential call fails after a match was
// committed. An entrant whose own profile cannot be resolved is rejected and
// removed from the queue.
func (e *Engine) Join(ctx context.Context, p Participant) (*Match, error) {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	entry := p

	e.mu.Lock()
	e.queue.Join(&entry)
	e.mu.Unlock()

	// Resolve the entrant's own summary up front; it is embedded in every
	// candidate's payload. Without it no match can be built for anyone.
	own, err := e.profiles.Summary(ctx, entry.ID)
	if err != nil {
		e.mu.Lock()
		e.queue.Leave(entry.ID)
		e.mu.Unlock()
		return nil, fmt.Errorf("matchmaking: entrant %s profile: %w", entry.ID, err)
	}

	skip := make(map[string]bool)
	for {
		e.mu.Lock()
		cand := e.selectAndRemove(entry.ID, skip)
		e.mu.Unlock()
		if cand == nil {
			return nil, nil // no compatible partner yet
		}

		match, err := e.issue(ctx, &entry, own, cand)
		switch {
		case err == nil:
			return match, nil

		case errors.Is(err, errSkipCandidate):
			// Candidate unusable (stale or incomplete profile). It stays
			// removed; put the entrant back and keep scanning.
			log.Printf("[matchmaking] discarding candidate %s for %s: %v", cand.ID, entry.ID, err)
			skip[cand.ID] = true
			e.mu.Lock()
			e.queue.Join(&entry)
			e.mu.Unlock()

		default:
			// Post-commit credential failure. Re-enqueue both parties so
			// neither silently vanishes from the queue.
			e.mu.Lock()
			e.queue.Join(&entry)
			e.queue.Join(cand)
			e.mu.Unlock()
			return nil, err
		}
	}
}

// selectAndRemove scans the queue for the first candidate mutually compatible
// with the entrant, skipping the entrant itself and previously rejected
// candidates. Candidates failing the availability re-check are dropped from
// the queue mid-scan. On a hit, both entrant and candidate are removed
// atomically with respect to the scan. Caller must hold e.mu.
func (e *Engine) selectAndRemove(entrantID string, skip map[string]bool) *Participant {
	entrant := e.queue.Get(entrantID)
	if entrant == nil {
		// Entrant already matched by a concurrent join or left the queue.
		return nil
	}

	var picked *Participant
	e.queue.Iterate(func(c *Participant) bool {
		if c.ID == entrantID || skip[c.ID] {
			return true
		}
		if !Compatible(entrant, c) {
			return true
		}
		if e.available != nil && !e.available(c.ID) {
			// Stale: queued but no longer reachable.
			e.queue.Leave(c.ID)
			return true
		}
		picked = c
		return false
	})
	if picked == nil {
		return nil
	}

	e.queue.Leave(entrantID)
	e.queue.Leave(picked.ID)
	return picked
}

// issue mints the session for a committed pair: session id, channel,
// per-party credentials and payloads. On success it records the active
// pairing and arms the server-side expiry timer.
func (e *Engine) issue(ctx context.Context, a *Participant, aSummary *Summary, b *Participant) (*Match, error) {
	bSummary, err := e.profiles.Summary(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: candidate %s profile: %v", errSkipCandidate, b.ID, err)
	}

	sessionID := uuid.New().String()
	channel := ChannelName(e.cfg.ChannelPrefix, sessionID)
	expiresAt := time.Now().Add(e.cfg.SessionTTL)

	credA, err := e.creds.Issue(ctx, channel, NumericUID(a.ID), RolePublisher, e.cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: party %s: %v", ErrCredentialIssuance, a.ID, err)
	}
	credB, err := e.creds.Issue(ctx, channel, NumericUID(b.ID), RolePublisher, e.cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: party %s: %v", ErrCredentialIssuance, b.ID, err)
	}

	match := &Match{
		SessionID: sessionID,
		Channel:   channel,
		ExpiresAt: expiresAt,
		A: PartyPayload{
			UserID:    a.ID,
			SessionID: sessionID,
			Channel:   channel,
			RTC:       *credA,
			Partner:   *bSummary,
			ExpiresAt: expiresAt,
		},
		B: PartyPayload{
			UserID:    b.ID,
			SessionID: sessionID,
			Channel:   channel,
			RTC:       *credB,
			Partner:   *aSummary,
			ExpiresAt: expiresAt,
		},
	}

	e.mu.Lock()
	e.pairs.Record(a.ID, b.ID, sessionID)
	e.timers[sessionID] = time.AfterFunc(e.cfg.SessionTTL, func() {
		e.expire(sessionID, a.ID, b.ID)
	})
	e.mu.Unlock()

	return match, nil
}

// expire force-releases a pairing that reached its hard expiry. A pairing
// already torn down (or re-formed under a new session) is left alone.
func (e *Engine) expire(sessionID, a, b string) {
	e.mu.Lock()
	released := e.pairs.ReleaseSession(sessionID, a, b)
	delete(e.timers, sessionID)
	e.mu.Unlock()

	if released {
		log.Printf("[matchmaking] session %s expired, released %s and %s", sessionID, a, b)
		if e.onExpire != nil {
			e.onExpire(sessionID, a, b)
		}
	}
}

// Leave removes id from the waiting queue. It is a no-op if id is not queued.
func (e *Engine) Leave(id string) {
	e.mu.Lock()
	e.queue.Leave(id)
	e.mu.Unlock()
}

// EndCall releases the active pairing for id, if any, and returns the partner
// so the caller can notify them. Calling it again for the same call returns
// ok=false, as does calling it for a user who was never in a call.
func (e *Engine) EndCall(id string) (partner, sessionID string, ok bool) {
	e.mu.Lock()
	partner, sessionID, ok = e.pairs.ResolveAndRelease(id)
	if ok {
		if t, found := e.timers[sessionID]; found {
			t.Stop()
			delete(e.timers, sessionID)
		}
	}
	e.mu.Unlock()
	return partner, sessionID, ok
}

// InQueue reports whether id is currently waiting.
func (e *Engine) InQueue(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Contains(id)
}

// QueueSize returns the number of waiting participants.
func (e *Engine) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Size()
}

// ActiveCalls returns the number of live calls in progress.
func (e *Engine) ActiveCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pairs.Size() / 2
}

// Close stops all pending expiry timers. The engine must not be used after.
func (e *Engine) Close() {
	e.mu.Lock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()
}
