package matchmaking

import (
	"context"
	"errors"
	"hash/fnv"
	"time"
)

// RolePublisher is the media role requested for both parties of a 1:1 call;
// the call is symmetric, so there is no subscriber-only side.
const RolePublisher = "publisher"

// ErrIncompleteProfile is returned by a ProfileDirectory when a user exists
// but lacks the fields required to build a partner payload.
var ErrIncompleteProfile = errors.New("matchmaking: incomplete profile")

// Summary is the public profile slice embedded in a partner payload.
type Summary struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Age      int    `json:"age"`
	Photo    string `json:"photo"`
}

// ProfileDirectory resolves a user's public summary. Implementations must
// return ErrIncompleteProfile (possibly wrapped) for users without the
// required fields; the matcher recovers from that by discarding the candidate
// and continuing its scan.
type ProfileDirectory interface {
	Summary(ctx context.Context, id string) (*Summary, error)
}

// MediaCredentials are time-limited credentials for a media channel.
type MediaCredentials struct {
	Username   string    `json:"username"`
	Credential string    `json:"credential"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CredentialService mints media credentials scoped to a channel and a numeric
// user id. The media layer mandates numeric identifiers, so the engine owns
// the derivation from the opaque identity (see NumericUID).
type CredentialService interface {
	Issue(ctx context.Context, channel string, uid uint32, role string, ttl time.Duration) (*MediaCredentials, error)
}

// PartyPayload is what one matched user receives. Partner always describes
// the OTHER party, never the viewer.
type PartyPayload struct {
	UserID    string
	SessionID string
	Channel   string
	RTC       MediaCredentials
	Partner   Summary
	ExpiresAt time.Time
}

// Match is the result of a successful pairing: one session, two payloads.
type Match struct {
	SessionID string
	Channel   string
	ExpiresAt time.Time
	A, B      PartyPayload
}

// NumericUID hashes an opaque identity into a stable positive 31-bit integer
// for media services that require numeric user ids. Zero is reserved by some
// of them, so it maps to 1.
func NumericUID(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	uid := h.Sum32() & 0x7fffffff
	if uid == 0 {
		uid = 1
	}
	return uid
}

// ChannelName derives the media channel for a session. Both parties derive
// the same value from the session id alone, so no side-channel lookup is
// needed for the clients to converge.
func ChannelName(prefix, sessionID string) string {
	return prefix + sessionID
}
