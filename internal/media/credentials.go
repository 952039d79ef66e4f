// Package media issues time-limited TURN credentials for call sessions and
// optionally runs an embedded TURN relay for single-host deployments. The
// credentials follow the TURN REST scheme: the username carries the expiry
// timestamp and the password is an HMAC over it with a shared secret, so the
// relay validates them without any shared storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pion/turn/v3"

	"github.com/amora/livecall/internal/matchmaking"
)

// ErrNoSecret is returned when an Issuer is constructed without a shared secret.
var ErrNoSecret = errors.New("media: shared secret is required")

// Issuer mints TURN REST credentials. It implements
// matchmaking.CredentialService.
type Issuer struct {
	secret string
	realm  string
}

// NewIssuer creates an Issuer with the shared secret the TURN relay also
// knows. The realm is informational and returned to clients alongside the
// relay address.
func NewIssuer(secret, realm string) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Issuer{secret: secret, realm: realm}, nil
}

// Issue mints credentials for one party of a call. The TURN REST username is
// "<expiry>:<uid>:<channel>:<role>", which both scopes the credential to the
// session's channel and keeps the relay's auth check stateless.
func (i *Issuer) Issue(ctx context.Context, channel string, uid uint32, role string, ttl time.Duration) (*matchmaking.MediaCredentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scope := strconv.FormatUint(uint64(uid), 10) + ":" + channel + ":" + role
	username, password, err := turn.GenerateLongTermTURNRESTCredentials(i.secret, scope, ttl)
	if err != nil {
		return nil, fmt.Errorf("media: generate credentials: %w", err)
	}

	return &matchmaking.MediaCredentials{
		Username:   username,
		Credential: password,
		ExpiresAt:  time.Now().Add(ttl),
	}, nil
}

// Realm returns the TURN realm clients should present.
func (i *Issuer) Realm() string {
	return i.realm
}
