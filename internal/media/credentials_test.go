package media

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestNewIssuer_RequiresSecret(t *testing.T) {
	if _, err := NewIssuer("", "amora.app"); err != ErrNoSecret {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
}

func TestIssue_CredentialShape(t *testing.T) {
	issuer, err := NewIssuer("topsecret", "amora.app")
	if err != nil {
		t.Fatalf("NewIssuer() error: %v", err)
	}

	before := time.Now()
	creds, err := issuer.Issue(context.Background(), "amora-call-abc123", 42, "publisher", 5*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if creds.Username == "" || creds.Credential == "" {
		t.Fatal("expected non-empty username and credential")
	}

	// TURN REST usernames start with the expiry timestamp.
	parts := strings.SplitN(creds.Username, ":", 2)
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		t.Fatalf("username %q does not start with a timestamp: %v", creds.Username, err)
	}
	if expiry < before.Add(4*time.Minute).Unix() {
		t.Errorf("credential expiry %d too early", expiry)
	}

	// The scope after the timestamp carries uid, channel, and role.
	if len(parts) < 2 || !strings.Contains(parts[1], "amora-call-abc123") {
		t.Errorf("username %q missing channel scope", creds.Username)
	}
	if !strings.HasPrefix(parts[1], "42:") {
		t.Errorf("username %q missing uid scope", creds.Username)
	}

	if got := time.Until(creds.ExpiresAt); got < 4*time.Minute || got > 5*time.Minute {
		t.Errorf("ExpiresAt %v not within issued TTL", creds.ExpiresAt)
	}
}

func TestIssue_DistinctPerParty(t *testing.T) {
	issuer, _ := NewIssuer("topsecret", "amora.app")
	ctx := context.Background()

	a, err := issuer.Issue(ctx, "amora-call-xyz", 7, "publisher", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	b, err := issuer.Issue(ctx, "amora-call-xyz", 8, "publisher", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if a.Username == b.Username {
		t.Error("expected distinct usernames for distinct uids")
	}
	if a.Credential == b.Credential {
		t.Error("expected distinct credentials for distinct uids")
	}
}

func TestIssue_CancelledContext(t *testing.T) {
	issuer, _ := NewIssuer("topsecret", "amora.app")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := issuer.Issue(ctx, "amora-call-q", 1, "publisher", time.Minute); err == nil {
		t.Error("expected error from cancelled context")
	}
}
