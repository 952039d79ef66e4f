// Package protocol defines the WebSocket message types exchanged between the
// live-call client and server. All messages are serialized as JSON and carry
// a "type" discriminator in a consistent envelope format.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinQueue  = "join_queue"
	TypeLeaveQueue = "leave_queue"
	TypeEndCall    = "end_call"
	TypeReport     = "report"
	TypePing       = "ping"
)

// Server -> Client message types.
const (
	TypeQueueJoined = "queue_joined"
	TypeMatchFound  = "match_found"
	TypeCallEnded   = "call_ended"
	TypeRateLimited = "rate_limited"
	TypeBanned      = "banned"
	TypeError       = "error"
	TypePong        = "pong"
)

// Reasons carried by call_ended.
const (
	EndReasonPartnerLeft         = "partner_left"
	EndReasonPartnerDisconnected = "partner_disconnected"
	EndReasonExpired             = "expired"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later into the appropriate
// concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// QueuePreferences is the partner filter submitted with join_queue.
type QueuePreferences struct {
	DesiredGender string `json:"desired_gender"` // "male", "female", "other" or "any"
	MinAge        int    `json:"min_age"`
	MaxAge        int    `json:"max_age"`
}

// JoinQueueMsg is sent by the client to enter the live-call queue.
type JoinQueueMsg struct {
	Type        string           `json:"type"`
	Gender      string           `json:"gender"`
	Age         int              `json:"age"`
	Preferences QueuePreferences `json:"preferences"`
}

// Validate rejects join_queue payloads the matcher could never satisfy:
// unknown genders, implausible ages, and inverted age ranges.
func (m JoinQueueMsg) Validate() error {
	switch m.Gender {
	case "male", "female", "other":
	default:
		return fmt.Errorf("protocol: invalid gender %q", m.Gender)
	}
	if m.Age < 18 || m.Age > 120 {
		return fmt.Errorf("protocol: age %d out of range", m.Age)
	}
	switch m.Preferences.DesiredGender {
	case "", "male", "female", "other", "any":
	default:
		return fmt.Errorf("protocol: invalid desired_gender %q", m.Preferences.DesiredGender)
	}
	if m.Preferences.MinAge < 0 || m.Preferences.MaxAge < 0 {
		return fmt.Errorf("protocol: negative age bound")
	}
	if m.Preferences.MaxAge != 0 && m.Preferences.MinAge > m.Preferences.MaxAge {
		return fmt.Errorf("protocol: min_age %d exceeds max_age %d",
			m.Preferences.MinAge, m.Preferences.MaxAge)
	}
	return nil
}

// LeaveQueueMsg is sent by the client to leave the live-call queue.
type LeaveQueueMsg struct {
	Type string `json:"type"`
}

// EndCallMsg is sent by the client to hang up the current live call.
type EndCallMsg struct {
	Type string `json:"type"`
}

// ReportMsg is sent by the client to report their current or most recent
// call partner.
type ReportMsg struct {
	Type      string `json:"type"`
	PartnerID string `json:"partner_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// QueueJoinedMsg confirms the client has entered the live-call queue.
type QueueJoinedMsg struct {
	Type      string `json:"type"`
	QueueSize int    `json:"queue_size"`
}

// RTCCredentials are the time-limited media credentials for one party.
type RTCCredentials struct {
	Username   string `json:"username"`
	Credential string `json:"credential"`
	ExpiresAt  int64  `json:"expires_at"` // unix seconds
}

// PartnerSummary is the matched partner's public profile slice.
type PartnerSummary struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Age      int    `json:"age"`
	Photo    string `json:"photo"`
}

// MatchFoundMsg is sent to each matched party with that party's own
// credentials and the OTHER party's summary. Both parties receive the same
// session id, channel and expiry, so the clients converge on the media
// channel without any further coordination.
type MatchFoundMsg struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Channel   string         `json:"channel"`
	RTC       RTCCredentials `json:"rtc"`
	Partner   PartnerSummary `json:"partner"`
	ExpiresAt int64          `json:"expires_at"` // unix seconds
}

// CallEndedMsg is sent when the live call terminates for any reason other
// than the recipient's own hang-up.
type CallEndedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"` // partner_left | partner_disconnected | expired
}

// RateLimitedMsg is sent when the client has exceeded a rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// BannedMsg is sent when the client is banned from the live-call queue.
type BannedMsg struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"` // remaining seconds
	Reason   string `json:"reason"`
}

// ErrorMsg communicates an error condition to the client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinQueue:
		var m JoinQueueMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveQueue:
		var m LeaveQueueMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndCall:
		var m EndCallMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return "", nil, fmt.Errorf("protocol: unknown client message type %q", env.Type)
	}

	if err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse %s message: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
