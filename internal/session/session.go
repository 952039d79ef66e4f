// Package session tracks live-call presence. Each connected user has a
// Redis-backed presence record (which server instance holds their socket and
// whether they are idle, queued, or in a call) so the wider Amora application
// can answer "is this user available for a live call" without reaching into
// this service's memory.
package session
