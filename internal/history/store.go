// Package history provides PostgreSQL-backed storage for finished calls and
// user reports. The historian service writes here from the NATS event stream;
// the call server itself never touches the database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CallRecord is one completed (or expired) call session.
type CallRecord struct {
	SessionID string
	Channel   string
	UserA     string
	UserB     string
	StartedAt time.Time
	EndedAt   time.Time
	Reason    string
}

// Report is one user report, stored for moderator review.
type Report struct {
	ReporterID string
	ReportedID string
	SessionID  string
	Reason     string
	FiledAt    time.Time
}

// Store manages call history in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a history store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordStart inserts a call record when the session begins. EndedAt and
// Reason stay NULL until the session finishes.
func (s *Store) RecordStart(ctx context.Context, sessionID, channel, userA, userB string, startedAt time.Time) error {
	const query = `
		INSERT INTO call_records (session_id, channel, user_a, user_b, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, sessionID, channel, userA, userB, startedAt)
	if err != nil {
		return fmt.Errorf("history: record start: %w", err)
	}
	return nil
}

// RecordEnd stamps the end time and reason on an existing open call record.
// A duplicate end event (redelivery) matches no open row and is reported as
// an error; callers log and drop it.
func (s *Store) RecordEnd(ctx context.Context, sessionID string, endedAt time.Time, reason string) error {
	const query = `
		UPDATE call_records
		SET ended_at = $2, end_reason = $3
		WHERE session_id = $1 AND ended_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, sessionID, endedAt, reason)
	if err != nil {
		return fmt.Errorf("history: record end: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history: record end: no open record for session %s", sessionID)
	}
	return nil
}

// CreateReport inserts a user report.
func (s *Store) CreateReport(ctx context.Context, r *Report) error {
	const query = `
		INSERT INTO call_reports (reporter_id, reported_id, session_id, reason, filed_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query, r.ReporterID, r.ReportedID, r.SessionID, r.Reason, r.FiledAt)
	if err != nil {
		return fmt.Errorf("history: insert report: %w", err)
	}
	return nil
}

// RecentCalls returns the latest finished calls for a user, newest first.
func (s *Store) RecentCalls(ctx context.Context, userID string, limit int) ([]CallRecord, error) {
	const query = `
		SELECT session_id, channel, user_a, user_b, started_at, ended_at, COALESCE(end_reason, '')
		FROM call_records
		WHERE (user_a = $1 OR user_b = $1) AND ended_at IS NOT NULL
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent calls: %w", err)
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(&rec.SessionID, &rec.Channel, &rec.UserA, &rec.UserB,
			&rec.StartedAt, &rec.EndedAt, &rec.Reason); err != nil {
			return nil, fmt.Errorf("history: scan call record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountRecentReports returns the number of reports filed against a user
// within the given time window.
func (s *Store) CountRecentReports(ctx context.Context, reportedID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM call_reports
		WHERE reported_id = $1
		  AND filed_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("history: count recent reports: %w", err)
	}
	return count, nil
}
