// Package report persists abuse reports and verification outcomes to
// Postgres. Reports carry only anonymous ids and a short message snapshot so
// moderators can review context without deanonymizing either side.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/SayantanSahaJgm/FriendFinder-sub003/internal/chat"
)

// Report reasons accepted from clients.
const (
	ReasonHarassment    = "harassment"
	ReasonSpam          = "spam"
	ReasonInappropriate = "inappropriate"
	ReasonUnderage      = "underage"
	ReasonOther         = "other"
)

// ValidReason reports whether reason is one of the accepted report reasons.
func ValidReason(reason string) bool {
	switch reason {
	case ReasonHarassment, ReasonSpam, ReasonInappropriate, ReasonUnderage, ReasonOther:
		return true
	}
	return false
}

// Report is one abuse report against a session partner.
type Report struct {
	ID             int64
	SessionID      string
	ReporterAnonID string
	ReportedAnonID string
	Reason         string
	Snapshot       []chat.BufferedMessage
	CreatedAt      time.Time
}

// Store persists reports and verification events in Postgres.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: ping postgres: %w", err)
	}
	return db, nil
}

// NewStore creates a Store on an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert saves an abuse report together with its message snapshot and
// returns the assigned id.
func (s *Store) Insert(ctx context.Context, r *Report) (int64, error) {
	if !ValidReason(r.Reason) {
		return 0, fmt.Errorf("report: invalid reason %q", r.Reason)
	}

	snapshot, err := json.Marshal(r.Snapshot)
	if err != nil {
		return 0, fmt.Errorf("report: marshal snapshot: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO abuse_reports (session_id, reporter_anon_id, reported_anon_id, reason, snapshot)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		r.SessionID, r.ReporterAnonID, r.ReportedAnonID, r.Reason, snapshot,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("report: insert: %w", err)
	}
	return id, nil
}

// BySession returns all reports filed against a session, newest first.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]*Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, reporter_anon_id, reported_anon_id, reason, snapshot, created_at
		FROM abuse_reports
		WHERE session_id = $1
		ORDER BY created_at DESC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("report: query by session: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		var (
			r        Report
			snapshot []byte
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ReporterAnonID, &r.ReportedAnonID,
			&r.Reason, &snapshot, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("report: scan row: %w", err)
		}
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &r.Snapshot); err != nil {
				return nil, fmt.Errorf("report: decode snapshot: %w", err)
			}
		}
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

// RecordVerification saves one face-verification outcome for audit.
func (s *Store) RecordVerification(ctx context.Context, sessionID, anonID string, verified bool, confidence float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_events (session_id, anon_id, verified, confidence)
		VALUES ($1, $2, $3, $4)`,
		sessionID, anonID, verified, confidence)
	if err != nil {
		return fmt.Errorf("report: record verification: %w", err)
	}
	return nil
}
