// Package audit records connection sessions and abuse reports. The pairing
// server publishes records on NATS; the auditor consumes them and writes
// them to PostgreSQL.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/strangr/pairchat/internal/protocol"
	"github.com/strangr/pairchat/internal/relay"
)

// Store manages session and report records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL, retrying the ping until ctx expires.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return db, nil
		}

		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("audit: ping database: %w", err)
		case <-time.After(time.Second):
		}
	}
}

// StartSession records the start of a connection. A record that already
// exists keeps its end time.
func (s *Store) StartSession(ctx context.Context, rec SessionStart) error {
	const query = `
		INSERT INTO chat_sessions (connection_id, ip_address, start_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (connection_id) DO UPDATE
		SET ip_address = EXCLUDED.ip_address, start_time = EXCLUDED.start_time`

	if _, err := s.db.ExecContext(ctx, query, rec.ConnectionID, rec.Address, rec.StartTime); err != nil {
		return fmt.Errorf("audit: start session: %w", err)
	}
	return nil
}

// EndSession records the end of a connection. The end may arrive before the
// start when several auditors share the queue group.
func (s *Store) EndSession(ctx context.Context, rec SessionEnd) error {
	const query = `
		INSERT INTO chat_sessions (connection_id, end_time)
		VALUES ($1, $2)
		ON CONFLICT (connection_id) DO UPDATE
		SET end_time = EXCLUDED.end_time`

	if _, err := s.db.ExecContext(ctx, query, rec.ConnectionID, rec.EndTime); err != nil {
		return fmt.Errorf("audit: end session: %w", err)
	}
	return nil
}

// CreateReport inserts an abuse report. The reason is validated against the
// allowed set before insertion.
func (s *Store) CreateReport(ctx context.Context, r relay.Report) error {
	if !lo.Contains(protocol.ReportReasons, r.Reason) {
		return fmt.Errorf("audit: invalid reason %q", r.Reason)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO abuse_reports (reporter_id, reporter_ip, reported_id, reported_ip, reason, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		r.ReporterID,
		r.ReporterAddress,
		r.ReportedID,
		r.ReportedAddress,
		r.Reason,
		r.Details,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert report: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against an address within
// the given time window.
func (s *Store) CountRecent(ctx context.Context, reportedAddress string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE reported_ip = $1
		  AND created_at >= $2`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedAddress, time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}
