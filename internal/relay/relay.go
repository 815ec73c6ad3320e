// Package relay forwards signaling and chat payloads between paired
// participants and hands abuse reports and session records to the audit
// collaborator. It never changes pairing state.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/strangr/pairchat/internal/matching"
	"github.com/strangr/pairchat/internal/metrics"
	"github.com/strangr/pairchat/internal/protocol"
)

// PartnerLookup is the read side of the Matchmaker.
type PartnerLookup interface {
	Partner(id string) (string, bool)
	Participant(id string) (matching.Participant, bool)
}

// Report is one abuse report about the reporter's current partner.
type Report struct {
	ReporterID      string    `json:"reporter_id"`
	ReporterAddress string    `json:"reporter_ip"`
	ReportedID      string    `json:"reported_id"`
	ReportedAddress string    `json:"reported_ip"`
	Reason          string    `json:"reason"`
	Details         string    `json:"details,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Auditor persists session and report records. Implementations may be slow
// or unavailable; the relay never waits for them.
type Auditor interface {
	RecordSessionStart(ctx context.Context, id, address string, at time.Time) error
	RecordSessionEnd(ctx context.Context, id string, at time.Time) error
	RecordReport(ctx context.Context, r Report) error
}

// Relay routes payloads to a participant's current partner.
type Relay struct {
	lookup    PartnerLookup
	transport matching.Transport
	auditor   Auditor       // nil disables audit records
	timeout   time.Duration // per audit write

	wg sync.WaitGroup
}

// New creates a Relay. auditor may be nil.
func New(lookup PartnerLookup, transport matching.Transport, auditor Auditor, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		lookup:    lookup,
		transport: transport,
		auditor:   auditor,
		timeout:   timeout,
	}
}

// Forward sends payload to from's partner under the same kind. Without a
// partner the payload is dropped silently.
func (r *Relay) Forward(from, kind string, payload json.RawMessage) error {
	partner, ok := r.lookup.Partner(from)
	if !ok {
		metrics.RelayedTotal.WithLabelValues(kind, "dropped").Inc()
		return nil
	}

	if err := r.transport.Send(partner, kind, protocol.SignalMsg{Payload: payload}); err != nil {
		metrics.RelayedTotal.WithLabelValues(kind, "failed").Inc()
		return err
	}
	metrics.RelayedTotal.WithLabelValues(kind, "sent").Inc()
	return nil
}

// Report files an abuse report against reporterID's current partner. It
// returns false when there is no partner to report or the partner's
// connection is already gone. The record is written in the background.
func (r *Relay) Report(reporterID, reason, details string) bool {
	partner, ok := r.lookup.Partner(reporterID)
	if !ok || !r.transport.Exists(partner) {
		return false
	}

	rep := Report{
		ReporterID: reporterID,
		ReportedID: partner,
		Reason:     reason,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	if p, ok := r.lookup.Participant(reporterID); ok {
		rep.ReporterAddress = p.Address
	}
	if p, ok := r.lookup.Participant(partner); ok {
		rep.ReportedAddress = p.Address
	}

	log.Printf("[relay] report from %s against %s (reason=%s)", reporterID, partner, reason)
	r.record("report", func(ctx context.Context, a Auditor) error {
		return a.RecordReport(ctx, rep)
	})
	return true
}

// SessionStarted records a new connection.
func (r *Relay) SessionStarted(id, address string) {
	at := time.Now().UTC()
	r.record("session_start", func(ctx context.Context, a Auditor) error {
		return a.RecordSessionStart(ctx, id, address, at)
	})
}

// SessionEnded records a closed connection.
func (r *Relay) SessionEnded(id string) {
	at := time.Now().UTC()
	r.record("session_end", func(ctx context.Context, a Auditor) error {
		return a.RecordSessionEnd(ctx, id, at)
	})
}

// Wait blocks until every pending audit write has finished.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) record(kind string, fn func(ctx context.Context, a Auditor) error) {
	if r.auditor == nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := fn(ctx, r.auditor); err != nil {
			metrics.AuditFailures.WithLabelValues(kind).Inc()
			log.Printf("[relay] audit %s failed: %v", kind, err)
		}
	}()
}
