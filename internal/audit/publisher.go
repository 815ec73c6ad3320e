package audit

import (
	"context"
	"time"

	"github.com/strangr/pairchat/internal/messaging"
	"github.com/strangr/pairchat/internal/relay"
)

// SessionStart is published when a connection is established.
type SessionStart struct {
	ConnectionID string    `json:"connection_id"`
	Address      string    `json:"ip_address"`
	StartTime    time.Time `json:"start_time"`
}

// SessionEnd is published when a connection closes.
type SessionEnd struct {
	ConnectionID string    `json:"connection_id"`
	EndTime      time.Time `json:"end_time"`
}

// JSONPublisher publishes a value as JSON on a subject.
type JSONPublisher interface {
	PublishJSON(subject string, v interface{}) error
}

// Publisher hands audit records to the event bus. It implements
// relay.Auditor.
type Publisher struct {
	bus JSONPublisher
}

var _ relay.Auditor = (*Publisher)(nil)

// NewPublisher creates a Publisher over bus, normally a
// *messaging.NATSClient.
func NewPublisher(bus JSONPublisher) *Publisher {
	return &Publisher{bus: bus}
}

// RecordSessionStart publishes a session start record.
func (p *Publisher) RecordSessionStart(ctx context.Context, id, address string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.bus.PublishJSON(messaging.SubjectSessionStart, SessionStart{
		ConnectionID: id,
		Address:      address,
		StartTime:    at,
	})
}

// RecordSessionEnd publishes a session end record.
func (p *Publisher) RecordSessionEnd(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.bus.PublishJSON(messaging.SubjectSessionEnd, SessionEnd{
		ConnectionID: id,
		EndTime:      at,
	})
}

// RecordReport publishes an abuse report.
func (p *Publisher) RecordReport(ctx context.Context, r relay.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.bus.PublishJSON(messaging.SubjectReport, r)
}
