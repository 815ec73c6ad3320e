package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/strangr/pairchat/internal/metrics"
	"github.com/strangr/pairchat/internal/relay"
)

// Sink is where consumed records end up. *Store implements it.
type Sink interface {
	StartSession(ctx context.Context, rec SessionStart) error
	EndSession(ctx context.Context, rec SessionEnd) error
	CreateReport(ctx context.Context, r relay.Report) error
	CountRecent(ctx context.Context, reportedAddress string, window time.Duration) (int, error)
}

// Consumer decodes audit records from the bus and writes them to a Sink.
// Failures are logged and dropped; there is no retry.
type Consumer struct {
	sink    Sink
	timeout time.Duration

	// Addresses reported at least RepeatThreshold times within RepeatWindow
	// are logged for manual review.
	RepeatThreshold int
	RepeatWindow    time.Duration
}

// NewConsumer creates a Consumer writing to sink.
func NewConsumer(sink Sink, timeout time.Duration) *Consumer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Consumer{
		sink:            sink,
		timeout:         timeout,
		RepeatThreshold: 3,
		RepeatWindow:    24 * time.Hour,
	}
}

// HandleSessionStart handles one audit.session.start message.
func (c *Consumer) HandleSessionStart(data []byte) {
	var rec SessionStart
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("[audit] bad session start record: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.sink.StartSession(ctx, rec); err != nil {
		metrics.AuditFailures.WithLabelValues("session_start").Inc()
		log.Printf("[audit] %v", err)
	}
}

// HandleSessionEnd handles one audit.session.end message.
func (c *Consumer) HandleSessionEnd(data []byte) {
	var rec SessionEnd
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("[audit] bad session end record: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.sink.EndSession(ctx, rec); err != nil {
		metrics.AuditFailures.WithLabelValues("session_end").Inc()
		log.Printf("[audit] %v", err)
	}
}

// HandleReport handles one audit.report message.
func (c *Consumer) HandleReport(data []byte) {
	var r relay.Report
	if err := json.Unmarshal(data, &r); err != nil {
		log.Printf("[audit] bad report record: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.sink.CreateReport(ctx, r); err != nil {
		metrics.AuditFailures.WithLabelValues("report").Inc()
		log.Printf("[audit] %v", err)
		return
	}
	log.Printf("[audit] report stored reporter=%s reported=%s reason=%s", r.ReporterID, r.ReportedID, r.Reason)

	if r.ReportedAddress == "" || c.RepeatThreshold <= 0 {
		return
	}
	n, err := c.sink.CountRecent(ctx, r.ReportedAddress, c.RepeatWindow)
	if err != nil {
		log.Printf("[audit] %v", err)
		return
	}
	if n >= c.RepeatThreshold {
		log.Printf("[audit] address %s reported %d times in %s", r.ReportedAddress, n, c.RepeatWindow)
	}
}
