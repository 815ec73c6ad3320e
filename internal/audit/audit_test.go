package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/strangr/pairchat/internal/messaging"
	"github.com/strangr/pairchat/internal/protocol"
	"github.com/strangr/pairchat/internal/relay"
)

// loopbackBus delivers published records straight to a Consumer, the way the
// auditor's queue subscription would.
type loopbackBus struct {
	consumer *Consumer
	subjects []string
}

func (b *loopbackBus) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.subjects = append(b.subjects, subject)
	switch subject {
	case messaging.SubjectSessionStart:
		b.consumer.HandleSessionStart(data)
	case messaging.SubjectSessionEnd:
		b.consumer.HandleSessionEnd(data)
	case messaging.SubjectReport:
		b.consumer.HandleReport(data)
	default:
		return errors.New("unexpected subject " + subject)
	}
	return nil
}

type sessionRow struct {
	start SessionStart
	end   SessionEnd
}

type memorySink struct {
	mu       sync.Mutex
	sessions map[string]*sessionRow
	reports  []relay.Report
	fail     error
}

func newMemorySink() *memorySink {
	return &memorySink{sessions: make(map[string]*sessionRow)}
}

func (m *memorySink) entry(id string) *sessionRow {
	e, ok := m.sessions[id]
	if !ok {
		e = &sessionRow{}
		m.sessions[id] = e
	}
	return e
}

func (m *memorySink) StartSession(_ context.Context, rec SessionStart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.entry(rec.ConnectionID).start = rec
	return nil
}

func (m *memorySink) EndSession(_ context.Context, rec SessionEnd) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.entry(rec.ConnectionID).end = rec
	return nil
}

func (m *memorySink) CreateReport(_ context.Context, r relay.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.reports = append(m.reports, r)
	return nil
}

func (m *memorySink) CountRecent(_ context.Context, addr string, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reports {
		if r.ReportedAddress == addr {
			n++
		}
	}
	return n, nil
}

func TestPublisher_RecordsReachSink(t *testing.T) {
	sink := newMemorySink()
	bus := &loopbackBus{consumer: NewConsumer(sink, time.Second)}
	pub := NewPublisher(bus)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.RecordSessionStart(ctx, "conn-1", "203.0.113.7", start))
	require.NoError(t, pub.RecordSessionEnd(ctx, "conn-1", start.Add(time.Minute)))

	rep := relay.Report{
		ReporterID:      "conn-1",
		ReporterAddress: "203.0.113.7",
		ReportedID:      "conn-2",
		ReportedAddress: "203.0.113.8",
		Reason:          protocol.ReasonHarassment,
		Details:         "insults",
		CreatedAt:       start,
	}
	require.NoError(t, pub.RecordReport(ctx, rep))

	require.Equal(t, []string{
		messaging.SubjectSessionStart,
		messaging.SubjectSessionEnd,
		messaging.SubjectReport,
	}, bus.subjects)

	s := sink.sessions["conn-1"]
	require.Equal(t, "203.0.113.7", s.start.Address)
	require.True(t, s.start.StartTime.Equal(start))
	require.True(t, s.end.EndTime.Equal(start.Add(time.Minute)))

	require.Len(t, sink.reports, 1)
	got := sink.reports[0]
	require.Equal(t, rep.ReporterID, got.ReporterID)
	require.Equal(t, rep.ReportedAddress, got.ReportedAddress)
	require.Equal(t, rep.Reason, got.Reason)
	require.Equal(t, rep.Details, got.Details)
}

func TestPublisher_CancelledContext(t *testing.T) {
	bus := &loopbackBus{consumer: NewConsumer(newMemorySink(), time.Second)}
	pub := NewPublisher(bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pub.RecordSessionEnd(ctx, "conn-1", time.Now()), context.Canceled)
	require.Empty(t, bus.subjects)
}

func TestConsumer_BadPayloadIsDropped(t *testing.T) {
	sink := newMemorySink()
	c := NewConsumer(sink, time.Second)

	c.HandleSessionStart([]byte(`{not json`))
	c.HandleReport([]byte(`[]`))

	require.Empty(t, sink.sessions)
	require.Empty(t, sink.reports)
}

func TestConsumer_SinkFailureIsNotFatal(t *testing.T) {
	sink := newMemorySink()
	sink.fail = errors.New("connection refused")
	c := NewConsumer(sink, time.Second)

	c.HandleSessionEnd([]byte(`{"connection_id":"conn-1","end_time":"2026-03-01T12:00:00Z"}`))
	c.HandleReport([]byte(`{"reporter_id":"a","reported_id":"b","reason":"spam"}`))
	require.Empty(t, sink.reports)
}

// ---------------------------------------------------------------------------
// PostgreSQL-backed tests. They need TEST_DATABASE_URL pointing at a scratch
// database and are skipped otherwise.
// ---------------------------------------------------------------------------

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		t.Fatalf("Migrate() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestStore_SessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_" + uuid.NewString()
	start := time.Now().UTC().Truncate(time.Second)

	if err := store.StartSession(ctx, SessionStart{ConnectionID: id, Address: "198.51.100.9", StartTime: start}); err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}
	if err := store.EndSession(ctx, SessionEnd{ConnectionID: id, EndTime: start.Add(time.Minute)}); err != nil {
		t.Fatalf("EndSession() error: %v", err)
	}

	var addr string
	var end time.Time
	err := store.db.QueryRowContext(ctx,
		`SELECT ip_address, end_time FROM chat_sessions WHERE connection_id = $1`, id).Scan(&addr, &end)
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	if addr != "198.51.100.9" {
		t.Errorf("expected ip_address %q, got %q", "198.51.100.9", addr)
	}
	if !end.Equal(start.Add(time.Minute)) {
		t.Errorf("expected end_time %v, got %v", start.Add(time.Minute), end)
	}
}

func TestStore_EndBeforeStart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)

	if err := store.EndSession(ctx, SessionEnd{ConnectionID: id, EndTime: now}); err != nil {
		t.Fatalf("EndSession() error: %v", err)
	}
	if err := store.StartSession(ctx, SessionStart{ConnectionID: id, Address: "198.51.100.10", StartTime: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	var end time.Time
	if err := store.db.QueryRowContext(ctx,
		`SELECT end_time FROM chat_sessions WHERE connection_id = $1`, id).Scan(&end); err != nil {
		t.Fatalf("select error: %v", err)
	}
	if !end.Equal(now) {
		t.Errorf("end_time lost: expected %v, got %v", now, end)
	}
}

func TestStore_CreateReportAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addr := "test-" + uuid.NewString()

	for i := 0; i < 2; i++ {
		err := store.CreateReport(ctx, relay.Report{
			ReporterID:      "test_reporter",
			ReportedID:      "test_reported",
			ReportedAddress: addr,
			Reason:          protocol.ReasonSpam,
		})
		if err != nil {
			t.Fatalf("CreateReport() error: %v", err)
		}
	}

	n, err := store.CountRecent(ctx, addr, time.Hour)
	if err != nil {
		t.Fatalf("CountRecent() error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 recent reports, got %d", n)
	}
}

func TestStore_CreateReportRejectsUnknownReason(t *testing.T) {
	// Validation happens before any query, so no database is needed.
	store := NewStore(nil)
	err := store.CreateReport(context.Background(), relay.Report{Reason: "rude"})
	if err == nil {
		t.Fatal("expected an error for an unknown reason, got nil")
	}
}

func TestMigrate_IndexesReportedAddress(t *testing.T) {
	store := newTestStore(t)

	var def string
	err := store.db.QueryRowContext(context.Background(),
		`SELECT indexdef FROM pg_indexes WHERE tablename = 'abuse_reports' AND indexname = 'abuse_reports_reported_ip_idx'`).Scan(&def)
	if err != nil {
		t.Fatalf("reported_ip index missing: %v", err)
	}
	if !strings.Contains(def, "(reported_ip, created_at)") {
		t.Errorf("unexpected index definition: %s", def)
	}
}
