package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strangr/pairchat/internal/matching"
	"github.com/strangr/pairchat/internal/protocol"
)

type fakeLookup struct {
	partners     map[string]string
	participants map[string]matching.Participant
}

func (f *fakeLookup) Partner(id string) (string, bool) {
	p, ok := f.partners[id]
	return p, ok
}

func (f *fakeLookup) Participant(id string) (matching.Participant, bool) {
	p, ok := f.participants[id]
	return p, ok
}

type sent struct {
	to      string
	event   string
	payload interface{}
}

type fakeTransport struct {
	mu   sync.Mutex
	live map[string]bool
	sent []sent
	err  error
}

func (f *fakeTransport) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[id]
}

func (f *fakeTransport) Send(id, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{to: id, event: event, payload: payload})
	return nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	reports []Report
	starts  []string
	ends    []string
	err     error
}

func (f *fakeAuditor) RecordSessionStart(_ context.Context, id, address string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, id+"@"+address)
	return f.err
}

func (f *fakeAuditor) RecordSessionEnd(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, id)
	return f.err
}

func (f *fakeAuditor) RecordReport(_ context.Context, r Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

func newPairedFixture() (*fakeLookup, *fakeTransport) {
	lookup := &fakeLookup{
		partners: map[string]string{"alice": "bob", "bob": "alice"},
		participants: map[string]matching.Participant{
			"alice": {ID: "alice", Address: "198.51.100.1"},
			"bob":   {ID: "bob", Address: "198.51.100.2"},
			"carol": {ID: "carol", Address: "198.51.100.3"},
		},
	}
	tr := &fakeTransport{live: map[string]bool{"alice": true, "bob": true, "carol": true}}
	return lookup, tr
}

func TestForward_SendsVerbatimToPartner(t *testing.T) {
	lookup, tr := newPairedFixture()
	r := New(lookup, tr, nil, 0)

	payload := json.RawMessage(`{"sdp":"v=0","type":"offer"}`)
	require.NoError(t, r.Forward("alice", protocol.TypeOffer, payload))

	require.Len(t, tr.sent, 1)
	require.Equal(t, "bob", tr.sent[0].to)
	require.Equal(t, protocol.TypeOffer, tr.sent[0].event)
	require.Equal(t, protocol.SignalMsg{Payload: payload}, tr.sent[0].payload)
}

func TestForward_NoPartnerIsSilentNoop(t *testing.T) {
	lookup, tr := newPairedFixture()
	r := New(lookup, tr, nil, 0)

	require.NoError(t, r.Forward("carol", protocol.TypeChatMessage, json.RawMessage(`"hi"`)))
	require.Empty(t, tr.sent)
}

func TestForward_ReturnsSendError(t *testing.T) {
	lookup, tr := newPairedFixture()
	tr.err = errors.New("connection bob not found")
	r := New(lookup, tr, nil, 0)

	require.Error(t, r.Forward("alice", protocol.TypeAnswer, json.RawMessage(`{}`)))
}

func TestReport_RecordsBothAddresses(t *testing.T) {
	lookup, tr := newPairedFixture()
	aud := &fakeAuditor{}
	r := New(lookup, tr, aud, time.Second)

	require.True(t, r.Report("alice", protocol.ReasonSpam, "links"))
	r.Wait()

	require.Len(t, aud.reports, 1)
	rep := aud.reports[0]
	require.Equal(t, "alice", rep.ReporterID)
	require.Equal(t, "198.51.100.1", rep.ReporterAddress)
	require.Equal(t, "bob", rep.ReportedID)
	require.Equal(t, "198.51.100.2", rep.ReportedAddress)
	require.Equal(t, protocol.ReasonSpam, rep.Reason)
	require.Equal(t, "links", rep.Details)
	require.False(t, rep.CreatedAt.IsZero())

	// Reporting does not touch the pairing or message anyone.
	require.Empty(t, tr.sent)
	partner, _ := lookup.Partner("alice")
	require.Equal(t, "bob", partner)
}

func TestReport_NoPartner(t *testing.T) {
	lookup, tr := newPairedFixture()
	aud := &fakeAuditor{}
	r := New(lookup, tr, aud, time.Second)

	require.False(t, r.Report("carol", protocol.ReasonOther, ""))
	r.Wait()
	require.Empty(t, aud.reports)
}

func TestReport_PartnerAlreadyGone(t *testing.T) {
	lookup, tr := newPairedFixture()
	delete(tr.live, "bob")
	aud := &fakeAuditor{}
	r := New(lookup, tr, aud, time.Second)

	require.False(t, r.Report("alice", protocol.ReasonHarassment, ""))
	r.Wait()
	require.Empty(t, aud.reports)
}

func TestReport_AuditFailureIsNotFatal(t *testing.T) {
	lookup, tr := newPairedFixture()
	aud := &fakeAuditor{err: errors.New("nats: connection closed")}
	r := New(lookup, tr, aud, time.Second)

	require.True(t, r.Report("alice", protocol.ReasonSpam, ""))
	r.Wait()
	require.Len(t, aud.reports, 1)
}

func TestSessionRecords(t *testing.T) {
	lookup, tr := newPairedFixture()
	aud := &fakeAuditor{}
	r := New(lookup, tr, aud, time.Second)

	r.SessionStarted("alice", "198.51.100.1")
	r.SessionEnded("alice")
	r.Wait()

	require.Equal(t, []string{"alice@198.51.100.1"}, aud.starts)
	require.Equal(t, []string{"alice"}, aud.ends)
}

func TestNilAuditorIsNoop(t *testing.T) {
	lookup, tr := newPairedFixture()
	r := New(lookup, tr, nil, 0)

	require.True(t, r.Report("alice", protocol.ReasonSpam, ""))
	r.SessionStarted("alice", "198.51.100.1")
	r.Wait()
}
