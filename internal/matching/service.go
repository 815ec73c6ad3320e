package matching

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/strangr/pairchat/internal/metrics"
)

// Sentinel errors returned by Matchmaker operations.
var (
	ErrUnknownParticipant = errors.New("matching: unknown participant")
	ErrInconsistentState  = errors.New("matching: inconsistent pairing state")
	ErrStopped            = errors.New("matching: matchmaker stopped")
)

// Registry answers whether a connection still exists.
type Registry interface {
	Exists(id string) bool
}

// Transport is the connection layer the Matchmaker talks through.
type Transport interface {
	Registry
	Send(id, event string, payload interface{}) error
}

// DepartureMode tells HandleDeparture whether the participant stays
// connected.
type DepartureMode int

const (
	DepartureNext       DepartureMode = iota // asked for another partner, still connected
	DepartureDisconnect                      // connection is gone
)

func (d DepartureMode) String() string {
	if d == DepartureDisconnect {
		return "disconnect"
	}
	return "next"
}

// Config holds the Matchmaker tunables.
type Config struct {
	SweepInterval   time.Duration // period between stale-connection sweeps
	RePairGrace     time.Duration // delay before re-pairing a participant whose partner left
	DefaultChatType string        // chat type used when none was requested
	ChatTypes       []string      // chat types with a pre-created waiting line
	Backlog         int           // executor task buffer
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   30 * time.Second,
		RePairGrace:     1 * time.Second,
		DefaultChatType: "video",
		ChatTypes:       []string{"video", "text"},
		Backlog:         1024,
	}
}

// Option customises a Matchmaker.
type Option func(*Matchmaker)

// WithScheduler replaces the timer used for deferred re-pairing.
func WithScheduler(s Scheduler) Option {
	return func(m *Matchmaker) { m.scheduler = s }
}

// WithTagFunc replaces the cosmetic tag chooser.
func WithTagFunc(f func() string) Option {
	return func(m *Matchmaker) { m.tag = f }
}

// Stats is a point-in-time view of the pairing state.
type Stats struct {
	Participants int
	Waiting      map[string]int // chat type -> queue length
	Pairs        int
}

// Matchmaker owns the waiting lines, the pairing table and the participant
// statuses. Every operation runs as one task on a single executor goroutine,
// so no two mutations interleave.
type Matchmaker struct {
	cfg       Config
	transport Transport
	scheduler Scheduler
	tag       func() string
	exec      *executor

	queues *Queues
	pairs  *pairingTable
	status *tracker
}

// NewMatchmaker creates a Matchmaker. Call Start before using it.
func NewMatchmaker(cfg Config, transport Transport, opts ...Option) *Matchmaker {
	if cfg.DefaultChatType == "" {
		cfg.DefaultChatType = DefaultConfig().DefaultChatType
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultConfig().Backlog
	}

	m := &Matchmaker{
		cfg:       cfg,
		transport: transport,
		scheduler: timeScheduler{},
		tag:       RandomCountryTag,
		exec:      newExecutor(cfg.Backlog),
		queues:    NewQueues(cfg.ChatTypes...),
		pairs:     newPairingTable(),
		status:    newTracker(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the executor until ctx is cancelled or Stop is called.
func (m *Matchmaker) Start(ctx context.Context) {
	go m.exec.run(ctx)
	log.Printf("[matcher] started (chat_types=%v default=%s grace=%s)",
		m.queues.ChatTypes(), m.cfg.DefaultChatType, m.cfg.RePairGrace)
}

// Stop halts the executor. Pending deferred re-pairings become no-ops.
func (m *Matchmaker) Stop() {
	m.exec.stop()
	log.Println("[matcher] stopped")
}

// Config returns the configuration the Matchmaker was built with.
func (m *Matchmaker) Config() Config {
	return m.cfg
}

// run executes fn as one unit of work, then delivers whatever it queued in
// the outbox on the calling goroutine, so a slow socket never holds the
// executor.
func (m *Matchmaker) run(fn func(out *outbox) error) error {
	var (
		out   outbox
		opErr error
	)
	err := m.exec.do(func() {
		opErr = fn(&out)
		m.observe()
	})
	if err != nil {
		return err
	}
	out.flush(m.transport)
	return opErr
}

// Register records a newly established connection with status New.
// Registering an ID twice keeps the first entry.
func (m *Matchmaker) Register(id, address string) error {
	return m.run(func(_ *outbox) error {
		if _, ok := m.status.get(id); ok {
			return nil
		}
		m.status.add(&Participant{
			ID:          id,
			Status:      StatusNew,
			Address:     address,
			ConnectedAt: time.Now(),
		})
		return nil
	})
}

// RequestPartner pairs id with the oldest valid participant waiting for
// chatType, or puts id in that waiting line. If id is currently paired the
// pairing is ended first, exactly as if id had asked for the next partner.
func (m *Matchmaker) RequestPartner(id, chatType string) error {
	if chatType == "" {
		chatType = m.cfg.DefaultChatType
	}
	return m.run(func(out *outbox) error {
		return m.requestPartner(id, chatType, out)
	})
}

// HandleDeparture removes id from its waiting line and ends its pairing, if
// any. The former partner is notified and re-paired after the grace delay.
// With DepartureDisconnect the participant is forgotten entirely.
func (m *Matchmaker) HandleDeparture(id string, mode DepartureMode) error {
	return m.run(func(out *outbox) error {
		m.handleDeparture(id, mode, out)
		return nil
	})
}

// NextPartner ends id's current pairing and immediately looks for a new
// partner in id's chat type, as one unit of work.
func (m *Matchmaker) NextPartner(id string) error {
	return m.run(func(out *outbox) error {
		p, ok := m.status.get(id)
		if !ok {
			return ErrUnknownParticipant
		}
		m.handleDeparture(id, DepartureNext, out)
		return m.requestPartner(id, m.chatTypeFor(p), out)
	})
}

// Partner returns id's current partner.
func (m *Matchmaker) Partner(id string) (string, bool) {
	var (
		partner string
		ok      bool
	)
	if err := m.exec.do(func() { partner, ok = m.pairs.partnerOf(id) }); err != nil {
		return "", false
	}
	return partner, ok
}

// Participant returns a copy of id's entry.
func (m *Matchmaker) Participant(id string) (Participant, bool) {
	var (
		p  Participant
		ok bool
	)
	err := m.exec.do(func() {
		var entry *Participant
		if entry, ok = m.status.get(id); ok {
			p = *entry
		}
	})
	if err != nil {
		return Participant{}, false
	}
	return p, ok
}

// Stats returns queue lengths, pair and participant counts.
func (m *Matchmaker) Stats() Stats {
	var s Stats
	_ = m.exec.do(func() { s = m.stats() })
	return s
}

func (m *Matchmaker) stats() Stats {
	s := Stats{
		Participants: len(m.status.byID),
		Waiting:      make(map[string]int),
		Pairs:        m.pairs.pairs(),
	}
	for _, ct := range m.queues.ChatTypes() {
		s.Waiting[ct] = m.queues.Len(ct)
	}
	return s
}

func (m *Matchmaker) requestPartner(id, chatType string, out *outbox) error {
	p, ok := m.status.get(id)
	if !ok {
		log.Printf("[matcher] request from unknown participant %s dropped", id)
		return ErrUnknownParticipant
	}
	p.ChatType = chatType

	if partner, paired := m.pairs.partnerOf(id); paired {
		log.Printf("[matcher] %s already paired with %s, ending that pairing first", id, partner)
		m.detach(id, partner, out)
	}
	m.queues.RemoveIfPresent(id)

	candidate, found := m.queues.DequeueNextValid(chatType, func(c string) bool {
		if c == id || m.pairs.isPaired(c) {
			return false
		}
		if _, known := m.status.get(c); !known {
			return false
		}
		if !m.transport.Exists(c) {
			log.Printf("[matcher] invalid waiting participant %s, skipping", c)
			return false
		}
		return true
	})

	if !found {
		p.Status = StatusWaiting
		p.WaitingSince = time.Now()
		m.queues.Enqueue(chatType, id)
		log.Printf("[matcher] no partner for %s, waiting (chat_type=%s queue=%d)",
			id, chatType, m.queues.Len(chatType))
		return nil
	}

	if m.pairs.isPaired(id) || candidate == id {
		log.Printf("[matcher] logic fault: refusing to pair %s with %s", id, candidate)
		m.queues.Enqueue(chatType, candidate)
		return ErrInconsistentState
	}

	m.pairs.pair(id, candidate)
	p.Status = StatusPaired
	m.status.setStatus(candidate, StatusPaired)

	// The partner hears first so it is ready before the initiator's offer.
	tag := m.tag()
	out.add(candidate, EventPartnerFound, PartnerFound{PartnerID: id, Initiator: false, Tag: tag})
	out.add(id, EventPartnerFound, PartnerFound{PartnerID: candidate, Initiator: true, Tag: tag})

	metrics.PairingsTotal.WithLabelValues(chatType).Inc()
	if c, ok := m.status.get(candidate); ok && !c.WaitingSince.IsZero() {
		metrics.MatchDuration.Observe(time.Since(c.WaitingSince).Seconds())
	}
	log.Printf("[matcher] matched %s with %s (chat_type=%s)", id, candidate, chatType)
	return nil
}

func (m *Matchmaker) handleDeparture(id string, mode DepartureMode, out *outbox) {
	m.queues.RemoveIfPresent(id)

	if partner, ok := m.pairs.partnerOf(id); ok {
		log.Printf("[matcher] %s left (%s), notifying partner %s", id, mode, partner)
		m.detach(id, partner, out)
	}

	if mode == DepartureDisconnect {
		m.status.remove(id)
	} else {
		m.status.setStatus(id, StatusNew)
	}
	metrics.DeparturesTotal.WithLabelValues(mode.String()).Inc()
}

// detach ends the pairing between id and partner and schedules partner for
// re-pairing.
func (m *Matchmaker) detach(id, partner string, out *outbox) {
	m.pairs.unpair(id)
	m.status.setStatus(partner, StatusDisconnecting)
	out.add(partner, EventPartnerDisconnected, PartnerDisconnected{})
	m.scheduleRePair(partner)
}

// scheduleRePair arranges a partner search for id after the grace delay. The
// attempt re-checks id's status when it fires, so anything that happened to
// id in the meantime wins.
func (m *Matchmaker) scheduleRePair(id string) {
	m.scheduler.AfterFunc(m.cfg.RePairGrace, func() {
		var out outbox
		err := m.exec.do(func() {
			m.fireRePair(id, &out)
			m.observe()
		})
		if err != nil {
			return
		}
		out.flush(m.transport)
	})
}

func (m *Matchmaker) fireRePair(id string, out *outbox) {
	p, ok := m.status.get(id)
	if !ok || p.Status != StatusDisconnecting {
		metrics.RePairsTotal.WithLabelValues("skipped").Inc()
		return
	}
	if !m.transport.Exists(id) {
		metrics.RePairsTotal.WithLabelValues("skipped").Inc()
		return
	}

	metrics.RePairsTotal.WithLabelValues("fired").Inc()
	log.Printf("[matcher] finding new partner for %s", id)
	if err := m.requestPartner(id, m.chatTypeFor(p), out); err != nil {
		log.Printf("[matcher] re-pair %s: %v", id, err)
	}
}

func (m *Matchmaker) chatTypeFor(p *Participant) string {
	if p.ChatType != "" {
		return p.ChatType
	}
	return m.cfg.DefaultChatType
}

// observe publishes the current sizes to the metrics gauges.
func (m *Matchmaker) observe() {
	for _, ct := range m.queues.ChatTypes() {
		metrics.MatchQueueSize.WithLabelValues(ct).Set(float64(m.queues.Len(ct)))
	}
	metrics.ActivePairs.Set(float64(m.pairs.pairs()))
	metrics.Participants.Set(float64(len(m.status.byID)))
}
