package matching

import (
	"context"
	"log"
	"time"

	"github.com/strangr/pairchat/internal/metrics"
)

// SweepResult counts what one sweep repaired.
type SweepResult struct {
	StalePairs     int // pairings removed because a side vanished
	RePaired       int // surviving sides scheduled for a new partner
	DroppedWaiting int // waiting entries dropped
	Forgotten      int // participant entries whose connection vanished
}

// Changed reports whether the sweep touched any state.
func (r SweepResult) Changed() bool {
	return r.StalePairs > 0 || r.DroppedWaiting > 0 || r.Forgotten > 0
}

// StartSweeper runs Sweep every interval until ctx is cancelled. It catches
// pairings and waiting entries whose connection disappeared without a
// disconnect event.
func StartSweeper(ctx context.Context, m *Matchmaker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweeper] loop stopped")
			return
		case <-ticker.C:
			if _, err := m.Sweep(); err != nil {
				log.Printf("[sweeper] sweep failed: %v", err)
				return
			}
		}
	}
}

// Sweep reconciles the pairing table, the waiting lines and the participant
// entries against the connection registry, as a single unit of work.
// Running it twice with nothing in between changes nothing the second time.
func (m *Matchmaker) Sweep() (SweepResult, error) {
	var res SweepResult
	err := m.run(func(out *outbox) error {
		res = m.sweep(out)
		return nil
	})
	return res, err
}

func (m *Matchmaker) sweep(out *outbox) SweepResult {
	var res SweepResult

	for _, entry := range m.pairs.entries() {
		id, partner := entry[0], entry[1]
		if current, ok := m.pairs.partnerOf(id); !ok || current != partner {
			continue // already handled via the other direction
		}

		idAlive := m.transport.Exists(id)
		partnerAlive := m.transport.Exists(partner)
		if idAlive && partnerAlive {
			continue
		}

		log.Printf("[sweeper] found stale pairing: %s -> %s", id, partner)
		m.pairs.unpair(id)
		res.StalePairs++

		switch {
		case idAlive:
			m.orphan(id, out)
			res.RePaired++
		case partnerAlive:
			m.orphan(partner, out)
			res.RePaired++
		}
	}

	dropped := m.queues.Retain(func(id string) bool {
		if m.pairs.isPaired(id) || !m.transport.Exists(id) {
			return false
		}
		_, known := m.status.get(id)
		return known
	})
	for _, id := range dropped {
		log.Printf("[sweeper] removing invalid waiting participant: %s", id)
		if p, ok := m.status.get(id); ok && p.Status == StatusWaiting {
			p.Status = StatusNew
		}
	}
	res.DroppedWaiting = len(dropped)

	for _, id := range m.status.ids() {
		if !m.transport.Exists(id) {
			m.status.remove(id)
			res.Forgotten++
		}
	}

	metrics.SweepRemovals.WithLabelValues("pair").Add(float64(res.StalePairs))
	metrics.SweepRemovals.WithLabelValues("waiting").Add(float64(res.DroppedWaiting))
	metrics.SweepRemovals.WithLabelValues("participant").Add(float64(res.Forgotten))

	stats := m.stats()
	log.Printf("[sweeper] pass done: stale_pairs=%d dropped_waiting=%d forgotten=%d waiting=%v pairs=%d",
		res.StalePairs, res.DroppedWaiting, res.Forgotten, stats.Waiting, stats.Pairs)
	return res
}

// orphan handles the surviving side of a stale pairing as if its partner
// had just left.
func (m *Matchmaker) orphan(id string, out *outbox) {
	m.status.setStatus(id, StatusDisconnecting)
	out.add(id, EventPartnerDisconnected, PartnerDisconnected{})
	m.scheduleRePair(id)
}
