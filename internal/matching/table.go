package matching

import (
	"sort"
	"time"
)

// Status is a participant's position in the pairing lifecycle.
type Status int

const (
	StatusNew           Status = iota // connected, never asked for a partner
	StatusWaiting                     // sitting in a waiting line
	StatusPaired                      // has exactly one partner
	StatusDisconnecting               // just lost a partner, re-pairing pending
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusWaiting:
		return "waiting"
	case StatusPaired:
		return "paired"
	case StatusDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Participant is one live connection known to the Matchmaker.
type Participant struct {
	ID          string
	ChatType    string // last requested chat type, empty until the first request
	Status      Status
	Address     string // originating network address, only used for audit records
	ConnectedAt time.Time

	WaitingSince time.Time // last time the participant entered a waiting line
}

// tracker holds the per-participant status entries.
type tracker struct {
	byID map[string]*Participant
}

func newTracker() *tracker {
	return &tracker{byID: make(map[string]*Participant)}
}

func (t *tracker) add(p *Participant) {
	t.byID[p.ID] = p
}

func (t *tracker) get(id string) (*Participant, bool) {
	p, ok := t.byID[id]
	return p, ok
}

func (t *tracker) setStatus(id string, status Status) {
	if p, ok := t.byID[id]; ok {
		p.Status = status
	}
}

func (t *tracker) remove(id string) {
	delete(t.byID, id)
}

func (t *tracker) ids() []string {
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *tracker) count(status Status) int {
	n := 0
	for _, p := range t.byID {
		if p.Status == status {
			n++
		}
	}
	return n
}

// pairingTable stores each pairing as two directed entries. Both entries are
// always written and deleted together.
type pairingTable struct {
	partners map[string]string
}

func newPairingTable() *pairingTable {
	return &pairingTable{partners: make(map[string]string)}
}

func (pt *pairingTable) pair(a, b string) {
	pt.partners[a] = b
	pt.partners[b] = a
}

func (pt *pairingTable) partnerOf(id string) (string, bool) {
	p, ok := pt.partners[id]
	return p, ok
}

func (pt *pairingTable) isPaired(id string) bool {
	_, ok := pt.partners[id]
	return ok
}

// unpair deletes both directions of id's pairing and returns the former
// partner.
func (pt *pairingTable) unpair(id string) (string, bool) {
	partner, ok := pt.partners[id]
	if !ok {
		return "", false
	}
	delete(pt.partners, id)
	if pt.partners[partner] == id {
		delete(pt.partners, partner)
	}
	return partner, true
}

// entries returns the directed entries sorted by key so sweeps run in a
// stable order.
func (pt *pairingTable) entries() [][2]string {
	keys := make([]string, 0, len(pt.partners))
	for id := range pt.partners {
		keys = append(keys, id)
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, id := range keys {
		out = append(out, [2]string{id, pt.partners[id]})
	}
	return out
}

func (pt *pairingTable) pairs() int {
	return len(pt.partners) / 2
}
