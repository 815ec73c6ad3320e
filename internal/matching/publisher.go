package matching

import (
	"log"
	"math/rand/v2"
)

// Outbound event names emitted by the Matchmaker.
const (
	EventPartnerFound        = "partner-found"
	EventPartnerDisconnected = "partner-disconnected"
)

// PartnerFound is the payload of a partner-found event. Initiator is true
// for the participant whose request completed the pairing; that side opens
// the offer/answer negotiation.
type PartnerFound struct {
	PartnerID string `json:"partner_id"`
	Initiator bool   `json:"initiator"`
	Tag       string `json:"tag"`
}

// PartnerDisconnected is the payload of a partner-disconnected event.
type PartnerDisconnected struct{}

// countryTags are the cosmetic tags shown next to a new partner.
var countryTags = []string{"USA", "Canada", "India", "UK", "Australia", "Germany", "France", "Japan"}

// RandomCountryTag picks one of the cosmetic country tags.
func RandomCountryTag() string {
	return countryTags[rand.IntN(len(countryTags))]
}

type notification struct {
	to      string
	event   string
	payload interface{}
}

// outbox collects the notifications produced by one executor task. They are
// sent only after the task has finished mutating state.
type outbox []notification

func (o *outbox) add(to, event string, payload interface{}) {
	*o = append(*o, notification{to: to, event: event, payload: payload})
}

// flush delivers the collected notifications in order. Send failures are
// logged; the pairing decision that produced them stands.
func (o *outbox) flush(t Transport) {
	for _, n := range *o {
		if err := t.Send(n.to, n.event, n.payload); err != nil {
			log.Printf("[matcher] send %s to %s: %v", n.event, n.to, err)
		}
	}
	*o = nil
}
