package main

import (
	"testing"

	"github.com/strangr/pairchat/loadtest/client"
)

func TestVerifyPairings(t *testing.T) {
	found := map[string]client.PartnerFound{
		"a": {PartnerID: "b", Initiator: true},
		"b": {PartnerID: "a", Initiator: false},
		"c": {PartnerID: "d", Initiator: true},
		"d": {PartnerID: "c", Initiator: true}, // both initiators
		"e": {PartnerID: "f"},                  // f never heard back
		"g": {PartnerID: "h"},
		"h": {PartnerID: "x"}, // asymmetric
	}

	symmetric, initiators := verifyPairings(found)
	if symmetric != 2 {
		t.Errorf("expected 2 symmetric pairs, got %d", symmetric)
	}
	if initiators != 1 {
		t.Errorf("expected 1 pair with a single initiator, got %d", initiators)
	}
}
