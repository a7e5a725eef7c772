package peer

import "testing"

func TestLocalValidateAcceptsMatchingHandshake(t *testing.T) {
	local := Local{ChainID: 1337, ValidatorSetHash: [32]byte{1}, SupportedSchemes: []string{"ed25519", "bls12-381"}}
	h := Handshake{ChainID: 1337, ValidatorSetHash: [32]byte{1}, SupportedSchemes: []string{"bls12-381"}}
	if !local.Validate(h) {
		t.Fatalf("expected handshake with matching chain/set/scheme to validate")
	}
}

func TestLocalValidateRejectsWrongChainID(t *testing.T) {
	local := Local{ChainID: 1337, ValidatorSetHash: [32]byte{1}, SupportedSchemes: []string{"ed25519"}}
	h := Handshake{ChainID: 1, ValidatorSetHash: [32]byte{1}, SupportedSchemes: []string{"ed25519"}}
	if local.Validate(h) {
		t.Fatalf("expected handshake with mismatched chain_id to be rejected")
	}
}

func TestLocalValidateRejectsWrongValidatorSetHash(t *testing.T) {
	local := Local{ChainID: 1337, ValidatorSetHash: [32]byte{1}, SupportedSchemes: []string{"ed25519"}}
	h := Handshake{ChainID: 1337, ValidatorSetHash: [32]byte{2}, SupportedSchemes: []string{"ed25519"}}
	if local.Validate(h) {
		t.Fatalf("expected handshake with mismatched validator_set_hash to be rejected")
	}
}

func TestLocalValidateRejectsNoSchemeOverlap(t *testing.T) {
	local := Local{ChainID: 1337, ValidatorSetHash: [32]byte{1}, SupportedSchemes: []string{"ed25519"}}
	h := Handshake{ChainID: 1337, ValidatorSetHash: [32]byte{1}, SupportedSchemes: []string{"bls12-381"}}
	if local.Validate(h) {
		t.Fatalf("expected handshake with no shared signature scheme to be rejected")
	}
}
