// Package crypto provides the hashing and signing primitives shared by every
// consensus-facing package. All hashes are SHA3-256 over a domain-tagged,
// length-delimited, little-endian encoding: never over a host's textual
// formatting of a value.
package crypto

import "golang.org/x/crypto/sha3"

// H is the canonical 32-byte hash function used throughout the core.
func H(b []byte) [32]byte {
	return sha3.Sum256(b)
}

// Domain tags. Every hash consumer prepends one of these so a preimage
// computed for one role can never be reinterpreted under another.
const (
	DomainTx         = "BDLM_TX_V1"
	DomainBlock      = "BDLM_BLOCK_V2"
	DomainState      = "BDLM_STATE_V1"
	DomainVote       = "BDLM_VOTE_V1"
	DomainRandao     = "BDLM_RANDAO_V1"
	DomainWitness    = "BDLM_WITNESS_V1"
	DomainValidators = "BDLM_VALIDATORSET_V1"
)

// Tagged hashes a domain tag together with a payload in one pass, avoiding a
// separate concatenation allocation at every call site.
func Tagged(domain string, payload []byte) [32]byte {
	buf := make([]byte, 0, len(domain)+len(payload))
	buf = append(buf, domain...)
	buf = append(buf, payload...)
	return H(buf)
}
