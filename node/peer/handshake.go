package peer

// Handshake is the first message exchanged over the abstract transport.
// A peer's non-handshake traffic is dropped until it presents one that
// agrees with the local node's chain_id, validator_set_hash, and at least
// one supported signature scheme.
type Handshake struct {
	Version          uint32
	ChainID          uint64
	BestHeight       uint64
	ValidatorSetHash [32]byte
	SupportedSchemes []string
}

// HandshakeAck is the empty acknowledgement sent in reply to an accepted
// Handshake, completing the gate.
type HandshakeAck struct{}

// Local is the comparison basis a received Handshake is checked against:
// this node's own chain_id, validator_set_hash, and the schemes it is
// willing to speak.
type Local struct {
	ChainID          uint64
	ValidatorSetHash [32]byte
	SupportedSchemes []string
}

// Validate checks a received Handshake against the local node's identity.
// All three conditions — chain_id, at least one shared scheme, and
// validator_set_hash — must hold for the peer to clear the gate; any
// mismatch is a WrongChain-class rejection, not a soft warning, since a
// peer disagreeing with any of these cannot meaningfully gossip blocks or
// votes with this node.
func (l Local) Validate(h Handshake) bool {
	if h.ChainID != l.ChainID {
		return false
	}
	if h.ValidatorSetHash != l.ValidatorSetHash {
		return false
	}
	return schemesOverlap(l.SupportedSchemes, h.SupportedSchemes)
}

func schemesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
