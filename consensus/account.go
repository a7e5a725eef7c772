package consensus

// Account is the per-address ledger entry. Balances are unsigned: overdraft
// is structurally impossible, not merely checked.
type Account struct {
	PublicKey [32]byte
	Balance   uint64
	Nonce     uint64
}

// Validator is the per-address consensus registry entry shared by PoS and
// PoA (PoA ignores Stake/Jailed/Slashed and uses only the authority-set
// membership and Address).
type Validator struct {
	Address      [32]byte
	BLSPubKey    []byte // 48-byte compressed G1 point, used only by the PoS finality gadget
	Stake        uint64
	Active       bool
	Slashed      bool
	Jailed       bool
	JailUntil    uint64 // height
	LastProposed uint64 // height; 0 means never
	HasProposed  bool
}

// EffectiveStake is the stake counted toward leader election and fork-choice
// scoring: jailed and slashed validators contribute nothing.
func (v *Validator) EffectiveStake() uint64 {
	if v.Jailed || v.Slashed || !v.Active {
		return 0
	}
	return v.Stake
}
