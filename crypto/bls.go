package crypto

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

// BLS12-381 signing for the PoS finality gadget's prevote/precommit votes.
// Public keys live in G1 (48-byte compressed), signatures in G2 (96-byte
// compressed), matching the scheme the wider pack's beacon-style engines use
// for attestation aggregation.

var blsDST = []byte("BDLM-BLS-SIG-BLS12381G2_XMD:SHA3-256_SSWU_RO_POP_")

const (
	BLSPublicKeySize = 48
	BLSSignatureSize = 96
	BLSSecretKeySize = 32
)

var (
	ErrBLSInvalidSeed      = errors.New("crypto: bls seed must be at least 32 bytes")
	ErrBLSKeygenFailed     = errors.New("crypto: bls key generation failed")
	ErrBLSInvalidSecretKey = errors.New("crypto: invalid bls secret key bytes")
	ErrBLSSignFailed       = errors.New("crypto: bls signing failed")
	ErrBLSNoSignatures     = errors.New("crypto: no bls signatures to aggregate")
	ErrBLSInvalidSignature = errors.New("crypto: invalid bls signature bytes")
	ErrBLSAggregateFailed  = errors.New("crypto: bls aggregation failed")
)

// BLSKeygen derives a BLS key pair from 32+ bytes of seed material.
func BLSKeygen(seed []byte) (pubkey []byte, secret []byte, err error) {
	if len(seed) < 32 {
		return nil, nil, ErrBLSInvalidSeed
	}
	sk := blst.KeyGen(seed)
	if sk == nil {
		return nil, nil, ErrBLSKeygenFailed
	}
	pk := new(blst.P1Affine).From(sk)
	return pk.Compress(), sk.Serialize(), nil
}

// BLSSign signs msg (already domain-separated by the caller) with secret.
func BLSSign(secret []byte, msg []byte) ([]byte, error) {
	if len(secret) != BLSSecretKeySize {
		return nil, ErrBLSInvalidSecretKey
	}
	sk := new(blst.SecretKey).Deserialize(secret)
	if sk == nil {
		return nil, ErrBLSInvalidSecretKey
	}
	sig := new(blst.P2Affine).Sign(sk, msg, blsDST)
	if sig == nil {
		return nil, ErrBLSSignFailed
	}
	return sig.Compress(), nil
}

// VerifyBLS checks a single signature.
func VerifyBLS(pubkey []byte, msg []byte, sig []byte) bool {
	if len(pubkey) == 0 || len(sig) == 0 {
		return false
	}
	pk := new(blst.P1Affine).Uncompress(pubkey)
	if pk == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, msg, blsDST)
}

// AggregateBLS combines per-validator signatures over the same message into
// one aggregate signature, as used by the prevote/precommit phases of the
// finality gadget.
func AggregateBLS(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, ErrBLSNoSignatures
	}
	agg := new(blst.P2Aggregate)
	if !agg.AggregateCompressed(sigs, true) {
		return nil, ErrBLSAggregateFailed
	}
	return agg.ToAffine().Compress(), nil
}

// VerifyBLSAggregate checks an aggregate signature where every signer in
// pubkeys signed the identical msg — the shape a finality certificate uses.
func VerifyBLSAggregate(pubkeys [][]byte, msg []byte, aggSig []byte) bool {
	n := len(pubkeys)
	if n == 0 || len(aggSig) == 0 {
		return false
	}
	s := new(blst.P2Affine).Uncompress(aggSig)
	if s == nil {
		return false
	}
	pks := make([]*blst.P1Affine, n)
	for i, pkBytes := range pubkeys {
		pks[i] = new(blst.P1Affine).Uncompress(pkBytes)
		if pks[i] == nil {
			return false
		}
	}
	return s.FastAggregateVerify(true, pks, msg, blsDST)
}
