package crypto

import (
	"crypto/ed25519"
	"errors"
)

// ErrInvalidSignature is returned by VerifyEd25519 callers that want a typed
// sentinel rather than a bare bool; most consensus call sites just branch on
// the bool return of VerifyEd25519 itself.
var ErrInvalidSignature = errors.New("crypto: invalid ed25519 signature")

// SignEd25519 signs digest (expected to already be a 32-byte domain-tagged
// hash) with a raw 64-byte Ed25519 private key.
func SignEd25519(priv ed25519.PrivateKey, digest [32]byte) []byte {
	return ed25519.Sign(priv, digest[:])
}

// VerifyEd25519 checks sig (64 bytes) against digest under the given
// 32-byte public key. Malformed keys/signatures are treated as verification
// failures, never panics.
func VerifyEd25519(pub []byte, digest [32]byte, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig)
}

// GenerateEd25519 is a convenience wrapper for tests and devnet tooling.
func GenerateEd25519() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}
