package crypto

import "testing"

func TestSignVerifyEd25519RoundTrip(t *testing.T) {
	pub, priv, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := H([]byte("message"))
	sig := SignEd25519(priv, digest)
	if !VerifyEd25519(pub, digest, sig) {
		t.Fatalf("signature did not verify")
	}
}

func TestVerifyEd25519RejectsWrongKey(t *testing.T) {
	_, priv, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	otherPub, _, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := H([]byte("message"))
	sig := SignEd25519(priv, digest)
	if VerifyEd25519(otherPub, digest, sig) {
		t.Fatalf("signature verified under the wrong public key")
	}
}

func TestVerifyEd25519RejectsTamperedDigest(t *testing.T) {
	pub, priv, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := H([]byte("message"))
	sig := SignEd25519(priv, digest)
	tampered := H([]byte("different message"))
	if VerifyEd25519(pub, tampered, sig) {
		t.Fatalf("signature verified against a tampered digest")
	}
}

func TestVerifyEd25519RejectsMalformedInput(t *testing.T) {
	if VerifyEd25519([]byte{1, 2, 3}, [32]byte{}, []byte{4, 5, 6}) {
		t.Fatalf("malformed key/signature unexpectedly verified")
	}
}
