package crypto

import "testing"

func seededKey(t *testing.T, seedByte byte) (pub, secret []byte) {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = seedByte
	}
	pub, secret, err := BLSKeygen(seed)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return pub, secret
}

func TestBLSSignVerifyRoundTrip(t *testing.T) {
	pub, secret := seededKey(t, 0x01)
	msg := []byte("prevote|epoch=1|height=100")
	sig, err := BLSSign(secret, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !VerifyBLS(pub, msg, sig) {
		t.Fatalf("signature did not verify")
	}
}

func TestBLSVerifyRejectsWrongMessage(t *testing.T) {
	pub, secret := seededKey(t, 0x02)
	sig, err := BLSSign(secret, []byte("message A"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if VerifyBLS(pub, []byte("message B"), sig) {
		t.Fatalf("signature verified against the wrong message")
	}
}

func TestAggregateAndVerifyBLS(t *testing.T) {
	msg := []byte("precommit|epoch=2|height=200")
	var pubs [][]byte
	var sigs [][]byte
	for i := byte(1); i <= 4; i++ {
		pub, secret := seededKey(t, i)
		sig, err := BLSSign(secret, msg)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		pubs = append(pubs, pub)
		sigs = append(sigs, sig)
	}

	aggSig, err := AggregateBLS(sigs)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !VerifyBLSAggregate(pubs, msg, aggSig) {
		t.Fatalf("aggregate signature did not verify")
	}
}

func TestAggregateBLSRejectsMissingSigner(t *testing.T) {
	msg := []byte("precommit|epoch=3|height=300")
	var pubs [][]byte
	var sigs [][]byte
	for i := byte(1); i <= 3; i++ {
		pub, secret := seededKey(t, i)
		sig, err := BLSSign(secret, msg)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		pubs = append(pubs, pub)
		sigs = append(sigs, sig)
	}
	extraPub, _ := seededKey(t, 0x09)
	pubsWithExtra := append(append([][]byte{}, pubs...), extraPub)

	aggSig, err := AggregateBLS(sigs)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if VerifyBLSAggregate(pubsWithExtra, msg, aggSig) {
		t.Fatalf("aggregate verified against a public key list including a non-signer")
	}
}

func TestBLSKeygenRejectsShortSeed(t *testing.T) {
	if _, _, err := BLSKeygen([]byte{1, 2, 3}); err != ErrBLSInvalidSeed {
		t.Fatalf("expected ErrBLSInvalidSeed, got %v", err)
	}
}
