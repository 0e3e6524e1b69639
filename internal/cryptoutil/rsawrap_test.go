package cryptoutil

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return priv
}

func TestWrapUnwrapRoundtrip(t *testing.T) {
	priv := testKey(t)
	key, _ := GenerateKey()

	wrapped, err := Wrap(priv, key)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	got, err := Unwrap(&priv.PublicKey, wrapped)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("unwrap mismatch: got %x want %x", got, key)
	}
}

func TestUnwrapRejectsBitFlip(t *testing.T) {
	priv := testKey(t)
	key, _ := GenerateKey()

	wrapped, err := Wrap(priv, key)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	wrapped[len(wrapped)/2] ^= 0x01

	if _, err := Unwrap(&priv.PublicKey, wrapped); err == nil {
		t.Fatalf("expected Unwrap to fail on perturbed ciphertext")
	}
}

func TestUnwrapRejectsWrongKey(t *testing.T) {
	priv := testKey(t)
	other := testKey(t)
	key, _ := GenerateKey()

	wrapped, err := Wrap(priv, key)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if _, err := Unwrap(&other.PublicKey, wrapped); err == nil {
		t.Fatalf("expected Unwrap with mismatched public key to fail")
	}
}
