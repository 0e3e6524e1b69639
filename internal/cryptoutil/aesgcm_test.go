package cryptoutil

import (
	"bytes"
	"testing"
)

func TestCipherEncryptDecryptRoundtrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
	}
}

func TestCipherNonceUniqueness(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := NewCipher(key)

	seen := make(map[string]bool)
	const n = 500
	for i := 0; i < n; i++ {
		ct, err := c.Encrypt([]byte("payload"))
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		nonce := string(ct[:NonceSize])
		if seen[nonce] {
			t.Fatalf("nonce repeated after %d calls", i)
		}
		seen[nonce] = true
	}
}

func TestCipherDecryptTamperedFails(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := NewCipher(key)

	ct, err := c.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0xFF
	if _, err := c.Decrypt(ct); err == nil {
		t.Fatalf("expected tamper detection, got nil error")
	}
}

func TestNewCipherRejectsBadKeySize(t *testing.T) {
	if _, err := NewCipher(make([]byte, 16)); err == nil {
		t.Fatalf("expected error for short key")
	}
}
