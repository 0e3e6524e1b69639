package userstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestLookupAndBandwidthLimit(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	s := New()
	s.Replace([]Record{{Username: "alice", PublicKey: &priv.PublicKey, BandwidthMbps: 50}})

	pub, ok := s.Lookup("alice")
	if !ok || pub.N.Cmp(priv.PublicKey.N) != 0 {
		t.Fatalf("Lookup did not return alice's key")
	}
	if s.BandwidthLimit("alice") != 50 {
		t.Fatalf("BandwidthLimit = %d, want 50", s.BandwidthLimit("alice"))
	}
	if _, ok := s.Lookup("bob"); ok {
		t.Fatalf("expected bob to be unknown")
	}
}

func TestParsePublicKeyPEMRoundtrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	got, err := ParsePublicKeyPEM(pemBytes)
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM: %v", err)
	}
	if got.N.Cmp(priv.PublicKey.N) != 0 {
		t.Fatalf("parsed key does not match original")
	}
}

func TestParsePrivateKeyPEMRoundtrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(priv)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	got, err := ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		t.Fatalf("ParsePrivateKeyPEM: %v", err)
	}
	if got.D.Cmp(priv.D) != 0 {
		t.Fatalf("parsed key does not match original")
	}
}

func TestParsePublicKeyPEMRejectsGarbage(t *testing.T) {
	if _, err := ParsePublicKeyPEM([]byte("not pem")); err == nil {
		t.Fatalf("expected error for non-PEM input")
	}
}
