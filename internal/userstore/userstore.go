// Package userstore holds the per-user account records the Proxy
// authenticates against: username, RSA public key, and an optional
// bandwidth cap. Records are read from configuration at startup and satisfy
// the interfaces the handshake and bandwidth gate consume.
package userstore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

// Record is one user's account entry.
type Record struct {
	Username      string
	PublicKey     *rsa.PublicKey
	BandwidthMbps int64
}

// Store is a concurrency-safe username -> Record map. Reads vastly
// outnumber writes (one handshake lookup per connection vs. an occasional
// reload), so it is RWMutex-protected rather than lock-free.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]Record)}
}

// Lookup satisfies internal/session.PublicKeyLookup.
func (s *Store) Lookup(username string) (*rsa.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[username]
	if !ok {
		return nil, false
	}
	return r.PublicKey, true
}

// BandwidthLimit returns the configured cap for username, or 0 (unlimited)
// if the user is unknown or has no cap set.
func (s *Store) BandwidthLimit(username string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[username].BandwidthMbps
}

// Replace atomically swaps the entire record set, for config reload.
func (s *Store) Replace(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.Username] = r
	}
	s.records = m
}

// GetAll returns a copy of every record currently loaded.
func (s *Store) GetAll() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// ParsePublicKeyPEM decodes a PKIX-encoded RSA public key from PEM bytes, the
// format produced by the peripheral keygen utility's ".pub" output.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("userstore: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("userstore: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("userstore: key is not RSA")
	}
	return rsaPub, nil
}

// fileEntry is one [[user]] table in the users TOML file.
type fileEntry struct {
	Username      string `toml:"username"`
	PublicKeyPath string `toml:"public_key_path"`
	BandwidthMbps int64  `toml:"bandwidth_mbps"`
}

type usersFile struct {
	User []fileEntry `toml:"user"`
}

// LoadFile reads the users TOML file at path (a top-level [[user]] array of
// {username, public_key_path, bandwidth_mbps} tables), parses each member's
// public key off disk, and returns the resulting records. The caller decides
// when to feed the result into Store.Replace for an atomic swap.
func LoadFile(path string) ([]Record, error) {
	var f usersFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("userstore: decode %s: %w", path, err)
	}

	out := make([]Record, 0, len(f.User))
	for _, e := range f.User {
		data, err := os.ReadFile(e.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("userstore: read public key for %s: %w", e.Username, err)
		}
		pub, err := ParsePublicKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("userstore: parse public key for %s: %w", e.Username, err)
		}
		out = append(out, Record{Username: e.Username, PublicKey: pub, BandwidthMbps: e.BandwidthMbps})
	}
	return out, nil
}

// ParsePrivateKeyPEM decodes a PKCS#1 RSA private key from PEM bytes, the
// format the Agent loads for itself and the Proxy loads for upstream-forward
// mode.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("userstore: no PEM block found")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("userstore: parse private key: %w", err)
	}
	return priv, nil
}
