package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jbsouthe/relaymesh/internal/wire"
)

func TestLoadAgentConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.toml")
	contents := `
listen = "127.0.0.1:2080"
username = "alice"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg.Listen != "127.0.0.1:2080" {
		t.Fatalf("Listen = %q, want override", cfg.Listen)
	}
	if cfg.Username != "alice" {
		t.Fatalf("Username = %q, want alice", cfg.Username)
	}
	if cfg.PoolTarget != DefaultAgentConfig().PoolTarget {
		t.Fatalf("PoolTarget = %d, want default %d", cfg.PoolTarget, DefaultAgentConfig().PoolTarget)
	}
}

func TestLoadAgentConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadAgentConfig("")
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg != DefaultAgentConfig() {
		t.Fatalf("expected defaults for empty path")
	}
}

func TestParseCompressionMode(t *testing.T) {
	cases := map[string]wire.CompressionMode{
		"":     wire.CompressionNone,
		"none": wire.CompressionNone,
		"zstd": wire.CompressionZstd,
		"lz4":  wire.CompressionLZ4,
		"gzip": wire.CompressionGzip,
	}
	for in, want := range cases {
		got, err := ParseCompressionMode(in)
		if err != nil {
			t.Fatalf("ParseCompressionMode(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseCompressionMode(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseCompressionMode("bogus"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
