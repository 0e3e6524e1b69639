// Package config loads the Agent and Proxy configuration: a TOML file
// overlaid by CLI flags, with flags taking precedence over baked-in
// defaults.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/jbsouthe/relaymesh/internal/wire"
)

// AgentConfig holds everything cmd/agent needs to start.
type AgentConfig struct {
	Listen          string `toml:"listen"`
	ProxyAddr       string `toml:"proxy"`
	Username        string `toml:"username"`
	PrivateKeyPath  string `toml:"private_key_path"`
	CompressionMode string `toml:"compression_mode"`
	PoolTarget      int    `toml:"pool_target"`
	PoolHardCap     int    `toml:"pool_hard_cap"`
	AuthTimeoutSecs int    `toml:"auth_timeout_secs"`

	LogLevel string `toml:"log_level"`
	LogDir   string `toml:"log_dir"`
	LogFile  string `toml:"log_file"`

	RuntimeThreads int `toml:"runtime_threads"`
}

// ProxyConfig holds everything cmd/proxy needs to start.
type ProxyConfig struct {
	Listen              string `toml:"listen"`
	UsersFilePath       string `toml:"users_file_path"`
	CompressionMode     string `toml:"compression_mode"`
	ReplayToleranceSecs int    `toml:"replay_attack_tolerance"`
	AuthTimeoutSecs     int    `toml:"auth_timeout_secs"`

	ForwardMode           bool     `toml:"forward_mode"`
	UpstreamProxyAddrs    []string `toml:"upstream_proxy_addrs"`
	UpstreamUsername      string   `toml:"upstream_username"`
	UpstreamPrivateKeyPath string  `toml:"upstream_private_key_path"`
	ConnectTimeoutSecs    int      `toml:"connect_timeout_secs"`

	LogLevel string `toml:"log_level"`
	LogDir   string `toml:"log_dir"`
	LogFile  string `toml:"log_file"`

	RuntimeThreads int `toml:"runtime_threads"`
}

// DefaultAgentConfig holds the built-in defaults for the Agent CLI.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Listen:          "127.0.0.1:1080",
		CompressionMode: "none",
		PoolTarget:      4,
		PoolHardCap:     6,
		AuthTimeoutSecs: 10,
		LogLevel:        "info",
	}
}

// DefaultProxyConfig holds the built-in defaults for the Proxy CLI.
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		Listen:              "0.0.0.0:9443",
		CompressionMode:     "none",
		ReplayToleranceSecs: 300,
		AuthTimeoutSecs:     10,
		ConnectTimeoutSecs:  30,
		LogLevel:            "info",
	}
}

// LoadAgentConfig reads path into a copy of DefaultAgentConfig, leaving
// defaults in place for any key the file omits.
func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// LoadProxyConfig reads path into a copy of DefaultProxyConfig, leaving
// defaults in place for any key the file omits.
func LoadProxyConfig(path string) (ProxyConfig, error) {
	cfg := DefaultProxyConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// ParseCompressionMode maps the config/CLI string form to the wire enum.
func ParseCompressionMode(s string) (wire.CompressionMode, error) {
	switch s {
	case "", "none":
		return wire.CompressionNone, nil
	case "zstd":
		return wire.CompressionZstd, nil
	case "lz4":
		return wire.CompressionLZ4, nil
	case "gzip":
		return wire.CompressionGzip, nil
	default:
		return 0, fmt.Errorf("config: unknown compression mode %q", s)
	}
}
