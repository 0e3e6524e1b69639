// Command proxy runs the Proxy half of the two-hop relay: it authenticates
// inbound Agent transports, honors one ConnectRequest per transport by
// dialing the target (or, in forward mode, chaining to an upstream Proxy),
// and bridges bytes with bandwidth accounting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jbsouthe/relaymesh/internal/bandwidth"
	"github.com/jbsouthe/relaymesh/internal/config"
	"github.com/jbsouthe/relaymesh/internal/logging"
	"github.com/jbsouthe/relaymesh/internal/relay"
	"github.com/jbsouthe/relaymesh/internal/stats"
	"github.com/jbsouthe/relaymesh/internal/upstream"
	"github.com/jbsouthe/relaymesh/internal/userstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type proxyFlags struct {
	configPath             string
	listen                 string
	usersFilePath          string
	compressionMode        string
	replayToleranceSecs    int
	authTimeoutSecs        int
	forwardMode            bool
	upstreamProxyAddrs     []string
	upstreamUsername       string
	upstreamPrivateKeyPath string
	connectTimeoutSecs     int
	logLevel               string
	logDir                 string
	logFile                string
	runtimeThreads         int
}

func newRootCmd() *cobra.Command {
	var f proxyFlags
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the relaymesh Proxy (client-facing relay and optional upstream forwarder)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd.Flags(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "config/proxy.toml", "path to the proxy TOML config file")
	flags.StringVar(&f.listen, "listen", "", "address for the inbound relay listener (overrides config)")
	flags.StringVar(&f.usersFilePath, "users-file-path", "", "path to the users TOML file (overrides config)")
	flags.StringVar(&f.compressionMode, "compression-mode", "", "none|zstd|lz4|gzip (overrides config)")
	flags.IntVar(&f.replayToleranceSecs, "replay-attack-tolerance", 0, "handshake timestamp tolerance in seconds (overrides config)")
	flags.IntVar(&f.authTimeoutSecs, "auth-timeout-secs", 0, "handshake auth timeout in seconds (overrides config)")
	flags.BoolVar(&f.forwardMode, "forward-mode", false, "chain ConnectRequests to an upstream Proxy instead of dialing targets directly")
	flags.StringSliceVar(&f.upstreamProxyAddrs, "upstream-proxy-addrs", nil, "comma-separated upstream Proxy addresses (forward mode)")
	flags.StringVar(&f.upstreamUsername, "upstream-username", "", "username this Proxy presents to its upstream (forward mode)")
	flags.StringVar(&f.upstreamPrivateKeyPath, "upstream-private-key-path", "", "private key PEM for the upstream handshake (forward mode)")
	flags.IntVar(&f.connectTimeoutSecs, "connect-timeout-secs", 0, "dial timeout for targets/upstream, in seconds (overrides config)")
	flags.StringVar(&f.logLevel, "log-level", "", "trace|debug|info|warn|error (overrides config)")
	flags.StringVar(&f.logDir, "log-dir", "", "directory for the log file (overrides config)")
	flags.StringVar(&f.logFile, "log-file", "", "log file name within log-dir (overrides config)")
	flags.IntVar(&f.runtimeThreads, "runtime-threads", 0, "GOMAXPROCS override, 0 = runtime default")

	return cmd
}

func runProxy(flagSet *pflag.FlagSet, f proxyFlags) error {
	configPath := f.configPath
	if _, statErr := os.Stat(configPath); statErr != nil {
		configPath = ""
	}
	cfg, err := config.LoadProxyConfig(configPath)
	if err != nil {
		return fmt.Errorf("proxy: load config: %w", err)
	}
	applyProxyFlagOverrides(&cfg, flagSet, f)

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Dir: cfg.LogDir, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("proxy: init logging: %w", err)
	}

	if cfg.RuntimeThreads > 0 {
		runtime.GOMAXPROCS(cfg.RuntimeThreads)
	}

	users := userstore.New()
	if cfg.UsersFilePath != "" {
		records, err := userstore.LoadFile(cfg.UsersFilePath)
		if err != nil {
			return fmt.Errorf("proxy: load users file: %w", err)
		}
		users.Replace(records)
		logger.Info().Int("count", len(records)).Str("path", cfg.UsersFilePath).Msg("loaded users file")
	}

	compression, err := config.ParseCompressionMode(cfg.CompressionMode)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	bw := bandwidth.NewRegistry()
	registry := stats.NewDefaultRegistry()

	opts := relay.Options{
		Compression:  compression,
		ReplayWindow: time.Duration(cfg.ReplayToleranceSecs) * time.Second,
		AuthTimeout:  time.Duration(authTimeoutOrDefault(cfg.AuthTimeoutSecs)) * time.Second,
		DialTimeout:  time.Duration(connectTimeoutOrDefault(cfg.ConnectTimeoutSecs)) * time.Second,
	}

	srv, err := relay.NewServer(cfg.Listen, users, users, bw, registry, opts, logger)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	if cfg.ForwardMode {
		upCfg, err := loadUpstreamConfig(cfg)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		srv.SetForwarder(upstream.Forwarder(upCfg))
		logger.Info().Strs("upstream", cfg.UpstreamProxyAddrs).Msg("forward mode enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("listen", srv.Addr().String()).Bool("forward_mode", cfg.ForwardMode).Msg("proxy listening")
	return srv.Run(ctx)
}

func loadUpstreamConfig(cfg config.ProxyConfig) (upstream.Config, error) {
	keyData, err := os.ReadFile(cfg.UpstreamPrivateKeyPath)
	if err != nil {
		return upstream.Config{}, fmt.Errorf("read upstream private key: %w", err)
	}
	priv, err := userstore.ParsePrivateKeyPEM(keyData)
	if err != nil {
		return upstream.Config{}, fmt.Errorf("parse upstream private key: %w", err)
	}
	compression, err := config.ParseCompressionMode(cfg.CompressionMode)
	if err != nil {
		return upstream.Config{}, err
	}
	return upstream.Config{
		Addrs:          cfg.UpstreamProxyAddrs,
		Username:       cfg.UpstreamUsername,
		PrivateKey:     priv,
		Compression:    compression,
		ConnectTimeout: time.Duration(connectTimeoutOrDefault(cfg.ConnectTimeoutSecs)) * time.Second,
	}, nil
}

func applyProxyFlagOverrides(cfg *config.ProxyConfig, flagSet *pflag.FlagSet, f proxyFlags) {
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.usersFilePath != "" {
		cfg.UsersFilePath = f.usersFilePath
	}
	if f.compressionMode != "" {
		cfg.CompressionMode = f.compressionMode
	}
	if f.replayToleranceSecs != 0 {
		cfg.ReplayToleranceSecs = f.replayToleranceSecs
	}
	if f.authTimeoutSecs != 0 {
		cfg.AuthTimeoutSecs = f.authTimeoutSecs
	}
	if flagSet.Changed("forward-mode") {
		cfg.ForwardMode = f.forwardMode
	}
	if len(f.upstreamProxyAddrs) > 0 {
		cfg.UpstreamProxyAddrs = f.upstreamProxyAddrs
	}
	if f.upstreamUsername != "" {
		cfg.UpstreamUsername = f.upstreamUsername
	}
	if f.upstreamPrivateKeyPath != "" {
		cfg.UpstreamPrivateKeyPath = f.upstreamPrivateKeyPath
	}
	if f.connectTimeoutSecs != 0 {
		cfg.ConnectTimeoutSecs = f.connectTimeoutSecs
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logDir != "" {
		cfg.LogDir = f.logDir
	}
	if f.logFile != "" {
		cfg.LogFile = f.logFile
	}
	if f.runtimeThreads != 0 {
		cfg.RuntimeThreads = f.runtimeThreads
	}
}

func authTimeoutOrDefault(secs int) int {
	if secs <= 0 {
		return 10
	}
	return secs
}

func connectTimeoutOrDefault(secs int) int {
	if secs <= 0 {
		return 30
	}
	return secs
}
