// Command agent runs the Agent half of the two-hop proxy: it accepts
// SOCKS5/HTTP-CONNECT clients locally, maintains a pool of authenticated
// transports to a Proxy, and bridges bytes between the two.
package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbsouthe/relaymesh/internal/config"
	"github.com/jbsouthe/relaymesh/internal/dispatch"
	"github.com/jbsouthe/relaymesh/internal/logging"
	"github.com/jbsouthe/relaymesh/internal/pool"
	"github.com/jbsouthe/relaymesh/internal/session"
	"github.com/jbsouthe/relaymesh/internal/userstore"
	"github.com/jbsouthe/relaymesh/internal/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type agentFlags struct {
	configPath     string
	listen         string
	proxyAddr      string
	username       string
	privateKeyPath string
	logLevel       string
	logDir         string
	logFile        string
	runtimeThreads int
}

func newRootCmd() *cobra.Command {
	var f agentFlags
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the relaymesh Agent (SOCKS5/HTTP-CONNECT front end)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "config/agent.toml", "path to the agent TOML config file")
	flags.StringVar(&f.listen, "listen", "", "address for the inbound SOCKS5/HTTP listener (overrides config)")
	flags.StringVar(&f.proxyAddr, "proxy", "", "address of the Proxy to connect to (overrides config)")
	flags.StringVar(&f.username, "username", "", "username presented during the handshake (overrides config)")
	flags.StringVar(&f.privateKeyPath, "private-key-path", "", "path to this agent's RSA private key PEM (overrides config)")
	flags.StringVar(&f.logLevel, "log-level", "", "trace|debug|info|warn|error (overrides config)")
	flags.StringVar(&f.logDir, "log-dir", "", "directory for the log file (overrides config)")
	flags.StringVar(&f.logFile, "log-file", "", "log file name within log-dir (overrides config)")
	flags.IntVar(&f.runtimeThreads, "runtime-threads", 0, "GOMAXPROCS override, 0 = runtime default")

	return cmd
}

func runAgent(f agentFlags) error {
	configPath := f.configPath
	if _, statErr := os.Stat(configPath); statErr != nil {
		configPath = ""
	}
	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return fmt.Errorf("agent: load config: %w", err)
	}
	applyAgentFlagOverrides(&cfg, f)

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Dir: cfg.LogDir, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("agent: init logging: %w", err)
	}

	if cfg.RuntimeThreads > 0 {
		runtime.GOMAXPROCS(cfg.RuntimeThreads)
	}

	keyData, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("agent: read private key: %w", err)
	}
	priv, err := userstore.ParsePrivateKeyPEM(keyData)
	if err != nil {
		return fmt.Errorf("agent: parse private key: %w", err)
	}

	compression, err := config.ParseCompressionMode(cfg.CompressionMode)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	authTimeout := time.Duration(authTimeoutOrDefault(cfg.AuthTimeoutSecs)) * time.Second

	handshake := func(ctx context.Context) (*session.Session, error) {
		return dialAndHandshake(ctx, cfg.ProxyAddr, cfg.Username, priv, compression, authTimeout)
	}

	p := pool.New(cfg.PoolTarget, cfg.PoolHardCap, handshake, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.Start(ctx)

	srv, err := dispatch.NewServer(cfg.Listen, p, logger)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	logger.Info().Str("listen", srv.Addr().String()).Str("proxy", cfg.ProxyAddr).Msg("agent listening")

	return srv.Run(ctx)
}

func applyAgentFlagOverrides(cfg *config.AgentConfig, f agentFlags) {
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.proxyAddr != "" {
		cfg.ProxyAddr = f.proxyAddr
	}
	if f.username != "" {
		cfg.Username = f.username
	}
	if f.privateKeyPath != "" {
		cfg.PrivateKeyPath = f.privateKeyPath
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

// dialAndHandshake is the pool.Handshaker this binary wires in: dial the
// Proxy fresh and run the Agent side of the handshake. Used both for
// background refill and for the inline dial-on-cache-miss fallback.
func dialAndHandshake(ctx context.Context, proxyAddr, username string, priv *rsa.PrivateKey, compression wire.CompressionMode, authTimeout time.Duration) (*session.Session, error) {
	d := net.Dialer{Timeout: authTimeout}
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("agent: dial proxy %s: %w", proxyAddr, err)
	}
	sess, err := session.AgentHandshake(conn, username, priv, compression, authTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}
