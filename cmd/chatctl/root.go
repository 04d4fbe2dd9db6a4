package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/chatnet/internal/chat"
	"github.com/omochice/chatnet/internal/config"
	"github.com/omochice/chatnet/internal/logging"
	"github.com/omochice/chatnet/internal/route"
)

var (
	// Global flags
	configPath    string
	environment   string
	chatHost      string
	chatPort      int
	chatTLS       bool
	fronting      bool
	proxyScheme   string
	proxyHost     string
	proxyPort     int
	username      string
	password      string
	timeoutMillis int64
	logLevel      string
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Send requests to and receive messages from a chat service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
			}
		} else {
			cfg = config.Default()
		}
		applyFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := logging.Initialize(cfg.Logging()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.StringVar(&environment, "env", "", "Environment: staging, production or custom")
	f.StringVar(&chatHost, "host", "", "Chat host, overriding the environment")
	f.IntVar(&chatPort, "port", 0, "Chat port, overriding the environment")
	f.BoolVar(&chatTLS, "tls", false, "Use TLS with --host")
	f.BoolVar(&fronting, "fronting", false, "Fall back to domain-fronting routes")
	f.StringVar(&proxyScheme, "proxy-scheme", "socks5", "Proxy scheme: socks5 or socks5h")
	f.StringVar(&proxyHost, "proxy-host", "", "SOCKS proxy host")
	f.IntVar(&proxyPort, "proxy-port", 1080, "SOCKS proxy port")
	f.StringVarP(&username, "user", "u", "", "Username for an authenticated connection")
	f.StringVarP(&password, "password", "p", "", "Password for an authenticated connection")
	f.Int64Var(&timeoutMillis, "timeout-ms", 0, "Request timeout in milliseconds")
	f.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&logFile, "log-file", "", "Log file path (logs are also written to stderr)")
	f.StringVar(&logComponents, "log-components", "", "Comma-separated components to log (chat, transport). Empty means all.")

	rootCmd.AddCommand(sendCmd, listenCmd, infoCmd)
}

// applyFlags overlays explicitly set flags on the loaded configuration.
func applyFlags(cmd *cobra.Command) {
	changed := cmd.Flags().Changed

	if changed("env") {
		cfg.Environment = environment
	}
	if changed("host") || changed("port") || changed("tls") {
		if cfg.Chat == nil {
			cfg.Chat = &route.Endpoint{}
		}
		if changed("host") {
			cfg.Chat.Host = chatHost
			cfg.Chat.TLS = chatTLS
		}
		if changed("port") {
			cfg.Chat.Port = chatPort
		}
	}
	if changed("fronting") {
		cfg.EnableFronting = fronting
	}
	if changed("proxy-host") {
		cfg.Proxy = &config.ProxyConfig{Scheme: proxyScheme, Host: proxyHost, Port: proxyPort}
	}
	if changed("user") {
		cfg.Auth = &config.AuthConfig{Username: username, Password: password}
	}
	if changed("timeout-ms") {
		cfg.Timeouts.Request = time.Duration(timeoutMillis) * time.Millisecond
	}
	if changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if changed("log-file") {
		cfg.Log.File = logFile
	}
	if changed("log-components") {
		cfg.Log.Components = splitList(logComponents)
	}
}

func splitList(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// newManager builds a connection manager from the configuration.
func newManager() (*chat.ConnectionManager, error) {
	m := chat.NewConnectionManager(cfg.RouteEnvironment(), cfg.UserAgent,
		chat.WithTimeouts(cfg.ChatTimeouts()),
		chat.WithLogger(logging.Chat()),
	)
	m.SetDomainFronting(cfg.EnableFronting)
	if p := cfg.Proxy; p != nil {
		if err := m.SetProxy(p.Scheme, p.Host, p.Port, p.Username, p.Password); err != nil {
			return nil, fmt.Errorf("failed to configure proxy: %w", err)
		}
	}
	return m, nil
}

func connect(ctx context.Context, m *chat.ConnectionManager) (*chat.Connection, error) {
	if auth := cfg.ChatAuth(); auth != nil {
		return m.ConnectAuthenticated(ctx, *auth)
	}
	return m.ConnectUnauthenticated(ctx)
}
