// Command chatmock runs an in-process fake chat service for local testing.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/chatnet/internal/chattest"
	"github.com/omochice/chatnet/internal/logging"
	"github.com/omochice/chatnet/pkg/protocol"
)

var (
	addr         string
	requireAuth  string
	rejectStatus int
	pushEvery    time.Duration
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:           "chatmock",
	Short:         "Run a fake chat service",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Address to listen on")
	rootCmd.Flags().StringVar(&requireAuth, "require-auth", "", "Require basic credentials as user:password")
	rootCmd.Flags().IntVar(&rejectStatus, "reject", 0, "Reject every handshake with this HTTP status")
	rootCmd.Flags().DurationVar(&pushEvery, "push-every", 0, "Push a message to every client at this interval")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logging.Config{Level: logLevel}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Close()
	logger := logging.WithComponent("chattest")

	srv := chattest.New()
	srv.Handle(http.MethodGet, "/v1/ping", func(*chattest.Client, *protocol.Request) *protocol.Response {
		return chattest.Reply(http.StatusOK, []byte("pong"))
	})
	srv.Handle(http.MethodPut, "/v1/echo", func(_ *chattest.Client, req *protocol.Request) *protocol.Response {
		return chattest.Reply(http.StatusOK, req.Body)
	})
	if requireAuth != "" {
		user, pass, ok := strings.Cut(requireAuth, ":")
		if !ok {
			return fmt.Errorf("--require-auth must be user:password")
		}
		srv.RequireAuth(user, pass)
	}
	if rejectStatus != 0 {
		srv.RejectWith(rejectStatus)
	}

	if err := srv.Start(addr); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var tick <-chan time.Time
	if pushEvery > 0 {
		ticker := time.NewTicker(pushEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	var n int
	for {
		select {
		case <-tick:
			n++
			id := srv.PushMessage([]byte(fmt.Sprintf("message %d", n)), time.Now())
			logger.Debug("pushed message", "id", id, "clients", srv.ClientCount())
		case ack := <-srv.Acks():
			logger.Info("message acknowledged", "client", ack.ClientID, "id", ack.ID, "status", ack.Status)
		case sig := <-sigChan:
			logger.Info("shutting down", "signal", sig.String())
			srv.Stop()
			return nil
		}
	}
}
