package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/omochice/chatnet/internal/chat"
	"github.com/omochice/chatnet/internal/logging"
)

var (
	listenReconnect bool
	listenBackoff   time.Duration
	listenNoAck     bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print incoming messages until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().BoolVar(&listenReconnect, "reconnect", false, "Reconnect after a retryable interruption")
	listenCmd.Flags().DurationVar(&listenBackoff, "backoff", 5*time.Second, "Minimum time between reconnects")
	listenCmd.Flags().BoolVar(&listenNoAck, "no-ack", false, "Leave incoming messages unacknowledged")
}

// logListener logs every event and reports the interruption on stopped
// when it is not nil.
func logListener(logger *slog.Logger, stopped chan<- error) chat.ListenerFuncs {
	return chat.ListenerFuncs{
		OnIncomingMessage: func(envelope []byte, ts time.Time, ack *chat.ServerMessageAck) {
			logger.Debug("incoming message", "size", len(envelope), "timestamp", ts)
		},
		OnQueueEmpty: func() {
			logger.Debug("message queue drained")
		},
		OnInterrupted: func(cause error) {
			logger.Info("connection interrupted", "cause", cause)
			if stopped != nil {
				stopped <- cause
			}
		},
	}
}

// printingListener prints envelopes to stdout and acknowledges them.
func printingListener(ctx context.Context, logger *slog.Logger, stopped chan<- error) chat.Listener {
	l := logListener(logger, stopped)
	l.OnIncomingMessage = func(envelope []byte, ts time.Time, ack *chat.ServerMessageAck) {
		fmt.Fprintf(os.Stdout, "%s\t%s\n", ts.Format(time.RFC3339Nano), envelope)
		if listenNoAck {
			return
		}
		if err := ack.Send(ctx); err != nil {
			logger.Warn("failed to acknowledge message", "error", err)
		}
	}
	l.OnQueueEmpty = func() {
		fmt.Fprintln(os.Stderr, "-- queue empty --")
	}
	return l
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := logging.WithComponent("cli")

	m, err := newManager()
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Every(listenBackoff), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		cause, err := listenOnce(ctx, m, logger)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			var connErr *chat.ConnectionError
			if !listenReconnect || (errors.As(err, &connErr) && connErr.Stage == chat.StageHandshake) {
				return err
			}
			logger.Warn("connect failed, retrying", "error", err, "backoff", listenBackoff)
		case !listenReconnect || !chat.IsRetryable(cause):
			return cause
		default:
			logger.Info("reconnecting", "cause", cause, "backoff", listenBackoff)
		}
	}
}

// listenOnce connects and blocks until the connection ends or ctx is done.
// cause is why an established connection ended.
func listenOnce(ctx context.Context, m *chat.ConnectionManager, logger *slog.Logger) (cause, err error) {
	conn, err := connect(ctx, m)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	info := conn.Info()
	logger.Info("listening", "conn_id", conn.ID(), "route", info.Route, "local_port", info.LocalPort)

	stopped := make(chan error, 1)
	conn.InitListener(printingListener(ctx, logger, stopped))

	select {
	case cause := <-stopped:
		return cause, nil
	case <-ctx.Done():
		_ = conn.Disconnect()
		return nil, nil
	}
}
