package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omochice/chatnet/internal/chat"
	"github.com/omochice/chatnet/internal/logging"
)

var (
	sendBody    string
	sendHeaders []string
	sendDebug   bool
)

var sendCmd = &cobra.Command{
	Use:   "send METHOD PATH",
	Short: "Send one request and print the response",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendBody, "body", "b", "", "Request body")
	sendCmd.Flags().StringArrayVarP(&sendHeaders, "header", "H", nil, "Request header as 'Name: value' (repeatable)")
	sendCmd.Flags().BoolVar(&sendDebug, "debug-info", false, "Print route and timing of the request")
}

func buildRequest(method, path, body string, headers []string) (*chat.Request, error) {
	var payload []byte
	if body != "" {
		payload = []byte(body)
	}
	req, err := chat.NewRequest(strings.ToUpper(method), path, payload)
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("header %q is not in 'Name: value' form", h)
		}
		if err := req.AddHeader(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args[0], args[1], sendBody, sendHeaders)
	if err != nil {
		return err
	}

	m, err := newManager()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	conn, err := connect(ctx, m)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Messages pushed during the request stay unacknowledged so the server
	// delivers them again to a listening client.
	conn.InitListener(logListener(logging.Chat(), nil))

	resp, info, err := conn.SendAndDebug(ctx, req, cfg.Timeouts.Request)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	fmt.Fprintf(os.Stdout, "%d %s\n", resp.Status, resp.Message)
	for name, values := range resp.Header {
		for _, v := range values {
			fmt.Fprintf(os.Stdout, "%s: %s\n", name, v)
		}
	}
	if len(resp.Body) > 0 {
		fmt.Fprintf(os.Stdout, "\n%s\n", resp.Body)
	}
	if sendDebug {
		fmt.Fprintf(os.Stderr, "route=%s ip=%s duration=%s\n", info.Route, info.IPVersion, info.Duration)
	}
	return conn.Disconnect()
}
