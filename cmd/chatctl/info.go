package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var infoRoutesOnly bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Connect and print how the connection was made",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().BoolVar(&infoRoutesOnly, "routes", false, "Only print the routes that would be tried")
}

func runInfo(cmd *cobra.Command, args []string) error {
	m, err := newManager()
	if err != nil {
		return err
	}

	for i, r := range m.Routes() {
		fmt.Fprintf(os.Stdout, "route %d: %s %s\n", i+1, r, r.URL(cfg.RouteEnvironment().Chat.Path))
	}
	if infoRoutesOnly {
		return nil
	}

	conn, err := connect(cmd.Context(), m)
	if err != nil {
		return err
	}
	// The connection never gets a listener; Close releases it while pending.
	defer conn.Close()

	info := conn.Info()
	fmt.Fprintf(os.Stdout, "connection %s\n", conn.ID())
	fmt.Fprintf(os.Stdout, "  route:      %s\n", info.Route)
	fmt.Fprintf(os.Stdout, "  local port: %d\n", info.LocalPort)
	fmt.Fprintf(os.Stdout, "  ip version: %s\n", info.IPVersion)
	return nil
}
