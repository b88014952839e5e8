package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sxwebdev/espflash/internal/espflash"
	"github.com/sxwebdev/espflash/internal/transport"
)

var (
	pingPort string
	pingBaud int
)

func init() {
	pingCmd.Flags().StringVar(&pingPort, "port", "", "serial port the target is attached to (required)")
	pingCmd.Flags().IntVar(&pingBaud, "baud", 115200, "baud rate to sync at")
	_ = pingCmd.MarkFlagRequired("port")
	rootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity and report the detected chip, without writing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := transport.Open(pingPort, pingBaud)
		if err != nil {
			return fmt.Errorf("open %s: %w", pingPort, err)
		}
		defer tr.Close()

		orch := espflash.NewOrchestrator(tr, espflash.NoStubs{}, espflash.Config{InitialBaud: pingBaud})
		defer orch.Close()

		kind, err := orch.Ping()
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		fmt.Printf("%s detected on %s\n", kind, pingPort)
		return nil
	},
}
