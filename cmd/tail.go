/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/quote-stream-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// tailCmd represents the tail command
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the price frames a stream gateway sends to one api key",
	Long: `tail connects to a stream gateway as a regular client and logs every price frame it receives.

Useful to check entitlement and holdings of an api key end to end.`,
	Run: bootstrap.StartTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().String("url", "ws://localhost:8080/ws/stocks/", "stream gateway websocket url")
	tailCmd.Flags().String("api-key", "", "api key sent in the X-API-Key header")
}
