/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/quote-stream-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// streamGatewayCmd represents the stream-gateway command
var streamGatewayCmd = &cobra.Command{
	Use:   "stream-gateway",
	Short: "Client facing websocket quote stream",
	Long: `Stream gateway accepts client websocket connections on /ws/stocks/, checks the
user's live data entitlement once and streams price updates for the tickers the user holds.`,
	Run: bootstrap.StartStreamGateway,
}

func init() {
	rootCmd.AddCommand(streamGatewayCmd)
}
