/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/quote-stream-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// feedNodeCmd represents the feed-node command
var feedNodeCmd = &cobra.Command{
	Use:   "feed-node",
	Short: "Upstream feed receiver, distributor and supervisor",
	Long: `Feed node holds the single upstream quote connection and bridges it to the broadcast groups.

This service:
- Keeps the upstream subscriptions in line with the tickers users hold
- Publishes every priced tick on the distribution channel
- Forwards ticks to the per-ticker broadcast groups
- Restarts the receiver or distributor when its heartbeat goes stale

Run exactly one feed node per redis deployment.`,
	Run: bootstrap.StartFeedNode,
}

func init() {
	rootCmd.AddCommand(feedNodeCmd)
}
