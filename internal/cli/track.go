package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"offset-rewards/internal/app"
)

var (
	trackHash  string
	trackType  string
	trackFrom  string
	trackTo    string
	trackValue float64
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track a submitted transaction until it confirms or fails",
	RunE: func(cmd *cobra.Command, args []string) error {
		if trackHash == "" {
			return fmt.Errorf("--hash must be provided")
		}

		opts := app.TrackOptions{
			Hash:  trackHash,
			Type:  trackType,
			From:  trackFrom,
			To:    trackTo,
			Value: trackValue,
		}

		return getApp().Track(cmd.Context(), opts)
	},
}

func init() {
	trackCmd.Flags().StringVar(&trackHash, "hash", "", "Transaction hash to track")
	trackCmd.Flags().StringVar(&trackType, "type", "energy_trade", "Transaction type tag")
	trackCmd.Flags().StringVar(&trackFrom, "from", "", "Sender address")
	trackCmd.Flags().StringVar(&trackTo, "to", "", "Recipient address")
	trackCmd.Flags().Float64Var(&trackValue, "value", 0, "Transaction value")
}
