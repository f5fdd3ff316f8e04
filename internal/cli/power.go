package cli

import (
	"github.com/spf13/cobra"

	"offset-rewards/internal/app"
)

var (
	powerUser    string
	powerAddress string
)

var powerCmd = &cobra.Command{
	Use:   "power",
	Short: "Compute the voting power breakdown for an asset owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PowerOptions{
			UserID:  powerUser,
			Address: powerAddress,
		}

		return getApp().Power(cmd.Context(), opts)
	},
}

func init() {
	powerCmd.Flags().StringVar(&powerUser, "user", "", "User identifier for points and lifetime offset lookup")
	powerCmd.Flags().StringVar(&powerAddress, "address", "", "Ethereum address holding the energy assets")
}
