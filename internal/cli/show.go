package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"offset-rewards/internal/app"
)

var (
	showUser  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a user's recent offset records and badges",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			UserID: showUser,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showUser, "user", "", "User identifier")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
}
