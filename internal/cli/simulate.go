package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"offset-rewards/internal/app"
)

var (
	simulateUser   string
	simulateTons   float64
	simulatePeriod string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-award",
	Short: "模拟一次徽章解锁并触发通知",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateUser == "" {
			return errors.New("--user 必须配置")
		}
		if simulateTons <= 0 {
			return errors.New("--tons 必须大于 0")
		}

		opts := app.SimulateOptions{
			UserID:     simulateUser,
			OffsetTons: simulateTons,
			Period:     simulatePeriod,
		}

		return getApp().SimulateAward(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateUser, "user", "", "模拟用户标识")
	simulateCmd.Flags().Float64Var(&simulateTons, "tons", 0, "模拟抵消吨数")
	simulateCmd.Flags().StringVar(&simulatePeriod, "period", "monthly", "记录周期 (daily/weekly/monthly/yearly)")
}
