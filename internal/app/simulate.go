package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"offset-rewards/internal/badge"
	"offset-rewards/internal/offset"
	"offset-rewards/internal/service"
)

// SimulateAward 以给定的抵消吨数模拟一次徽章解锁流程。
// State lives only in memory; nothing is persisted.
func (a *App) SimulateAward(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	period := offset.PeriodKind(opts.Period)
	switch period {
	case offset.Daily, offset.Weekly, offset.Monthly, offset.Yearly:
	default:
		return errors.New("--period 必须是 daily/weekly/monthly/yearly 之一")
	}

	tons := decimal.NewFromFloat(opts.OffsetTons)
	if !tons.IsPositive() {
		return errors.New("--tons 必须大于 0")
	}

	ledger, err := a.newLedger(ctx, nil)
	if err != nil {
		return err
	}

	rec := offset.Record{
		UserID:      opts.UserID,
		Period:      period,
		TotalOffset: tons,
		Verified:    true,
		GeneratedAt: time.Now().UTC(),
	}
	facts := badge.Facts{LifetimeOffsetTons: tons}

	svc := service.New(a.Config, nil, nil, nil, ledger, notifier, a.Logger)
	svc.AwardEligible(ctx, opts.UserID, rec, facts)

	stats := ledger.Stats(opts.UserID)
	a.Logger.Info().
		Str("user", opts.UserID).
		Int("badges", stats.TotalBadges).
		Int64("points", stats.TotalPoints).
		Msg("simulation finished")
	return nil
}
