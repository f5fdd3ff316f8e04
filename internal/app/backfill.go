package app

import (
	"context"
	"errors"
	"time"

	"offset-rewards/internal/offset"
)

// Backfill re-aggregates historical daily buckets from stored telemetry。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.UserID == "" {
		return errors.New("--user must be provided")
	}

	start := alignForward(opts.From.UTC(), 24*time.Hour)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法回填")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	}

	processed := 0
	failed := 0
	for bucket := start; bucket.Before(end); bucket = bucket.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		from, to := offset.PeriodWindow(offset.Daily, bucket)
		samples, err := store.FetchSamples(ctx, opts.UserID, from, to)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Time("bucket", bucket).Msg("回填失败")
			continue
		}

		rec := offset.Aggregate(samples, offset.Daily, opts.UserID, bucket)
		if opts.DryRun {
			a.Logger.Info().
				Time("bucket", bucket).
				Str("offset_tons", rec.TotalOffset.String()).
				Msg("dry-run bucket aggregated")
			processed++
			continue
		}

		if err := store.UpsertOffsetRecord(ctx, rec, from); err != nil {
			failed++
			a.Logger.Error().Err(err).Time("bucket", bucket).Msg("回填失败")
			continue
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("回填完成")
	if failed > 0 {
		return errors.New("部分 bucket 回填失败，请检查日志")
	}
	return nil
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
