package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offset-rewards/internal/alerting"
	"offset-rewards/internal/badge"
	"offset-rewards/internal/config"
	"offset-rewards/internal/offset"
	"offset-rewards/internal/scheduler"
	"offset-rewards/internal/storage"
	"offset-rewards/internal/telemetry"
)

// Periods aggregated on every tick. Daily records feed the lifetime
// milestone projection; monthly and yearly records gate their badge
// categories directly.
var tickPeriods = []offset.PeriodKind{offset.Daily, offset.Monthly, offset.Yearly}

// Service orchestrates telemetry aggregation, badge bookkeeping, and
// unlock notifications.
type Service struct {
	scheduler *scheduler.Scheduler
	source    telemetry.Source
	records   storage.OffsetRecordStore
	ledger    *badge.Ledger
	notifier  alerting.Notifier
	logger    zerolog.Logger

	users    []string
	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the rewards service.
func New(cfg *config.Config, sched *scheduler.Scheduler, source telemetry.Source, records storage.OffsetRecordStore, ledger *badge.Ledger, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := records.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		source:    source,
		records:   records,
		ledger:    ledger,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		users:     cfg.Rewards.Users,
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned aggregation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的聚合逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	// One user's failure must not starve the others.
	for _, userID := range s.users {
		if err := s.ProcessUser(ctx, userID, bucket); err != nil {
			s.logger.Error().Err(err).Str("user", userID).Time("bucket", bucket).Msg("user aggregation failed")
		}
	}
	return nil
}

// ProcessUser aggregates the user's current daily, monthly, and yearly
// windows, persists the superseding records, and awards any newly
// eligible badges.
func (s *Service) ProcessUser(ctx context.Context, userID string, now time.Time) error {
	records := make(map[offset.PeriodKind]offset.Record, len(tickPeriods))
	for _, period := range tickPeriods {
		from, to := offset.PeriodWindow(period, now)
		samples, err := s.source.FetchSamples(ctx, userID, from, to)
		if err != nil {
			return fmt.Errorf("fetch telemetry for %s/%s: %w", userID, period, err)
		}

		rec := offset.Aggregate(samples, period, userID, now)
		if s.records != nil {
			if err := s.records.UpsertOffsetRecord(ctx, rec, from); err != nil {
				return fmt.Errorf("persist %s record: %w", period, err)
			}
		}
		records[period] = rec
	}

	lifetime := decimal.Zero
	if s.records != nil {
		total, err := s.records.SumDailyOffsets(ctx, userID)
		if err != nil {
			return fmt.Errorf("project lifetime offset: %w", err)
		}
		lifetime = total
	}

	// Special-badge facts come from the governance collaborator; the
	// scheduled loop carries none.
	facts := badge.Facts{LifetimeOffsetTons: lifetime}

	for _, period := range tickPeriods {
		s.AwardEligible(ctx, userID, records[period], facts)
	}

	s.logger.Info().
		Str("user", userID).
		Str("monthly_offset", records[offset.Monthly].TotalOffset.String()).
		Str("lifetime_offset", lifetime.String()).
		Msg("user aggregated")
	return nil
}

// AwardEligible runs the eligibility check for one record and awards each
// qualifying badge, dispatching unlock notifications. Award failures are
// logged, not fatal: the idempotent award retries cleanly on the next tick.
func (s *Service) AwardEligible(ctx context.Context, userID string, rec offset.Record, facts badge.Facts) {
	if s.ledger == nil {
		return
	}
	for _, b := range s.ledger.CheckEligibility(userID, rec, facts) {
		awarded, err := s.ledger.Award(ctx, userID, b.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("user", userID).Str("badge", b.ID).Msg("award persistence failed")
		}
		if !awarded {
			continue
		}
		s.notifyUnlock(ctx, userID, b)
	}
}

func (s *Service) notifyUnlock(ctx context.Context, userID string, b badge.Badge) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	stats := s.ledger.Stats(userID)
	note := alerting.Notification{
		UserID:      userID,
		Badge:       b,
		UnlockedAt:  time.Now().UTC(),
		TotalPoints: stats.TotalPoints,
		Channels:    s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("user", userID).Str("badge", b.ID).Msg("failed to dispatch unlock notification")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
