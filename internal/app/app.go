package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offset-rewards/internal/alerting"
	"offset-rewards/internal/badge"
	"offset-rewards/internal/chain"
	"offset-rewards/internal/config"
	"offset-rewards/internal/scheduler"
	"offset-rewards/internal/service"
	"offset-rewards/internal/storage"
	"offset-rewards/internal/telemetry"
	"offset-rewards/internal/voting"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newCalculator() voting.Calculator {
	params := voting.DefaultParams()
	gov := a.Config.Governance
	params.BasePowerPerKW = decimal.NewFromFloat(gov.BasePowerPerKW)
	params.PointsMultiplier = decimal.NewFromFloat(gov.PointsMultiplier)
	params.BonusThresholdTons = decimal.NewFromFloat(gov.BonusThresholdTons)
	params.BonusPct = decimal.NewFromFloat(gov.BonusPct)
	params.ProposalThreshold = decimal.NewFromFloat(gov.ProposalThreshold)
	params.Quorum = decimal.NewFromFloat(gov.Quorum)
	params.VotingPeriod = a.Config.VotingPeriodOrDefault()
	return voting.NewCalculator(params)
}

func (a *App) newHoldingsSource() chain.HoldingsSource {
	return chain.NewRegistry(chain.RegistryOptions{
		RPCURL:          a.Config.Ethereum.RPCURL,
		RegistryAddress: a.Config.Ethereum.RegistryAddress,
		Timeout:         a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newLedger(ctx context.Context, store *storage.Store) (*badge.Ledger, error) {
	var badgeStore badge.Store
	if store != nil {
		badgeStore = store
	}
	return badge.NewLedger(ctx, badge.DefaultCatalog(), badgeStore, a.Logger)
}

// Run executes the long-running rewards service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	ledger, err := a.newLedger(ctx, store)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	notifier := a.newNotifier()

	var source telemetry.Source
	var records storage.OffsetRecordStore
	if store != nil {
		source = store
		records = store
	} else {
		source = &staticTelemetrySource{}
	}

	svc := service.New(a.Config, sched, source, records, ledger, notifier, a.Logger)

	a.Logger.Info().Int("users", len(a.Config.Rewards.Users)).Msg("starting rewards service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("rewards service stopped")
	return nil
}

// staticTelemetrySource keeps the service loop alive without a database.
type staticTelemetrySource struct{}

func (s *staticTelemetrySource) FetchSamples(ctx context.Context, userID string, from, to time.Time) ([]telemetry.Sample, error) {
	return nil, nil
}

// ExportOptions hold parameters for exporting a user's reward history.
type ExportOptions struct {
	UserID    string
	From      *time.Time
	To        *time.Time
	JSONPath  string
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	UserID string
	Limit  int
}

// PowerOptions configure the power command.
type PowerOptions struct {
	UserID  string
	Address string
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	UserID string
	From   time.Time
	To     time.Time
	DryRun bool
}

// TrackOptions configure the track command.
type TrackOptions struct {
	Hash  string
	Type  string
	From  string
	To    string
	Value float64
}

// SimulateOptions configure the simulate-award command.
type SimulateOptions struct {
	UserID     string
	OffsetTons float64
	Period     string
}
