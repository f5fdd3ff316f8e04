package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"offset-rewards/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Rewards    RewardsConfig    `mapstructure:"rewards"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs aggregation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// RewardsConfig selects which users the service aggregates and the rate
// used for progress estimates.
type RewardsConfig struct {
	Users             []string `mapstructure:"users"`
	DailyAverageTons  float64  `mapstructure:"daily_average_tons"`
	RecentRecordLimit int      `mapstructure:"recent_record_limit"`
}

// GovernanceConfig fixes the voting power formula and thresholds.
type GovernanceConfig struct {
	BasePowerPerKW     float64       `mapstructure:"base_power_per_kw"`
	PointsMultiplier   float64       `mapstructure:"points_multiplier"`
	BonusThresholdTons float64       `mapstructure:"bonus_threshold_tons"`
	BonusPct           float64       `mapstructure:"bonus_pct"`
	ProposalThreshold  float64       `mapstructure:"proposal_threshold"`
	Quorum             float64       `mapstructure:"quorum"`
	VotingPeriod       time.Duration `mapstructure:"voting_period"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	RegistryAddress string        `mapstructure:"registry_address"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RequiredDepth   uint64        `mapstructure:"required_depth"`
}

// TrackerConfig bounds the transaction confirmation wait.
type TrackerConfig struct {
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

// AlertingConfig defines badge unlock notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OFFSETREWARDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "offsetd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f667273))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("rewards.daily_average_tons", 0.0)
	v.SetDefault("rewards.recent_record_limit", 30)

	v.SetDefault("governance.base_power_per_kw", 100.0)
	v.SetDefault("governance.points_multiplier", 0.1)
	v.SetDefault("governance.bonus_threshold_tons", 10.0)
	v.SetDefault("governance.bonus_pct", 0.05)
	v.SetDefault("governance.proposal_threshold", 10000.0)
	v.SetDefault("governance.quorum", 100000.0)
	v.SetDefault("governance.voting_period", "168h")

	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.poll_interval", "5s")
	v.SetDefault("ethereum.required_depth", uint64(3))

	v.SetDefault("tracker.confirm_timeout", "10m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Governance.BasePowerPerKW <= 0 {
		return fmt.Errorf("governance.base_power_per_kw must be greater than zero")
	}
	if c.Governance.BonusThresholdTons <= 0 {
		return fmt.Errorf("governance.bonus_threshold_tons must be greater than zero")
	}
	if c.Governance.BonusPct < 0 {
		return fmt.Errorf("governance.bonus_pct cannot be negative")
	}
	if c.Governance.ProposalThreshold < 0 {
		return fmt.Errorf("governance.proposal_threshold cannot be negative")
	}
	if c.Tracker.ConfirmTimeout <= 0 {
		return fmt.Errorf("tracker.confirm_timeout must be greater than zero")
	}
	if c.Rewards.RecentRecordLimit <= 0 {
		return fmt.Errorf("rewards.recent_record_limit must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// VotingPeriodOrDefault guards against a zero voting period from partial config.
func (c *Config) VotingPeriodOrDefault() time.Duration {
	if c.Governance.VotingPeriod > 0 {
		return c.Governance.VotingPeriod
	}
	return 7 * 24 * time.Hour
}
