package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/qzbxw/velox-sub000/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	LiveFeed  LiveFeedConfig  `mapstructure:"livefeed"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Groups    []GroupConfig   `mapstructure:"groups"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN runs with in-memory storage.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ExchangeConfig covers the exchange info API.
type ExchangeConfig struct {
	BaseURL         string            `mapstructure:"base_url"`
	RequestTimeout  time.Duration     `mapstructure:"request_timeout"`
	UserAgent       string            `mapstructure:"user_agent"`
	FundingLookback time.Duration     `mapstructure:"funding_lookback"`
	MaxConcurrency  int               `mapstructure:"max_concurrency"`
	MidsTTL         time.Duration     `mapstructure:"mids_ttl"`
	SpotMetaRefresh time.Duration     `mapstructure:"spot_meta_refresh"`
	SpotAliases     map[string]string `mapstructure:"spot_aliases"`
}

// LiveFeedConfig covers the websocket mid-price stream.
type LiveFeedConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

// MonitorConfig tunes the state machine driver.
type MonitorConfig struct {
	EmitAlerts     bool `mapstructure:"emit_alerts"`
	PrimeFirstPass bool `mapstructure:"prime_first_pass"`
	MaxReportCoins int  `mapstructure:"max_report_coins"`
}

// GroupConfig is one monitored set of wallets with its own state and alert destination.
type GroupConfig struct {
	Name           string   `mapstructure:"name"`
	Wallets        []string `mapstructure:"wallets"`
	TelegramChatID string   `mapstructure:"telegram_chat_id"`
	Channels       []string `mapstructure:"channels"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HTTPConfig controls the status server.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// RetentionConfig bounds stored history; zero keeps rows forever.
type RetentionConfig struct {
	Snapshots time.Duration `mapstructure:"snapshots"`
	Alerts    time.Duration `mapstructure:"alerts"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VELOX")
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
	v.SetDefault("app.name", "velox")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x76656c78))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("exchange.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("exchange.request_timeout", "10s")
	v.SetDefault("exchange.funding_lookback", "720h")
	v.SetDefault("exchange.max_concurrency", 8)
	v.SetDefault("exchange.mids_ttl", "15s")
	v.SetDefault("exchange.spot_meta_refresh", "1h")

	v.SetDefault("livefeed.enabled", true)
	v.SetDefault("livefeed.url", "wss://api.hyperliquid.xyz/ws")
	v.SetDefault("livefeed.stale_after", "2m")
	v.SetDefault("livefeed.initial_backoff", "2s")
	v.SetDefault("livefeed.max_backoff", "1m")
	v.SetDefault("livefeed.ping_interval", "30s")

	v.SetDefault("monitor.emit_alerts", true)
	v.SetDefault("monitor.prime_first_pass", true)
	v.SetDefault("monitor.max_report_coins", 10)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", ":9464")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("retention.snapshots", "720h")
	v.SetDefault("retention.alerts", "2160h")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
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

// Validate performs sanity checks and canonicalises group wallets in place.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Exchange.MaxConcurrency < 0 {
		return fmt.Errorf("exchange.max_concurrency cannot be negative")
	}
	if c.Retention.Snapshots < 0 || c.Retention.Alerts < 0 {
		return fmt.Errorf("retention windows cannot be negative")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token 必须配置")
	}

	seen := make(map[string]struct{}, len(c.Groups))
	for i := range c.Groups {
		g := &c.Groups[i]
		g.Name = strings.TrimSpace(g.Name)
		if g.Name == "" {
			return fmt.Errorf("groups[%d].name is required", i)
		}
		if _, dup := seen[g.Name]; dup {
			return fmt.Errorf("duplicate group %q", g.Name)
		}
		seen[g.Name] = struct{}{}

		wallets, err := NormalizeWallets(g.Wallets)
		if err != nil {
			return fmt.Errorf("groups[%s]: %w", g.Name, err)
		}
		if len(wallets) == 0 {
			return fmt.Errorf("groups[%s]: at least one wallet is required", g.Name)
		}
		g.Wallets = wallets

		if c.Alerting.Telegram.Enabled && g.TelegramChatID == "" && c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("groups[%s]: telegram chat_id 必须配置", g.Name)
		}
	}
	return nil
}

// NormalizeWallets validates hex addresses and returns them lowercased and de-duplicated
// in first-seen order.
func NormalizeWallets(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, w := range raw {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if !common.IsHexAddress(w) {
			return nil, fmt.Errorf("invalid wallet address %q", w)
		}
		canon := strings.ToLower(common.HexToAddress(w).Hex())
		if _, ok := seen[canon]; ok {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}
	return out, nil
}

// Group returns the named group.
func (c *Config) Group(name string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupConfig{}, false
}

// GroupNames lists configured groups in order.
func (c *Config) GroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for _, g := range c.Groups {
		names = append(names, g.Name)
	}
	return names
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
