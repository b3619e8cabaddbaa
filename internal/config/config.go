package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"pricewatch/internal/logging"
	"pricewatch/internal/rules"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Binance  BinanceConfig  `mapstructure:"binance"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	State    StateConfig    `mapstructure:"state"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// MonitorConfig governs the check cycle and alert evaluation.
type MonitorConfig struct {
	CheckInterval          time.Duration  `mapstructure:"check_interval"`
	Cooldown               time.Duration  `mapstructure:"cooldown"`
	Retention              time.Duration  `mapstructure:"retention"`
	MaxRules               int            `mapstructure:"max_rules"`
	AnomalyCeilingPct      float64        `mapstructure:"anomaly_ceiling_pct"`
	ErrorBackoff           time.Duration  `mapstructure:"error_backoff"`
	AlertRetries           int            `mapstructure:"alert_retries"`
	AlertRetryDelay        time.Duration  `mapstructure:"alert_retry_delay"`
	DirectionAwareCooldown bool           `mapstructure:"direction_aware_cooldown"`
	StartupNotification    bool           `mapstructure:"startup_notification"`
	AdvisoryLockKey        int64          `mapstructure:"advisory_lock_key"`
	AlignToInterval        bool           `mapstructure:"align_to_interval"`
	StartupDelay           time.Duration  `mapstructure:"startup_delay"`
	Defaults               DefaultsConfig `mapstructure:"defaults"`
}

// DefaultsConfig seeds the rule set when no persisted state exists.
// Windows maps window minutes to threshold percent.
type DefaultsConfig struct {
	Symbols []string           `mapstructure:"symbols"`
	Windows map[string]float64 `mapstructure:"windows"`
}

// BinanceConfig covers the public price endpoints.
type BinanceConfig struct {
	SpotBaseURL    string        `mapstructure:"spot_base_url"`
	FuturesBaseURL string        `mapstructure:"futures_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Retries        int           `mapstructure:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// TelegramConfig 描述 Telegram 机器人参数。
type TelegramConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BotToken     string        `mapstructure:"bot_token"`
	ChatID       int64         `mapstructure:"chat_id"`
	APIEndpoint  string        `mapstructure:"api_endpoint"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	PollPause    time.Duration `mapstructure:"poll_pause"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// ProxyConfig routes outbound HTTP through a proxy.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// StateConfig locates the persisted JSON documents.
type StateConfig struct {
	RulesFile      string `mapstructure:"rules_file"`
	HistoryFile    string `mapstructure:"history_file"`
	PersistHistory bool   `mapstructure:"persist_history"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the audit mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// MetricsConfig exposes the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
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
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitor.check_interval", "60s")
	v.SetDefault("monitor.cooldown", "300s")
	v.SetDefault("monitor.retention", "24h")
	v.SetDefault("monitor.max_rules", 20)
	v.SetDefault("monitor.anomaly_ceiling_pct", 1000.0)
	v.SetDefault("monitor.error_backoff", "30s")
	v.SetDefault("monitor.alert_retries", 3)
	v.SetDefault("monitor.alert_retry_delay", "1s")
	v.SetDefault("monitor.direction_aware_cooldown", false)
	v.SetDefault("monitor.startup_notification", true)
	v.SetDefault("monitor.advisory_lock_key", int64(0x70726963))
	v.SetDefault("monitor.align_to_interval", false)
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.defaults.symbols", []string{
		"BTCUSDT_PERP", "ETHUSDT_PERP", "BNBUSDT_PERP", "DOGEUSDT_PERP", "SOLUSDT_PERP",
	})
	v.SetDefault("monitor.defaults.windows", map[string]float64{"5": 0.5, "15": 1.0, "60": 2.0})

	v.SetDefault("binance.spot_base_url", "https://api.binance.com")
	v.SetDefault("binance.futures_base_url", "https://fapi.binance.com")
	v.SetDefault("binance.request_timeout", "10s")
	v.SetDefault("binance.user_agent", "")
	v.SetDefault("binance.retries", 3)
	v.SetDefault("binance.retry_delay", "1s")

	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", int64(0))
	v.SetDefault("telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("telegram.poll_timeout", "30s")
	v.SetDefault("telegram.poll_pause", "1s")
	v.SetDefault("telegram.error_backoff", "5s")

	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.url", "")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("state.rules_file", "bot_state.json")
	v.SetDefault("state.history_file", "price_history.json")
	v.SetDefault("state.persist_history", true)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.dsn", "")
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
	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("monitor.check_interval must be greater than zero")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown cannot be negative")
	}
	if c.Monitor.StartupDelay < 0 {
		return fmt.Errorf("monitor.startup_delay cannot be negative")
	}
	if c.Monitor.Retention <= 0 {
		return fmt.Errorf("monitor.retention must be greater than zero")
	}
	if c.Monitor.MaxRules <= 0 {
		return fmt.Errorf("monitor.max_rules must be greater than zero")
	}
	if c.Monitor.AnomalyCeilingPct <= 0 {
		return fmt.Errorf("monitor.anomaly_ceiling_pct must be greater than zero")
	}
	if _, err := c.DefaultWindows(); err != nil {
		return err
	}
	if c.Binance.SpotBaseURL == "" || c.Binance.FuturesBaseURL == "" {
		return fmt.Errorf("binance base urls must be configured")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token 必须配置")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id 必须配置")
		}
	}
	if c.Proxy.Enabled && c.Proxy.URL == "" {
		return fmt.Errorf("proxy.url is required when proxy is enabled")
	}
	if c.State.RulesFile == "" {
		return fmt.Errorf("state.rules_file must be set")
	}
	if c.State.PersistHistory && c.State.HistoryFile == "" {
		return fmt.Errorf("state.history_file must be set when persist_history is on")
	}
	return nil
}

// DefaultWindows converts the configured window map into sorted pairs.
func (c *Config) DefaultWindows() ([]rules.WindowThreshold, error) {
	out := make([]rules.WindowThreshold, 0, len(c.Monitor.Defaults.Windows))
	for raw, threshold := range c.Monitor.Defaults.Windows {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			return nil, fmt.Errorf("monitor.defaults.windows: invalid window %q", raw)
		}
		if threshold <= 0 {
			return nil, fmt.Errorf("monitor.defaults.windows: threshold for %s must be positive", raw)
		}
		out = append(out, rules.WindowThreshold{WindowMinutes: minutes, ThresholdPct: decimal.NewFromFloat(threshold)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowMinutes < out[j].WindowMinutes })
	return out, nil
}

// ProxyURL returns the proxy to use, or "" when disabled.
func (c *Config) ProxyURL() string {
	if !c.Proxy.Enabled {
		return ""
	}
	return c.Proxy.URL
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
