package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Upbit    Upbit    `mapstructure:"upbit"`
	Trading  Trading  `mapstructure:"trading"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Upbit holds the configuration for the Upbit API.
type Upbit struct {
	AccessKey      string        `mapstructure:"access_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	BaseURL        string        `mapstructure:"base_url"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Server holds the configuration for the status/metrics server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// ThresholdBucket assigns skip and take-profit percentages to every open
// position count below Below. A zero Below marks the catch-all bucket.
type ThresholdBucket struct {
	Below         int     `mapstructure:"below"`
	SkipWithinPct float64 `mapstructure:"skip_within_pct"`
	TakeProfitPct float64 `mapstructure:"take_profit_pct"`
}

// AllocationBucket spreads the balance over Slots minus the open count.
// Slots of zero commits the whole balance.
type AllocationBucket struct {
	Below int `mapstructure:"below"`
	Slots int `mapstructure:"slots"`
}

// Trading holds the configuration for the trading logic.
type Trading struct {
	Markets          []string           `mapstructure:"markets"`
	QuoteCurrency    string             `mapstructure:"quote_currency"`
	BuyAmount        float64            `mapstructure:"buy_amount"` // 0 switches to auto mode
	TakeProfitPct    float64            `mapstructure:"take_profit_pct"`
	SkipBuyWithinPct float64            `mapstructure:"skip_buy_within_pct"`
	Interval         time.Duration      `mapstructure:"interval"`
	MarketDelay      time.Duration      `mapstructure:"market_delay"`
	BuyFillTimeout   time.Duration      `mapstructure:"buy_fill_timeout"`
	MaxOpenPerMarket int                `mapstructure:"max_open_per_market"`
	MinBalance       float64            `mapstructure:"min_balance"`
	MinOrderAmount   float64            `mapstructure:"min_order_amount"`
	OrderUnit        float64            `mapstructure:"order_unit"`
	RepairThreshold  int                `mapstructure:"repair_threshold"`
	DryRun           bool               `mapstructure:"dry_run"`
	PaperBalance     float64            `mapstructure:"paper_balance"`
	PaperPrice       float64            `mapstructure:"paper_price"`
	AutoThresholds   []ThresholdBucket  `mapstructure:"auto_thresholds"`
	AutoAllocation   []AllocationBucket `mapstructure:"auto_allocation"`
}

// AutoMode reports whether per-buy capital is derived from the balance.
func (t Trading) AutoMode() bool {
	return t.BuyAmount == 0
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"market":          "trading.markets",
	"krw":             "trading.buy_amount",
	"tp":              "trading.take_profit_pct",
	"interval":        "trading.interval",
	"dry-run":         "trading.dry_run",
	"skip-buy-within": "trading.skip_buy_within_pct",
	"fill-timeout":    "trading.buy_fill_timeout",
	"max-order-count": "trading.max_open_per_market",
	"min-krw-balance": "trading.min_order_amount",
}

// NewFlagSet declares the command-line flags understood by LoadConfig.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "./configs", "directory containing config.yml")
	fs.StringSlice("market", nil, "markets to trade, e.g. KRW-BTC,KRW-ETH")
	fs.Float64("krw", 0, "quote amount per buy (0 = auto mode)")
	fs.Float64("tp", 0, "take-profit percentage, 1.0 = +1%")
	fs.Duration("interval", 0, "delay between cycles")
	fs.Bool("dry-run", false, "simulate orders instead of trading")
	fs.Float64("skip-buy-within", 0, "skip buying when price is within this percentage of the cheapest open sell")
	fs.Duration("fill-timeout", 0, "how long to wait for a buy fill (<=0 polls once)")
	fs.Int("max-order-count", 0, "maximum open positions per market")
	fs.Float64("min-krw-balance", 0, "exchange minimum order amount")
	return fs
}

// LoadConfig reads configuration from file, environment variables and flags.
// Flags only override the file when they were set explicitly.
func LoadConfig(path string, flags *pflag.FlagSet) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for flag, key := range flagKeys {
			f := flags.Lookup(flag)
			if f == nil || !f.Changed {
				continue
			}
			if err = v.BindPFlag(key, f); err != nil {
				return config, fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, config.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upbit.base_url", "https://api.upbit.com/v1")
	v.SetDefault("upbit.rate_limit", 8) // requests per second
	v.SetDefault("upbit.rate_limit_burst", 4)
	v.SetDefault("upbit.timeout", "10s")

	v.SetDefault("trading.quote_currency", "KRW")
	v.SetDefault("trading.take_profit_pct", 1.0)
	v.SetDefault("trading.skip_buy_within_pct", 0.3)
	v.SetDefault("trading.interval", "60s")
	v.SetDefault("trading.market_delay", "5s")
	v.SetDefault("trading.buy_fill_timeout", "30s")
	v.SetDefault("trading.max_open_per_market", 10)
	v.SetDefault("trading.min_balance", 10000)
	v.SetDefault("trading.min_order_amount", 5000)
	v.SetDefault("trading.order_unit", 10000)
	v.SetDefault("trading.repair_threshold", 15)
	v.SetDefault("trading.paper_balance", 1000000)
	v.SetDefault("trading.paper_price", 100000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)

	v.SetDefault("database.dsn", "trades.db")
	v.SetDefault("server.port", 8080)
}

// Validate checks the settings the trading loop cannot run without.
func (c Config) Validate() error {
	if len(c.Trading.Markets) == 0 {
		return errors.New("trading.markets must list at least one market")
	}
	if c.Trading.TakeProfitPct <= 0 {
		return fmt.Errorf("trading.take_profit_pct must be positive, got %v", c.Trading.TakeProfitPct)
	}
	if c.Trading.BuyAmount < 0 {
		return fmt.Errorf("trading.buy_amount must not be negative, got %v", c.Trading.BuyAmount)
	}
	if !c.Trading.DryRun && (c.Upbit.AccessKey == "" || c.Upbit.SecretKey == "") {
		return errors.New("UPBIT_ACCESS_KEY and UPBIT_SECRET_KEY are required outside dry-run mode")
	}
	return nil
}
