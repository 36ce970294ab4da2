// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	DatabasePath   string          `mapstructure:"database_path"`
	InitialBalance string          `mapstructure:"initial_balance"`
	StopLossPct    float64         `mapstructure:"stop_loss_pct"`
	TakeProfitPct  float64         `mapstructure:"take_profit_pct"`
	MetricsAddr    string          `mapstructure:"metrics_addr"`
	ExportDir      string          `mapstructure:"export_dir"`
	Pool           PoolConfig      `mapstructure:"pool"`
	Validator      ValidatorConfig `mapstructure:"validator"`
	Logging        LoggingConfig   `mapstructure:"logging"`
}

type PoolConfig struct {
	Size           int `mapstructure:"size"`
	InitRetries    int `mapstructure:"init_retries"`
	AcquireRetries int `mapstructure:"acquire_retries"`
	QueryRetries   int `mapstructure:"query_retries"`
	RetryDelay     int `mapstructure:"retry_delay"`   // ms
	BaseDelay      int `mapstructure:"base_delay"`    // ms
	QueryTimeout   int `mapstructure:"query_timeout"` // ms
	BusyTimeout    int `mapstructure:"busy_timeout"`  // ms
}

type ValidatorConfig struct {
	WindowSize         int      `mapstructure:"window_size"`
	MinDataPoints      int      `mapstructure:"min_data_points"`
	MaxDeviation       float64  `mapstructure:"max_deviation"`
	DownsideMultiplier float64  `mapstructure:"downside_multiplier"`
	Sources            []string `mapstructure:"sources"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	Development bool   `mapstructure:"development"`
}

const (
	DefaultDatabasePath   = "data/paper-trader.db"
	DefaultInitialBalance = "10"
	DefaultStopLossPct    = 0.1
	DefaultTakeProfitPct  = 0.2
	DefaultPoolSize       = 5
	DefaultInitRetries    = 2
	DefaultAcquireRetries = 3
	DefaultQueryRetries   = 3
	DefaultRetryDelay     = 100
	DefaultBaseDelay      = 100
	DefaultQueryTimeout   = 5000
	DefaultBusyTimeout    = 3000
	DefaultWindowSize     = 12
	DefaultMinDataPoints  = 6
	DefaultMaxDeviation   = 0.05
	DefaultDownside       = 1.5

	envPrefix = "PAPER_TRADER"
)

// LoadConfig читает конфигурацию из файла (если путь задан), применяет
// значения по умолчанию и переменные окружения PAPER_TRADER_*.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"database_path":                 DefaultDatabasePath,
		"initial_balance":               DefaultInitialBalance,
		"stop_loss_pct":                 DefaultStopLossPct,
		"take_profit_pct":               DefaultTakeProfitPct,
		"metrics_addr":                  "",
		"export_dir":                    "exports",
		"pool.size":                     DefaultPoolSize,
		"pool.init_retries":             DefaultInitRetries,
		"pool.acquire_retries":          DefaultAcquireRetries,
		"pool.query_retries":            DefaultQueryRetries,
		"pool.retry_delay":              DefaultRetryDelay,
		"pool.base_delay":               DefaultBaseDelay,
		"pool.query_timeout":            DefaultQueryTimeout,
		"pool.busy_timeout":             DefaultBusyTimeout,
		"validator.window_size":         DefaultWindowSize,
		"validator.min_data_points":     DefaultMinDataPoints,
		"validator.max_deviation":       DefaultMaxDeviation,
		"validator.downside_multiplier": DefaultDownside,
		"validator.sources":             []string{"jupiter", "dexscreener"},
		"logging.level":                 "info",
		"logging.file":                  "logs/paper-trader.log",
		"logging.development":           false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", filepath.Base(path), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return errors.New("database_path is empty")
	}
	balance, err := decimal.NewFromString(cfg.InitialBalance)
	if err != nil {
		return fmt.Errorf("invalid initial_balance %q: %w", cfg.InitialBalance, err)
	}
	if balance.IsNegative() {
		return errors.New("initial_balance must not be negative")
	}
	if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1 {
		return errors.New("stop_loss_pct must be in (0, 1)")
	}
	if cfg.TakeProfitPct <= 0 {
		return errors.New("take_profit_pct must be positive")
	}
	if err := validatePool(&cfg.Pool); err != nil {
		return err
	}
	return validateValidator(&cfg.Validator)
}

func validatePool(p *PoolConfig) error {
	if p.Size <= 0 {
		return errors.New("invalid pool.size")
	}
	if p.InitRetries < 0 || p.AcquireRetries < 0 {
		return errors.New("invalid pool retries count")
	}
	if p.QueryRetries <= 0 {
		return errors.New("invalid pool.query_retries")
	}
	if p.RetryDelay <= 0 || p.BaseDelay <= 0 {
		return errors.New("invalid pool delay")
	}
	if p.QueryTimeout <= 0 {
		return errors.New("invalid pool.query_timeout")
	}
	if p.BusyTimeout < 0 {
		return errors.New("invalid pool.busy_timeout")
	}
	return nil
}

func validateValidator(vc *ValidatorConfig) error {
	if vc.WindowSize <= 0 {
		return errors.New("invalid validator.window_size")
	}
	if vc.MinDataPoints <= 0 || vc.MinDataPoints > vc.WindowSize {
		return errors.New("validator.min_data_points must be in [1, window_size]")
	}
	if vc.MaxDeviation <= 0 {
		return errors.New("invalid validator.max_deviation")
	}
	if vc.DownsideMultiplier < 1 {
		return errors.New("validator.downside_multiplier must be >= 1")
	}
	return nil
}

// InitialBalanceSOL возвращает начальный баланс; значение уже проверено в LoadConfig.
func (c *Config) InitialBalanceSOL() decimal.Decimal {
	return decimal.RequireFromString(c.InitialBalance)
}

func (p PoolConfig) RetryDelayDuration() time.Duration {
	return time.Duration(p.RetryDelay) * time.Millisecond
}

func (p PoolConfig) BaseDelayDuration() time.Duration {
	return time.Duration(p.BaseDelay) * time.Millisecond
}

func (p PoolConfig) QueryTimeoutDuration() time.Duration {
	return time.Duration(p.QueryTimeout) * time.Millisecond
}

func (p PoolConfig) BusyTimeoutDuration() time.Duration {
	return time.Duration(p.BusyTimeout) * time.Millisecond
}
