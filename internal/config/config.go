package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance   Binance   `mapstructure:"binance"`
	Trading   Trading   `mapstructure:"trading"`
	Trailing  Trailing  `mapstructure:"trailing"`
	Risk      Risk      `mapstructure:"risk"`
	Monitor   Monitor   `mapstructure:"monitor"`
	Telegram  Telegram  `mapstructure:"telegram"`
	Reporting Reporting `mapstructure:"reporting"`
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
}

// Binance holds the configuration for the Binance futures API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Trading holds position sizing and order execution parameters.
type Trading struct {
	// Notional is the capital allocated per trade before leverage, in quote currency.
	Notional        float64 `mapstructure:"notional"`
	Leverage        int     `mapstructure:"leverage"`
	MarginType      string  `mapstructure:"margin_type"`
	MaxActiveTrades int     `mapstructure:"max_active_trades"`
	// PreCloseDelay is the deliberate latency, in seconds, applied before a market exit.
	PreCloseDelay int `mapstructure:"pre_close_delay"`
	// ReentryDelay is the settle time, in seconds, between closing a position
	// and opening its replacement.
	ReentryDelay int `mapstructure:"reentry_delay"`
	// FillPollInterval is the cadence, in seconds, of order status polling.
	FillPollInterval int `mapstructure:"fill_poll_interval"`
}

// Trailing holds the dynamic trailing-stop parameters.
type Trailing struct {
	// ActivationPct is the unleveraged profit percentage at which trailing starts.
	ActivationPct float64 `mapstructure:"activation_pct"`
	// LowOffsetPct and HighOffsetPct bound the interpolated stop offset.
	LowOffsetPct  float64 `mapstructure:"low_offset_pct"`
	HighOffsetPct float64 `mapstructure:"high_offset_pct"`
	// HysteresisMult scales the minimum tick movement required before an
	// already-set stop is replaced.
	HysteresisMult float64 `mapstructure:"hysteresis_mult"`
}

// Risk holds the loss-control parameters.
type Risk struct {
	// StopLossPct is the raw stop-loss percentage. It is scaled by leverage at
	// evaluation time because live PnL% is itself leveraged.
	StopLossPct   float64 `mapstructure:"stop_loss_pct"`
	LossBarsLimit int     `mapstructure:"loss_bars_limit"`
}

// Monitor holds the per-trade monitoring loop parameters.
type Monitor struct {
	TickInterval int `mapstructure:"tick_interval"`
	// MaxLifetime bounds a single monitoring loop, in minutes. A loop that
	// exceeds it is abandoned, leaving the position unmonitored.
	MaxLifetime int `mapstructure:"max_lifetime"`
}

// Telegram holds the notification channel credentials.
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Reporting holds keep-alive and daily summary settings.
type Reporting struct {
	KeepAliveURL      string `mapstructure:"keep_alive_url"`
	KeepAliveInterval int    `mapstructure:"keep_alive_interval"`
	SummaryHourUTC    int    `mapstructure:"summary_hour_utc"`
}

// Server holds the configuration for the webhook server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the trade history database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size
	viper.SetDefault("trading.notional", 50.0)
	viper.SetDefault("trading.leverage", 20)
	viper.SetDefault("trading.margin_type", "ISOLATED")
	viper.SetDefault("trading.max_active_trades", 5)
	viper.SetDefault("trading.pre_close_delay", 10)
	viper.SetDefault("trading.reentry_delay", 3)
	viper.SetDefault("trading.fill_poll_interval", 1)
	viper.SetDefault("trailing.activation_pct", 0.5)
	viper.SetDefault("trailing.low_offset_pct", 0.1)
	viper.SetDefault("trailing.high_offset_pct", 0.3)
	viper.SetDefault("trailing.hysteresis_mult", 1.0)
	viper.SetDefault("risk.stop_loss_pct", 3.0)
	viper.SetDefault("risk.loss_bars_limit", 2)
	viper.SetDefault("monitor.tick_interval", 5)
	viper.SetDefault("monitor.max_lifetime", 720) // 12 hours
	viper.SetDefault("reporting.keep_alive_interval", 300)
	viper.SetDefault("reporting.summary_hour_utc", 0)
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.dsn", "trades.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
