// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/rovshanmuradov/spot-trading-bot/internal/logger"
	"github.com/rovshanmuradov/spot-trading-bot/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const envPrefix = "SPOTBOT"

// Exchange modes.
const (
	ModePaper   = "paper"
	ModeBinance = "binance"
)

type Config struct {
	Exchange        ExchangeConfig `mapstructure:"exchange"`
	Users           []UserConfig   `mapstructure:"users"`
	Strategy        StrategyConfig `mapstructure:"strategy"`
	API             APIConfig      `mapstructure:"api"`
	Storage         StorageConfig  `mapstructure:"storage"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
	Log             logger.Config  `mapstructure:"log"`
	DefaultRebuyPct string         `mapstructure:"default_rebuy_pct"`
}

type ExchangeConfig struct {
	Mode             string  `mapstructure:"mode"`
	Quote            string  `mapstructure:"quote"`
	RequestsPerSec   float64 `mapstructure:"requests_per_sec"`
	Burst            int     `mapstructure:"burst"`
	RequestTimeoutMs int     `mapstructure:"request_timeout_ms"`
	Testnet          bool    `mapstructure:"testnet"`
	ReadyRetries     uint    `mapstructure:"ready_retries"`

	// Paper mode seed data.
	PaperBalance string            `mapstructure:"paper_balance"`
	PaperPrices  map[string]string `mapstructure:"paper_prices"`
	PaperTrend   string            `mapstructure:"paper_trending"`

	RequestTimeout time.Duration `mapstructure:"-"`
}

type UserConfig struct {
	ID        string `mapstructure:"id"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// StrategyConfig carries ratios as decimal strings and intervals in ms.
type StrategyConfig struct {
	StopLoss             string `mapstructure:"stop_loss"`
	TakeProfit           string `mapstructure:"take_profit"`
	SkyrocketTrigger     string `mapstructure:"skyrocket_trigger"`
	SkyrocketEntryMs     int    `mapstructure:"skyrocket_entry_window_ms"`
	SkyrocketTarget      string `mapstructure:"skyrocket_target"`
	RebuyRise            string `mapstructure:"rebuy_rise"`
	RebuyDip             string `mapstructure:"rebuy_dip"`
	MonitorIntervalMs    int    `mapstructure:"monitor_interval_ms"`
	SkyrocketIntervalMs  int    `mapstructure:"skyrocket_interval_ms"`
	SkyrocketWindowMs    int    `mapstructure:"skyrocket_window_ms"`
	CooldownMs           int    `mapstructure:"cooldown_ms"`
	RebuyIntervalMs      int    `mapstructure:"rebuy_interval_ms"`
	ReferenceResetMs     int    `mapstructure:"reference_reset_ms"`
	FallbackAfterMs      int    `mapstructure:"fallback_after_ms"`
	DayLengthMs          int    `mapstructure:"day_length_ms"`
	FailureWarnThreshold int    `mapstructure:"failure_warn_threshold"`
	FallbackAttempts     int    `mapstructure:"fallback_attempts"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func setDefaults(v *viper.Viper) {
	th := strategy.DefaultThresholds()
	tm := strategy.DefaultTiming()
	lg := logger.DefaultConfig()

	defaults := map[string]interface{}{
		"exchange.mode":               ModePaper,
		"exchange.quote":              "USDT",
		"exchange.requests_per_sec":   10.0,
		"exchange.burst":              5,
		"exchange.request_timeout_ms": 10000,
		"exchange.testnet":            false,
		"exchange.ready_retries":      5,
		"exchange.paper_balance":      "10000",
		"exchange.paper_prices":       map[string]string{},
		"exchange.paper_trending":     "",

		"strategy.stop_loss":                 th.StopLoss.String(),
		"strategy.take_profit":               th.TakeProfit.String(),
		"strategy.skyrocket_trigger":         th.SkyrocketTrigger.String(),
		"strategy.skyrocket_entry_window_ms": th.SkyrocketEntryWindow.Milliseconds(),
		"strategy.skyrocket_target":          th.SkyrocketTarget.String(),
		"strategy.rebuy_rise":                th.RebuyRise.String(),
		"strategy.rebuy_dip":                 th.RebuyDip.String(),
		"strategy.monitor_interval_ms":       tm.MonitorInterval.Milliseconds(),
		"strategy.skyrocket_interval_ms":     tm.SkyrocketInterval.Milliseconds(),
		"strategy.skyrocket_window_ms":       tm.SkyrocketWindow.Milliseconds(),
		"strategy.cooldown_ms":               tm.Cooldown.Milliseconds(),
		"strategy.rebuy_interval_ms":         tm.RebuyInterval.Milliseconds(),
		"strategy.reference_reset_ms":        tm.ReferenceReset.Milliseconds(),
		"strategy.fallback_after_ms":         tm.FallbackAfter.Milliseconds(),
		"strategy.day_length_ms":             tm.DayLength.Milliseconds(),
		"strategy.failure_warn_threshold":    tm.FailureWarnThreshold,
		"strategy.fallback_attempts":         tm.FallbackAttempts,

		"api.listen":          ":8080",
		"storage.sqlite_path": "data/journal.db",
		"telegram.token":      "",
		"telegram.chat_id":    0,

		"log.file":           lg.File,
		"log.development":    lg.Development,
		"log.console":        lg.Console,
		"log.flush_interval": lg.FlushInterval,

		"default_rebuy_pct": "20",
		"user_credentials":  "",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load reads path (optional), .env files and SPOTBOT_* environment variables.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}
	cfg.Exchange.Mode = strings.ToLower(strings.TrimSpace(cfg.Exchange.Mode))
	cfg.Exchange.Quote = strings.ToUpper(strings.TrimSpace(cfg.Exchange.Quote))
	cfg.Exchange.RequestTimeout = ms(cfg.Exchange.RequestTimeoutMs)

	return &cfg, validateConfig(&cfg)
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// loadEnvironmentVariables handles values AutomaticEnv cannot map onto
// nested lists. SPOTBOT_USER_CREDENTIALS is "id:key:secret,id:key:secret".
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	raw := v.GetString("user_credentials")
	if raw == "" {
		return nil
	}

	var users []UserConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("invalid %s_USER_CREDENTIALS entry %q: want id:key:secret", envPrefix, entry)
		}
		users = append(users, UserConfig{
			ID:        strings.TrimSpace(parts[0]),
			APIKey:    strings.TrimSpace(parts[1]),
			APISecret: strings.TrimSpace(parts[2]),
		})
	}
	if len(users) > 0 {
		cfg.Users = users
	}
	return nil
}

func validateConfig(cfg *Config) error {
	switch cfg.Exchange.Mode {
	case ModePaper, ModeBinance:
	default:
		return fmt.Errorf("invalid exchange.mode %q", cfg.Exchange.Mode)
	}
	if cfg.Exchange.Quote == "" {
		return errors.New("exchange.quote is empty")
	}
	if cfg.Exchange.RequestsPerSec <= 0 || cfg.Exchange.Burst <= 0 {
		return errors.New("invalid exchange rate limit")
	}
	if cfg.Exchange.RequestTimeoutMs <= 0 {
		return errors.New("invalid exchange.request_timeout_ms")
	}

	seen := make(map[string]bool, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.ID == "" {
			return errors.New("user with empty id")
		}
		if seen[u.ID] {
			return fmt.Errorf("duplicate user %q", u.ID)
		}
		seen[u.ID] = true
		if cfg.Exchange.Mode == ModeBinance && (u.APIKey == "" || u.APISecret == "") {
			return fmt.Errorf("user %q is missing api credentials", u.ID)
		}
	}

	if _, err := cfg.Thresholds(); err != nil {
		return err
	}
	if err := cfg.Timing().Validate(); err != nil {
		return fmt.Errorf("invalid strategy timing: %w", err)
	}
	pct, err := decimal.NewFromString(cfg.DefaultRebuyPct)
	if err != nil || !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("invalid default_rebuy_pct %q", cfg.DefaultRebuyPct)
	}
	if cfg.API.Listen == "" {
		return errors.New("api.listen is empty")
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required when telegram.token is set")
	}
	return nil
}

type ratioField struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

// Thresholds parses the strategy ratios.
func (c *Config) Thresholds() (strategy.Thresholds, error) {
	s := c.Strategy
	var th strategy.Thresholds
	fields := []ratioField{
		{"stop_loss", s.StopLoss, &th.StopLoss},
		{"take_profit", s.TakeProfit, &th.TakeProfit},
		{"skyrocket_trigger", s.SkyrocketTrigger, &th.SkyrocketTrigger},
		{"skyrocket_target", s.SkyrocketTarget, &th.SkyrocketTarget},
		{"rebuy_rise", s.RebuyRise, &th.RebuyRise},
		{"rebuy_dip", s.RebuyDip, &th.RebuyDip},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return strategy.Thresholds{}, fmt.Errorf("invalid strategy.%s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	th.SkyrocketEntryWindow = ms(s.SkyrocketEntryMs)

	if err := th.Validate(); err != nil {
		return strategy.Thresholds{}, fmt.Errorf("invalid strategy thresholds: %w", err)
	}
	return th, nil
}

// Timing converts the millisecond fields into durations.
func (c *Config) Timing() strategy.Timing {
	s := c.Strategy
	return strategy.Timing{
		MonitorInterval:      ms(s.MonitorIntervalMs),
		SkyrocketInterval:    ms(s.SkyrocketIntervalMs),
		SkyrocketWindow:      ms(s.SkyrocketWindowMs),
		Cooldown:             ms(s.CooldownMs),
		RebuyInterval:        ms(s.RebuyIntervalMs),
		ReferenceReset:       ms(s.ReferenceResetMs),
		FallbackAfter:        ms(s.FallbackAfterMs),
		DayLength:            ms(s.DayLengthMs),
		FailureWarnThreshold: s.FailureWarnThreshold,
		FallbackAttempts:     s.FallbackAttempts,
	}
}

// RebuyPct returns the validated default rebuy percentage.
func (c *Config) RebuyPct() decimal.Decimal {
	return decimal.RequireFromString(c.DefaultRebuyPct)
}

// Credentials converts the configured users.
func (c *Config) Credentials() []exchange.Credentials {
	out := make([]exchange.Credentials, 0, len(c.Users))
	for _, u := range c.Users {
		out = append(out, exchange.Credentials{UserID: u.ID, APIKey: u.APIKey, APISecret: u.APISecret})
	}
	return out
}
