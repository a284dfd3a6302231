package config

import (
	"strings"
	"time"

	"helmsman/internal/pkg/circuit"
)

// Config is the root configuration carrier for the runner.
type Config struct {
	App        AppConfig        `toml:"app"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Manager    ManagerConfig    `toml:"manager"`
	Breaker    BreakerConfig    `toml:"breaker"`
	Store      StoreConfig      `toml:"store"`
	Strategies StrategiesConfig `toml:"strategies"`
	Notify     NotifyConfig     `toml:"notify"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ExchangeConfig lists the configured exchange connections. Exactly one
// source drives live trading; the rest stay configured but dormant.
type ExchangeConfig struct {
	ActiveSource string           `toml:"active_source"`
	Sources      []ExchangeSource `toml:"sources"`
}

type ExchangeSource struct {
	Name        string `toml:"name"`
	Enabled     bool   `toml:"enabled"`
	RESTBaseURL string `toml:"rest_base_url"`
	APIKey      string `toml:"api_key"`
	APISecret   string `toml:"api_secret"`

	HTTPTimeout    time.Duration `toml:"http_timeout"`
	MaxAttempts    int           `toml:"max_attempts"`
	RetryBaseDelay time.Duration `toml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `toml:"retry_max_delay"`

	RequestsPerSecond float64 `toml:"requests_per_second"`
	RequestBurst      int     `toml:"request_burst"`
}

func (e ExchangeConfig) ResolveActiveSource() ExchangeSource {
	if len(e.Sources) == 0 {
		return ExchangeSource{Name: defaultExchangeName, Enabled: true}
	}
	active := strings.ToLower(strings.TrimSpace(e.ActiveSource))
	var fallback ExchangeSource
	for _, src := range e.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

type ManagerConfig struct {
	TickInterval time.Duration `toml:"tick_interval"`
	Workers      int           `toml:"workers"`
	TickTimeout  time.Duration `toml:"tick_timeout"`
}

type BreakerConfig struct {
	Window           time.Duration `toml:"window"`
	FailureThreshold int           `toml:"failure_threshold"`
	Cooldown         time.Duration `toml:"cooldown"`
	MaxCooldown      time.Duration `toml:"max_cooldown"`
	MaxOpens         int           `toml:"max_opens"`
}

// CircuitConfig converts the section into the breaker's own config type.
func (b BreakerConfig) CircuitConfig() circuit.Config {
	return circuit.Config{
		Window:           b.Window,
		FailureThreshold: b.FailureThreshold,
		Cooldown:         b.Cooldown,
		MaxCooldown:      b.MaxCooldown,
		MaxOpens:         b.MaxOpens,
	}
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type StrategiesConfig struct {
	SchemaFile string `toml:"schema_file"`
}

// keySet tracks the field paths explicitly set in the config files, so
// defaults never clobber a deliberate zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the defaulting rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
