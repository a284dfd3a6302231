package config

import (
	"strings"
	"time"
)

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":8080"
	defaultAppLogPath  = ""

	defaultExchangeName      = "gemini"
	defaultExchangeTimeout   = 15 * time.Second
	defaultExchangeAttempts  = 3
	defaultExchangeBaseDelay = 250 * time.Millisecond
	defaultExchangeMaxDelay  = 5 * time.Second
	defaultExchangeRPS       = 5.0
	defaultExchangeBurst     = 10

	defaultManagerTickInterval = 10 * time.Second
	defaultManagerWorkers      = 4
	defaultManagerTickTimeout  = 30 * time.Second

	defaultBreakerWindow      = 10 * time.Minute
	defaultBreakerThreshold   = 5
	defaultBreakerCooldown    = 15 * time.Minute
	defaultBreakerMaxCooldown = 2 * time.Hour
	defaultBreakerMaxOpens    = 5

	defaultStorePath          = "data/helmsman.db"
	defaultStrategySchemaFile = "configs/strategies.yaml"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Manager.applyDefaults(keys)
	c.Breaker.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Strategies.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.active_source", &e.ActiveSource, firstEnabledSource(e.Sources)),
	)
	for i := range e.Sources {
		src := &e.Sources[i]
		if src.HTTPTimeout <= 0 {
			src.HTTPTimeout = defaultExchangeTimeout
		}
		if src.MaxAttempts <= 0 {
			src.MaxAttempts = defaultExchangeAttempts
		}
		if src.RetryBaseDelay <= 0 {
			src.RetryBaseDelay = defaultExchangeBaseDelay
		}
		if src.RetryMaxDelay <= 0 {
			src.RetryMaxDelay = defaultExchangeMaxDelay
		}
		if src.RequestsPerSecond <= 0 {
			src.RequestsPerSecond = defaultExchangeRPS
		}
		if src.RequestBurst <= 0 {
			src.RequestBurst = defaultExchangeBurst
		}
	}
}

func (m *ManagerConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		durationFieldDefault("manager.tick_interval", &m.TickInterval, defaultManagerTickInterval),
		intFieldDefault("manager.workers", &m.Workers, defaultManagerWorkers),
		durationFieldDefault("manager.tick_timeout", &m.TickTimeout, defaultManagerTickTimeout),
	)
}

func (b *BreakerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		durationFieldDefault("breaker.window", &b.Window, defaultBreakerWindow),
		intFieldDefault("breaker.failure_threshold", &b.FailureThreshold, defaultBreakerThreshold),
		durationFieldDefault("breaker.cooldown", &b.Cooldown, defaultBreakerCooldown),
		durationFieldDefault("breaker.max_cooldown", &b.MaxCooldown, defaultBreakerMaxCooldown),
		intFieldDefault("breaker.max_opens", &b.MaxOpens, defaultBreakerMaxOpens),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (s *StrategiesConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategies.schema_file", &s.SchemaFile, defaultStrategySchemaFile),
	)
}

func applyFieldDefaults(keys keySet, defaults ...fieldDefault) {
	for _, def := range defaults {
		if keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledSource(sources []ExchangeSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultExchangeName
}
