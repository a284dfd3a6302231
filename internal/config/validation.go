package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var knownExchanges = map[string]bool{
	"gemini":  true,
	"binance": true,
}

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Manager.validate(); err != nil {
		return err
	}
	if err := c.Breaker.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Strategies.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (a *AppConfig) validate() error {
	if !validLogLevels[strings.ToLower(a.LogLevel)] {
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %s", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if len(e.Sources) == 0 {
		return fmt.Errorf("exchange.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(e.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range e.Sources {
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if !knownExchanges[name] {
			return fmt.Errorf("exchange source %s is not supported", src.Name)
		}
		if !src.Enabled {
			continue
		}
		enabled++
		if name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("exchange.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled exchange.active_source=%s not found", e.ActiveSource)
	}
	active := e.ResolveActiveSource()
	if strings.TrimSpace(active.APIKey) == "" || strings.TrimSpace(active.APISecret) == "" {
		return fmt.Errorf("exchange source %s missing api_key or api_secret", active.Name)
	}
	return nil
}

func (m *ManagerConfig) validate() error {
	if m.TickInterval <= 0 {
		return fmt.Errorf("manager.tick_interval must be > 0")
	}
	if m.Workers <= 0 || m.Workers > 64 {
		return fmt.Errorf("manager.workers must be in [1,64]")
	}
	if m.TickTimeout <= 0 {
		return fmt.Errorf("manager.tick_timeout must be > 0")
	}
	return nil
}

func (b *BreakerConfig) validate() error {
	if b.Window <= 0 {
		return fmt.Errorf("breaker.window must be > 0")
	}
	if b.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if b.Cooldown <= 0 {
		return fmt.Errorf("breaker.cooldown must be > 0")
	}
	if b.MaxCooldown < b.Cooldown {
		return fmt.Errorf("breaker.max_cooldown must be >= breaker.cooldown")
	}
	if b.MaxOpens <= 0 {
		return fmt.Errorf("breaker.max_opens must be > 0")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

func (s *StrategiesConfig) validate() error {
	if strings.TrimSpace(s.SchemaFile) == "" {
		return fmt.Errorf("strategies.schema_file cannot be empty")
	}
	return nil
}
