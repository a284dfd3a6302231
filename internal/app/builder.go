package app

import (
	"fmt"
	"strings"

	"helmsman/internal/config"
	"helmsman/internal/gateway/binance"
	"helmsman/internal/gateway/exchange"
	"helmsman/internal/gateway/gemini"
	"helmsman/internal/gateway/notifier"
	"helmsman/internal/logger"
	"helmsman/internal/manager"
	"helmsman/internal/service"
	"helmsman/internal/store"
	"helmsman/internal/store/gormstore"
	"helmsman/internal/strategy"
	apihttp "helmsman/internal/transport/http/api"
)

// AppBuilder assembles the runner from configuration. The fn fields exist
// so tests can swap a constructor without a real exchange or database.
type AppBuilder struct {
	cfg *config.Config

	exchangeFn func(config.ExchangeSource) (exchange.Exchange, error)
	storeFn    func(string) (store.Store, error)
	schemaFn   func(string) (*strategy.SchemaRegistry, error)

	exchangeOverride exchange.Exchange
	storeOverride    store.Store
}

type AppBuilderOption func(*AppBuilder)

func WithExchange(gw exchange.Exchange) AppBuilderOption {
	return func(b *AppBuilder) { b.exchangeOverride = gw }
}

func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = st }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		exchangeFn: buildExchange,
		storeFn:    buildStore,
		schemaFn:   strategy.NewSchemaRegistry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	gw := b.exchangeOverride
	if gw == nil {
		src := cfg.Exchange.ResolveActiveSource()
		built, err := b.exchangeFn(src)
		if err != nil {
			return nil, fmt.Errorf("building exchange gateway failed (%s): %w", src.Name, err)
		}
		gw = built
	}
	logger.Infof("exchange gateway ready: %s", gw.Name())

	st := b.storeOverride
	if st == nil {
		built, err := b.storeFn(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store failed (%s): %w", cfg.Store.Path, err)
		}
		st = built
	}

	schemas, err := b.schemaFn(cfg.Strategies.SchemaFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading strategy schemas failed (%s): %w", cfg.Strategies.SchemaFile, err)
	}

	var alerts notifier.TextNotifier
	if cfg.Notify.Telegram.Enabled {
		alerts = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		logger.Infof("telegram alerts enabled (chat_id=%s)", cfg.Notify.Telegram.ChatID)
	}

	svc := service.New(st, gw, schemas)
	machine := strategy.NewMachine(gw, schemas, svc)
	mgr := manager.New(manager.Config{
		TickInterval: cfg.Manager.TickInterval,
		Workers:      cfg.Manager.Workers,
		TickTimeout:  cfg.Manager.TickTimeout,
		Breaker:      cfg.Breaker.CircuitConfig(),
		Notifier:     alerts,
	}, svc, machine)

	httpSrv, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:  cfg.App.HTTPAddr,
		Svc:   svc,
		Admin: mgr,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("building http server failed: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   st,
		manager: mgr,
		httpSrv: httpSrv,
	}, nil
}

func buildExchange(src config.ExchangeSource) (exchange.Exchange, error) {
	switch strings.ToLower(strings.TrimSpace(src.Name)) {
	case "gemini":
		return gemini.New(gemini.Config{
			BaseURL:           src.RESTBaseURL,
			APIKey:            src.APIKey,
			APISecret:         src.APISecret,
			HTTPTimeout:       src.HTTPTimeout,
			MaxAttempts:       src.MaxAttempts,
			RetryBaseDelay:    src.RetryBaseDelay,
			RetryMaxDelay:     src.RetryMaxDelay,
			RequestsPerSecond: src.RequestsPerSecond,
			RequestBurst:      src.RequestBurst,
		})
	case "binance":
		return binance.New(binance.Config{
			BaseURL:           src.RESTBaseURL,
			APIKey:            src.APIKey,
			APISecret:         src.APISecret,
			HTTPTimeout:       src.HTTPTimeout,
			MaxAttempts:       src.MaxAttempts,
			RetryBaseDelay:    src.RetryBaseDelay,
			RetryMaxDelay:     src.RetryMaxDelay,
			RequestsPerSecond: src.RequestsPerSecond,
			RequestBurst:      src.RequestBurst,
		})
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", src.Name)
	}
}

func buildStore(path string) (store.Store, error) {
	return gormstore.New(path)
}
