package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/do/v2"
	"github.com/soyeahso/daogate/internal/agent"
	"github.com/soyeahso/daogate/internal/archive"
	"github.com/soyeahso/daogate/internal/config"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/evidence"
	"github.com/soyeahso/daogate/internal/gateway"
	"github.com/soyeahso/daogate/internal/hooks"
	"github.com/soyeahso/daogate/internal/llm"
	"github.com/soyeahso/daogate/internal/logging"
	"github.com/soyeahso/daogate/internal/notify"
	"github.com/soyeahso/daogate/internal/sink"
	"github.com/soyeahso/daogate/internal/store"
)

const backendInitTimeout = 15 * time.Second

// sessionBackend is the configured session store plus whatever it holds open.
type sessionBackend struct {
	Store  agent.SessionStore
	Locker agent.Locker // nil means in-process locking

	// sqlite only; used by `sessions search`
	search *store.SQLiteSessionStore

	closers []func() error
}

// Shutdown releases the backend. The injector calls it on shutdown.
func (b *sessionBackend) Shutdown() error {
	var errs []string
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing session backend: %s", strings.Join(errs, "; "))
	}
	return nil
}

// newInjector registers every daogate component. Components are built lazily
// on first Invoke, so commands only open what they use.
func newInjector(cfg *config.Config, paths config.Paths, log *logging.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, paths)
	do.ProvideValue(injector, log)

	do.Provide(injector, provideSessionBackend)
	do.Provide(injector, provideSinks)
	do.Provide(injector, provideHooks)
	do.Provide(injector, provideEvidence)
	do.Provide(injector, provideRegistry)
	do.Provide(injector, provideOracle)
	do.Provide(injector, provideEngine)
	do.Provide(injector, provideService)
	do.Provide(injector, provideGateway)
	return injector
}

func provideSessionBackend(i do.Injector) (*sessionBackend, error) {
	cfg := do.MustInvoke[*config.Config](i)
	paths := do.MustInvoke[config.Paths](i)
	log := do.MustInvoke[*logging.Logger](i)

	ctx, cancel := context.WithTimeout(context.Background(), backendInitTimeout)
	defer cancel()

	sc := cfg.Session
	switch sc.Store {
	case "sqlite":
		path := sc.SQLitePath
		if path == "" {
			path = paths.Database
		}
		db, err := store.Open(path, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		s := store.NewSQLiteSessionStore(db)
		log.Info().Str("path", path).Msg("using SQLite session store")
		return &sessionBackend{Store: s, search: s, closers: []func() error{db.Close}}, nil

	case "postgres":
		s, err := store.OpenPostgres(ctx, sc.PostgresDSN, log)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("using Postgres session store")
		return &sessionBackend{Store: s, closers: []func() error{s.Close}}, nil

	case "redis":
		client, err := store.NewRedisClient(ctx, sc.Redis.URL)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(sc.Redis.TTLSeconds) * time.Second
		lockPrefix := strings.TrimSuffix(sc.Redis.KeyPrefix, "session:") + "lock:"
		log.Info().Str("prefix", sc.Redis.KeyPrefix).Msg("using Redis session store")
		return &sessionBackend{
			Store:   store.NewRedisSessionStore(client, sc.Redis.KeyPrefix, ttl),
			Locker:  store.NewRedisLocker(client, lockPrefix, 0),
			closers: []func() error{client.Close},
		}, nil

	case "file":
		path := sc.FilePath
		if path == "" {
			path = paths.Sessions
		}
		log.Info().Str("path", path).Msg("using file session store")
		return &sessionBackend{Store: store.NewFileSessionStore(path)}, nil

	case "memory":
		log.Warn().Msg("using in-memory session store, sessions are lost on exit")
		return &sessionBackend{Store: agent.NewMemorySessionStore()}, nil

	default:
		return nil, fmt.Errorf("unknown session store %q", sc.Store)
	}
}

// provideSinks builds the hook manager and attaches the decision webhook and
// the transcript archive when configured. Shutdown drains pending deliveries.
func provideSinks(i do.Injector) (*sink.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logging.Logger](i)

	reg := sink.NewRegistry(hooks.NewManager(log), log)
	if wh := notify.NewWebhook(cfg.Webhook, log); wh != nil {
		if err := reg.Add(wh); err != nil {
			return nil, err
		}
	}
	if cfg.Archive.Enabled {
		a, err := archive.New(cfg.Archive, log)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		if err := reg.Add(a); err != nil {
			return nil, err
		}
	}
	reg.AttachAll()
	return reg, nil
}

func provideHooks(i do.Injector) (*hooks.Manager, error) {
	reg, err := do.Invoke[*sink.Registry](i)
	if err != nil {
		return nil, err
	}
	return reg.Hooks(), nil
}

func provideEvidence(i do.Injector) (*evidence.Set, error) {
	cfg := do.MustInvoke[*config.Config](i)
	ec := cfg.Evidence

	fetchers := evidence.NewConnectorFetchers(evidence.ConnectorConfig{
		BaseURL: ec.ConnectorURL,
		Token:   ec.Token,
		ChainID: ec.ChainID,
		Timeout: time.Duration(ec.TimeoutSeconds) * time.Second,
	})
	if ec.CacheSize > 0 {
		cached, err := evidence.Cached(fetchers, ec.CacheSize, time.Duration(ec.CacheTTLSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		fetchers = cached
	}
	return evidence.NewSet(fetchers...), nil
}

func provideRegistry(i do.Injector) (*llm.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logging.Logger](i)

	ctx, cancel := context.WithTimeout(context.Background(), backendInitTimeout)
	defer cancel()
	return llm.NewRegistryFromConfig(ctx, cfg.Oracle, log)
}

func provideOracle(i do.Injector) (llm.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	reg, err := do.Invoke[*llm.Registry](i)
	if err != nil {
		return nil, err
	}
	return reg.Resolve(cfg.Oracle.Model)
}

func engineConfig(cfg *config.Config) agent.EngineConfig {
	return agent.EngineConfig{
		Model:             cfg.Oracle.Model,
		MaxTokens:         cfg.Oracle.MaxTokens,
		Temperature:       cfg.Oracle.Temperature,
		AcceptanceMessage: cfg.Evaluation.AcceptanceMessage,
	}
}

func provideEngine(i do.Injector) (*agent.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	oracle, err := do.Invoke[llm.Client](i)
	if err != nil {
		return nil, err
	}
	fetchers, err := do.Invoke[*evidence.Set](i)
	if err != nil {
		return nil, err
	}
	hm, err := do.Invoke[*hooks.Manager](i)
	if err != nil {
		return nil, err
	}
	return agent.NewEngine(engineConfig(cfg), oracle, fetchers, hm, do.MustInvoke[*logging.Logger](i)), nil
}

func provideService(i do.Injector) (*agent.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	backend, err := do.Invoke[*sessionBackend](i)
	if err != nil {
		return nil, err
	}
	engine, err := do.Invoke[*agent.Engine](i)
	if err != nil {
		return nil, err
	}
	hm := do.MustInvoke[*hooks.Manager](i)
	return agent.NewService(
		agent.ServiceConfig{UnknownChat: cfg.Session.UnknownChat},
		engine, backend.Store, backend.Locker, hm, do.MustInvoke[*logging.Logger](i),
	), nil
}

func provideGateway(i do.Injector) (*gateway.Server, error) {
	cfg := do.MustInvoke[*config.Config](i)
	svc, err := do.Invoke[*agent.Service](i)
	if err != nil {
		return nil, err
	}
	oracle := do.MustInvoke[llm.Client](i)
	ec := engineConfig(cfg)

	return gateway.New(cfg.Gateway, do.MustInvoke[*logging.Logger](i),
		gateway.WithService(svc),
		gateway.WithHooks(do.MustInvoke[*hooks.Manager](i)),
		gateway.WithSuggester(func(ctx context.Context, req agent.SuggestRequest) ([]domain.Criterion, error) {
			return agent.SuggestCriteria(ctx, oracle, ec, req)
		}),
	), nil
}
