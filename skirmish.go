package skirmish

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	backend "github.com/redis/go-redis/v9"

	gateway "github.com/tabletoplab/skirmish/internal/adapters/http"
	"github.com/tabletoplab/skirmish/internal/config"
	"github.com/tabletoplab/skirmish/internal/logging"
	"github.com/tabletoplab/skirmish/internal/persist"
	"github.com/tabletoplab/skirmish/internal/registry"
	"github.com/tabletoplab/skirmish/pkg/adapters/memory"
	"github.com/tabletoplab/skirmish/pkg/adapters/redis"
	"github.com/tabletoplab/skirmish/pkg/observability"
	"github.com/tabletoplab/skirmish/pkg/persistence/middleware"
	"github.com/tabletoplab/skirmish/pkg/ports"
)

// Version is the semantic version of the skirmish module.
const Version = "0.4.0"

// Runtime wires the full server stack: snapshot store, durability layer,
// room registry and metrics. It is the high-level entry point for hosts
// embedding skirmish (the bundled daemon, tests, or custom servers).
type Runtime struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     ports.SnapshotStore
	Persister *persist.Persister
	Registry  *registry.Registry
	Metrics   *observability.Metrics

	// baseStore is the store before middleware wrapping; it owns the
	// underlying connection.
	baseStore ports.SnapshotStore
}

// New builds a runtime from the configuration. A configured Redis address
// selects the durable store; otherwise state lives in memory and is lost
// on restart.
func New(cfg config.Config) (*Runtime, error) {
	logger := logging.New(parseLevel(cfg.Log.Level), cfg.Log.JSON)

	regOpts := []registry.Option{registry.WithLogger(logger)}

	var store ports.SnapshotStore
	if cfg.Redis.Addr != "" {
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = redis.NewFromClient(client,
			redis.WithPrefix(cfg.Redis.KeyPrefix),
			redis.WithTTL(cfg.Redis.TTL),
		)
		regOpts = append(regOpts, registry.WithLocker(redis.NewLocker(client, cfg.Redis.KeyPrefix)))
		logger.Info("using redis snapshot store", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	} else {
		store = memory.NewStore()
		logger.Warn("no redis address configured, snapshots will not survive restarts")
	}

	activeKey, fallbackKeys, err := cfg.EncryptionKeys()
	if err != nil {
		return nil, err
	}
	baseStore := store
	var wrappers []middleware.Middleware
	if len(cfg.Security.RedactPatterns) > 0 {
		wrappers = append(wrappers, middleware.NewRedactionMiddleware(cfg.Security.RedactPatterns))
	}
	if activeKey != nil {
		wrappers = append(wrappers, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    activeKey,
			FallbackKeys: fallbackKeys,
		}))
		logger.Info("snapshot encryption enabled", "fallbackKeys", len(fallbackKeys))
	}
	store = middleware.Chain(store, wrappers...)

	metrics := observability.New()
	regOpts = append(regOpts, registry.WithEventSink(metrics))

	persister := persist.New(store, cfg.PersistConfig(),
		persist.WithLogger(logger),
		persist.WithObserver(metrics),
	)

	reg := registry.New(persister, cfg.RegistryConfig(), regOpts...)
	metrics.RegisterRoomsGauge(reg.Len)

	return &Runtime{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Persister: persister,
		Registry:  reg,
		Metrics:   metrics,
		baseStore: baseStore,
	}, nil
}

// Handler returns the HTTP gateway for the runtime.
func (rt *Runtime) Handler() http.Handler {
	return gateway.NewHandler(rt.Registry,
		gateway.WithLogger(rt.Logger),
		gateway.WithMetrics(rt.Metrics),
	)
}

// Close snapshots every live room and releases the store. Call on shutdown;
// the context bounds how long final snapshots may take.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.Registry.Close(ctx)

	if closer, ok := rt.baseStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
