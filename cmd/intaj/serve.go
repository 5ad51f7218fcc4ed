package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/channel/adapters/messenger"
	"github.com/mohumedraslan/intaj-gateway/internal/channel/adapters/telegram"
	"github.com/mohumedraslan/intaj-gateway/internal/channel/adapters/whatsapp"
	"github.com/mohumedraslan/intaj-gateway/internal/chat"
	"github.com/mohumedraslan/intaj-gateway/internal/config"
	"github.com/mohumedraslan/intaj-gateway/internal/connection"
	"github.com/mohumedraslan/intaj-gateway/internal/db"
	"github.com/mohumedraslan/intaj-gateway/internal/dedupe"
	"github.com/mohumedraslan/intaj-gateway/internal/gateway"
	"github.com/mohumedraslan/intaj-gateway/internal/handlers"
	"github.com/mohumedraslan/intaj-gateway/internal/history"
	"github.com/mohumedraslan/intaj-gateway/internal/logger"
	"github.com/mohumedraslan/intaj-gateway/internal/retry"
	"github.com/mohumedraslan/intaj-gateway/internal/server"
	"github.com/mohumedraslan/intaj-gateway/internal/vault"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideRedis,
			provideVault,
			provideRetryPolicy,
			provideRegistry,
			provideConnectionService,
			provideChecker,
			provideHistoryManager,
			provideChatDispatcher,
			provideProcessor,
			providePingHandler,
			provideWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			startChecker,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideRedis(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	return client, nil
}

func provideVault(cfg config.Config) (*vault.Vault, error) {
	return vault.New(cfg.Vault.Key)
}

func provideRetryPolicy(cfg config.Config) *retry.Policy {
	return retry.NewPolicy(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialDelay.Duration,
		cfg.Retry.MaxDelay.Duration,
		cfg.Retry.BackoffFactor,
	)
}

func provideRegistry(log *slog.Logger) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(messenger.NewAdapter(log))
	registry.MustRegister(whatsapp.NewAdapter(log))
	registry.MustRegister(telegram.NewAdapter(log))
	return registry
}

func provideConnectionService(pool *pgxpool.Pool, v *vault.Vault, log *slog.Logger) *connection.Service {
	return connection.NewService(pool, v, log)
}

func provideChecker(cfg config.Config, service *connection.Service, registry *channel.Registry, log *slog.Logger) *connection.Checker {
	return connection.NewChecker(service, registry, log, cfg.Checker.Schedule, cfg.Channels.SendTimeout.Duration)
}

func provideHistoryManager(cfg config.Config, pool *pgxpool.Pool, client *redis.Client, policy *retry.Policy, log *slog.Logger) *history.Manager {
	store := history.NewPGStore(pool)
	cache := history.NewRedisCache(client, cfg.Context.CacheTTL.Duration)
	return history.NewManager(store, cache, cfg.Context.WindowSize, policy, log)
}

func provideChatDispatcher(cfg config.Config, policy *retry.Policy, log *slog.Logger) *chat.Dispatcher {
	client := chat.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Timeout.Duration)
	return chat.NewDispatcher(client, policy, log, cfg.AI.Model, cfg.AI.FallbackReply)
}

func provideProcessor(
	cfg config.Config,
	registry *channel.Registry,
	service *connection.Service,
	manager *history.Manager,
	dispatcher *chat.Dispatcher,
	client *redis.Client,
	policy *retry.Policy,
	log *slog.Logger,
) *gateway.Processor {
	sendTimeout := cfg.Channels.SendTimeout.Duration
	if cfg.Dedupe.Enabled {
		guard := dedupe.NewGuard(client, cfg.Dedupe.TTL.Duration, log)
		return gateway.NewProcessor(registry, service, manager, dispatcher, guard, policy, log, sendTimeout)
	}
	return gateway.NewProcessor(registry, service, manager, dispatcher, dedupe.Disabled{}, policy, log, sendTimeout)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideWebhookHandler(cfg config.Config, log *slog.Logger, registry *channel.Registry, processor *gateway.Processor) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, registry, processor, handlers.SecretsFromConfig(cfg.Channels))
}

func provideServer(cfg config.Config, log *slog.Logger, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, log, pingHandler, webhookHandler)
}

func startChecker(lc fx.Lifecycle, cfg config.Config, checker *connection.Checker) {
	if !cfg.Checker.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return checker.Start() },
		OnStop:  func(ctx context.Context) error { checker.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
