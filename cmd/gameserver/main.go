// Package main provides the game server binary: the HTTP command and query
// API, the projector and the gRPC health service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/splendor/internal/config"
	"github.com/cory-johannsen/splendor/internal/eventstore"
	"github.com/cory-johannsen/splendor/internal/game/aggregate"
	"github.com/cory-johannsen/splendor/internal/game/projection"
	"github.com/cory-johannsen/splendor/internal/gameserver"
	"github.com/cory-johannsen/splendor/internal/notify"
	"github.com/cory-johannsen/splendor/internal/observability"
	"github.com/cory-johannsen/splendor/internal/server"
	"github.com/cory-johannsen/splendor/internal/storage/postgres"
)

const healthInterval = 15 * time.Second

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("http_addr", cfg.Server.Addr()),
		zap.String("event_store", cfg.Game.EventStore),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	health := gameserver.NewHealth(logger, 2*time.Second)

	var (
		store eventstore.Store
		views projection.ViewStore
	)
	if cfg.Game.UsesPostgres() {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		store = postgres.NewEventStore(pool.DB())
		views = postgres.NewViewRepository(pool.DB())
		health.Register("database", func(ctx context.Context) error {
			return pool.Health(ctx, time.Second)
		})
	} else {
		logger.Warn("using in-memory event store; games are lost on restart")
		store = eventstore.NewMemory()
		views = projection.NewMemoryStore()
	}

	hub := notify.NewHub(logger, 64)
	var publisher notify.Publisher = hub
	var relay *notify.RedisRelay
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		publisher = notify.NewRedisPublisher(client, cfg.Redis.ChannelPrefix)
		relay = notify.NewRedisRelay(client, cfg.Redis.ChannelPrefix, hub, logger)
		health.Register("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	consumer := projection.NewConsumer(views, store, logger, cfg.Game.CommandMaxAttempts)
	projector := gameserver.NewProjector(consumer, store, views, publisher, logger,
		cfg.Game.ProjectorInterval, cfg.Game.ProjectorBuffer)
	health.Register("projector", projector.Check)

	svc := gameserver.NewService(store, views, projector, aggregate.DefaultDeps(), logger, cfg.Game.CommandMaxAttempts)
	api := gameserver.NewAPI(svc, notify.NewWebSocketRelay(hub, logger), health, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})

	lifecycle := server.NewLifecycle(logger)
	if relay != nil {
		relayCtx, stopRelay := context.WithCancel(ctx)
		lifecycle.Add("redis-relay", &server.FuncService{
			StartFn: func() error {
				if err := relay.Start(); err != nil {
					return err
				}
				<-relayCtx.Done()
				return nil
			},
			StopFn: func() {
				stopRelay()
				relay.Stop()
			},
		})
	}
	lifecycle.Add("projector", projector)
	lifecycle.Add("health", &server.FuncService{
		StartFn: func() error {
			defer close(watchDone)
			health.Watch(watchCtx, healthInterval)
			return nil
		},
		StopFn: func() {
			stopWatch()
			<-watchDone
		},
	})
	if cfg.Server.HealthPort != 0 {
		grpcServer := grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, health.GRPC())
		lifecycle.Add("grpc-health", server.GRPCService(grpcServer, cfg.Server.HealthAddr(), logger))
	}
	lifecycle.Add("http", server.HTTPService(httpServer, cfg.Server.ShutdownTimeout, logger))

	logger.Info("game server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("game server stopped with error", zap.Error(err))
	}
}
