package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/app"
	"github.com/chatly/chat-app/internal/config"
	"github.com/chatly/chat-app/internal/logging"
	"github.com/chatly/chat-app/internal/media"
	"github.com/chatly/chat-app/internal/messages"
	"github.com/chatly/chat-app/internal/messaging"
	"github.com/chatly/chat-app/internal/ratelimit"
	"github.com/chatly/chat-app/internal/session"
	"github.com/chatly/chat-app/internal/storage/mongodb"
	"github.com/chatly/chat-app/internal/storage/postgres"
	"github.com/chatly/chat-app/internal/users"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("chat server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	var (
		deps    app.Deps
		closers []func()
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// --- Store ---
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseDSN, postgres.DefaultPoolConfig())
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := postgres.Migrate(db); err != nil {
			return err
		}
		deps.Users = users.NewPostgresRepository(db)
		deps.Messages = messages.NewPostgresRepository(db)

	case config.StoreMongo:
		mcfg := mongodb.DefaultConfig()
		mcfg.URI = cfg.MongoURI
		mcfg.Database = cfg.MongoDatabase
		client, err := mongodb.Connect(ctx, mcfg)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = client.Close(context.Background()) })
		userRepo := users.NewMongoRepository(client.DB())
		msgRepo := messages.NewMongoRepository(client.DB())
		if err := userRepo.EnsureIndexes(ctx); err != nil {
			return err
		}
		if err := msgRepo.EnsureIndexes(ctx); err != nil {
			return err
		}
		deps.Users, deps.Messages = userRepo, msgRepo

	default:
		logger.Warn("using in-memory store; data is lost on restart")
		deps.Users = users.NewMemoryRepository()
		deps.Messages = messages.NewMemoryRepository()
	}

	// --- Redis ---
	if cfg.RedisAddr != "" {
		rdb, err := session.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		deps.Sessions = session.NewStore(rdb, cfg.ServerName)
		deps.Limiter = ratelimit.NewLimiter(rdb, logger)
	}

	// --- NATS ---
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.ServerName
		nc, err := messaging.NewNATSClient(natsConfig, logger)
		if err != nil {
			return err
		}
		closers = append(closers, nc.Close)
		deps.Events = nc
	}

	// --- S3 ---
	if cfg.S3Bucket != "" {
		uploader, err := media.NewS3Uploader(ctx, media.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		}, logger)
		if err != nil {
			return err
		}
		deps.Uploader = uploader
	}

	a, err := app.New(app.OptionsFromConfig(cfg), deps, logger)
	if err != nil {
		return err
	}

	logger.Info("chat server starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("server_name", cfg.ServerName),
		zap.String("store", cfg.Store),
		zap.Int("worker_pool", cfg.WorkerPoolSize),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("nats", cfg.NATSURL != ""),
		zap.Bool("s3", cfg.S3Bucket != ""),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}
