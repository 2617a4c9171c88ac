package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	appchat "marketchat/internal/app/chat"
	appoutbox "marketchat/internal/app/outbox"
	"marketchat/internal/infra/broker/kafka"
	rediscache "marketchat/internal/infra/cache/redis"
	"marketchat/internal/infra/config"
	"marketchat/internal/infra/db/mongo"
	ginserver "marketchat/internal/infra/http/gin"
	"marketchat/internal/infra/lookup"
	"marketchat/internal/infra/obs"
	"marketchat/internal/infra/outbox"
	"marketchat/internal/infra/security"
	"marketchat/internal/infra/storage/memory"
	"marketchat/internal/infra/storage/s3"
	"marketchat/internal/infra/storage/scylla"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := obs.NewLogger(getenv("APP_ENV", "dev"), getenv("LOG_LEVEL", ""))
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = obs.NewLogger(cfg.Env, cfg.LogLevel)

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close(logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: app.checks}, app.handlers)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if app.worker != nil {
		group.Go(func() error {
			if err := app.worker.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("outbox worker: %w", err)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("marketchat stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("marketchat stopped")
}

type application struct {
	handlers ginserver.Handlers
	worker   *outbox.Worker
	checks   map[string]obs.Check
	closers  []func(context.Context) error
}

func (a *application) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{checks: map[string]obs.Check{}}

	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		client, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		mongoClient = client
		app.checks["mongo"] = client.Ping
		app.closers = append(app.closers, client.Close)
	}

	store, err := buildStore(ctx, cfg, mongoClient, app, logger)
	if err != nil {
		return nil, err
	}
	profiles, listings, err := buildLookups(ctx, cfg, mongoClient, app, logger)
	if err != nil {
		return nil, err
	}

	var events appoutbox.Outbox
	var queue outbox.Queue
	if mongoClient != nil {
		mongoOutbox, err := outbox.NewStore(ctx, mongoClient.DB)
		if err != nil {
			return nil, fmt.Errorf("outbox store: %w", err)
		}
		events, queue = mongoOutbox, mongoOutbox
	} else if len(cfg.KafkaBrokers) > 0 {
		memOutbox := memory.NewOutbox()
		events, queue = memOutbox, memOutbox
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return producer.Close() })
		app.worker = &outbox.Worker{
			Queue:       queue,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
			Logger:      logger,
		}
	} else if events != nil {
		logger.Warn("KAFKA_BROKERS not set, chat events stay in the outbox")
	} else {
		logger.Warn("KAFKA_BROKERS and MONGO_URI not set, chat events are not recorded")
	}

	metrics := obs.NewChatMetrics()
	service := appchat.NewService(appchat.ServiceConfig{
		Store:    store,
		Profiles: profiles,
		Listings: listings,
		Events: &appchat.EventSink{
			Outbox: events,
			Headers: func(ctx context.Context) map[string]string {
				if id := obs.RequestIDFromContext(ctx); id != "" {
					return map[string]string{"request_id": id}
				}
				return nil
			},
			Logger: logger,
		},
		Metrics:           metrics,
		Logger:            logger,
		Backoff:           cfg.RetryBackoff,
		LookupConcurrency: cfg.LookupConcurrency,
	})

	verifier, err := security.NewTokenVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}

	handler := ginserver.ChatHandler{
		Service:  service,
		Profiles: profiles,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		Logger: logger,
	}
	if cfg.S3Endpoint != "" {
		images, err := s3.NewImageStore(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			return nil, fmt.Errorf("image storage: %w", err)
		}
		handler.Images = images
	} else {
		logger.Warn("S3_ENDPOINT not set, image messages disabled")
	}

	app.handlers = ginserver.Handlers{
		Chat:           handler,
		AuthMiddleware: ginserver.AuthMiddleware{Verifier: verifier, Logger: logger}.Handle,
		SendLimit:      ginserver.NewSendRateLimiter(cfg.SendRatePerMinute, logger).Handler(),
		Metrics:        metrics.Handler(),
	}
	return app, nil
}

func buildStore(ctx context.Context, cfg config.Config, mongoClient *mongo.Client, app *application, logger *slog.Logger) (appchat.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		store, err := mongo.NewChatStore(ctx, mongoClient.DB, logger)
		if err != nil {
			return nil, fmt.Errorf("mongo chat store: %w", err)
		}
		return store, nil
	case config.StoreScylla:
		session, err := scylla.NewSession(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error {
			session.Close()
			return nil
		})
		app.checks["scylla"] = func(ctx context.Context) error {
			return session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Exec()
		}
		return scylla.NewStore(session, cfg.ScyllaPollInterval, logger), nil
	default:
		logger.Warn("using in-memory chat store, data is lost on restart")
		return memory.NewStore(), nil
	}
}

func buildLookups(ctx context.Context, cfg config.Config, mongoClient *mongo.Client, app *application, logger *slog.Logger) (appchat.ProfileLookup, appchat.ListingLookup, error) {
	var (
		profiles appchat.ProfileLookup
		listings appchat.ListingLookup
	)
	if mongoClient != nil {
		profiles = mongo.NewProfiles(mongoClient.DB)
		listings = mongo.NewListings(mongoClient.DB)
	} else {
		profiles = memory.NewProfiles()
		listings = memory.NewListings()
	}

	if cfg.RedisAddr != "" {
		client, err := rediscache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return client.Close() })
		app.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		profiles = &rediscache.Profiles{Client: client, Origin: profiles, TTL: cfg.LookupCacheTTL, Logger: logger}
		listings = &rediscache.Listings{Client: client, Origin: listings, TTL: cfg.LookupCacheTTL, Logger: logger}
	}

	breaker := lookup.BreakerConfig{MaxFailures: 5, Interval: time.Minute, Timeout: 30 * time.Second}
	return lookup.NewProfiles(profiles, breaker, logger), lookup.NewListings(listings, breaker, logger), nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
