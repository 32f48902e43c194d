package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketplace-backend/internal/cache"
	"marketplace-backend/internal/catalog"
	"marketplace-backend/internal/config"
	"marketplace-backend/internal/deadletter"
	"marketplace-backend/internal/dispatch"
	"marketplace-backend/internal/httpapi"
	"marketplace-backend/internal/identity"
	"marketplace-backend/internal/kstream"
	"marketplace-backend/internal/ledger"
	"marketplace-backend/internal/logging"
	"marketplace-backend/internal/projections"
	"marketplace-backend/internal/ratings"
	"marketplace-backend/internal/readtracker"
	"marketplace-backend/internal/situation"
	"marketplace-backend/internal/store"
)

func main() {
	// joho/godotenv: a missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("marketplace-api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := store.Migrate(ctx, st.DB); err != nil {
		return err
	}
	// A missing situation is a configuration error and stops the boot.
	reg, err := situation.Load(ctx, st.DB, cfg.Store.SeedSituations)
	if err != nil {
		return err
	}

	var (
		feed         projections.Feed
		summaryCache ratings.SummaryCache
	)
	if cfg.Redis.Enabled {
		// redis/go-redis/v9: one client serves the notification feed and the summary cache.
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed, continuing", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		feed = projections.NewRedisFeed(rdb, cfg.Redis.DedupeTTL, cfg.Redis.FeedSize)
		summaryCache = cache.NewRedis(rdb, cfg.Ratings.SummaryTTL)
	} else {
		feed = projections.NewMemoryFeed(cfg.Redis.FeedSize)
		summaryCache = cache.NewMemory(cfg.Ratings.SummaryTTL)
	}

	var users identity.Directory = identity.Static{}
	if cfg.Identity.BaseURL != "" {
		users = identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.Timeout)
	}

	projector := projections.NewProjector(feed, deadletter.NewFileStore(cfg.DeadLetter.Dir), logger)

	var publisher dispatch.Publisher = projector
	if cfg.Kafka.Enabled {
		pub := kstream.NewPublisher(cfg.Kafka)
		defer pub.Close()
		publisher = pub

		reader := kstream.NewReader(cfg.Kafka)
		defer reader.Close()
		go func() {
			if err := projector.Run(ctx, reader); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("projector stopped", zap.Error(err))
			}
		}()
	}

	dispatcher := dispatch.New(st, publisher, cfg.Dispatch, logger)
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped", zap.Error(err))
		}
	}()

	api := httpapi.New(httpapi.Deps{
		Listings:  catalog.NewService(st),
		Ledger:    ledger.NewService(st, reg, dispatcher, logger),
		Reads:     readtracker.New(st, reg, logger),
		Ratings:   ratings.NewCollector(st, reg, summaryCache, users, logger),
		Feed:      projector,
		Ping:      st.Ping,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
	}, logger)

	r := mux.NewRouter()
	api.RegisterRoutes(r)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("marketplace-api listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("kafka", cfg.Kafka.Enabled),
			zap.Bool("redis", cfg.Redis.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Deliver whatever committed while the server drained.
	if _, err := dispatcher.Flush(shutdownCtx); err != nil {
		logger.Warn("final outbox flush failed", zap.Error(err))
	}
	return nil
}
