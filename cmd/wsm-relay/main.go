package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wsm-rfid/internal/config"
	"wsm-rfid/internal/dispatch"
	"wsm-rfid/internal/enrich"
	"wsm-rfid/internal/logging"
	"wsm-rfid/internal/presence"
	"wsm-rfid/internal/relay"
	"wsm-rfid/internal/repository"
	"wsm-rfid/internal/store"
)

func main() {
	cfg := config.LoadRelay()

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "wsm-relay")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting wsm-relay service",
		zap.String("listen_addr", cfg.ListenAddr),
	)

	db, err := repository.NewPostgresDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := store.NewRedisKV(redisClient)

	users := repository.NewPostgresUserRepo(db, logger)
	readers := repository.NewPostgresReaderRepo(db, logger)
	warehouses := repository.NewPostgresWarehouseRepo(db, logger)
	parcels := repository.NewPostgresParcelRepo(db, logger)

	dir := presence.NewDirectory(kv, users, readers, logger)
	cache := enrich.NewCache(kv, parcels, logger)
	matcher := dispatch.NewMatcher(parcels, cache, logger)

	hub := relay.NewHub(relay.QueryAuth{}, logger)
	router := relay.NewRouter(hub, dir, readers, warehouses, cache, logger)
	hub.SetRouter(router)

	srv := relay.NewServer(cfg.ListenAddr, hub, matcher, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	_ = redisClient.Close()
	_ = repository.Close(db)

	logger.Info("Service stopped")
}
