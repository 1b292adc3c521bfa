package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wsm-rfid/internal/channel"
	"wsm-rfid/internal/config"
	"wsm-rfid/internal/logging"
	"wsm-rfid/internal/protocol"
	"wsm-rfid/internal/reader"
	"wsm-rfid/internal/store"
	"wsm-rfid/internal/transport"
)

func main() {
	cfg, err := config.LoadReader()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "wsm-reader")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting wsm-reader service",
		zap.String("reader_server_id", cfg.ReaderServerID),
		zap.String("hardware_addr", cfg.HardwareAddr),
		zap.String("relay_url", cfg.RelayURL),
	)

	commands, err := protocol.ParseCommandSet(
		cfg.Commands.Handshake,
		cfg.Commands.StartInventory,
		cfg.Commands.StopInventory,
	)
	if err != nil {
		logger.Fatal("Invalid vendor commands", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := store.NewRedisKV(redisClient)

	session := transport.New(cfg.HardwareAddr, cfg.CommandTimeout, logger)
	link := channel.NewClient(cfg.RelayURL, cfg.ReaderServerID, logger)

	adapter := reader.New(
		cfg.ReaderServerID, cfg.Address, cfg.Role, cfg.CommandTimeout,
		commands, session, link, kv, logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := adapter.Start(ctx); err != nil {
		logger.Fatal("Failed to start adapter", zap.Error(err))
	}

	go link.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	_ = session.Close()
	_ = redisClient.Close()

	logger.Info("Service stopped")
}
