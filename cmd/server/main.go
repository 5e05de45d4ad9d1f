// Package main provides the query API server entry point.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/propshare/share-indexer/internal/api"
	"github.com/propshare/share-indexer/internal/config"
	"github.com/propshare/share-indexer/internal/logging"
	"github.com/propshare/share-indexer/internal/storage"
)

func main() {
	fmt.Println("Share Indexer Query API")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouseDB, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouseDB.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	logger.Info("Database connections established")

	server := api.NewServer(
		&api.ServerConfig{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		},
		storage.NewPropertyRepository(postgres),
		storage.NewHolderRepository(postgres),
		storage.NewListingRepository(postgres),
		storage.NewRecordRepository(clickhouseDB),
		storage.NewCacheService(redisCache, cfg.Server.CacheTTL),
		logger,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	case sig := <-sigCh:
		logger.Infof("Received signal %s, shutting down...", sig)
		if err := server.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Graceful shutdown failed")
		}
	}

	logger.Info("Server stopped")
}
