// Package main provides the live indexer entry point. It tails confirmed
// blocks from both event sources, applies decoded events to the projection
// and runs the drift reconciler alongside.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/propshare/share-indexer/internal/chain"
	"github.com/propshare/share-indexer/internal/config"
	"github.com/propshare/share-indexer/internal/decoder"
	"github.com/propshare/share-indexer/internal/drift"
	"github.com/propshare/share-indexer/internal/guard"
	"github.com/propshare/share-indexer/internal/logging"
	"github.com/propshare/share-indexer/internal/projector"
	"github.com/propshare/share-indexer/internal/replay"
	"github.com/propshare/share-indexer/internal/storage"
	"github.com/propshare/share-indexer/internal/types"
)

func main() {
	fmt.Println("Share Indexer")

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

	chainClient, err := chain.NewClient(&cfg.Chain, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create chain client")
	}
	defer chainClient.Close()

	eventDecoder, err := decoder.NewDecoder(
		common.HexToAddress(cfg.Chain.ShareToken),
		common.HexToAddress(cfg.Chain.Marketplace),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create event decoder")
	}

	propertyRepo := storage.NewPropertyRepository(postgres)
	holderRepo := storage.NewHolderRepository(postgres)
	listingRepo := storage.NewListingRepository(postgres)
	recordRepo := storage.NewRecordRepository(clickhouseDB)
	checkpointRepo := storage.NewCheckpointRepository(postgres)
	deadLetterRepo := storage.NewDeadLetterRepository(postgres)
	driftRepo := storage.NewDriftRepository(postgres)

	proj := projector.New(
		postgres,
		propertyRepo,
		holderRepo,
		listingRepo,
		recordRepo,
		guard.NewPostgresGuard(postgres),
		logger,
	)

	coordinator, err := replay.NewCoordinator(&replay.Config{
		Chain:       chainClient,
		Decoder:     eventDecoder,
		Projector:   proj,
		Checkpoints: checkpointRepo,
		DeadLetters: deadLetterRepo,
		Locker:      replay.NewRedisLocker(redisCache.Client(), cfg.Indexer.RunLockTTL),
		StartBlock:  cfg.Chain.StartBlock,
		ReorgRewind: cfg.Indexer.ReorgRewind,
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create replay coordinator")
	}

	detector := drift.NewDetector(chainClient, holderRepo, driftRepo, cfg.Drift.SampleSize, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, source := range []types.SourceID{types.SourceShareToken, types.SourceMarketplace} {
		wg.Add(1)
		go func(source types.SourceID) {
			defer wg.Done()
			err := coordinator.Tail(ctx, source, cfg.Indexer.PollInterval, cfg.Indexer.Confirmations, cfg.Indexer.MaxBlocksPerPoll)
			if err != nil && ctx.Err() == nil {
				logger.WithError(err).Errorf("Tail loop for %s stopped", source)
			}
		}(source)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		detector.Start(ctx, cfg.Drift.Interval)
	}()

	logger.WithFields(map[string]interface{}{
		"pollInterval":  cfg.Indexer.PollInterval.String(),
		"confirmations": cfg.Indexer.Confirmations,
		"startBlock":    cfg.Chain.StartBlock,
	}).Info("Indexer started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("Received signal %s, shutting down...", sig)

	cancel()
	wg.Wait()
	logger.Info("Indexer stopped")
}
