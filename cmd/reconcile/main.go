// Package main provides a one-shot drift reconciliation tool. It samples
// projected holder balances, re-reads them from the ledger and corrects any
// divergence, then prints a summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/propshare/share-indexer/internal/chain"
	"github.com/propshare/share-indexer/internal/config"
	"github.com/propshare/share-indexer/internal/drift"
	"github.com/propshare/share-indexer/internal/logging"
	"github.com/propshare/share-indexer/internal/storage"
)

func main() {
	sampleFlag := flag.Int("sample", 0, "Holders to check (0 uses DRIFT_SAMPLE_SIZE)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	chainClient, err := chain.NewClient(&cfg.Chain, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create chain client")
	}
	defer chainClient.Close()

	sampleSize := cfg.Drift.SampleSize
	if *sampleFlag > 0 {
		sampleSize = *sampleFlag
	}

	detector := drift.NewDetector(
		chainClient,
		storage.NewHolderRepository(postgres),
		storage.NewDriftRepository(postgres),
		sampleSize,
		logger,
	)

	report, err := detector.RunOnce(context.Background())
	if err != nil {
		logger.WithError(err).Fatal("Reconciliation failed")
	}

	fmt.Printf("Checked %d holders: %d drifted, %d corrected, %d stale\n",
		report.Checked, report.Drifted, report.Corrected, report.Stale)
}
