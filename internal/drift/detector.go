// Package drift reconciles projected holder balances against the ledger.
// The ledger is authoritative; the projection is a rebuildable cache, so a
// divergence is corrected in place and logged, never treated as an
// application error.
package drift

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propshare/share-indexer/internal/logging"
	"github.com/propshare/share-indexer/internal/models"
)

// BalanceReader reads the authoritative balance for a holder directly from
// the ledger, returning the balance and the block it was read at.
type BalanceReader interface {
	ShareBalance(ctx context.Context, holder string, propertyID int64) (int64, uint64, error)
}

// HolderSource provides the holders to check and the fenced correction
// write. CorrectBalance must only apply when the holder has not been
// touched by an event newer than readBlock, and reports whether it won.
type HolderSource interface {
	SampleHolders(ctx context.Context, limit int) ([]*models.Holder, error)
	CorrectBalance(ctx context.Context, propertyID int64, address string, balance int64, readBlock uint64) (bool, error)
}

// CorrectionLog persists diagnostic records of detected drift.
type CorrectionLog interface {
	RecordCorrection(ctx context.Context, c *models.DriftCorrection) error
}

// Detector runs the reconciliation loop, independent of and concurrent
// with the event-tailing path.
type Detector struct {
	chain       BalanceReader
	holders     HolderSource
	corrections CorrectionLog
	sampleSize  int
	logger      *logging.Logger
}

// NewDetector creates a detector that checks up to sampleSize holders per
// pass.
func NewDetector(chain BalanceReader, holders HolderSource, corrections CorrectionLog, sampleSize int, logger *logging.Logger) *Detector {
	if sampleSize <= 0 {
		sampleSize = 50
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Detector{
		chain:       chain,
		holders:     holders,
		corrections: corrections,
		sampleSize:  sampleSize,
		logger:      logger,
	}
}

// Report summarizes one reconciliation pass.
type Report struct {
	Checked   int       `json:"checked"`
	Drifted   int       `json:"drifted"`
	Corrected int       `json:"corrected"`
	Stale     int       `json:"stale"` // corrections that lost the fence to a newer event
	StartedAt time.Time `json:"startedAt"`
}

// RunOnce samples holders, re-reads their authoritative balances from the
// ledger and corrects any divergence. A correction that lost the fence is
// left alone: the newer projection write already supersedes the read.
func (d *Detector) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	holders, err := d.holders.SampleHolders(ctx, d.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to sample holders: %w", err)
	}

	for _, h := range holders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		chainBalance, readBlock, err := d.chain.ShareBalance(ctx, h.Address, h.PropertyID)
		if err != nil {
			d.logger.WithError(err).Warnf("Skipping drift check for (%d, %s)", h.PropertyID, h.Address)
			continue
		}
		report.Checked++

		if chainBalance == h.Balance {
			continue
		}
		report.Drifted++

		applied, err := d.holders.CorrectBalance(ctx, h.PropertyID, h.Address, chainBalance, readBlock)
		if err != nil {
			d.logger.WithError(err).Errorf("Failed to correct drift for (%d, %s)", h.PropertyID, h.Address)
			continue
		}
		if applied {
			report.Corrected++
		} else {
			report.Stale++
		}

		correction := &models.DriftCorrection{
			ID:               uuid.NewString(),
			PropertyID:       h.PropertyID,
			Address:          h.Address,
			ProjectedBalance: h.Balance,
			ChainBalance:     chainBalance,
			ReadBlock:        readBlock,
			Applied:          applied,
			DetectedAt:       time.Now().UTC(),
		}
		if d.corrections != nil {
			if err := d.corrections.RecordCorrection(ctx, correction); err != nil {
				d.logger.WithError(err).Error("Failed to record drift correction")
			}
		}

		d.logger.WithFields(map[string]interface{}{
			"propertyId": h.PropertyID,
			"address":    h.Address,
			"projected":  h.Balance,
			"chain":      chainBalance,
			"readBlock":  readBlock,
			"applied":    applied,
		}).Warn("Projection drift detected")
	}

	return report, nil
}

// Start runs reconciliation passes on the given interval until the context
// is cancelled.
func (d *Detector) Start(ctx context.Context, interval time.Duration) {
	d.logger.Infof("Starting drift reconciliation every %v, sample size %d", interval, d.sampleSize)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Stopping drift reconciliation")
			return
		case <-ticker.C:
			report, err := d.RunOnce(ctx)
			if err != nil {
				d.logger.WithError(err).Error("Drift reconciliation pass failed")
				continue
			}
			d.logger.WithFields(map[string]interface{}{
				"checked":   report.Checked,
				"drifted":   report.Drifted,
				"corrected": report.Corrected,
				"stale":     report.Stale,
			}).Info("Drift reconciliation pass complete")
		}
	}
}
