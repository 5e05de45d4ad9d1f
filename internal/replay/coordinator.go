// Package replay drives decoded ledger events through the idempotency
// guard and projector over ordered block ranges, for both live tailing and
// historical backfill.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/propshare/share-indexer/internal/decoder"
	"github.com/propshare/share-indexer/internal/logging"
	"github.com/propshare/share-indexer/internal/models"
	"github.com/propshare/share-indexer/internal/projector"
	"github.com/propshare/share-indexer/internal/storage"
	"github.com/propshare/share-indexer/internal/types"
)

// LogSource is the ledger read surface the coordinator needs. The chain
// client implements it; tests use fakes.
type LogSource interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// CheckpointStore persists the per-source resume position. GetCheckpoint
// returns storage.ErrNotFound for a source that has never committed.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, source types.SourceID) (*models.Checkpoint, error)
	SetCheckpoint(ctx context.Context, source types.SourceID, block uint64, hash string) error
}

// DeadLetterStore records events skipped for missing dependencies so a
// later replay pass can cover them.
type DeadLetterStore interface {
	RecordSkipped(ctx context.Context, ev *models.SkippedEvent) error
}

// Config holds the coordinator's collaborators and tuning knobs.
type Config struct {
	Chain       LogSource
	Decoder     *decoder.Decoder
	Projector   *projector.Projector
	Checkpoints CheckpointStore
	DeadLetters DeadLetterStore
	Locker      RunLocker
	StartBlock  uint64 // first block of interest, used when no checkpoint exists
	ReorgRewind uint64 // how far to rewind the checkpoint on a reorg
	Logger      *logging.Logger
}

// Coordinator pulls raw logs for a block range, decodes them, and applies
// every event in strict ascending (blockNumber, txIndex, logIndex,
// itemIndex) order. The checkpoint only advances after the whole range has
// been applied, so a crash mid-range reprocesses the range from scratch
// and the guard keeps the reprocessing idempotent.
type Coordinator struct {
	chain       LogSource
	decoder     *decoder.Decoder
	projector   *projector.Projector
	checkpoints CheckpointStore
	deadLetters DeadLetterStore
	locker      RunLocker
	startBlock  uint64
	reorgRewind uint64
	logger      *logging.Logger
}

// NewCoordinator wires a coordinator from its config.
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("log source cannot be nil")
	}
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("decoder cannot be nil")
	}
	if cfg.Projector == nil {
		return nil, fmt.Errorf("projector cannot be nil")
	}
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store cannot be nil")
	}

	locker := cfg.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Coordinator{
		chain:       cfg.Chain,
		decoder:     cfg.Decoder,
		projector:   cfg.Projector,
		checkpoints: cfg.Checkpoints,
		deadLetters: cfg.DeadLetters,
		locker:      locker,
		startBlock:  cfg.StartBlock,
		reorgRewind: cfg.ReorgRewind,
		logger:      logger,
	}, nil
}

// Run processes [fromBlock, toBlock] for one source. The range must start
// strictly after the source's committed checkpoint; live tailing and
// backfill therefore never overlap on the same source.
func (c *Coordinator) Run(ctx context.Context, source types.SourceID, fromBlock, toBlock uint64) error {
	if fromBlock > toBlock {
		return fmt.Errorf("invalid range [%d, %d] for source %s", fromBlock, toBlock, source)
	}

	release, err := c.locker.Acquire(ctx, source)
	if err != nil {
		return err
	}
	defer release()

	cp, err := c.checkpoints.GetCheckpoint(ctx, source)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read checkpoint for %s: %w", source, err)
	}
	if cp != nil && fromBlock <= cp.BlockNumber {
		return fmt.Errorf("range [%d, %d] overlaps committed checkpoint %d for source %s",
			fromBlock, toBlock, cp.BlockNumber, source)
	}

	logger := c.logger.WithFields(map[string]interface{}{
		"source": string(source),
		"from":   fromBlock,
		"to":     toBlock,
	})

	logs, err := c.fetchLogs(ctx, source, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("failed to fetch logs for %s [%d, %d]: %w", source, fromBlock, toBlock, err)
	}

	// The global merge order over all events mutating shared aggregates.
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		if logs[i].TxIndex != logs[j].TxIndex {
			return logs[i].TxIndex < logs[j].TxIndex
		}
		return logs[i].Index < logs[j].Index
	})

	blockTimes := make(map[uint64]time.Time)
	applied, skipped := 0, 0

	for _, lg := range logs {
		ts, err := c.blockTime(ctx, lg.BlockNumber, blockTimes)
		if err != nil {
			return fmt.Errorf("failed to resolve timestamp for block %d: %w", lg.BlockNumber, err)
		}

		events, err := c.decoder.Decode(lg, ts)
		if err != nil {
			// One bad record never halts the range.
			logger.WithFields(map[string]interface{}{
				"tx":       lg.TxHash.Hex(),
				"logIndex": lg.Index,
				"error":    err.Error(),
			}).Warn("Skipping undecodable log")
			skipped++
			continue
		}

		for _, ev := range events {
			if err := c.projector.Apply(ctx, ev); err != nil {
				if errors.Is(err, projector.ErrMissingDependency) {
					c.recordSkipped(ctx, source, ev, err)
					skipped++
					continue
				}
				return fmt.Errorf("failed to apply event %s: %w", ev.EventMeta().Key(), err)
			}
			applied++
		}
	}

	hash, err := c.blockHash(ctx, toBlock)
	if err != nil {
		return fmt.Errorf("failed to resolve hash of block %d: %w", toBlock, err)
	}
	if err := c.checkpoints.SetCheckpoint(ctx, source, toBlock, hash); err != nil {
		return fmt.Errorf("failed to advance checkpoint for %s: %w", source, err)
	}

	logger.WithFields(map[string]interface{}{
		"applied": applied,
		"skipped": skipped,
	}).Info("Range applied, checkpoint advanced")
	return nil
}

// CheckReorg re-queries the checkpointed block's hash. On a mismatch it
// rewinds the checkpoint by the configured depth so the affected range is
// reprocessed; the projector has no undo, reprocessing relies on
// idempotent last-write-wins application.
func (c *Coordinator) CheckReorg(ctx context.Context, source types.SourceID) (bool, error) {
	cp, err := c.checkpoints.GetCheckpoint(ctx, source)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read checkpoint for %s: %w", source, err)
	}

	hash, err := c.blockHash(ctx, cp.BlockNumber)
	if err != nil {
		return false, fmt.Errorf("failed to re-query block %d: %w", cp.BlockNumber, err)
	}
	if hash == cp.BlockHash {
		return false, nil
	}

	rewindTo := c.startBlock
	if cp.BlockNumber > c.reorgRewind && cp.BlockNumber-c.reorgRewind > c.startBlock {
		rewindTo = cp.BlockNumber - c.reorgRewind
	}

	rewindHash, err := c.blockHash(ctx, rewindTo)
	if err != nil {
		return false, fmt.Errorf("failed to resolve rewind block %d: %w", rewindTo, err)
	}

	if err := c.checkpoints.SetCheckpoint(ctx, source, rewindTo, rewindHash); err != nil {
		return false, fmt.Errorf("failed to rewind checkpoint for %s: %w", source, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"source":   string(source),
		"at":       cp.BlockNumber,
		"rewindTo": rewindTo,
	}).Warn("Reorg detected, checkpoint rewound for reprocessing")
	return true, nil
}

// Tail runs the live-tailing loop for one source: small, frequent ranges
// kept a confirmation margin behind the ledger head. It returns when the
// context is cancelled.
func (c *Coordinator) Tail(ctx context.Context, source types.SourceID, pollInterval time.Duration, confirmations, maxBlocksPerPoll uint64) error {
	c.logger.Infof("Tailing %s every %v, %d confirmations behind head", source, pollInterval, confirmations)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.tailOnce(ctx, source, confirmations, maxBlocksPerPoll); err != nil {
				if errors.Is(err, ErrLockHeld) {
					continue
				}
				// The checkpoint is unadvanced; the next tick retries the
				// same range.
				c.logger.WithError(err).Errorf("Tail cycle failed for %s", source)
			}
		}
	}
}

func (c *Coordinator) tailOnce(ctx context.Context, source types.SourceID, confirmations, maxBlocksPerPoll uint64) error {
	if _, err := c.CheckReorg(ctx, source); err != nil {
		return err
	}

	head, err := c.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read head block: %w", err)
	}
	if head <= confirmations {
		return nil
	}
	safeHead := head - confirmations

	from := c.startBlock
	cp, err := c.checkpoints.GetCheckpoint(ctx, source)
	if err == nil {
		from = cp.BlockNumber + 1
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read checkpoint for %s: %w", source, err)
	}

	if from > safeHead {
		return nil
	}
	to := safeHead
	if maxBlocksPerPoll > 0 && to-from+1 > maxBlocksPerPoll {
		to = from + maxBlocksPerPoll - 1
	}

	return c.Run(ctx, source, from, to)
}

// Backfill processes [fromBlock, toBlock] in checkpoint-committed chunks,
// resuming past any already-committed prefix. It is safe to rerun after a
// crash: committed chunks are skipped, the interrupted chunk is replayed.
func (c *Coordinator) Backfill(ctx context.Context, source types.SourceID, fromBlock, toBlock, chunkSize uint64) error {
	if chunkSize == 0 {
		chunkSize = 1000
	}

	start := fromBlock
	cp, err := c.checkpoints.GetCheckpoint(ctx, source)
	if err == nil && cp.BlockNumber+1 > start {
		start = cp.BlockNumber + 1
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read checkpoint for %s: %w", source, err)
	}

	for from := start; from <= toBlock; from += chunkSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		to := from + chunkSize - 1
		if to > toBlock {
			to = toBlock
		}
		if err := c.Run(ctx, source, from, to); err != nil {
			return fmt.Errorf("backfill chunk [%d, %d] failed: %w", from, to, err)
		}
	}
	return nil
}

func (c *Coordinator) fetchLogs(ctx context.Context, source types.SourceID, fromBlock, toBlock uint64) ([]ethtypes.Log, error) {
	addr, ok := c.decoder.AddressFor(source)
	if !ok {
		return nil, fmt.Errorf("unknown source %s", source)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{c.decoder.Topics()},
	}
	return c.chain.FilterLogs(ctx, query)
}

func (c *Coordinator) blockTime(ctx context.Context, number uint64, cache map[uint64]time.Time) (time.Time, error) {
	if ts, ok := cache[number]; ok {
		return ts, nil
	}
	header, err := c.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, err
	}
	ts := time.Unix(int64(header.Time), 0).UTC()
	cache[number] = ts
	return ts, nil
}

func (c *Coordinator) blockHash(ctx context.Context, number uint64) (string, error) {
	header, err := c.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return "", err
	}
	return header.Hash().Hex(), nil
}

func (c *Coordinator) recordSkipped(ctx context.Context, source types.SourceID, ev decoder.Event, cause error) {
	meta := ev.EventMeta()
	c.logger.WithFields(map[string]interface{}{
		"source": string(source),
		"key":    meta.Key().String(),
		"block":  meta.BlockNumber,
		"reason": cause.Error(),
	}).Warn("Skipping event with missing dependency, flagged for replay")

	if c.deadLetters == nil {
		return
	}
	skipped := &models.SkippedEvent{
		Source:      string(source),
		TxHash:      meta.TxHash,
		LogIndex:    meta.LogIndex,
		ItemIndex:   meta.ItemIndex,
		BlockNumber: meta.BlockNumber,
		Reason:      cause.Error(),
		RecordedAt:  time.Now().UTC(),
	}
	if err := c.deadLetters.RecordSkipped(ctx, skipped); err != nil {
		c.logger.WithError(err).Error("Failed to record skipped event")
	}
}
