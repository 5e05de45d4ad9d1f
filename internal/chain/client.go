// Package chain wraps the ledger RPC endpoint behind rate-limited,
// retrying log fetches and state reads.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/propshare/share-indexer/internal/config"
	"github.com/propshare/share-indexer/internal/decoder"
	"github.com/propshare/share-indexer/internal/logging"
	"github.com/propshare/share-indexer/internal/retry"
)

// Client is a rate-limited ledger RPC client with primary/secondary
// failover. Every call waits on the shared limiter and a bounded
// concurrency slot, then retries transient failures with exponential
// backoff. Exhausting the retry budget surfaces as an error; callers leave
// the checkpoint unadvanced so the range is reprocessed on the next run.
type Client struct {
	mu         sync.Mutex
	urls       []string
	current    int
	client     *ethclient.Client
	limiter    *rate.Limiter
	slots      chan struct{}
	retryCfg   *retry.Config
	shareToken common.Address
	shareABI   abi.ABI
	logger     *logging.Logger
}

// NewClient dials the primary RPC endpoint and prepares the failover list.
func NewClient(cfg *config.ChainConfig, logger *logging.Logger) (*Client, error) {
	urls := []string{cfg.RPCPrimary}
	if cfg.RPCSecondary != "" {
		urls = append(urls, cfg.RPCSecondary)
	}
	if urls[0] == "" {
		return nil, fmt.Errorf("primary RPC URL is required")
	}

	client, err := ethclient.Dial(urls[0])
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC %s: %w", urls[0], err)
	}

	shareABI, err := decoder.ShareTokenABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse share token ABI: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	concurrent := cfg.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 4
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Client{
		urls:       urls,
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		slots:      make(chan struct{}, concurrent),
		retryCfg:   retry.DefaultConfig(),
		shareToken: common.HexToAddress(cfg.ShareToken),
		shareABI:   shareABI,
		logger:     logger,
	}, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
	}
}

// FilterLogs fetches raw logs matching the query.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error) {
	var logs []ethtypes.Log
	err := c.call(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		logs, err = ec.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		n, err = ec.BlockNumber(ctx)
		return err
	})
	return n, err
}

// HeaderByNumber returns the header for a block number, nil for the head.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	var header *ethtypes.Header
	err := c.call(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		header, err = ec.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// ShareBalance reads the authoritative share balance of a holder in a
// property directly from the token contract, pinned to the head block at
// the time of the read. It returns the balance and the block it was read
// at, so drift corrections can be fenced against newer projection writes.
func (c *Client) ShareBalance(ctx context.Context, holder string, propertyID int64) (int64, uint64, error) {
	readBlock, err := c.BlockNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve read block: %w", err)
	}

	input, err := c.shareABI.Pack("balanceOf", common.HexToAddress(holder), big.NewInt(propertyID))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	msg := ethereum.CallMsg{To: &c.shareToken, Data: input}

	var output []byte
	err = c.call(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		output, err = ec.CallContract(ctx, msg, new(big.Int).SetUint64(readBlock))
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("balanceOf(%s, %d) failed: %w", holder, propertyID, err)
	}

	results, err := c.shareABI.Unpack("balanceOf", output)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok || !balance.IsInt64() {
		return 0, 0, fmt.Errorf("balanceOf returned unusable value")
	}

	return balance.Int64(), readBlock, nil
}

// call runs one RPC under the limiter, concurrency bound and retry policy,
// failing over to the secondary endpoint on transient errors.
func (c *Client) call(ctx context.Context, fn func(ctx context.Context, ec *ethclient.Client) error) error {
	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		return ctx.Err()
	}

	return retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		c.mu.Lock()
		ec := c.client
		c.mu.Unlock()

		err := fn(ctx, ec)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return retry.Permanent(err)
		}
		if len(c.urls) > 1 {
			c.failover()
		}
		return err
	})
}

// failover redials the next endpoint in the list. The failed call is
// retried by the surrounding backoff loop against the new connection.
func (c *Client) failover() {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := (c.current + 1) % len(c.urls)
	client, err := ethclient.Dial(c.urls[next])
	if err != nil {
		c.logger.WithError(err).Warnf("Failover dial to %s failed", c.urls[next])
		return
	}

	c.client.Close()
	c.client = client
	c.current = next
	c.logger.Infof("Failed over to RPC endpoint %d of %d", next+1, len(c.urls))
}

// isTransient reports whether an RPC error is worth retrying and a
// failover: throttling, timeouts and connection drops. Reverted calls and
// request-shape errors fail fast instead of burning the backoff budget.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return true
	}
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") {
		return true
	}

	return false
}
