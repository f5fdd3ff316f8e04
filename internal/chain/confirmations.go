package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"offset-rewards/internal/tracker"
)

// ConfirmationOptions parameterise the receipt-polling source.
type ConfirmationOptions struct {
	RPCURL        string
	PollInterval  time.Duration
	RequiredDepth uint64
}

// Confirmations resolves submitted hashes by polling Ethereum RPC for
// receipts until the required confirmation depth is reached.
type Confirmations struct {
	opts      ConfirmationOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewConfirmations builds a receipt-polling confirmation source.
func NewConfirmations(opts ConfirmationOptions, logger zerolog.Logger) *Confirmations {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.RequiredDepth == 0 {
		opts.RequiredDepth = 1
	}
	return &Confirmations{opts: opts, logger: logger.With().Str("component", "chain_confirmations").Logger()}
}

// WaitForConfirmation polls for the receipt of hash, then waits until the
// chain has advanced RequiredDepth blocks past it. It returns when the
// transaction is confirmed, reverted, or ctx is done.
func (c *Confirmations) WaitForConfirmation(ctx context.Context, hash string) (tracker.Receipt, error) {
	if c.opts.RPCURL == "" {
		return tracker.Receipt{}, errors.New("ethereum rpc url not configured")
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return tracker.Receipt{}, err
	}

	txHash := common.HexToHash(hash)
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for receipt == nil {
		r, err := client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			receipt = r
		case errors.Is(err, ethereum.NotFound):
			c.logger.Debug().Str("hash", hash).Msg("receipt not yet available")
		default:
			return tracker.Receipt{}, err
		}

		if receipt == nil {
			select {
			case <-ctx.Done():
				return tracker.Receipt{}, ctx.Err()
			case <-ticker.C:
			}
		}
	}

	minedAt := receipt.BlockNumber.Uint64()
	for {
		head, err := client.BlockNumber(ctx)
		if err != nil {
			return tracker.Receipt{}, err
		}
		if head >= minedAt {
			confirmations := head - minedAt + 1
			if confirmations >= c.opts.RequiredDepth {
				return tracker.Receipt{
					Succeeded:     receipt.Status == types.ReceiptStatusSuccessful,
					BlockNumber:   minedAt,
					GasUsed:       receipt.GasUsed,
					Confirmations: confirmations,
					FailureReason: failureReason(receipt),
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return tracker.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func failureReason(receipt *types.Receipt) string {
	if receipt.Status == types.ReceiptStatusSuccessful {
		return ""
	}
	return "execution reverted"
}

func (c *Confirmations) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ tracker.ConfirmationSource = (*Confirmations)(nil)
