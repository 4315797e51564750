// Package chainclient wraps per-chain RPC connections with the gas and
// price plumbing the orchestrator needs.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/payrun-hq/payrunner/pkg/config"
	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/metrics"
	"github.com/payrun-hq/payrunner/pkg/payerr"
)

const (
	// receiptPollInterval is how often a pending transaction is polled
	receiptPollInterval = 2 * time.Second

	// DefaultReceiptTimeout bounds how long a confirmation wait can block
	DefaultReceiptTimeout = 3 * time.Minute
)

// Backend is the subset of ethclient.Client the chain client depends on.
// Tests substitute a fake implementation.
type Backend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client contains the connection and gas policy for a specific blockchain
type Client struct {
	ChainID       int
	RPCURL        string
	MaxGasPrice   *big.Int
	GasMultiplier float64

	backend Backend
	logger  logger.Logger

	mu              sync.RWMutex
	currentGasPrice *big.Int
	tokenPriceUSD   float64
}

// New dials the chain's RPC endpoint and returns a connected client
func New(cfg config.ChainConfig, log logger.Logger) (*Client, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	client := &Client{
		ChainID:       cfg.ChainID,
		RPCURL:        cfg.RPCURL,
		MaxGasPrice:   cfg.MaxGasPrice,
		GasMultiplier: gasMultiplierFor(cfg.ChainID),
		logger:        log,
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d: %v", cfg.ChainID, err)
	}
	client.backend = eth

	return client, nil
}

// NewWithBackend builds a client around an existing backend, used by tests
func NewWithBackend(chainID int, backend Backend, maxGasPrice *big.Int, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Client{
		ChainID:       chainID,
		MaxGasPrice:   maxGasPrice,
		GasMultiplier: gasMultiplierFor(chainID),
		backend:       backend,
		logger:        log,
	}
}

// gasMultiplierFor reads the per-chain gas buffer from the environment,
// defaulting to a 10% buffer
func gasMultiplierFor(chainID int) float64 {
	gasMultiplier := 1.1
	if s := os.Getenv(fmt.Sprintf("CHAIN_%d_GAS_MULTIPLIER", chainID)); s != "" {
		parsed, err := strconv.ParseFloat(s, 64)
		if err == nil && parsed > 0 {
			gasMultiplier = parsed
		}
	}
	return gasMultiplier
}

// SuggestBufferedGasPrice returns the network's suggested gas price with
// the chain's buffer multiplier applied. It fails when the buffered price
// exceeds the configured cap so callers back off instead of overpaying.
func (c *Client) SuggestBufferedGasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	buffered := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(c.GasMultiplier),
	)
	finalGasPrice := new(big.Int)
	buffered.Int(finalGasPrice)

	if c.MaxGasPrice != nil && c.MaxGasPrice.Sign() > 0 && finalGasPrice.Cmp(c.MaxGasPrice) > 0 {
		return nil, payerr.Newf(payerr.KindGasPriceTooHigh,
			"gas price %s exceeds cap %s on chain %d",
			finalGasPrice.String(), c.MaxGasPrice.String(), c.ChainID)
	}

	c.mu.Lock()
	c.currentGasPrice = finalGasPrice
	c.mu.Unlock()

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(finalGasPrice), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.WithLabelValues(strconv.Itoa(c.ChainID)).Set(gwei)

	return finalGasPrice, nil
}

// CurrentGasPrice returns the last buffered gas price, nil before the
// first successful fetch
func (c *Client) CurrentGasPrice() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentGasPrice
}

// TokenPriceUSD returns the last known native token price, zero when unknown
func (c *Client) TokenPriceUSD() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenPriceUSD
}

func (c *Client) setTokenPriceUSD(price float64) {
	c.mu.Lock()
	c.tokenPriceUSD = price
	c.mu.Unlock()
}

// EstimateGas estimates gas for a single call from the given sender
func (c *Client) EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gas, err := c.backend.EstimateGas(timeoutCtx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %v", err)
	}
	return gas, nil
}

// PendingNonceAt returns the next nonce for the given account
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.backend.PendingNonceAt(ctx, account)
}

// Broadcast submits a signed transaction to the chain
func (c *Client) Broadcast(ctx context.Context, tx *types.Transaction) error {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	c.logger.InfoWithChain(c.ChainID, "Broadcast transaction %s", tx.Hash().Hex())
	return nil
}

// WaitForReceipt polls for the receipt of a broadcast transaction.
//
// Three outcomes are distinguished: a successful receipt, a definitive
// revert, and a timeout with no answer. A timeout must never be treated as
// failure by callers that could resubmit, because the transaction may still
// confirm.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, payerr.Newf(payerr.KindTransactionReverted,
					"transaction %s reverted on chain %d", txHash.Hex(), c.ChainID)
			}
			return receipt, nil
		}
		if err != nil && err != ethereum.NotFound {
			c.logger.DebugWithChain(c.ChainID, "Receipt lookup for %s failed: %v", txHash.Hex(), err)
		}

		if time.Now().After(deadline) {
			return nil, payerr.Newf(payerr.KindProviderTimeout,
				"no receipt for transaction %s on chain %d after %s", txHash.Hex(), c.ChainID, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, payerr.Wrap(payerr.KindProviderTimeout,
				fmt.Sprintf("receipt wait for %s interrupted", txHash.Hex()), ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetLatestBlockNumber gets the latest block number from the chain
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}
