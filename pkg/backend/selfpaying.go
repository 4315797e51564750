package backend

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/payrun-hq/payrunner/pkg/chainclient"
	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/metrics"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/payerr"
)

// SelfPaying executes routes with the user's own wallet. The wallet pays
// gas, so it must be connected to the route's chain, and every transaction
// must confirm before the next one is signed.
type SelfPaying struct {
	wallet         Wallet
	clients        map[int]*chainclient.Client
	receiptTimeout time.Duration
	logger         logger.Logger
}

var _ Backend = (*SelfPaying)(nil)

// NewSelfPaying creates the self-paying backend
func NewSelfPaying(wallet Wallet, clients map[int]*chainclient.Client, receiptTimeout time.Duration, log logger.Logger) *SelfPaying {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if receiptTimeout <= 0 {
		receiptTimeout = chainclient.DefaultReceiptTimeout
	}
	return &SelfPaying{
		wallet:         wallet,
		clients:        clients,
		receiptTimeout: receiptTimeout,
		logger:         log,
	}
}

func (b *SelfPaying) Kind() models.BackendKind { return models.BackendSelfPaying }

func (b *SelfPaying) NeedsNetworkAlignment() bool { return true }

// AlignNetwork makes sure the wallet is connected to the given chain,
// asking it to switch when it is not
func (b *SelfPaying) AlignNetwork(ctx context.Context, chainID int) error {
	connected, err := b.wallet.ConnectedChainID(ctx)
	if err != nil {
		return payerr.Wrap(payerr.KindNetworkSwitchFailed, "failed to read connected chain", err)
	}
	if connected == chainID {
		return nil
	}

	if err := b.wallet.SwitchChain(ctx, chainID); err != nil {
		return payerr.Wrap(payerr.KindNetworkSwitchFailed,
			"wallet did not switch to chain "+strconv.Itoa(chainID), err)
	}
	b.logger.InfoWithChain(chainID, "Wallet switched to chain %d", chainID)
	return nil
}

// Execute signs, broadcasts, and confirms the route's transactions
// strictly in order. The loop never runs ahead of confirmations: a
// transaction is only signed once every earlier one has a successful
// receipt. When a later transaction fails after an earlier one confirmed,
// the error reports partial execution and the receipts collected so far
// are returned so the caller can surface the funds that already moved.
func (b *SelfPaying) Execute(ctx context.Context, route *models.Route, feeParams []models.FeeParams, onStep func(models.Step)) ([]models.Receipt, error) {
	if onStep == nil {
		onStep = func(models.Step) {}
	}
	client, ok := b.clients[route.SourceChainID]
	if !ok {
		return nil, payerr.Newf(payerr.KindNotReady, "no client for chain %d", route.SourceChainID)
	}

	nonce, err := client.PendingNonceAt(ctx, b.wallet.Address())
	if err != nil {
		return nil, payerr.Wrap(payerr.KindInternal, "failed to fetch nonce", err)
	}

	chainLabel := strconv.Itoa(route.SourceChainID)
	receipts := make([]models.Receipt, 0, len(route.Transactions))

	for i, utx := range route.Transactions {
		params := paramsAt(feeParams, i, client)

		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce + uint64(i),
			GasPrice: params.GasPrice,
			Gas:      params.GasLimit,
			To:       &utx.To,
			Value:    valueOrZero(utx.Value),
			Data:     utx.Data,
		})

		onStep(models.StepSigning)
		signed, err := b.wallet.SignTransaction(ctx, route.SourceChainID, tx)
		if err != nil {
			return receipts, b.stepError(i, receipts, route.SourceChainID,
				payerr.Wrap(payerr.KindSigningRejected, "wallet rejected transaction", err))
		}

		if err := client.Broadcast(ctx, signed); err != nil {
			return receipts, b.stepError(i, receipts, route.SourceChainID,
				payerr.Wrap(payerr.KindInternal, "failed to broadcast transaction", err))
		}
		metrics.TransactionsBroadcast.WithLabelValues(chainLabel, string(models.BackendSelfPaying)).Inc()

		onStep(models.StepConfirming)
		receipt, err := client.WaitForReceipt(ctx, signed.Hash(), b.receiptTimeout)
		if err != nil {
			return receipts, b.stepError(i, receipts, route.SourceChainID, err)
		}
		metrics.TransactionsConfirmed.WithLabelValues(chainLabel, string(models.BackendSelfPaying)).Inc()

		receipts = append(receipts, models.Receipt{
			TxHash:  receipt.TxHash,
			ChainID: route.SourceChainID,
			GasUsed: receipt.GasUsed,
		})
		b.logger.InfoWithChain(route.SourceChainID, "Confirmed transaction %d/%d: %s",
			i+1, len(route.Transactions), receipt.TxHash.Hex())
	}

	return receipts, nil
}

// stepError escalates a failure at step i to a partial execution failure
// when earlier transactions already confirmed
func (b *SelfPaying) stepError(i int, confirmed []models.Receipt, chainID int, err error) error {
	if i == 0 || len(confirmed) == 0 {
		return err
	}
	metrics.PartialExecutionFailures.WithLabelValues(strconv.Itoa(chainID)).Inc()
	b.logger.ErrorWithChain(chainID, "Transaction %d failed after %d confirmed: %v", i+1, len(confirmed), err)
	return payerr.Wrap(payerr.KindPartialExecutionFailure,
		"route failed after "+strconv.Itoa(len(confirmed))+" confirmed transactions, first hash "+confirmed[0].TxHash.Hex(),
		err)
}

func paramsAt(feeParams []models.FeeParams, i int, client *chainclient.Client) models.FeeParams {
	if i < len(feeParams) {
		return feeParams[i]
	}
	// No estimate for this step; fall back to the last refreshed gas price
	// and a conservative limit.
	return models.FeeParams{
		GasLimit: 300000,
		GasPrice: client.CurrentGasPrice(),
	}
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
