package backend

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/payrun-hq/payrunner/pkg/chainclient"
	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/metrics"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/payerr"
)

// Sponsored executes routes with the managed smart wallet. Gas is paid by
// the relay, the wallet key never leaves the service, and no network
// switching is involved. The relay only accepts single-transaction
// submissions.
type Sponsored struct {
	wallet         *LocalWallet
	relay          Relayer
	clients        map[int]*chainclient.Client
	receiptTimeout time.Duration
	logger         logger.Logger
}

var _ Backend = (*Sponsored)(nil)

// NewSponsored creates the sponsored backend around the managed key
func NewSponsored(wallet *LocalWallet, relay Relayer, clients map[int]*chainclient.Client, receiptTimeout time.Duration, log logger.Logger) *Sponsored {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if receiptTimeout <= 0 {
		receiptTimeout = chainclient.DefaultReceiptTimeout
	}
	return &Sponsored{
		wallet:         wallet,
		relay:          relay,
		clients:        clients,
		receiptTimeout: receiptTimeout,
		logger:         log,
	}
}

func (b *Sponsored) Kind() models.BackendKind { return models.BackendSponsored }

// NeedsNetworkAlignment is false: the managed wallet signs for any chain
// without switching anything
func (b *Sponsored) NeedsNetworkAlignment() bool { return false }

func (b *Sponsored) Execute(ctx context.Context, route *models.Route, feeParams []models.FeeParams, onStep func(models.Step)) ([]models.Receipt, error) {
	if onStep == nil {
		onStep = func(models.Step) {}
	}
	if len(route.Transactions) != 1 {
		return nil, payerr.Newf(payerr.KindUnsupportedByBackend,
			"sponsored backend cannot execute a %d-transaction route", len(route.Transactions))
	}

	client, ok := b.clients[route.SourceChainID]
	if !ok {
		return nil, payerr.Newf(payerr.KindNotReady, "no client for chain %d", route.SourceChainID)
	}

	nonce, err := client.PendingNonceAt(ctx, b.wallet.Address())
	if err != nil {
		return nil, payerr.Wrap(payerr.KindInternal, "failed to fetch nonce", err)
	}

	utx := route.Transactions[0]
	params := paramsAt(feeParams, 0, client)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: params.GasPrice,
		Gas:      params.GasLimit,
		To:       &utx.To,
		Value:    valueOrZero(utx.Value),
		Data:     utx.Data,
	})

	onStep(models.StepSigning)
	signed, err := b.wallet.SignTransaction(ctx, route.SourceChainID, tx)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindSigningRejected, "managed key failed to sign", err)
	}

	txHash, err := b.relay.Submit(ctx, route.SourceChainID, signed)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindInternal, "relay submission failed", err)
	}

	chainLabel := strconv.Itoa(route.SourceChainID)
	metrics.TransactionsBroadcast.WithLabelValues(chainLabel, string(models.BackendSponsored)).Inc()
	b.logger.InfoWithChain(route.SourceChainID, "Relay accepted sponsored transaction %s", txHash.Hex())

	onStep(models.StepConfirming)
	receipt, err := client.WaitForReceipt(ctx, txHash, b.receiptTimeout)
	if err != nil {
		return nil, err
	}
	metrics.TransactionsConfirmed.WithLabelValues(chainLabel, string(models.BackendSponsored)).Inc()

	return []models.Receipt{{
		TxHash:  receipt.TxHash,
		ChainID: route.SourceChainID,
		GasUsed: receipt.GasUsed,
	}}, nil
}
