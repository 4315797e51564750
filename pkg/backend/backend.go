// Package backend implements the execution backends a payment can run on:
// the user's own wallet paying its own gas, or the managed gas-sponsored
// wallet.
package backend

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/payrun-hq/payrunner/pkg/models"
)

// Backend executes a planned route and returns the receipts in
// transaction order
type Backend interface {
	// Kind identifies the backend
	Kind() models.BackendKind

	// NeedsNetworkAlignment reports whether the signer's wallet must be on
	// the route's chain before signing
	NeedsNetworkAlignment() bool

	// Execute signs, broadcasts, and confirms every transaction of the
	// route strictly in order. Receipts for confirmed transactions are
	// returned even when a later transaction fails. onStep, when non-nil,
	// is called as execution moves between signing and confirming.
	Execute(ctx context.Context, route *models.Route, feeParams []models.FeeParams, onStep func(models.Step)) ([]models.Receipt, error)
}

// Wallet abstracts the signer collaborator of the self-paying backend.
// It mirrors what an external wallet can do: report its address and
// connected chain, switch chains, and sign transactions. Any of these can
// fail or be rejected by the user.
type Wallet interface {
	Address() common.Address
	ConnectedChainID(ctx context.Context) (int, error)
	SwitchChain(ctx context.Context, chainID int) error
	SignTransaction(ctx context.Context, chainID int, tx *types.Transaction) (*types.Transaction, error)
}
