package backend

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalWallet is a Wallet backed by an in-process private key. It is used
// for the managed sponsored key and for headless self-paying deployments
// where the service holds the key itself.
type LocalWallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address

	mu           sync.Mutex
	currentChain int
}

var _ Wallet = (*LocalWallet)(nil)

// NewLocalWallet parses a hex private key into a wallet
func NewLocalWallet(privateKeyHex string) (*LocalWallet, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	return &LocalWallet{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

func (w *LocalWallet) Address() common.Address {
	return w.address
}

func (w *LocalWallet) ConnectedChainID(_ context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentChain, nil
}

// SwitchChain never fails for a local key; it just records the target
func (w *LocalWallet) SwitchChain(_ context.Context, chainID int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentChain = chainID
	return nil
}

func (w *LocalWallet) SignTransaction(_ context.Context, chainID int, tx *types.Transaction) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(big.NewInt(int64(chainID)))
	signed, err := types.SignTx(tx, signer, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %v", err)
	}
	return signed, nil
}
