package models

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenType represents the type of token being transferred
type TokenType int

const (
	// TokenTypeNative represents the chain's native currency
	TokenTypeNative TokenType = iota
	// TokenTypeERC20 represents an ERC-20 token
	TokenTypeERC20
)

// BackendKind identifies which execution backend is active
type BackendKind string

const (
	// BackendSponsored is the managed, gas-sponsored smart wallet backend
	BackendSponsored BackendKind = "sponsored"
	// BackendSelfPaying is the user-supplied external wallet backend
	BackendSelfPaying BackendKind = "self_paying"
)

// PaymentIntent describes what the caller wants to pay. It is immutable once
// orchestration starts; a new amount or recipient requires a new intent.
type PaymentIntent struct {
	// RecipientAddress is the resolved on-chain address of the recipient
	RecipientAddress string `json:"recipient_address" validate:"required"`
	// TokenAmount is the requested token amount as a decimal string in user units
	TokenAmount string `json:"token_amount" validate:"required"`
	// ChargeID references a pre-existing charge, if any
	ChargeID string `json:"charge_id,omitempty"`
	// RequestID references a pre-existing request, if any
	RequestID string `json:"request_id,omitempty"`
	// IsExternalWalletFlow is true when the user pays from their own wallet
	IsExternalWalletFlow bool `json:"is_external_wallet_flow"`
	// IsDirectUsdPayment is true when the amount is denominated in USD rather
	// than in exact destination token units
	IsDirectUsdPayment bool `json:"is_direct_usd_payment"`
	// Reference is an optional free-text note forwarded on charge creation
	Reference string `json:"reference,omitempty"`

	// Destination asset fields, used when a request template has to be
	// created from the intent itself rather than looked up
	ChainID       int       `json:"chain_id,omitempty"`
	TokenAddress  string    `json:"token_address,omitempty"`
	TokenSymbol   string    `json:"token_symbol,omitempty"`
	TokenDecimals int       `json:"token_decimals,omitempty"`
	TokenType     TokenType `json:"token_type,omitempty"`
}

// Request is the recipient+amount+asset template a charge is created from
type Request struct {
	ID               string    `json:"uuid"`
	RecipientAddress string    `json:"recipient_address"`
	ChainID          int       `json:"chain_id"`
	TokenAddress     string    `json:"token_address"`
	TokenSymbol      string    `json:"token_symbol"`
	TokenDecimals    int       `json:"token_decimals"`
	TokenType        TokenType `json:"token_type"`
}

// Charge is the server-side record of a specific payment obligation.
// It is owned by the external charge ledger; the orchestrator only reads
// and creates charges.
type Charge struct {
	ID               string    `json:"uuid"`
	ChainID          int       `json:"chain_id"`
	TokenAddress     string    `json:"token_address"`
	TokenSymbol      string    `json:"token_symbol"`
	TokenDecimals    int       `json:"token_decimals"`
	TokenType        TokenType `json:"token_type"`
	TokenAmount      string    `json:"token_amount"`
	RecipientAddress string    `json:"recipient_address"`
	RequestID        string    `json:"request_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// SourceAsset describes the asset the payer is spending from
type SourceAsset struct {
	ChainID      int
	TokenAddress string
	TokenSymbol  string
	TokenType    TokenType
	// TokenDecimals is nil when the asset lacks decimals metadata, which
	// makes the asset unusable for route planning
	TokenDecimals *int
	// PriceUSD is the unit price of the asset in USD, zero when unknown
	PriceUSD float64
}

// UnsignedTransaction is a transaction prepared for signing
type UnsignedTransaction struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Route is the ordered set of on-chain transactions required to fulfill a
// charge from a given source asset.
//
// Invariant: a direct route has exactly one transaction and zero slippage; a
// converted route is produced by quoting against the charge's exact
// requested output.
type Route struct {
	IsCrossChain bool
	ChangesToken bool
	Transactions []UnsignedTransaction
	// EstimatedFromAmount is the amount actually debited from the source
	// asset, a decimal string in source-asset user units
	EstimatedFromAmount string
	// FeeEstimateNative is the route's fee in source-asset units
	FeeEstimateNative string
	// SlippagePercentage is zero for direct routes
	SlippagePercentage float64
	// SourceChainID is the chain the transactions execute on
	SourceChainID int
	// SignerAddress is the address the route was planned for
	SignerAddress common.Address
	// Backend is the execution backend the route was planned under. A
	// sponsored route passed the allow-list check; a self-paying one did
	// not, so routes are never reused across backends.
	Backend BackendKind
}

// IsConverted reports whether the route crosses chains or changes token
func (r *Route) IsConverted() bool {
	return r.IsCrossChain || r.ChangesToken
}

// FeeParams carries backend-specific gas parameters for one transaction
type FeeParams struct {
	GasLimit uint64
	GasPrice *big.Int
}

// CostEstimate is the result of estimating a route's execution cost
type CostEstimate struct {
	CostUSD   float64
	FeeParams []FeeParams
}

// FeeBand is a {expected, max} pair of display-formatted amounts
type FeeBand struct {
	Expected string `json:"expected"`
	Max      string `json:"max"`
}

// FeeEstimate is the display-safe fee breakdown shown before paying.
// Derived, never persisted.
type FeeEstimate struct {
	NetworkFee   FeeBand  `json:"network_fee"`
	Slippage     *FeeBand `json:"slippage,omitempty"`
	EstimatedFee string   `json:"estimated_fee"`
	TotalMax     string   `json:"total_max"`
}

// ExecutionContext is the wallet collaborator's view of the active signer.
// It is read-only input that can change between steps; the orchestrator
// re-validates it before signing.
type ExecutionContext struct {
	Backend       BackendKind
	SignerAddress common.Address
	// ConnectedChainID is only meaningful for the self-paying backend;
	// zero means unknown
	ConnectedChainID int
}

// Receipt is the confirmation of a broadcast transaction
type Receipt struct {
	TxHash   common.Hash
	ChainID  int
	Reverted bool
	GasUsed  uint64
}

// PaymentRecord is the terminal artifact of a successful payment
type PaymentRecord struct {
	ChargeID     string    `json:"charge_id"`
	ChainID      int       `json:"chain_id"`
	TxHash       string    `json:"tx_hash"`
	PayerAddress string    `json:"payer_address"`
	CreatedAt    time.Time `json:"created_at"`
}

// AddressesEqual compares two EVM addresses case-insensitively
func AddressesEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
