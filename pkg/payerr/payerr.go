// Package payerr defines the typed error taxonomy surfaced by the payment
// orchestrator. Every error carries a machine-readable Kind the caller can
// branch on and a human-readable message.
package payerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the machine-readable error category
type Kind string

const (
	// KindInvalidRequestID means a supplied request id did not resolve
	KindInvalidRequestID Kind = "invalid_request_id"
	// KindChargeCreationFailed means the ledger call failed or omitted an id
	KindChargeCreationFailed Kind = "charge_creation_failed"
	// KindUnsupportedAsset means the source asset lacks decimals metadata
	KindUnsupportedAsset Kind = "unsupported_asset"
	// KindUnsupportedByBackend means the (chain, token) pair is outside the
	// sponsored backend's allow-list
	KindUnsupportedByBackend Kind = "unsupported_by_backend"
	// KindRoutePlanningFailed wraps a quote provider error
	KindRoutePlanningFailed Kind = "route_planning_failed"
	// KindGasEstimationFailed means the displayed fee is unreliable; it does
	// not block proceeding to signing
	KindGasEstimationFailed Kind = "gas_estimation_failed"
	// KindNetworkSwitchFailed means the signer's wallet rejected or could not
	// switch chains
	KindNetworkSwitchFailed Kind = "network_switch_failed"
	// KindSigningRejected means the signer declined; no funds moved
	KindSigningRejected Kind = "signing_rejected"
	// KindPartialExecutionFailure means an earlier transaction in a
	// multi-transaction route confirmed and a later one failed; funds may
	// already have moved
	KindPartialExecutionFailure Kind = "partial_execution_failure"
	// KindProviderTimeout means no definitive answer was obtained; the caller
	// can poll rather than resubmit
	KindProviderTimeout Kind = "provider_timeout"
	// KindTransactionReverted means the chain definitively rejected the
	// transaction
	KindTransactionReverted Kind = "transaction_reverted"
	// KindGasPriceTooHigh means the buffered gas price exceeds the configured
	// per-chain cap; retry later
	KindGasPriceTooHigh Kind = "gas_price_too_high"
	// KindSettlementRecordingFailed means the chain succeeded but the ledger
	// update failed; re-recording the known hash is safe
	KindSettlementRecordingFailed Kind = "settlement_recording_failed"
	// KindNotReady means a step was entered without its prerequisite state
	KindNotReady Kind = "not_ready"
	// KindInternal is anything that does not fit the taxonomy
	KindInternal Kind = "internal"
)

// Error is the orchestrator's error type
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no cause
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around a cause
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain, or KindInternal
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// Is reports whether the error chain carries the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether retrying without changing inputs can succeed.
// PartialExecutionFailure is deliberately non-retryable: a plain retry could
// double-spend the already-confirmed leg.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindInvalidRequestID,
		KindChargeCreationFailed,
		KindRoutePlanningFailed,
		KindGasEstimationFailed,
		KindNetworkSwitchFailed,
		KindSigningRejected,
		KindProviderTimeout,
		KindGasPriceTooHigh,
		KindSettlementRecordingFailed:
		return true
	case KindUnsupportedAsset,
		KindUnsupportedByBackend,
		KindPartialExecutionFailure,
		KindTransactionReverted,
		KindNotReady:
		return false
	}
	// Unknown provider errors fall back to string classification
	retry, _ := ClassifyProviderError(err)
	return retry
}

// ClassifyProviderError buckets raw provider/RPC errors by message text.
// Returns (shouldRetry, errorType); errorType feeds metrics labels.
func ClassifyProviderError(err error) (bool, string) {
	if err == nil {
		return false, "none"
	}
	errStr := err.Error()

	// Network/RPC errors - retry is appropriate
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return true, "network_error"
	}

	// Gas-related errors - retry may help if gas prices change
	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "insufficient funds for gas") ||
		strings.Contains(errStr, "gas price too low") {
		return true, "gas_error"
	}

	// Nonce-related errors - retry may help after nonce is corrected
	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return true, "nonce_error"
	}

	// Balance-related errors - permanent failures
	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") {
		return false, "insufficient_funds"
	}

	// Contract errors - permanent failures
	if strings.Contains(errStr, "execution reverted") {
		return false, "contract_error"
	}

	return true, "unknown_error"
}

// IsTimeout reports whether the error looks like a provider timeout rather
// than a definitive on-chain answer
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, KindProviderTimeout) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "context deadline exceeded")
}
