package ledger

import (
	"context"
	"strings"
	"sync"

	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/metrics"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/payerr"
)

// Resolver turns a payment intent into a concrete charge. Resolution is
// idempotent: calling Resolve again with the same intent returns the same
// charge without creating a duplicate.
type Resolver struct {
	client *Client
	logger logger.Logger

	mu sync.Mutex
	// currentChargeID is the reference to the charge this payment attempt
	// is bound to. It survives failed downstream steps so a retry pays the
	// same charge, and is cleared only when charge creation itself fails.
	currentChargeID string
	cachedCharge    *models.Charge
	cachedRequest   *models.Request
}

// NewResolver creates a charge resolver backed by the given ledger client
func NewResolver(client *Client, log logger.Logger) *Resolver {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Resolver{
		client: client,
		logger: log,
	}
}

// SeedRequest primes the resolver with an already-fetched request, e.g. one
// loaded while rendering the payment view
func (r *Resolver) SeedRequest(req *models.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedRequest = req
}

// CurrentChargeID returns the charge id the active payment attempt is bound
// to, empty when no charge has been resolved yet
func (r *Resolver) CurrentChargeID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentChargeID
}

// Reset clears all resolution state, detaching the resolver from the
// current payment attempt
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentChargeID = ""
	r.cachedCharge = nil
	r.cachedRequest = nil
}

// Resolve determines the charge for the given intent.
//
// Resolution order: an explicit charge id wins, then a charge already bound
// to this attempt, then a new charge created from the request identified by
// the intent (or the seeded request when the intent names none).
func (r *Resolver) Resolve(ctx context.Context, intent *models.PaymentIntent) (*models.Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chargeID := intent.ChargeID
	if chargeID == "" {
		chargeID = r.currentChargeID
	}

	if chargeID != "" {
		if r.cachedCharge != nil && r.cachedCharge.ID == chargeID {
			return r.cachedCharge, nil
		}

		charge, err := r.client.GetCharge(ctx, chargeID)
		if err != nil {
			return nil, payerr.Wrap(payerr.KindChargeCreationFailed, "failed to load charge", err)
		}
		r.bind(charge)
		return charge, nil
	}

	req, err := r.resolveRequest(ctx, intent)
	if err != nil {
		return nil, err
	}

	charge, err := r.client.CreateCharge(ctx, CreateChargeParams{
		PricingType: "fixed_price",
		LocalPrice:  LocalPrice{Amount: intent.TokenAmount, Currency: "USD"},
		RequestID:   req.ID,
		Reference:   intent.Reference,
	})
	if err != nil {
		// The attempt has no usable charge; drop the reference so the
		// next attempt starts clean.
		r.currentChargeID = ""
		r.cachedCharge = nil
		return nil, payerr.Wrap(payerr.KindChargeCreationFailed, "failed to create charge", err)
	}

	metrics.ChargesCreated.Inc()
	r.logger.Info("Created charge %s for request %s", charge.ID, req.ID)
	r.bind(charge)
	return charge, nil
}

func (r *Resolver) resolveRequest(ctx context.Context, intent *models.PaymentIntent) (*models.Request, error) {
	if intent.RequestID != "" {
		if strings.TrimSpace(intent.RequestID) == "" {
			return nil, payerr.New(payerr.KindInvalidRequestID, "Invalid request ID")
		}
		if r.cachedRequest != nil && r.cachedRequest.ID == intent.RequestID {
			return r.cachedRequest, nil
		}

		req, err := r.client.GetRequest(ctx, intent.RequestID)
		if err != nil {
			return nil, payerr.Wrap(payerr.KindInvalidRequestID, "Invalid request ID", err)
		}
		r.cachedRequest = req
		return req, nil
	}

	if r.cachedRequest != nil {
		return r.cachedRequest, nil
	}

	// Creating a request from the intent is only permitted when it carries
	// a directly resolved recipient address.
	if intent.RecipientAddress == "" {
		return nil, payerr.New(payerr.KindInvalidRequestID, "Invalid request ID")
	}
	req, err := r.client.CreateRequest(ctx, CreateRequestParams{
		RecipientAddress: intent.RecipientAddress,
		ChainID:          intent.ChainID,
		TokenAddress:     intent.TokenAddress,
		TokenSymbol:      intent.TokenSymbol,
		TokenDecimals:    intent.TokenDecimals,
		TokenType:        intent.TokenType,
	})
	if err != nil {
		return nil, payerr.Wrap(payerr.KindChargeCreationFailed, "failed to create request", err)
	}
	r.cachedRequest = req
	return req, nil
}

func (r *Resolver) bind(charge *models.Charge) {
	r.currentChargeID = charge.ID
	r.cachedCharge = charge
}
