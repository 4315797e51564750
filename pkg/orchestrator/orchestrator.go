// Package orchestrator sequences a payment from intent to settled charge:
// charge resolution, route planning, gas estimation, backend execution,
// and settlement recording.
package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/payrun-hq/payrunner/pkg/backend"
	"github.com/payrun-hq/payrunner/pkg/circuitbreaker"
	"github.com/payrun-hq/payrunner/pkg/feemodel"
	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/metrics"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/payerr"
)

// ChargeResolver resolves intents into charges. *ledger.Resolver
// implements it.
type ChargeResolver interface {
	Resolve(ctx context.Context, intent *models.PaymentIntent) (*models.Charge, error)
	CurrentChargeID() string
	Reset()
}

// RoutePlanner plans routes. *planner.Planner implements it.
type RoutePlanner interface {
	Plan(ctx context.Context, source *models.SourceAsset, charge *models.Charge, intent *models.PaymentIntent, exec models.ExecutionContext) (*models.Route, error)
}

// CostEstimator estimates the execution cost of a route on a chain
type CostEstimator interface {
	EstimateCost(ctx context.Context, chainID int, exec models.ExecutionContext, txs []models.UnsignedTransaction) (*models.CostEstimate, error)
}

// SettlementRecorder records settled payments. *ledger.Client implements it.
type SettlementRecorder interface {
	CreatePayment(ctx context.Context, record models.PaymentRecord) error
}

// TokenPricer reports the USD price of a chain's native token, zero when
// unknown
type TokenPricer interface {
	TokenPriceUSD(chainID int) float64
}

// Breaker names for the two network collaborators guarded by circuit
// breakers
const (
	BreakerLedger = "ledger"
	BreakerQuote  = "quote"
)

// Orchestrator drives one payment attempt at a time through the payment
// lifecycle. All exported methods are safe for concurrent use; the
// attempt's own transactions always run strictly in order.
type Orchestrator struct {
	resolver  ChargeResolver
	planner   RoutePlanner
	estimator CostEstimator
	recorder  SettlementRecorder
	pricer    TokenPricer
	feeModel  *feemodel.Model
	backends  map[models.BackendKind]backend.Backend
	breakers  map[string]*circuitbreaker.CircuitBreaker
	validate  *validator.Validate
	logger    logger.Logger
}

// Options collects the orchestrator's collaborators
type Options struct {
	Resolver  ChargeResolver
	Planner   RoutePlanner
	Estimator CostEstimator
	Recorder  SettlementRecorder
	Pricer    TokenPricer
	FeeModel  *feemodel.Model
	Backends  map[models.BackendKind]backend.Backend
	Breakers  map[string]*circuitbreaker.CircuitBreaker
	Logger    logger.Logger
}

// New creates an orchestrator
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = &logger.EmptyLogger{}
	}
	if opts.FeeModel == nil {
		opts.FeeModel = feemodel.New()
	}
	if opts.Breakers == nil {
		opts.Breakers = map[string]*circuitbreaker.CircuitBreaker{}
	}
	return &Orchestrator{
		resolver:  opts.Resolver,
		planner:   opts.Planner,
		estimator: opts.Estimator,
		recorder:  opts.Recorder,
		pricer:    opts.Pricer,
		feeModel:  opts.FeeModel,
		backends:  opts.Backends,
		breakers:  opts.Breakers,
		validate:  validator.New(),
		logger:    opts.Logger,
	}
}

// NewAttempt starts a fresh attempt for the given intent. The previous
// attempt, if any, is discarded.
func (o *Orchestrator) NewAttempt(intent *models.PaymentIntent) (*Attempt, error) {
	if err := o.validate.Struct(intent); err != nil {
		return nil, payerr.Wrap(payerr.KindInternal, "invalid payment intent", err)
	}
	return newAttempt(o, intent), nil
}

// CurrentChargeID exposes the charge reference the active attempt is bound
// to, for mirroring into externally visible navigation state
func (o *Orchestrator) CurrentChargeID() string {
	return o.resolver.CurrentChargeID()
}

// Breakers returns the provider circuit breakers keyed by collaborator name
func (o *Orchestrator) Breakers() map[string]*circuitbreaker.CircuitBreaker {
	return o.breakers
}

// guard runs a collaborator call through its circuit breaker. While the
// breaker is open the call is not made at all.
func (o *Orchestrator) guard(name string, fn func() error) error {
	cb, ok := o.breakers[name]
	if !ok {
		return fn()
	}

	if cb.IsOpen() {
		return payerr.Newf(payerr.KindNotReady, "%s circuit breaker is open", name)
	}

	if err := fn(); err != nil {
		if cb.RecordFailure() {
			o.logger.Error("Circuit breaker for %s tripped: %v", name, err)
		}
		return err
	}
	cb.RecordSuccess()
	return nil
}

// executeRoute runs the backend leg of the attempt: optional network
// alignment, then ordered sign/broadcast/confirm.
func (o *Orchestrator) executeRoute(ctx context.Context, a *Attempt, be backend.Backend, route *models.Route) ([]models.Receipt, error) {
	if be.NeedsNetworkAlignment() {
		a.setStep(models.StepAligningNetwork)
		aligner, ok := be.(interface {
			AlignNetwork(ctx context.Context, chainID int) error
		})
		if ok {
			if err := aligner.AlignNetwork(ctx, route.SourceChainID); err != nil {
				return nil, err
			}
		}
	}

	a.setStep(models.StepSigning)
	start := time.Now()
	receipts, err := be.Execute(ctx, route, a.feeParams(), a.setStep)
	metrics.PaymentDuration.WithLabelValues(strconv.Itoa(route.SourceChainID), string(be.Kind())).Observe(time.Since(start).Seconds())
	return receipts, err
}
