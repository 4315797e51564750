package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/payrun-hq/payrunner/pkg/feemodel"
	"github.com/payrun-hq/payrunner/pkg/metrics"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/payerr"
)

// Attempt is one payment run for a fixed intent. A changed amount,
// recipient, or source asset needs a new attempt; edits that only affect
// the planned route go through Invalidate.
type Attempt struct {
	o      *Orchestrator
	intent *models.PaymentIntent

	mu         sync.Mutex
	step       models.Step
	generation uint64
	charge     *models.Charge
	route      *models.Route
	cost       *models.CostEstimate
	fee        *models.FeeEstimate
	// feeUnreliable is set when gas estimation failed: the displayed fee
	// may be wrong, but signing is still allowed
	feeUnreliable bool
	receipts      []models.Receipt
	record        *models.PaymentRecord
	// pendingRecord holds a settlement that confirmed on-chain but was not
	// yet accepted by the ledger
	pendingRecord *models.PaymentRecord
	err           error
}

func newAttempt(o *Orchestrator, intent *models.PaymentIntent) *Attempt {
	return &Attempt{
		o:      o,
		intent: intent,
		step:   models.StepIdle,
	}
}

// Step returns the attempt's current lifecycle position
func (a *Attempt) Step() models.Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.step
}

func (a *Attempt) setStep(step models.Step) {
	a.mu.Lock()
	a.step = step
	a.mu.Unlock()
}

// Generation returns the current edit generation
func (a *Attempt) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// Route returns the currently captured route, nil when none is valid
func (a *Attempt) Route() *models.Route {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.route
}

// FeeEstimate returns the current display fee breakdown and whether it is
// reliable. Nil until a route has been prepared.
func (a *Attempt) FeeEstimate() (*models.FeeEstimate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fee, !a.feeUnreliable
}

// Receipts returns the receipts of confirmed transactions, in order. On a
// partial execution failure this is how the caller learns which funds
// already moved.
func (a *Attempt) Receipts() []models.Receipt {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Receipt, len(a.receipts))
	copy(out, a.receipts)
	return out
}

// Record returns the settled payment record, nil before Success
func (a *Attempt) Record() *models.PaymentRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record
}

// Err returns the typed error of a failed attempt
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Invalidate bumps the generation counter, discarding the captured route
// and fee and any speculative computation still in flight. Call it when
// the user edits anything the route depends on.
func (a *Attempt) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	a.route = nil
	a.cost = nil
	a.fee = nil
	a.feeUnreliable = false
}

// Reset abandons the attempt: local state is discarded and the visible
// charge reference is cleared. Only valid before Signing has begun.
func (a *Attempt) Reset() error {
	a.mu.Lock()
	switch a.step {
	case models.StepSigning, models.StepConfirming, models.StepRecordingSettlement:
		a.mu.Unlock()
		return payerr.Newf(payerr.KindNotReady, "cannot reset while %s", a.step)
	}
	a.generation++
	a.step = models.StepIdle
	a.charge = nil
	a.route = nil
	a.cost = nil
	a.fee = nil
	a.feeUnreliable = false
	a.receipts = nil
	a.record = nil
	a.pendingRecord = nil
	a.err = nil
	a.mu.Unlock()

	a.o.resolver.Reset()
	return nil
}

// PrepareRoute speculatively plans a route and fee estimate for the given
// target before the user commits. The result is applied only if no edit
// happened while it was computed; a stale result is silently discarded.
// Safe to call from its own goroutine.
func (a *Attempt) PrepareRoute(ctx context.Context, source *models.SourceAsset, target *models.Charge, exec models.ExecutionContext) error {
	a.mu.Lock()
	gen := a.generation
	a.mu.Unlock()

	route, cost, feeUnreliable, err := a.computeRoute(ctx, source, target, exec)
	if err != nil {
		return err
	}
	fee := a.computeFee(route, cost, source, exec)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen {
		metrics.StaleQuotesDiscarded.Inc()
		a.o.logger.Debug("Discarded stale route for generation %d (current %d)", gen, a.generation)
		return nil
	}
	a.route = route
	a.cost = cost
	a.fee = &fee
	a.feeUnreliable = feeUnreliable
	return nil
}

// Pay runs the attempt to completion: resolve the charge, plan or reuse
// the route, execute on the backend, and record the settlement. It may be
// called again after an Error; the resolved charge survives failures in
// later steps so a retry does not create a second charge.
func (a *Attempt) Pay(ctx context.Context, source *models.SourceAsset, exec models.ExecutionContext) (*models.PaymentRecord, error) {
	a.mu.Lock()
	if a.step == models.StepSuccess {
		record := a.record
		a.mu.Unlock()
		return record, nil
	}
	if a.step != models.StepIdle && a.step != models.StepError {
		a.mu.Unlock()
		return nil, payerr.Newf(payerr.KindNotReady, "attempt already running at %s", a.step)
	}
	a.err = nil
	a.mu.Unlock()

	// A settlement that already confirmed on-chain only needs re-recording.
	if a.hasPendingSettlement() {
		if err := a.RecordSettlement(ctx); err != nil {
			return nil, err
		}
		return a.Record(), nil
	}

	a.setStep(models.StepResolvingCharge)
	var charge *models.Charge
	err := a.o.guard(BreakerLedger, func() error {
		var rerr error
		charge, rerr = a.o.resolver.Resolve(ctx, a.intent)
		return rerr
	})
	if err != nil {
		return nil, a.fail(0, exec, err)
	}
	a.mu.Lock()
	a.charge = charge
	a.mu.Unlock()

	a.setStep(models.StepPlanningRoute)
	route, cost, feeUnreliable, err := a.currentOrFreshRoute(ctx, source, charge, exec)
	if err != nil {
		return nil, a.fail(charge.ChainID, exec, err)
	}
	fee := a.computeFee(route, cost, source, exec)
	a.mu.Lock()
	a.route = route
	a.cost = cost
	a.fee = &fee
	a.feeUnreliable = feeUnreliable
	a.mu.Unlock()

	be, ok := a.o.backends[exec.Backend]
	if !ok {
		return nil, a.fail(route.SourceChainID, exec, payerr.Newf(payerr.KindNotReady, "no %s backend configured", exec.Backend))
	}

	receipts, err := a.o.executeRoute(ctx, a, be, route)
	a.mu.Lock()
	a.receipts = receipts
	a.mu.Unlock()
	if err != nil {
		return nil, a.fail(route.SourceChainID, exec, err)
	}
	if len(receipts) == 0 {
		return nil, a.fail(route.SourceChainID, exec, payerr.New(payerr.KindNotReady, "backend returned no receipts"))
	}

	final := receipts[len(receipts)-1]
	record := &models.PaymentRecord{
		ChargeID:     charge.ID,
		ChainID:      final.ChainID,
		TxHash:       final.TxHash.Hex(),
		PayerAddress: exec.SignerAddress.Hex(),
		CreatedAt:    time.Now().UTC(),
	}
	a.mu.Lock()
	a.pendingRecord = record
	a.mu.Unlock()

	if err := a.RecordSettlement(ctx); err != nil {
		return nil, err
	}
	return a.Record(), nil
}

// RecordSettlement reports the confirmed settlement to the charge ledger.
// It re-records the known transaction hash and never touches the chain, so
// it is safe to retry until the ledger accepts it.
func (a *Attempt) RecordSettlement(ctx context.Context) error {
	a.mu.Lock()
	record := a.pendingRecord
	exec := models.ExecutionContext{}
	a.mu.Unlock()
	if record == nil {
		return payerr.New(payerr.KindNotReady, "no settlement to record")
	}
	if record.TxHash == "" {
		return payerr.New(payerr.KindNotReady, "settlement has no transaction hash")
	}

	a.setStep(models.StepRecordingSettlement)
	err := a.o.guard(BreakerLedger, func() error {
		return a.o.recorder.CreatePayment(ctx, *record)
	})
	chainLabel := strconv.Itoa(record.ChainID)
	if err != nil {
		metrics.SettlementsRecorded.WithLabelValues(chainLabel, "failed").Inc()
		return a.fail(record.ChainID, exec, payerr.Wrap(payerr.KindSettlementRecordingFailed, "ledger rejected settlement", err))
	}
	metrics.SettlementsRecorded.WithLabelValues(chainLabel, "recorded").Inc()

	a.mu.Lock()
	a.record = record
	a.pendingRecord = nil
	a.step = models.StepSuccess
	a.mu.Unlock()

	backendLabel := string(models.BackendSelfPaying)
	if a.intent != nil && !a.intent.IsExternalWalletFlow {
		backendLabel = string(models.BackendSponsored)
	}
	metrics.PaymentsCompleted.WithLabelValues(chainLabel, backendLabel, "success").Inc()
	a.o.logger.NoticeWithChain(record.ChainID, "Payment for charge %s settled with tx %s", record.ChargeID, record.TxHash)
	return nil
}

func (a *Attempt) hasPendingSettlement() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingRecord != nil
}

// currentOrFreshRoute reuses a still-valid speculative route or computes a
// new one. A captured route planned for a different signer, chain, or
// backend is never reused: the wallet may have changed between planning
// and paying, and the sponsored allow-list is only checked at plan time.
func (a *Attempt) currentOrFreshRoute(ctx context.Context, source *models.SourceAsset, charge *models.Charge, exec models.ExecutionContext) (*models.Route, *models.CostEstimate, bool, error) {
	a.mu.Lock()
	route := a.route
	cost := a.cost
	feeUnreliable := a.feeUnreliable
	a.mu.Unlock()

	if route != nil && route.SignerAddress == exec.SignerAddress &&
		route.SourceChainID == source.ChainID && route.Backend == exec.Backend {
		return route, cost, feeUnreliable, nil
	}
	if route != nil {
		metrics.StaleQuotesDiscarded.Inc()
	}
	return a.computeRoute(ctx, source, charge, exec)
}

func (a *Attempt) computeRoute(ctx context.Context, source *models.SourceAsset, charge *models.Charge, exec models.ExecutionContext) (*models.Route, *models.CostEstimate, bool, error) {
	var route *models.Route
	err := a.o.guard(BreakerQuote, func() error {
		var perr error
		route, perr = a.o.planner.Plan(ctx, source, charge, a.intent, exec)
		return perr
	})
	if err != nil {
		return nil, nil, false, err
	}

	// Gas cost only matters when the user pays it themselves. A failed
	// estimate makes the displayed fee unreliable but does not block the
	// payment; a too-high gas price does.
	var cost *models.CostEstimate
	feeUnreliable := false
	if exec.Backend == models.BackendSelfPaying && a.o.estimator != nil {
		cost, err = a.o.estimator.EstimateCost(ctx, route.SourceChainID, exec, route.Transactions)
		if err != nil {
			if payerr.Is(err, payerr.KindGasPriceTooHigh) {
				return nil, nil, false, err
			}
			a.o.logger.ErrorWithChain(route.SourceChainID, "Gas estimation failed, fee display unreliable: %v", err)
			cost = nil
			feeUnreliable = true
		}
	}
	return route, cost, feeUnreliable, nil
}

func (a *Attempt) computeFee(route *models.Route, cost *models.CostEstimate, source *models.SourceAsset, exec models.ExecutionContext) models.FeeEstimate {
	rawCost := 0.0
	if cost != nil {
		rawCost = cost.CostUSD
	}
	price := source.PriceUSD
	// The pricer only knows the chain's native gas token. An unknown
	// ERC-20 price stays unknown so the fee model renders its undefined
	// band instead of a number computed from the wrong asset.
	if price == 0 && source.TokenType == models.TokenTypeNative && a.o.pricer != nil {
		price = a.o.pricer.TokenPriceUSD(source.ChainID)
	}
	return a.o.feeModel.ComputeFeeEstimate(feemodel.Input{
		Route:             route,
		RawNetworkCostUSD: rawCost,
		TokenPriceUSD:     price,
		Backend:           exec.Backend,
	})
}

// feeParams returns the per-transaction gas parameters of the last cost
// estimate, nil when none exists
func (a *Attempt) feeParams() []models.FeeParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cost == nil {
		return nil
	}
	return a.cost.FeeParams
}

// fail records a typed error and moves the attempt to Error. The resolved
// charge is deliberately preserved: only the resolver itself drops the
// charge reference, and only when charge creation failed.
func (a *Attempt) fail(chainID int, exec models.ExecutionContext, err error) error {
	a.mu.Lock()
	a.err = err
	a.step = models.StepError
	a.mu.Unlock()

	kind := payerr.KindOf(err)
	metrics.PaymentErrors.WithLabelValues(strconv.Itoa(chainID), string(kind)).Inc()
	metrics.PaymentsCompleted.WithLabelValues(strconv.Itoa(chainID), string(exec.Backend), "error").Inc()
	a.o.logger.ErrorWithChain(chainID, "Payment attempt failed at %s: %v", kind, err)
	return err
}
