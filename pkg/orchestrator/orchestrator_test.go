package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrun-hq/payrunner/pkg/backend"
	"github.com/payrun-hq/payrunner/pkg/circuitbreaker"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/payerr"
)

type fakeResolver struct {
	charge  *models.Charge
	err     error
	calls   int
	boundID string
}

func (f *fakeResolver) Resolve(_ context.Context, _ *models.PaymentIntent) (*models.Charge, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.boundID = f.charge.ID
	return f.charge, nil
}

func (f *fakeResolver) CurrentChargeID() string { return f.boundID }
func (f *fakeResolver) Reset()                  { f.boundID = "" }

type fakePlanner struct {
	route  *models.Route
	err    error
	calls  int
	onPlan func()
}

func (f *fakePlanner) Plan(_ context.Context, _ *models.SourceAsset, _ *models.Charge, _ *models.PaymentIntent, exec models.ExecutionContext) (*models.Route, error) {
	f.calls++
	if f.onPlan != nil {
		f.onPlan()
	}
	if f.err != nil {
		return nil, f.err
	}
	route := *f.route
	route.SignerAddress = exec.SignerAddress
	route.Backend = exec.Backend
	return &route, nil
}

type fakeEstimator struct {
	cost  *models.CostEstimate
	err   error
	calls int
}

func (f *fakeEstimator) EstimateCost(_ context.Context, _ int, _ models.ExecutionContext, _ []models.UnsignedTransaction) (*models.CostEstimate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cost, nil
}

type fakeRecorder struct {
	err     error
	records []models.PaymentRecord
}

func (f *fakeRecorder) CreatePayment(_ context.Context, record models.PaymentRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

type fakePricer struct{ price float64 }

func (f *fakePricer) TokenPriceUSD(_ int) float64 { return f.price }

type fakeBackend struct {
	kind       models.BackendKind
	receipts   []models.Receipt
	err        error
	executions int
	inExecute  func()
}

func (f *fakeBackend) Kind() models.BackendKind    { return f.kind }
func (f *fakeBackend) NeedsNetworkAlignment() bool { return false }

func (f *fakeBackend) Execute(_ context.Context, _ *models.Route, _ []models.FeeParams, onStep func(models.Step)) ([]models.Receipt, error) {
	f.executions++
	if f.inExecute != nil {
		f.inExecute()
	}
	if f.err != nil {
		return nil, f.err
	}
	if onStep != nil {
		onStep(models.StepConfirming)
	}
	return f.receipts, nil
}

// aligningBackend is a fakeBackend that also wants network alignment
type aligningBackend struct {
	fakeBackend
	alignCalls int
	alignErr   error
}

func (f *aligningBackend) NeedsNetworkAlignment() bool { return true }

func (f *aligningBackend) AlignNetwork(_ context.Context, _ int) error {
	f.alignCalls++
	return f.alignErr
}

var (
	signerA = common.HexToAddress("0x2222222222222222222222222222222222222222")
	signerB = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func testCharge() *models.Charge {
	return &models.Charge{
		ID:               "ch_1",
		ChainID:          42161,
		TokenAddress:     "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		TokenSymbol:      "USDC",
		TokenDecimals:    6,
		TokenAmount:      "25.00",
		RecipientAddress: "0x1111111111111111111111111111111111111111",
	}
}

func testRoute() *models.Route {
	return &models.Route{
		Transactions: []models.UnsignedTransaction{
			{To: common.HexToAddress("0x1111111111111111111111111111111111111111")},
		},
		EstimatedFromAmount: "25.00",
		SourceChainID:       42161,
	}
}

func testIntent() *models.PaymentIntent {
	return &models.PaymentIntent{
		RecipientAddress: "0x1111111111111111111111111111111111111111",
		TokenAmount:      "25.00",
	}
}

func testSource() *models.SourceAsset {
	six := 6
	return &models.SourceAsset{
		ChainID:       42161,
		TokenAddress:  "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		TokenSymbol:   "USDC",
		TokenType:     models.TokenTypeERC20,
		TokenDecimals: &six,
		PriceUSD:      1.0,
	}
}

type testRig struct {
	orch     *Orchestrator
	resolver *fakeResolver
	planner  *fakePlanner
	recorder *fakeRecorder
	backend  *fakeBackend
}

func newTestRig(t *testing.T, opts ...func(*Options)) *testRig {
	t.Helper()
	rig := &testRig{
		resolver: &fakeResolver{charge: testCharge()},
		planner:  &fakePlanner{route: testRoute()},
		recorder: &fakeRecorder{},
		backend: &fakeBackend{
			kind:     models.BackendSponsored,
			receipts: []models.Receipt{{TxHash: common.HexToHash("0xaa"), ChainID: 42161, GasUsed: 90000}},
		},
	}

	options := Options{
		Resolver: rig.resolver,
		Planner:  rig.planner,
		Recorder: rig.recorder,
		Pricer:   &fakePricer{price: 1.0},
		Backends: map[models.BackendKind]backend.Backend{
			models.BackendSponsored: rig.backend,
		},
	}
	for _, opt := range opts {
		opt(&options)
	}
	rig.orch = New(options)
	return rig
}

func sponsoredExec() models.ExecutionContext {
	return models.ExecutionContext{Backend: models.BackendSponsored, SignerAddress: signerA}
}

func TestNewAttemptValidation(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.orch.NewAttempt(&models.PaymentIntent{TokenAmount: "25.00"})
	require.Error(t, err)
	assert.Equal(t, payerr.KindInternal, payerr.KindOf(err))

	_, err = rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)
}

func TestPayHappyPath(t *testing.T) {
	rig := newTestRig(t)
	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	record, err := attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, "ch_1", record.ChargeID)
	assert.Equal(t, 42161, record.ChainID)
	assert.Equal(t, common.HexToHash("0xaa").Hex(), record.TxHash)
	assert.Equal(t, signerA.Hex(), record.PayerAddress)
	assert.Equal(t, models.StepSuccess, attempt.Step())

	require.Len(t, rig.recorder.records, 1)
	assert.Equal(t, record.TxHash, rig.recorder.records[0].TxHash)

	// Paying a settled attempt is a no-op that returns the same record
	again, err := attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.NoError(t, err)
	assert.Equal(t, record, again)
	assert.Equal(t, 1, rig.backend.executions)
}

func TestPaySettlementRetryDoesNotReExecute(t *testing.T) {
	rig := newTestRig(t)
	rig.recorder.err = errors.New("ledger unavailable")

	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	_, err = attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.Error(t, err)
	assert.Equal(t, payerr.KindSettlementRecordingFailed, payerr.KindOf(err))
	assert.True(t, payerr.Retryable(err))
	assert.Equal(t, models.StepError, attempt.Step())
	// The transaction already confirmed; the receipts survive the failure
	require.Len(t, attempt.Receipts(), 1)

	// The retry must only talk to the ledger: no new charge resolution, no
	// second on-chain execution
	rig.recorder.err = nil
	record, err := attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, 1, rig.resolver.calls)
	assert.Equal(t, 1, rig.backend.executions)
	assert.Equal(t, common.HexToHash("0xaa").Hex(), record.TxHash)
	assert.Equal(t, models.StepSuccess, attempt.Step())
}

func TestPayRetryAfterPlanningFailureReusesCharge(t *testing.T) {
	rig := newTestRig(t)
	rig.planner.err = errors.New("no route found")

	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	_, err = attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.Error(t, err)
	assert.Equal(t, models.StepError, attempt.Step())
	assert.Error(t, attempt.Err())
	// The resolved charge survives a planning failure
	assert.Equal(t, "ch_1", rig.orch.CurrentChargeID())

	rig.planner.err = nil
	record, err := attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.NoError(t, err)
	assert.Equal(t, "ch_1", record.ChargeID)
	assert.Equal(t, 2, rig.resolver.calls)
}

func TestPrepareRouteAppliesWhenCurrent(t *testing.T) {
	rig := newTestRig(t)
	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	require.NoError(t, attempt.PrepareRoute(context.Background(), testSource(), testCharge(), sponsoredExec()))
	require.NotNil(t, attempt.Route())

	fee, reliable := attempt.FeeEstimate()
	require.NotNil(t, fee)
	assert.True(t, reliable)

	// Pay reuses the prepared route instead of planning again
	_, err = attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.NoError(t, err)
	assert.Equal(t, 1, rig.planner.calls)
}

func TestPrepareRouteDiscardsStaleResult(t *testing.T) {
	rig := newTestRig(t)
	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	// The user edits the payment while the quote is in flight
	rig.planner.onPlan = func() { attempt.Invalidate() }

	require.NoError(t, attempt.PrepareRoute(context.Background(), testSource(), testCharge(), sponsoredExec()))
	assert.Nil(t, attempt.Route())

	fee, _ := attempt.FeeEstimate()
	assert.Nil(t, fee)
}

func TestInvalidateDiscardsCapturedRoute(t *testing.T) {
	rig := newTestRig(t)
	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	require.NoError(t, attempt.PrepareRoute(context.Background(), testSource(), testCharge(), sponsoredExec()))
	require.NotNil(t, attempt.Route())
	gen := attempt.Generation()

	attempt.Invalidate()
	assert.Nil(t, attempt.Route())
	assert.Equal(t, gen+1, attempt.Generation())

	// Pay plans a fresh route after invalidation
	_, err = attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.NoError(t, err)
	assert.Equal(t, 2, rig.planner.calls)
}

func TestPayReplansOnSignerChange(t *testing.T) {
	rig := newTestRig(t)
	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	require.NoError(t, attempt.PrepareRoute(context.Background(), testSource(), testCharge(), sponsoredExec()))
	require.NotNil(t, attempt.Route())

	// The wallet changed between preparing and paying
	exec := sponsoredExec()
	exec.SignerAddress = signerB
	_, err = attempt.Pay(context.Background(), testSource(), exec)
	require.NoError(t, err)
	assert.Equal(t, 2, rig.planner.calls)
}

func TestPayReplansOnBackendChange(t *testing.T) {
	rig := newTestRig(t)
	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	// Prepared under the self-paying backend, so the sponsored
	// allow-list was never checked for this route
	exec := models.ExecutionContext{Backend: models.BackendSelfPaying, SignerAddress: signerA}
	require.NoError(t, attempt.PrepareRoute(context.Background(), testSource(), testCharge(), exec))
	require.NotNil(t, attempt.Route())

	_, err = attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.NoError(t, err)
	assert.Equal(t, 2, rig.planner.calls)
}

func TestFeeWithUnknownSourceTokenPrice(t *testing.T) {
	convertedRoute := func() *models.Route {
		route := testRoute()
		route.IsCrossChain = true
		route.EstimatedFromAmount = "100"
		route.FeeEstimateNative = "2.00"
		route.SlippagePercentage = 0.5
		return route
	}

	t.Run("Unpriced ERC-20 renders the undefined band", func(t *testing.T) {
		rig := newTestRig(t, func(o *Options) {
			// The pricer quotes the chain's gas token, not USDC
			o.Pricer = &fakePricer{price: 4000}
		})
		rig.planner.route = convertedRoute()
		attempt, err := rig.orch.NewAttempt(testIntent())
		require.NoError(t, err)

		source := testSource()
		source.PriceUSD = 0

		require.NoError(t, attempt.PrepareRoute(context.Background(), source, testCharge(), sponsoredExec()))
		fee, _ := attempt.FeeEstimate()
		require.NotNil(t, fee)
		require.NotNil(t, fee.Slippage)
		assert.Equal(t, "0.00", fee.Slippage.Expected)
		assert.Equal(t, "0.00", fee.Slippage.Max)
		assert.Equal(t, "0.00", fee.EstimatedFee)
		assert.Equal(t, "2.00", fee.TotalMax)
	})

	t.Run("Native source falls back to the gas token price", func(t *testing.T) {
		rig := newTestRig(t, func(o *Options) {
			o.Pricer = &fakePricer{price: 4000}
		})
		rig.planner.route = convertedRoute()
		attempt, err := rig.orch.NewAttempt(testIntent())
		require.NoError(t, err)

		source := testSource()
		source.TokenAddress = ""
		source.TokenSymbol = "ETH"
		source.TokenType = models.TokenTypeNative
		source.PriceUSD = 0

		require.NoError(t, attempt.PrepareRoute(context.Background(), source, testCharge(), sponsoredExec()))
		fee, _ := attempt.FeeEstimate()
		require.NotNil(t, fee)
		require.NotNil(t, fee.Slippage)
		assert.Equal(t, "2000.00", fee.Slippage.Max)
		assert.Equal(t, "402002.00", fee.TotalMax)
	})
}

func TestPayGasEstimationFailureDoesNotBlock(t *testing.T) {
	rig := newTestRig(t)
	estimator := &fakeEstimator{err: errors.New("rpc unavailable")}
	selfPaying := &fakeBackend{
		kind:     models.BackendSelfPaying,
		receipts: []models.Receipt{{TxHash: common.HexToHash("0xbb"), ChainID: 42161}},
	}
	rig.orch.estimator = estimator
	rig.orch.backends[models.BackendSelfPaying] = selfPaying

	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	exec := models.ExecutionContext{Backend: models.BackendSelfPaying, SignerAddress: signerA}
	record, err := attempt.Pay(context.Background(), testSource(), exec)
	require.NoError(t, err)
	require.NotNil(t, record)

	// The payment went through, but the displayed fee is marked unreliable
	_, reliable := attempt.FeeEstimate()
	assert.False(t, reliable)
}

func TestPayGasPriceTooHighBlocks(t *testing.T) {
	rig := newTestRig(t)
	estimator := &fakeEstimator{err: payerr.New(payerr.KindGasPriceTooHigh, "gas price exceeds cap")}
	selfPaying := &fakeBackend{kind: models.BackendSelfPaying}
	rig.orch.estimator = estimator
	rig.orch.backends[models.BackendSelfPaying] = selfPaying

	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	exec := models.ExecutionContext{Backend: models.BackendSelfPaying, SignerAddress: signerA}
	_, err = attempt.Pay(context.Background(), testSource(), exec)
	require.Error(t, err)
	assert.Equal(t, payerr.KindGasPriceTooHigh, payerr.KindOf(err))
	assert.Equal(t, 0, selfPaying.executions)
}

func TestPayMissingBackend(t *testing.T) {
	rig := newTestRig(t)
	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	exec := models.ExecutionContext{Backend: models.BackendSelfPaying, SignerAddress: signerA}
	_, err = attempt.Pay(context.Background(), testSource(), exec)
	require.Error(t, err)
	assert.Equal(t, payerr.KindNotReady, payerr.KindOf(err))
}

func TestPayAlignsNetworkFirst(t *testing.T) {
	rig := newTestRig(t)
	aligning := &aligningBackend{fakeBackend: fakeBackend{
		kind:     models.BackendSelfPaying,
		receipts: []models.Receipt{{TxHash: common.HexToHash("0xcc"), ChainID: 42161}},
	}}
	rig.orch.backends[models.BackendSelfPaying] = aligning

	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	exec := models.ExecutionContext{Backend: models.BackendSelfPaying, SignerAddress: signerA}
	_, err = attempt.Pay(context.Background(), testSource(), exec)
	require.NoError(t, err)
	assert.Equal(t, 1, aligning.alignCalls)

	t.Run("Rejected switch fails the attempt", func(t *testing.T) {
		aligning.alignErr = payerr.New(payerr.KindNetworkSwitchFailed, "user rejected chain switch")
		retry, err := rig.orch.NewAttempt(testIntent())
		require.NoError(t, err)

		_, err = retry.Pay(context.Background(), testSource(), exec)
		require.Error(t, err)
		assert.Equal(t, payerr.KindNetworkSwitchFailed, payerr.KindOf(err))
		assert.Equal(t, 1, aligning.executions)
	})
}

func TestResetBlockedWhileExecuting(t *testing.T) {
	rig := newTestRig(t)
	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	rig.backend.inExecute = func() {
		err := attempt.Reset()
		require.Error(t, err)
		assert.Equal(t, payerr.KindNotReady, payerr.KindOf(err))
	}

	_, err = attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.NoError(t, err)

	// After settlement the attempt can be reset, which also drops the
	// visible charge reference
	require.NoError(t, attempt.Reset())
	assert.Equal(t, models.StepIdle, attempt.Step())
	assert.Empty(t, rig.orch.CurrentChargeID())
}

func TestPayCircuitBreakerBlocksWhenOpen(t *testing.T) {
	breaker := circuitbreaker.NewCircuitBreaker(true, 1, time.Minute, time.Minute, nil)
	rig := newTestRig(t, func(o *Options) {
		o.Breakers = map[string]*circuitbreaker.CircuitBreaker{BreakerLedger: breaker}
	})
	rig.resolver.err = errors.New("ledger unreachable")

	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	_, err = attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.Error(t, err)
	require.True(t, breaker.IsOpen())

	// While the breaker is open the ledger is not called at all
	_, err = attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.Error(t, err)
	assert.Equal(t, payerr.KindNotReady, payerr.KindOf(err))
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, 1, rig.resolver.calls)
}

func TestPayEmptyReceipts(t *testing.T) {
	rig := newTestRig(t)
	rig.backend.receipts = nil

	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	_, err = attempt.Pay(context.Background(), testSource(), sponsoredExec())
	require.Error(t, err)
	assert.Equal(t, payerr.KindNotReady, payerr.KindOf(err))
	assert.Empty(t, rig.recorder.records)
}

func TestRecordSettlementWithoutPending(t *testing.T) {
	rig := newTestRig(t)
	attempt, err := rig.orch.NewAttempt(testIntent())
	require.NoError(t, err)

	err = attempt.RecordSettlement(context.Background())
	require.Error(t, err)
	assert.Equal(t, payerr.KindNotReady, payerr.KindOf(err))
}
