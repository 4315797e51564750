// Package feemodel turns a raw cost estimate and optional slippage into a
// display-safe fee breakdown. It is pure arithmetic: no I/O, no clocks.
package feemodel

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/payrun-hq/payrunner/pkg/models"
)

const (
	// DefaultExpectedNetworkFeeMultiplier scales the guaranteed maximum
	// network fee down to the displayed "expected" fee. True gas price is
	// probabilistic; the product shows a conservative-but-lower figure.
	DefaultExpectedNetworkFeeMultiplier = 0.7

	// DefaultExpectedSlippageMultiplier scales maximum slippage down to the
	// displayed "expected" slippage.
	DefaultExpectedSlippageMultiplier = 0.1
)

// Model computes fee estimates. The multipliers are display heuristics,
// not protocol guarantees, so they are configuration rather than constants.
type Model struct {
	ExpectedNetworkFeeMultiplier float64
	ExpectedSlippageMultiplier   float64
}

// New returns a Model with the default display multipliers
func New() *Model {
	return &Model{
		ExpectedNetworkFeeMultiplier: DefaultExpectedNetworkFeeMultiplier,
		ExpectedSlippageMultiplier:   DefaultExpectedSlippageMultiplier,
	}
}

// Input carries everything ComputeFeeEstimate needs
type Input struct {
	Route *models.Route
	// RawNetworkCostUSD is the gas estimator's cost for the route; only
	// meaningful for the self-paying backend
	RawNetworkCostUSD float64
	// TokenPriceUSD is the unit price of the source asset in USD
	TokenPriceUSD float64
	Backend       models.BackendKind
}

// ComputeFeeEstimate derives the {expected, max} fee breakdown shown to the
// user before paying. Identical inputs always yield identical output strings.
func (m *Model) ComputeFeeEstimate(in Input) models.FeeEstimate {
	maxNetworkFee := m.maxNetworkFee(in)
	expectedNetworkFee := maxNetworkFee * m.ExpectedNetworkFeeMultiplier

	var slippage *models.FeeBand
	maxSlippage := 0.0
	expectedSlippage := 0.0
	if in.Route != nil && in.Route.IsConverted() {
		maxSlippage = m.maxSlippage(in)
		expectedSlippage = maxSlippage * m.ExpectedSlippageMultiplier
		slippage = &models.FeeBand{
			Expected: FormatDisplayAmount(expectedSlippage),
			Max:      FormatDisplayAmount(maxSlippage),
		}
	}

	fromValueUSD := math.NaN()
	if in.Route != nil {
		fromValueUSD = parseFloat(in.Route.EstimatedFromAmount) * in.TokenPriceUSD
	}

	totalMax := fromValueUSD + maxNetworkFee
	if !math.IsNaN(maxSlippage) {
		totalMax += maxSlippage
	}

	return models.FeeEstimate{
		NetworkFee: models.FeeBand{
			Expected: FormatDisplayAmount(expectedNetworkFee),
			Max:      FormatDisplayAmount(maxNetworkFee),
		},
		Slippage:     slippage,
		EstimatedFee: FormatDisplayAmount(expectedNetworkFee + expectedSlippage),
		TotalMax:     FormatDisplayAmount(totalMax),
	}
}

// maxNetworkFee applies the backend rules: converted routes charge the
// route's own fee; otherwise only the self-paying backend pays gas.
func (m *Model) maxNetworkFee(in Input) float64 {
	if in.Route != nil && in.Route.IsConverted() {
		return parseFloat(in.Route.FeeEstimateNative)
	}
	if in.Backend == models.BackendSelfPaying {
		return in.RawNetworkCostUSD
	}
	return 0
}

// maxSlippage = slippagePercentage/100 * tokenPrice * estimatedFromAmount.
// NaN when any input is missing.
func (m *Model) maxSlippage(in Input) float64 {
	if in.Route == nil || in.TokenPriceUSD <= 0 {
		return math.NaN()
	}
	fromAmount := parseFloat(in.Route.EstimatedFromAmount)
	return in.Route.SlippagePercentage / 100 * in.TokenPriceUSD * fromAmount
}

// FormatDisplayAmount renders a USD amount for display. Non-finite values
// render as "0.00". A real positive cost below one cent renders as "0.01"
// rather than a misleading zero.
func FormatDisplayAmount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00"
	}
	if v > 0 && v < 0.01 {
		return "0.01"
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
