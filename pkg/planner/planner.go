// Package planner decides how a charge gets paid from a given source
// asset: a direct transfer when no conversion is needed, a quoted
// multi-transaction route otherwise.
package planner

import (
	"context"
	"strconv"

	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/metrics"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/payerr"
	"github.com/payrun-hq/payrunner/pkg/quote"
)

// Quoter produces conversion routes. *quote.Client implements it; tests
// substitute a fake.
type Quoter interface {
	QuoteBridged(ctx context.Context, params quote.BridgedQuoteParams) (*models.Route, error)
}

// Planner builds routes for charges
type Planner struct {
	quoter Quoter
	// sponsoredTokens is the (chain id -> token addresses) allow-list the
	// sponsored backend is restricted to
	sponsoredTokens map[int][]string
	logger          logger.Logger
}

// New creates a route planner
func New(quoter Quoter, sponsoredTokens map[int][]string, log logger.Logger) *Planner {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Planner{
		quoter:          quoter,
		sponsoredTokens: sponsoredTokens,
		logger:          log,
	}
}

// Plan builds the route that pays the charge from the source asset.
//
// A direct route is chosen when the source asset lives on the charge's
// chain and is the charge's token; address comparison is
// case-insensitive. Everything else is quoted as a conversion for the
// charge's exact requested output, so slippage never erodes what the
// recipient receives.
func (p *Planner) Plan(ctx context.Context, source *models.SourceAsset, charge *models.Charge, intent *models.PaymentIntent, exec models.ExecutionContext) (*models.Route, error) {
	if source.TokenDecimals == nil {
		return nil, payerr.Newf(payerr.KindUnsupportedAsset,
			"asset %s on chain %d has no decimals metadata", source.TokenAddress, source.ChainID)
	}

	// The sponsored backend only ever spends allow-listed assets. Checking
	// before quoting keeps unsupported pairs from burning quote calls.
	if exec.Backend == models.BackendSponsored && !p.sponsoredAllows(source) {
		return nil, payerr.Newf(payerr.KindUnsupportedByBackend,
			"asset %s on chain %d is not supported by the sponsored backend", source.TokenAddress, source.ChainID)
	}

	if p.isDirect(source, charge, intent) {
		tx, err := buildDirectTransfer(charge)
		if err != nil {
			return nil, payerr.Wrap(payerr.KindRoutePlanningFailed, "failed to build direct transfer", err)
		}

		metrics.RoutesPlanned.WithLabelValues(strconv.Itoa(charge.ChainID), "direct").Inc()
		p.logger.DebugWithChain(charge.ChainID, "Planned direct transfer of %s %s", charge.TokenAmount, charge.TokenSymbol)
		return &models.Route{
			Transactions:        []models.UnsignedTransaction{tx},
			EstimatedFromAmount: charge.TokenAmount,
			SourceChainID:       charge.ChainID,
			SignerAddress:       exec.SignerAddress,
			Backend:             exec.Backend,
		}, nil
	}

	params := quote.BridgedQuoteParams{
		FromChainID:       source.ChainID,
		FromTokenAddress:  source.TokenAddress,
		FromTokenDecimals: *source.TokenDecimals,
		SignerAddress:     exec.SignerAddress.Hex(),
		ToChainID:         charge.ChainID,
		ToTokenAddress:    charge.TokenAddress,
		RecipientAddress:  charge.RecipientAddress,
	}
	if intent.IsDirectUsdPayment {
		params.FromUsdAmount = charge.TokenAmount
	} else {
		params.ToAmount = charge.TokenAmount
	}

	route, err := p.quoter.QuoteBridged(ctx, params)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindRoutePlanningFailed, "failed to quote route", err)
	}
	route.Backend = exec.Backend

	metrics.RoutesPlanned.WithLabelValues(strconv.Itoa(source.ChainID), routeKind(route)).Inc()
	p.logger.DebugWithChain(source.ChainID, "Planned %s route with %d transactions, estimated spend %s %s",
		routeKind(route), len(route.Transactions), route.EstimatedFromAmount, source.TokenSymbol)
	return route, nil
}

// isDirect reports whether the charge can be paid without conversion
func (p *Planner) isDirect(source *models.SourceAsset, charge *models.Charge, intent *models.PaymentIntent) bool {
	if intent.IsDirectUsdPayment {
		return false
	}
	return source.ChainID == charge.ChainID &&
		models.AddressesEqual(source.TokenAddress, charge.TokenAddress)
}

func (p *Planner) sponsoredAllows(source *models.SourceAsset) bool {
	for _, token := range p.sponsoredTokens[source.ChainID] {
		if models.AddressesEqual(token, source.TokenAddress) {
			return true
		}
	}
	return false
}

func routeKind(route *models.Route) string {
	switch {
	case route.IsCrossChain:
		return "cross_chain"
	case route.ChangesToken:
		return "swap"
	default:
		return "direct"
	}
}
