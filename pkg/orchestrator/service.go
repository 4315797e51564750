package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/payrun-hq/payrunner/pkg/backend"
	"github.com/payrun-hq/payrunner/pkg/chainclient"
	"github.com/payrun-hq/payrunner/pkg/circuitbreaker"
	"github.com/payrun-hq/payrunner/pkg/config"
	"github.com/payrun-hq/payrunner/pkg/feemodel"
	"github.com/payrun-hq/payrunner/pkg/health"
	"github.com/payrun-hq/payrunner/pkg/ledger"
	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/planner"
	"github.com/payrun-hq/payrunner/pkg/quote"
)

// priceRefreshInterval is how often gas and token prices are refreshed
const priceRefreshInterval = time.Minute

// Service wires the orchestrator to its collaborators and runs the
// supporting routines: price refresh and the health/metrics server.
type Service struct {
	cfg      *config.Config
	orch     *Orchestrator
	registry *chainclient.Registry
	prices   *chainclient.PriceRoutine
	health   *health.Server
	logger   logger.Logger
}

// NewService builds the full service from configuration
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	log := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	registry, err := chainclient.NewRegistry(cfg.Chains, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect chain clients: %w", err)
	}

	ledgerClient := ledger.New(cfg.LedgerEndpoint, log)
	resolver := ledger.NewResolver(ledgerClient, log)

	quoteClient := quote.New(cfg.QuoteEndpoint, log)
	routePlanner := planner.New(quoteClient, cfg.Sponsored.AllowedTokens, log)

	backends, err := buildBackends(cfg, registry, log)
	if err != nil {
		return nil, err
	}

	breakers := map[string]*circuitbreaker.CircuitBreaker{
		BreakerLedger: newBreaker(cfg, log),
		BreakerQuote:  newBreaker(cfg, log),
	}

	feeModel := &feemodel.Model{
		ExpectedNetworkFeeMultiplier: cfg.Fees.ExpectedNetworkFeeMultiplier,
		ExpectedSlippageMultiplier:   cfg.Fees.ExpectedSlippageMultiplier,
	}

	orch := New(Options{
		Resolver:  resolver,
		Planner:   routePlanner,
		Estimator: registry,
		Recorder:  ledgerClient,
		Pricer:    registry,
		FeeModel:  feeModel,
		Backends:  backends,
		Breakers:  breakers,
		Logger:    log,
	})

	return &Service{
		cfg:      cfg,
		orch:     orch,
		registry: registry,
		prices:   chainclient.NewPriceRoutine(ctx, registry.Clients(), priceRefreshInterval, log),
		health:   health.NewServer(cfg.MetricsPort, registry, breakers),
		logger:   log,
	}, nil
}

// Orchestrator returns the wired orchestrator
func (s *Service) Orchestrator() *Orchestrator {
	return s.orch
}

// Registry returns the connected chain clients
func (s *Service) Registry() *chainclient.Registry {
	return s.registry
}

// Start runs the supporting routines and blocks until the context is done
func (s *Service) Start(ctx context.Context) {
	s.prices.Start()
	defer s.prices.Stop()

	go s.health.Start()

	s.logger.Info("Payment orchestrator running with %d chains", len(s.cfg.Chains))
	<-ctx.Done()
	s.logger.Info("Payment orchestrator shutting down")
}

func buildBackends(cfg *config.Config, registry *chainclient.Registry, log logger.Logger) (map[models.BackendKind]backend.Backend, error) {
	backends := make(map[models.BackendKind]backend.Backend)

	if key := os.Getenv("SELF_PAYING_PRIVATE_KEY"); key != "" {
		wallet, err := backend.NewLocalWallet(key)
		if err != nil {
			return nil, fmt.Errorf("invalid SELF_PAYING_PRIVATE_KEY: %w", err)
		}
		backends[models.BackendSelfPaying] = backend.NewSelfPaying(wallet, registry.Clients(), chainclient.DefaultReceiptTimeout, log)
	}

	if cfg.Sponsored.PrivateKey != "" && cfg.Sponsored.RelayEndpoint != "" {
		wallet, err := backend.NewLocalWallet(cfg.Sponsored.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid SPONSORED_PRIVATE_KEY: %w", err)
		}
		relay := backend.NewRelayClient(cfg.Sponsored.RelayEndpoint, log)
		backends[models.BackendSponsored] = backend.NewSponsored(wallet, relay, registry.Clients(), chainclient.DefaultReceiptTimeout, log)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no execution backend configured: set SELF_PAYING_PRIVATE_KEY or the sponsored key and relay")
	}
	return backends, nil
}

func newBreaker(cfg *config.Config, log logger.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		log,
	)
}
