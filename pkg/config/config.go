package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/payrun-hq/payrunner/pkg/logger"
)

// Config holds the configuration for the payment orchestrator
type Config struct {
	LedgerEndpoint string
	QuoteEndpoint  string
	Chains         map[int]ChainConfig
	Sponsored      SponsoredConfig
	Fees           FeeConfig
	MetricsPort    string
	CircuitBreaker CircuitBreakerConfig
	MaxGasPrice    *big.Int
	LoggerConfig   LoggerConfig
}

// SponsoredConfig holds the managed, gas-sponsored backend configuration
type SponsoredConfig struct {
	// PrivateKey signs sponsored transactions with the managed key
	PrivateKey string
	// RelayEndpoint is the paymaster-funded relay the backend submits through
	RelayEndpoint string
	// AllowedTokens restricts the sponsored backend to an explicit
	// (chain id -> token addresses) allow-list
	AllowedTokens map[int][]string
}

// FeeConfig holds the display-fee heuristics. The multipliers are UX
// smoothing, not protocol guarantees, so they stay configurable.
type FeeConfig struct {
	ExpectedNetworkFeeMultiplier float64
	ExpectedSlippageMultiplier   float64
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// ChainConfig holds the configuration for a specific blockchain
type ChainConfig struct {
	ChainID     int
	RPCURL      string
	MaxGasPrice *big.Int
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	ledgerEndpoint, err := GetEnvLedgerEndpoint()
	if err != nil {
		return nil, err
	}

	quoteEndpoint, err := GetEnvQuoteEndpoint()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	maxGasPrice, err := GetEnvMaxGasPrice()
	if err != nil {
		return nil, err
	}

	feeConfig, err := GetEnvFeeConfig()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	allowedTokens, err := GetEnvSponsoredAllowedTokens()
	if err != nil {
		return nil, err
	}

	chainConfigs := make(map[int]ChainConfig)
	chainConfigList, err := GetEnvChainConfigs(maxGasPrice)
	if err != nil {
		return nil, err
	}
	for _, chainConfig := range chainConfigList {
		chainConfigs[chainConfig.ChainID] = chainConfig
	}

	cfg := &Config{
		LedgerEndpoint: ledgerEndpoint,
		QuoteEndpoint:  quoteEndpoint,
		Chains:         chainConfigs,
		Sponsored: SponsoredConfig{
			PrivateKey:    os.Getenv("SPONSORED_PRIVATE_KEY"),
			RelayEndpoint: os.Getenv("SPONSORED_RELAY_ENDPOINT"),
			AllowedTokens: allowedTokens,
		},
		Fees:        feeConfig,
		MetricsPort: metricsPort,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		MaxGasPrice: maxGasPrice,
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain configuration is required")
	}
	for chainID, chainConfig := range cfg.Chains {
		if chainConfig.RPCURL == "" {
			return fmt.Errorf("RPC URL for chain %d is required", chainID)
		}
	}
	if cfg.Fees.ExpectedNetworkFeeMultiplier <= 0 || cfg.Fees.ExpectedNetworkFeeMultiplier > 1 {
		return fmt.Errorf("EXPECTED_NETWORK_FEE_MULTIPLIER must be in (0, 1]")
	}
	if cfg.Fees.ExpectedSlippageMultiplier <= 0 || cfg.Fees.ExpectedSlippageMultiplier > 1 {
		return fmt.Errorf("EXPECTED_SLIPPAGE_MULTIPLIER must be in (0, 1]")
	}
	return nil
}
