package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/payrun-hq/payrunner/pkg/logger"
)

const (
	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker in seconds
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker in seconds
	DefaultCircuitBreakerReset = 15

	// DefaultMaxGasPrice defines the maximum gas price for transactions
	DefaultMaxGasPrice = "1000000000" // 1 Gwei

	// DefaultLedgerEndpoint defines the default charge ledger API endpoint
	DefaultLedgerEndpoint = "https://api.payrun.exchange"

	// DefaultQuoteEndpoint defines the default route/quote service endpoint
	DefaultQuoteEndpoint = "https://quotes.payrun.exchange"

	// DefaultExpectedNetworkFeeMultiplier scales the maximum network fee to
	// the displayed expected fee
	DefaultExpectedNetworkFeeMultiplier = 0.7

	// DefaultExpectedSlippageMultiplier scales the maximum slippage to the
	// displayed expected slippage
	DefaultExpectedSlippageMultiplier = 0.1

	// Per-chain defaults. RPC URLs can be overridden by environment
	// variables for debugging purposes.

	// Ethereum

	EthereumChainID       = 1
	DefaultEthereumRPCURL = "https://eth.llamarpc.com"

	// Optimism

	OptimismChainID       = 10
	DefaultOptimismRPCURL = "https://mainnet.optimism.io"

	// Polygon

	PolygonChainID       = 137
	DefaultPolygonRPCURL = "https://polygon-rpc.com"

	// Arbitrum

	ArbitrumChainID       = 42161
	DefaultArbitrumRPCURL = "https://arb1.arbitrum.io/rpc"

	// Base

	BaseChainID       = 8453
	DefaultBaseRPCURL = "https://mainnet.base.org"

	// SponsoredChainID is the chain the managed smart wallet executes on
	SponsoredChainID = ArbitrumChainID

	// SponsoredTokenAddress is the token the managed smart wallet holds (USDC on Arbitrum)
	SponsoredTokenAddress = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
)

// defaultChainMaxGas defines starting per-chain gas price caps in wei
var defaultChainMaxGas = map[int]string{
	1:     "150000000000", // Ethereum: 150 gwei
	10:    "5000000000",   // Optimism: 5 gwei
	137:   "100000000000", // Polygon: 100 gwei
	42161: "5000000000",   // Arbitrum: 5 gwei
	8453:  "5000000000",   // Base: 5 gwei
}

var defaultChainRPCs = map[int]string{
	EthereumChainID: DefaultEthereumRPCURL,
	OptimismChainID: DefaultOptimismRPCURL,
	PolygonChainID:  DefaultPolygonRPCURL,
	ArbitrumChainID: DefaultArbitrumRPCURL,
	BaseChainID:     DefaultBaseRPCURL,
}

var chainEnvNames = map[int]string{
	EthereumChainID: "ETHEREUM",
	OptimismChainID: "OPTIMISM",
	PolygonChainID:  "POLYGON",
	ArbitrumChainID: "ARBITRUM",
	BaseChainID:     "BASE",
}

// GetEnvLedgerEndpoint returns the charge ledger endpoint from environment variables
func GetEnvLedgerEndpoint() (string, error) {
	endpoint := os.Getenv("LEDGER_ENDPOINT")
	if endpoint == "" {
		return DefaultLedgerEndpoint, nil
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid LEDGER_ENDPOINT value: %s, must be a valid URL", endpoint)
	}
	return endpoint, nil
}

// GetEnvQuoteEndpoint returns the route/quote service endpoint from environment variables
func GetEnvQuoteEndpoint() (string, error) {
	endpoint := os.Getenv("QUOTE_ENDPOINT")
	if endpoint == "" {
		return DefaultQuoteEndpoint, nil
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid QUOTE_ENDPOINT value: %s, must be a valid URL", endpoint)
	}
	return endpoint, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvMaxGasPrice returns the global maximum gas price from environment variables
func GetEnvMaxGasPrice() (*big.Int, error) {
	maxGasPrice := os.Getenv("MAX_GAS_PRICE")
	if maxGasPrice == "" {
		maxGasPrice = DefaultMaxGasPrice
	}

	maxGasPriceBig := new(big.Int)
	if _, ok := maxGasPriceBig.SetString(maxGasPrice, 10); !ok {
		return nil, fmt.Errorf("invalid MAX_GAS_PRICE value: %s, must be a valid integer string", maxGasPrice)
	}

	if maxGasPriceBig.Sign() < 0 {
		return nil, fmt.Errorf("MAX_GAS_PRICE must be greater than or equal to 0")
	}
	return maxGasPriceBig, nil
}

// GetEnvFeeConfig returns the display-fee multipliers from environment variables
func GetEnvFeeConfig() (FeeConfig, error) {
	cfg := FeeConfig{
		ExpectedNetworkFeeMultiplier: DefaultExpectedNetworkFeeMultiplier,
		ExpectedSlippageMultiplier:   DefaultExpectedSlippageMultiplier,
	}

	if val := os.Getenv("EXPECTED_NETWORK_FEE_MULTIPLIER"); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid EXPECTED_NETWORK_FEE_MULTIPLIER value: %s, must be a float", val)
		}
		cfg.ExpectedNetworkFeeMultiplier = parsed
	}

	if val := os.Getenv("EXPECTED_SLIPPAGE_MULTIPLIER"); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid EXPECTED_SLIPPAGE_MULTIPLIER value: %s, must be a float", val)
		}
		cfg.ExpectedSlippageMultiplier = parsed
	}

	return cfg, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of 'debug', 'info', 'notice', 'error'", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

// GetEnvSponsoredAllowedTokens returns the sponsored backend allow-list from
// environment variables. Format: "chainId:tokenAddress" entries separated by
// commas, e.g. "42161:0xaf88...,8453:0x8335...". Defaults to USDC on the
// sponsored chain.
func GetEnvSponsoredAllowedTokens() (map[int][]string, error) {
	raw := os.Getenv("SPONSORED_ALLOWED_TOKENS")
	if raw == "" {
		return map[int][]string{
			SponsoredChainID: {SponsoredTokenAddress},
		}, nil
	}

	allowed := make(map[int][]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid SPONSORED_ALLOWED_TOKENS entry: %s, must be 'chainId:tokenAddress'", entry)
		}
		chainID, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid chain id in SPONSORED_ALLOWED_TOKENS entry: %s", entry)
		}
		if !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("invalid token address in SPONSORED_ALLOWED_TOKENS entry: %s", entry)
		}
		allowed[chainID] = append(allowed[chainID], parts[1])
	}
	return allowed, nil
}

// GetEnvChainConfigs returns the chain configurations based on environment
// variables, falling back to the baked-in RPC and gas cap defaults.
func GetEnvChainConfigs(globalMaxGas *big.Int) ([]ChainConfig, error) {
	configs := make([]ChainConfig, 0, len(defaultChainRPCs))

	for chainID, defaultRPC := range defaultChainRPCs {
		rpc := os.Getenv(fmt.Sprintf("%s_RPC_URL", chainEnvNames[chainID]))
		if rpc == "" {
			rpc = defaultRPC
		}

		maxGas := globalMaxGas
		if val := os.Getenv(fmt.Sprintf("CHAIN_%d_MAX_GAS_PRICE", chainID)); val != "" {
			parsed, ok := new(big.Int).SetString(val, 10)
			if !ok {
				return nil, fmt.Errorf("invalid CHAIN_%d_MAX_GAS_PRICE value: %s", chainID, val)
			}
			maxGas = parsed
		} else if def, ok := defaultChainMaxGas[chainID]; ok {
			if parsed, ok2 := new(big.Int).SetString(def, 10); ok2 {
				maxGas = parsed
			}
		}

		configs = append(configs, ChainConfig{
			ChainID:     chainID,
			RPCURL:      rpc,
			MaxGasPrice: maxGas,
		})
	}

	return configs, nil
}
