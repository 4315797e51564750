package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrun-hq/payrunner/pkg/logger"
)

func TestGetEnvLedgerEndpoint(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		t.Setenv("LEDGER_ENDPOINT", "")
		endpoint, err := GetEnvLedgerEndpoint()
		require.NoError(t, err)
		assert.Equal(t, DefaultLedgerEndpoint, endpoint)
	})

	t.Run("Override", func(t *testing.T) {
		t.Setenv("LEDGER_ENDPOINT", "https://ledger.internal:8443")
		endpoint, err := GetEnvLedgerEndpoint()
		require.NoError(t, err)
		assert.Equal(t, "https://ledger.internal:8443", endpoint)
	})

	t.Run("Invalid", func(t *testing.T) {
		t.Setenv("LEDGER_ENDPOINT", "not a url")
		_, err := GetEnvLedgerEndpoint()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a valid URL")
	})
}

func TestGetEnvCircuitBreakerSettings(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("CIRCUIT_BREAKER_ENABLED", "")
		t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "")
		t.Setenv("CIRCUIT_BREAKER_WINDOW", "")
		t.Setenv("CIRCUIT_BREAKER_RESET", "")

		enabled, err := GetEnvCircuitBreakerEnabled()
		require.NoError(t, err)
		assert.True(t, enabled)

		threshold, err := GetEnvCircuitBreakerThreshold()
		require.NoError(t, err)
		assert.Equal(t, DefaultCircuitBreakerThreshold, threshold)

		window, err := GetEnvCircuitBreakerWindow()
		require.NoError(t, err)
		assert.Equal(t, DefaultCircuitBreakerWindow*time.Second, window)

		reset, err := GetEnvCircuitBreakerReset()
		require.NoError(t, err)
		assert.Equal(t, DefaultCircuitBreakerReset*time.Second, reset)
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "10")
		t.Setenv("CIRCUIT_BREAKER_WINDOW", "30s")

		threshold, err := GetEnvCircuitBreakerThreshold()
		require.NoError(t, err)
		assert.Equal(t, 10, threshold)

		window, err := GetEnvCircuitBreakerWindow()
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, window)
	})

	t.Run("Invalid threshold", func(t *testing.T) {
		t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")
		_, err := GetEnvCircuitBreakerThreshold()
		require.Error(t, err)
	})
}

func TestGetEnvFeeConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("EXPECTED_NETWORK_FEE_MULTIPLIER", "")
		t.Setenv("EXPECTED_SLIPPAGE_MULTIPLIER", "")

		cfg, err := GetEnvFeeConfig()
		require.NoError(t, err)
		assert.Equal(t, DefaultExpectedNetworkFeeMultiplier, cfg.ExpectedNetworkFeeMultiplier)
		assert.Equal(t, DefaultExpectedSlippageMultiplier, cfg.ExpectedSlippageMultiplier)
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("EXPECTED_NETWORK_FEE_MULTIPLIER", "0.8")
		t.Setenv("EXPECTED_SLIPPAGE_MULTIPLIER", "0.2")

		cfg, err := GetEnvFeeConfig()
		require.NoError(t, err)
		assert.Equal(t, 0.8, cfg.ExpectedNetworkFeeMultiplier)
		assert.Equal(t, 0.2, cfg.ExpectedSlippageMultiplier)
	})

	t.Run("Invalid", func(t *testing.T) {
		t.Setenv("EXPECTED_NETWORK_FEE_MULTIPLIER", "lots")
		_, err := GetEnvFeeConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a float")
	})
}

func TestGetEnvSponsoredAllowedTokens(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		t.Setenv("SPONSORED_ALLOWED_TOKENS", "")
		allowed, err := GetEnvSponsoredAllowedTokens()
		require.NoError(t, err)
		assert.Equal(t, map[int][]string{SponsoredChainID: {SponsoredTokenAddress}}, allowed)
	})

	t.Run("Multiple entries", func(t *testing.T) {
		t.Setenv("SPONSORED_ALLOWED_TOKENS",
			"42161:0xaf88d065e77c8cC2239327C5EDb3A432268e5831, 8453:0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

		allowed, err := GetEnvSponsoredAllowedTokens()
		require.NoError(t, err)
		assert.Equal(t, []string{"0xaf88d065e77c8cC2239327C5EDb3A432268e5831"}, allowed[42161])
		assert.Equal(t, []string{"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}, allowed[8453])
	})

	t.Run("Malformed entry", func(t *testing.T) {
		t.Setenv("SPONSORED_ALLOWED_TOKENS", "42161")
		_, err := GetEnvSponsoredAllowedTokens()
		require.Error(t, err)
	})

	t.Run("Bad address", func(t *testing.T) {
		t.Setenv("SPONSORED_ALLOWED_TOKENS", "42161:nonsense")
		_, err := GetEnvSponsoredAllowedTokens()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid token address")
	})
}

func TestGetEnvMaxGasPrice(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		t.Setenv("MAX_GAS_PRICE", "")
		price, err := GetEnvMaxGasPrice()
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxGasPrice, price.String())
	})

	t.Run("Negative", func(t *testing.T) {
		t.Setenv("MAX_GAS_PRICE", "-5")
		_, err := GetEnvMaxGasPrice()
		require.Error(t, err)
	})
}

func TestGetEnvChainConfigs(t *testing.T) {
	t.Setenv("ARBITRUM_RPC_URL", "https://arbitrum.internal:8545")
	t.Setenv("CHAIN_1_MAX_GAS_PRICE", "123456789")

	configs, err := GetEnvChainConfigs(big.NewInt(1_000_000_000))
	require.NoError(t, err)
	require.Len(t, configs, 5)

	byChain := make(map[int]ChainConfig)
	for _, cfg := range configs {
		byChain[cfg.ChainID] = cfg
	}

	assert.Equal(t, "https://arbitrum.internal:8545", byChain[ArbitrumChainID].RPCURL)
	assert.Equal(t, DefaultBaseRPCURL, byChain[BaseChainID].RPCURL)
	assert.Equal(t, big.NewInt(123456789), byChain[EthereumChainID].MaxGasPrice)
}

func TestGetEnvLogLevel(t *testing.T) {
	tests := []struct {
		value    string
		expected logger.Level
		wantErr  bool
	}{
		{"", logger.InfoLevel, false},
		{"debug", logger.DebugLevel, false},
		{"notice", logger.NoticeLevel, false},
		{"error", logger.ErrorLevel, false},
		{"verbose", 0, true},
	}

	for _, tc := range tests {
		t.Run("LOG_LEVEL="+tc.value, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tc.value)
			level, err := GetEnvLogLevel()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, level)
		})
	}
}
