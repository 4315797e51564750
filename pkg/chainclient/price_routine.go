package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/metrics"
)

// nativeTokenIDs maps chain IDs to CoinGecko token IDs for the chain's
// gas token
var nativeTokenIDs = map[int]string{
	1:     "ethereum",      // Ethereum
	10:    "ethereum",      // Optimism (uses ETH)
	137:   "matic-network", // Polygon
	42161: "ethereum",      // Arbitrum (uses ETH)
	8453:  "ethereum",      // Base (uses ETH)
	56:    "binancecoin",   // BSC
	43114: "avalanche-2",   // Avalanche
}

// PriceRoutine periodically refreshes the buffered gas price and native
// token USD price for a set of chain clients. Fee estimates read the last
// refreshed values instead of hitting providers on every payment.
type PriceRoutine struct {
	ctx      context.Context
	clients  map[int]*Client
	cache    *TokenPriceCache
	interval time.Duration
	priceURL string
	stopChan chan struct{}
	mu       sync.Mutex
	running  bool
	logger   logger.Logger
}

// NewPriceRoutine creates a new price refresh routine for the given clients
func NewPriceRoutine(ctx context.Context, clients map[int]*Client, interval time.Duration, log logger.Logger) *PriceRoutine {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &PriceRoutine{
		ctx:      ctx,
		clients:  clients,
		cache:    NewTokenPriceCache(5 * time.Minute),
		interval: interval,
		priceURL: "https://api.coingecko.com/api/v3/simple/price",
		logger:   log,
	}
}

// Start begins the periodic price updates
func (r *PriceRoutine) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.stopChan = make(chan struct{})
	r.running = true

	go r.run()
}

// Stop halts the periodic price updates
func (r *PriceRoutine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.stopChan = nil
	r.running = false
}

// IsRunning returns whether the routine is currently running
func (r *PriceRoutine) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *PriceRoutine) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.updatePrices()

	for {
		select {
		case <-ticker.C:
			r.updatePrices()
		case <-r.stopChan:
			return
		case <-r.ctx.Done():
			return
		}
	}
}

// updatePrices performs a single refresh of gas and token prices for all
// chains
func (r *PriceRoutine) updatePrices() {
	for chainID, client := range r.clients {
		if _, err := client.SuggestBufferedGasPrice(r.ctx); err != nil {
			r.logger.DebugWithChain(chainID, "Failed to refresh gas price: %v", err)
		}

		price, err := r.NativeTokenPriceUSD(r.ctx, chainID)
		if err != nil {
			r.logger.DebugWithChain(chainID, "Failed to refresh token price: %v", err)
			continue
		}
		client.setTokenPriceUSD(price)
		metrics.TokenPrice.WithLabelValues(strconv.Itoa(chainID), nativeTokenIDs[chainID]).Set(price)
	}
}

// NativeTokenPriceUSD returns the USD price for the chain's gas token,
// serving from cache when the cached value is still fresh
func (r *PriceRoutine) NativeTokenPriceUSD(ctx context.Context, chainID int) (float64, error) {
	tokenID, exists := nativeTokenIDs[chainID]
	if !exists {
		return 0, fmt.Errorf("unsupported chain ID for price fetching: %d", chainID)
	}

	if price, ok := r.cache.Get(tokenID); ok {
		return price, nil
	}

	price, err := r.fetchTokenPriceUSD(ctx, tokenID)
	if err != nil {
		return 0, err
	}

	r.cache.Set(tokenID, price)
	return price, nil
}

func (r *PriceRoutine) fetchTokenPriceUSD(ctx context.Context, tokenID string) (float64, error) {
	url := fmt.Sprintf("%s?ids=%s&vs_currencies=usd", r.priceURL, tokenID)

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %v", err)
	}

	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch token price: %v", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			r.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %v", err)
	}

	var result map[string]map[string]float64
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("failed to parse JSON response: %v", err)
	}

	tokenData, exists := result[tokenID]
	if !exists {
		return 0, fmt.Errorf("token data not found in response")
	}

	price, exists := tokenData["usd"]
	if !exists {
		return 0, fmt.Errorf("USD price not found in response")
	}

	return price, nil
}
