// Package health exposes the orchestrator's health, status, and metrics
// endpoints.
package health

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/payrun-hq/payrunner/pkg/chainclient"
	"github.com/payrun-hq/payrunner/pkg/circuitbreaker"
)

// Server represents a health check HTTP server
type Server struct {
	port            string
	chains          *chainclient.Registry
	circuitBreakers map[string]*circuitbreaker.CircuitBreaker
	metricsAPIKey   string
}

// NewServer creates a new health check server. Circuit breakers are keyed
// by collaborator name (ledger, quote).
func NewServer(port string, chains *chainclient.Registry, circuitBreakers map[string]*circuitbreaker.CircuitBreaker) *Server {
	return &Server{
		port:            port,
		chains:          chains,
		circuitBreakers: circuitBreakers,
		metricsAPIKey:   os.Getenv("METRICS_API_KEY"),
	}
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start starts the health check server
func (s *Server) Start() {
	// Health check endpoint
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness check
	http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		for chainID, client := range s.chains.Clients() {
			if _, err := client.GetLatestBlockNumber(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("Chain %d client not reachable", chainID)))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	// Chain and provider status endpoint
	http.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := make(map[string]interface{})

		for chainID, client := range s.chains.Clients() {
			chainStatus := map[string]interface{}{
				"rpc_url": client.RPCURL,
			}

			blockNumber, err := client.GetLatestBlockNumber(r.Context())
			chainStatus["connected"] = err == nil
			if err == nil {
				chainStatus["latest_block"] = blockNumber
			}
			if gasPrice := client.CurrentGasPrice(); gasPrice != nil {
				chainStatus["gas_price"] = gasPrice.String()
			}
			if price := client.TokenPriceUSD(); price > 0 {
				chainStatus["token_price_usd"] = price
			}

			status[fmt.Sprintf("chain_%d", chainID)] = chainStatus
		}

		providers := make(map[string]interface{})
		for name, cb := range s.circuitBreakers {
			circuitStatus := "closed"
			if cb.IsOpen() {
				circuitStatus = "open"
			}
			failures, lastFailure, _ := cb.State()
			providers[name] = map[string]interface{}{
				"circuit":      circuitStatus,
				"failures":     failures,
				"last_failure": lastFailure,
			}
		}
		status["providers"] = providers

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding status JSON: %v", err)
		}
	})

	// Circuit breaker admin control endpoint
	http.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		name := r.URL.Query().Get("provider")
		if name == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Missing provider parameter"))
			return
		}

		cb, ok := s.circuitBreakers[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for provider %s", name)))
			return
		}

		cb.Reset()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for provider %s reset", name)))
	})

	// Expose Prometheus metrics with API key authentication
	http.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	log.Printf("Starting health and metrics server on port %s", s.port)
	if err := http.ListenAndServe(":"+s.port, nil); err != nil {
		log.Printf("Health server error: %v", err)
	}
}
