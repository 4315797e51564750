package chainclient

import (
	"context"

	"github.com/payrun-hq/payrunner/pkg/config"
	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/payerr"
)

// Registry holds the connected chain clients keyed by chain id
type Registry struct {
	clients map[int]*Client
}

// NewRegistry connects a client for every configured chain
func NewRegistry(chains map[int]config.ChainConfig, log logger.Logger) (*Registry, error) {
	clients := make(map[int]*Client, len(chains))
	for chainID, cfg := range chains {
		client, err := New(cfg, log)
		if err != nil {
			return nil, err
		}
		clients[chainID] = client
	}
	return &Registry{clients: clients}, nil
}

// NewRegistryFromClients wraps existing clients, used by tests
func NewRegistryFromClients(clients map[int]*Client) *Registry {
	return &Registry{clients: clients}
}

// Client returns the client for a chain
func (r *Registry) Client(chainID int) (*Client, bool) {
	client, ok := r.clients[chainID]
	return client, ok
}

// Clients returns all clients keyed by chain id
func (r *Registry) Clients() map[int]*Client {
	return r.clients
}

// EstimateCost estimates route execution cost on the given chain
func (r *Registry) EstimateCost(ctx context.Context, chainID int, exec models.ExecutionContext, txs []models.UnsignedTransaction) (*models.CostEstimate, error) {
	client, ok := r.clients[chainID]
	if !ok {
		return nil, payerr.Newf(payerr.KindNotReady, "no client for chain %d", chainID)
	}
	return client.EstimateCost(ctx, exec, txs)
}

// TokenPriceUSD returns the last refreshed native token price for a chain,
// zero when unknown
func (r *Registry) TokenPriceUSD(chainID int) float64 {
	client, ok := r.clients[chainID]
	if !ok {
		return 0
	}
	return client.TokenPriceUSD()
}
