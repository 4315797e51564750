package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/payrun-hq/payrunner/pkg/logger"
)

// Relayer submits signed transactions through a gas-sponsoring relay
type Relayer interface {
	Submit(ctx context.Context, chainID int, tx *types.Transaction) (common.Hash, error)
}

// RelayClient talks to the paymaster-funded relay the sponsored backend
// submits through
type RelayClient struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

var _ Relayer = (*RelayClient)(nil)

// NewRelayClient creates a relay client
func NewRelayClient(endpoint string, log logger.Logger) *RelayClient {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &RelayClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: log,
	}
}

type relayRequest struct {
	ChainID int    `json:"chain_id"`
	RawTx   string `json:"raw_tx"`
}

type relayResponse struct {
	TxHash  string `json:"tx_hash"`
	Message string `json:"message,omitempty"`
}

// Submit forwards a signed transaction to the relay and returns the hash
// the relay reports
func (c *RelayClient) Submit(ctx context.Context, chainID int, tx *types.Transaction) (common.Hash, error) {
	rawTx, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode transaction: %v", err)
	}

	payload, err := json.Marshal(relayRequest{
		ChainID: chainID,
		RawTx:   hexutil.Encode(rawTx),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode relay request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return common.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit to relay: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read relay response: %v", err)
	}

	var parsed relayResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode relay response: %v, body: %s", err, string(bodyBytes))
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Message != "" {
			return common.Hash{}, fmt.Errorf("relay error: %s", parsed.Message)
		}
		return common.Hash{}, fmt.Errorf("unexpected relay status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if parsed.TxHash == "" {
		return common.Hash{}, fmt.Errorf("relay returned no transaction hash")
	}
	return common.HexToHash(parsed.TxHash), nil
}
