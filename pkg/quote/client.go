// Package quote provides a client for the cross-chain route/quote service.
package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/payrun-hq/payrunner/pkg/logger"
	"github.com/payrun-hq/payrunner/pkg/models"
)

// Client represents a route/quote service client
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new quote service client
func New(endpoint string, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: log,
	}
}

// BridgedQuoteParams describes a conversion quote request. Exactly one of
// ToAmount and FromUsdAmount is set: ToAmount quotes for an exact
// destination output, FromUsdAmount quotes for a USD-denominated spend.
type BridgedQuoteParams struct {
	FromChainID       int    `json:"from_chain_id"`
	FromTokenAddress  string `json:"from_token_address"`
	FromTokenDecimals int    `json:"from_token_decimals"`
	SignerAddress     string `json:"signer_address"`

	ToChainID        int    `json:"to_chain_id"`
	ToTokenAddress   string `json:"to_token_address"`
	RecipientAddress string `json:"recipient_address"`

	ToAmount      string `json:"to_amount,omitempty"`
	FromUsdAmount string `json:"from_usd_amount,omitempty"`
}

type quotedTransaction struct {
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

type quoteResponse struct {
	Transactions        []quotedTransaction `json:"transactions"`
	EstimatedFromAmount string              `json:"estimated_from_amount"`
	FeeEstimateNative   string              `json:"fee_estimate_native"`
	SlippagePercentage  float64             `json:"slippage_percentage"`
}

type quoteError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// QuoteBridged requests a conversion route from the quote service. The
// returned route preserves the provider's transaction order.
func (c *Client) QuoteBridged(ctx context.Context, params BridgedQuoteParams) (*models.Route, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quote request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v1/quote", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The provider reports failures as JSON {"message": ..., "code": ...}
		var qerr quoteError
		if err := json.Unmarshal(bodyBytes, &qerr); err == nil && qerr.Message != "" {
			return nil, fmt.Errorf("quote provider error: %s", qerr.Message)
		}
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var quoted quoteResponse
	if err := json.Unmarshal(bodyBytes, &quoted); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %v, body: %s", err, string(bodyBytes))
	}
	if len(quoted.Transactions) == 0 {
		return nil, fmt.Errorf("quote provider returned no transactions")
	}

	transactions := make([]models.UnsignedTransaction, 0, len(quoted.Transactions))
	for i, tx := range quoted.Transactions {
		unsigned, err := decodeTransaction(tx)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction %d in quote: %v", i, err)
		}
		transactions = append(transactions, unsigned)
	}

	return &models.Route{
		IsCrossChain:        params.FromChainID != params.ToChainID,
		ChangesToken:        !models.AddressesEqual(params.FromTokenAddress, params.ToTokenAddress),
		Transactions:        transactions,
		EstimatedFromAmount: quoted.EstimatedFromAmount,
		FeeEstimateNative:   quoted.FeeEstimateNative,
		SlippagePercentage:  quoted.SlippagePercentage,
		SourceChainID:       params.FromChainID,
		SignerAddress:       common.HexToAddress(params.SignerAddress),
	}, nil
}

func decodeTransaction(tx quotedTransaction) (models.UnsignedTransaction, error) {
	if !common.IsHexAddress(tx.To) {
		return models.UnsignedTransaction{}, fmt.Errorf("invalid to address: %s", tx.To)
	}

	value := new(big.Int)
	if tx.Value != "" {
		if _, ok := value.SetString(tx.Value, 10); !ok {
			// Some providers hex-encode values
			parsed, err := hexutil.DecodeBig(tx.Value)
			if err != nil {
				return models.UnsignedTransaction{}, fmt.Errorf("invalid value: %s", tx.Value)
			}
			value = parsed
		}
	}

	var data []byte
	if tx.Data != "" && tx.Data != "0x" {
		decoded, err := hexutil.Decode(tx.Data)
		if err != nil {
			return models.UnsignedTransaction{}, fmt.Errorf("invalid calldata: %v", err)
		}
		data = decoded
	}

	return models.UnsignedTransaction{
		To:    common.HexToAddress(tx.To),
		Value: value,
		Data:  data,
	}, nil
}
