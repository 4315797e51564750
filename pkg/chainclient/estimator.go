package chainclient

import (
	"context"
	"math/big"
	"strconv"

	"github.com/payrun-hq/payrunner/pkg/metrics"
	"github.com/payrun-hq/payrunner/pkg/models"
	"github.com/payrun-hq/payrunner/pkg/payerr"
)

// EstimateCost estimates the execution cost of a route's transactions from
// the given sender. The returned fee params carry one entry per
// transaction, in route order.
//
// The USD figure depends on the last refreshed native token price; it is
// zero when no price is known yet.
func (c *Client) EstimateCost(ctx context.Context, from models.ExecutionContext, txs []models.UnsignedTransaction) (*models.CostEstimate, error) {
	gasPrice, err := c.SuggestBufferedGasPrice(ctx)
	if err != nil {
		if payerr.Is(err, payerr.KindGasPriceTooHigh) {
			return nil, err
		}
		metrics.GasEstimationFailures.WithLabelValues(strconv.Itoa(c.ChainID)).Inc()
		return nil, payerr.Wrap(payerr.KindGasEstimationFailed, "failed to price gas", err)
	}

	totalGas := new(big.Int)
	feeParams := make([]models.FeeParams, 0, len(txs))
	for _, tx := range txs {
		gasLimit, err := c.EstimateGas(ctx, from.SignerAddress, tx.To, tx.Value, tx.Data)
		if err != nil {
			metrics.GasEstimationFailures.WithLabelValues(strconv.Itoa(c.ChainID)).Inc()
			return nil, payerr.Wrap(payerr.KindGasEstimationFailed, "failed to estimate gas", err)
		}

		feeParams = append(feeParams, models.FeeParams{
			GasLimit: gasLimit,
			GasPrice: gasPrice,
		})
		totalGas.Add(totalGas, new(big.Int).SetUint64(gasLimit))
	}

	costWei := new(big.Int).Mul(totalGas, gasPrice)
	costNative, _ := new(big.Float).Quo(new(big.Float).SetInt(costWei), big.NewFloat(1e18)).Float64()

	return &models.CostEstimate{
		CostUSD:   costNative * c.TokenPriceUSD(),
		FeeParams: feeParams,
	}, nil
}
