package planner

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/payrun-hq/payrunner/pkg/models"
)

// ERC20TransferABI contains the ABI for the ERC20 transfer function
const ERC20TransferABI = `[
	{
		"constant": false,
		"inputs": [
			{
				"name": "_to",
				"type": "address"
			},
			{
				"name": "_value",
				"type": "uint256"
			}
		],
		"name": "transfer",
		"outputs": [
			{
				"name": "",
				"type": "bool"
			}
		],
		"payable": false,
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// buildDirectTransfer builds the single transaction that pays a charge
// on the charge's own chain and token
func buildDirectTransfer(charge *models.Charge) (models.UnsignedTransaction, error) {
	amount, err := models.ParseUnits(charge.TokenAmount, charge.TokenDecimals)
	if err != nil {
		return models.UnsignedTransaction{}, fmt.Errorf("invalid charge amount %q: %v", charge.TokenAmount, err)
	}

	recipient := common.HexToAddress(charge.RecipientAddress)

	if charge.TokenType == models.TokenTypeNative {
		return models.UnsignedTransaction{
			To:    recipient,
			Value: amount,
		}, nil
	}

	erc20ABI, err := abi.JSON(strings.NewReader(ERC20TransferABI))
	if err != nil {
		return models.UnsignedTransaction{}, fmt.Errorf("failed to parse ERC20 ABI: %v", err)
	}

	data, err := erc20ABI.Pack("transfer", recipient, amount)
	if err != nil {
		return models.UnsignedTransaction{}, fmt.Errorf("failed to pack transfer calldata: %v", err)
	}

	return models.UnsignedTransaction{
		To:    common.HexToAddress(charge.TokenAddress),
		Value: big.NewInt(0),
		Data:  data,
	}, nil
}
