package txbuilder

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AssembleParams carries everything a final transaction is built from. Fees
// and GasLimit must come from the successful fee and gas stages of the same
// run.
type AssembleParams struct {
	ChainID  *big.Int
	To       common.Address
	Value    *big.Int
	Data     []byte
	Fees     FeeEnvelope
	GasLimit uint64
	Nonce    uint64
}

// Assemble builds the unsigned EIP-1559 transaction. It performs no I/O.
func Assemble(p AssembleParams) (*types.Transaction, error) {
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return nil, errors.New("chainID is required")
	}
	if p.Value == nil {
		return nil, errors.New("value is required")
	}
	if p.Value.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	if p.GasLimit == 0 {
		return nil, errors.New("gasLimit is required")
	}
	if p.Fees.MaxFeePerGas == nil || p.Fees.PriorityFeePerGas == nil {
		return nil, errors.New("maxFeePerGas and maxPriorityFeePerGas are required")
	}
	if p.Fees.MaxFeePerGas.Sign() < 0 || p.Fees.PriorityFeePerGas.Sign() < 0 {
		return nil, errors.New("fee values must be non-negative")
	}
	if p.Fees.MaxFeePerGas.Cmp(p.Fees.PriorityFeePerGas) < 0 {
		return nil, errors.New("maxFeePerGas must not be below maxPriorityFeePerGas")
	}
	to := p.To
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(p.ChainID),
		Nonce:     p.Nonce,
		Gas:       p.GasLimit,
		GasFeeCap: new(big.Int).Set(p.Fees.MaxFeePerGas),
		GasTipCap: new(big.Int).Set(p.Fees.PriorityFeePerGas),
		To:        &to,
		Value:     new(big.Int).Set(p.Value),
		Data:      common.CopyBytes(p.Data),
	}), nil
}
