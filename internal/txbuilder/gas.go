package txbuilder

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"txsubmit/internal/util"
)

// Draft is the transaction shape used for gas simulation. It is never signed
// or broadcast.
type Draft struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
	Fees  FeeEnvelope
}

func (d Draft) CallMsg() ethereum.CallMsg {
	to := d.To
	return ethereum.CallMsg{
		From:      d.From,
		To:        &to,
		Value:     d.Value,
		Data:      d.Data,
		GasFeeCap: d.Fees.MaxFeePerGas,
		GasTipCap: d.Fees.PriorityFeePerGas,
	}
}

type GasSimulatorConfig struct {
	Retry util.Policy
	// RetryRejected keeps retrying simulations the node rejected outright
	// (reverts, insufficient funds) instead of failing fast.
	RetryRejected bool
	// GasLimitMultiplier inflates the estimate when > 1. Zero or one leaves
	// the estimate untouched.
	GasLimitMultiplier float64
}

type GasSimulator struct {
	client   ChainClient
	cfg      GasSimulatorConfig
	logger   *slog.Logger
	observer Observer
}

func NewGasSimulator(client ChainClient, cfg GasSimulatorConfig, logger *slog.Logger, observer Observer) *GasSimulator {
	return &GasSimulator{
		client:   client,
		cfg:      cfg,
		logger:   loggerOrDefault(logger),
		observer: observerOrNop(observer),
	}
}

// Simulate dry-runs draft against current state and returns its gas limit.
// Transient failures are retried on a fixed backoff; a rejection is returned
// as SimulationRejected unless RetryRejected is set.
func (s *GasSimulator) Simulate(ctx context.Context, draft Draft) (uint64, error) {
	msg := draft.CallMsg()
	var gas uint64
	policy := observed(s.cfg.Retry, StageGas, s.observer, s.logger)
	err := util.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		estimate, err := s.client.EstimateGas(ctx, msg)
		if err != nil {
			estErr := &EstimateGasError{Err: err, Class: ClassifyNodeError(err), CallMsg: msg}
			if estErr.Class == ClassRejected && !s.cfg.RetryRejected {
				return estErr
			}
			return util.Retryable(estErr)
		}
		if estimate == 0 {
			return util.Retryable(ErrZeroGasEstimate)
		}
		gas = applyGasMultiplier(estimate, s.cfg.GasLimitMultiplier)
		s.logger.Debug("gas simulated", "attempt", attempt, "estimate", estimate, "gas_limit", gas)
		return nil
	})
	if err != nil {
		kind := TransientRead
		var estErr *EstimateGasError
		if !exhausted(err) && errors.As(err, &estErr) && estErr.Class == ClassRejected {
			kind = SimulationRejected
		}
		return 0, stageError(ctx, StageGas, kind, err)
	}
	s.observer.GasEstimated(gas)
	return gas, nil
}

func applyGasMultiplier(gas uint64, mult float64) uint64 {
	if mult <= 1 {
		return gas
	}
	adjusted := uint64(float64(gas) * mult)
	if adjusted < gas {
		return gas
	}
	return adjusted
}
