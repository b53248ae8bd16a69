package txbuilder

import (
	"context"
	"log/slog"
	"math/big"

	"txsubmit/internal/util"
)

// FeeEnvelope holds EIP-1559 fee fields in wei. MaxFeePerGas is always
// BaseFeePerGas + PriorityFeePerGas + the estimator's buffer.
type FeeEnvelope struct {
	BaseFeePerGas     *big.Int
	PriorityFeePerGas *big.Int
	MaxFeePerGas      *big.Int
}

func NewFeeEnvelope(baseFee, priorityFee, buffer *big.Int) FeeEnvelope {
	base := bigOrZero(baseFee)
	tip := bigOrZero(priorityFee)
	maxFee := new(big.Int).Add(base, tip)
	maxFee.Add(maxFee, bigOrZero(buffer))
	return FeeEnvelope{
		BaseFeePerGas:     base,
		PriorityFeePerGas: tip,
		MaxFeePerGas:      maxFee,
	}
}

type FeeEstimatorConfig struct {
	PriorityFee *big.Int
	Buffer      *big.Int
	Retry       util.Policy
}

// FeeEstimator derives a FeeEnvelope from the latest block. Every call reads
// the chain again; nothing is cached between attempts or calls.
type FeeEstimator struct {
	client   ChainClient
	cfg      FeeEstimatorConfig
	logger   *slog.Logger
	observer Observer
}

func NewFeeEstimator(client ChainClient, cfg FeeEstimatorConfig, logger *slog.Logger, observer Observer) *FeeEstimator {
	if cfg.PriorityFee == nil {
		cfg.PriorityFee = big.NewInt(0)
	}
	if cfg.Buffer == nil {
		cfg.Buffer = big.NewInt(0)
	}
	return &FeeEstimator{
		client:   client,
		cfg:      cfg,
		logger:   loggerOrDefault(logger),
		observer: observerOrNop(observer),
	}
}

// Estimate retries the latest-block read on a fixed backoff until it
// succeeds. It only fails when ctx is done or a bounded policy runs out.
func (e *FeeEstimator) Estimate(ctx context.Context) (FeeEnvelope, error) {
	var fees FeeEnvelope
	policy := observed(e.cfg.Retry, StageFee, e.observer, e.logger)
	err := util.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		baseFee, err := e.fetchBaseFee(ctx)
		if err != nil {
			return util.Retryable(err)
		}
		fees = NewFeeEnvelope(baseFee, e.cfg.PriorityFee, e.cfg.Buffer)
		e.logger.Debug("fee envelope computed", "attempt", attempt, "base_fee", fees.BaseFeePerGas, "max_fee", fees.MaxFeePerGas)
		return nil
	})
	if err != nil {
		return FeeEnvelope{}, stageError(ctx, StageFee, TransientRead, err)
	}
	e.observer.FeeComputed(fees)
	return fees, nil
}

func (e *FeeEstimator) fetchBaseFee(ctx context.Context) (*big.Int, error) {
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if header == nil || header.BaseFee == nil {
		return nil, ErrMissingBaseFee
	}
	if header.BaseFee.Sign() < 0 {
		return nil, ErrMissingBaseFee
	}
	return new(big.Int).Set(header.BaseFee), nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
