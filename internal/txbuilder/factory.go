package txbuilder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"txsubmit/internal/config"
	"txsubmit/internal/util"
)

func PipelineConfigFromConfig(cfg *config.Config, chainID *big.Int) (PipelineConfig, error) {
	if cfg == nil {
		return PipelineConfig{}, fmt.Errorf("config is nil")
	}
	priority, err := weiOrGwei(cfg.Fees.PriorityFeeWei, cfg.Fees.PriorityFeeGwei)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("fees.priority_fee: %w", err)
	}
	buffer, err := weiOrGwei(cfg.Fees.BufferWei, cfg.Fees.BufferGwei)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("fees.buffer: %w", err)
	}
	mode, err := ParseNonceMode(cfg.Nonce.Mode)
	if err != nil {
		return PipelineConfig{}, err
	}
	return PipelineConfig{
		ChainID: chainID,
		Fees: FeeEstimatorConfig{
			PriorityFee: priority,
			Buffer:      buffer,
			Retry:       policy(cfg.Retry.Fee),
		},
		Gas: GasSimulatorConfig{
			Retry:              policy(cfg.Retry.Gas),
			RetryRejected:      cfg.Simulation.RetryRejected,
			GasLimitMultiplier: cfg.Simulation.GasLimitMultiplier,
		},
		NonceMode: mode,
		Submit:    policy(cfg.Retry.Submit),
		Receipt:   policy(cfg.Retry.Receipt),
	}, nil
}

// RequestFromJob converts a configured job into a pipeline Request.
func RequestFromJob(job config.Job) (Request, error) {
	if !common.IsHexAddress(job.To) {
		return Request{}, fmt.Errorf("to %q is not a hex address", job.To)
	}
	value := big.NewInt(0)
	switch {
	case job.ValueWei != "":
		v, err := ParseBigInt(job.ValueWei)
		if err != nil {
			return Request{}, fmt.Errorf("value_wei: %w", err)
		}
		value = v
	case job.ValueEth != "":
		v, err := ParseUnits(job.ValueEth, 18)
		if err != nil {
			return Request{}, fmt.Errorf("value_eth: %w", err)
		}
		value = v
	}
	var data []byte
	if strings.TrimSpace(job.Data) != "" {
		b, err := hexutil.Decode(strings.TrimSpace(job.Data))
		if err != nil {
			return Request{}, fmt.Errorf("data: %w", err)
		}
		data = b
	}
	var mode NonceMode
	if job.NonceMode != "" {
		m, err := ParseNonceMode(job.NonceMode)
		if err != nil {
			return Request{}, err
		}
		mode = m
	}
	return Request{
		To:        common.HexToAddress(job.To),
		Value:     value,
		Data:      data,
		NonceMode: mode,
	}, nil
}

func weiOrGwei(wei string, gwei *float64) (*big.Int, error) {
	if wei != "" {
		v, err := ParseBigInt(wei)
		if err != nil {
			return nil, err
		}
		if v.Sign() < 0 {
			return nil, fmt.Errorf("must be non-negative")
		}
		return v, nil
	}
	if gwei == nil {
		return big.NewInt(0), nil
	}
	return GweiToWei(*gwei)
}

func policy(p config.RetryPolicy) util.Policy {
	return util.Policy{Backoff: p.Backoff.Duration, MaxAttempts: p.MaxAttempts}
}
