package txbuilder

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"txsubmit/internal/util"
)

// Request is what the caller wants sent. The pipeline decides fees, gas and
// nonce.
type Request struct {
	To    common.Address
	Value *big.Int
	Data  []byte
	// NonceMode overrides the pipeline default when set.
	NonceMode NonceMode
	// OnAccepted runs once the node accepted the signed transaction, before
	// the receipt is awaited.
	OnAccepted func(signed *types.Transaction)
}

type PipelineConfig struct {
	ChainID   *big.Int
	Fees      FeeEstimatorConfig
	Gas       GasSimulatorConfig
	NonceMode NonceMode
	Submit    util.Policy
	Receipt   util.Policy
}

// Pipeline runs fee estimation, gas simulation, nonce resolution, assembly
// and broadcast strictly in that order for one sender account.
type Pipeline struct {
	from        common.Address
	chainID     *big.Int
	fees        *FeeEstimator
	gas         *GasSimulator
	nonces      *NonceResolver
	broadcaster *Broadcaster
	locks       *AccountLocks
	logger      *slog.Logger
	observer    Observer
}

func NewPipeline(client ChainClient, signer Signer, cfg PipelineConfig, logger *slog.Logger, observer Observer) (*Pipeline, error) {
	if client == nil || signer == nil {
		return nil, errors.New("client and signer are required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chainID is required")
	}
	logger = loggerOrDefault(logger).With("from", signer.Address().Hex())
	observer = observerOrNop(observer)
	return &Pipeline{
		from:    signer.Address(),
		chainID: new(big.Int).Set(cfg.ChainID),
		fees:    NewFeeEstimator(client, cfg.Fees, logger, observer),
		gas:     NewGasSimulator(client, cfg.Gas, logger, observer),
		nonces:  NewNonceResolver(client, cfg.NonceMode, observer),
		broadcaster: NewBroadcaster(client, signer, BroadcasterConfig{
			ChainID: cfg.ChainID,
			Submit:  cfg.Submit,
			Receipt: cfg.Receipt,
		}, logger, observer),
		locks:    NewAccountLocks(),
		logger:   logger,
		observer: observer,
	}, nil
}

// SetAccountLocks shares locks between pipelines so that runs for the same
// account never overlap.
func (p *Pipeline) SetAccountLocks(locks *AccountLocks) {
	if locks != nil {
		p.locks = locks
	}
}

func (p *Pipeline) From() common.Address {
	return p.from
}

func (p *Pipeline) ChainID() *big.Int {
	return new(big.Int).Set(p.chainID)
}

// Submit runs the whole pipeline for req and waits for the receipt. Any
// error it returns has already been reported to the observer.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Outcome, error) {
	out, err := p.submit(ctx, req)
	if err != nil {
		return nil, p.fail(err)
	}
	return out, nil
}

func (p *Pipeline) submit(ctx context.Context, req Request) (*Outcome, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	unlock := p.locks.Lock(p.from)
	defer unlock()

	fees, gas, err := p.estimate(ctx, req)
	if err != nil {
		return nil, err
	}

	mode := req.NonceMode
	if mode == "" {
		mode = p.nonces.mode
	}
	nonce, err := p.nonces.ResolveMode(ctx, p.from, mode)
	if err != nil {
		return nil, err
	}

	tx, err := Assemble(AssembleParams{
		ChainID:  p.chainID,
		To:       req.To,
		Value:    req.Value,
		Data:     req.Data,
		Fees:     fees,
		GasLimit: gas,
		Nonce:    nonce,
	})
	if err != nil {
		return nil, &SubmissionError{Kind: InvalidInput, Stage: StageAssemble, Err: err}
	}
	p.logger.Info("transaction assembled",
		"to", req.To.Hex(),
		"value", req.Value,
		"nonce", nonce,
		"gas", gas,
		"max_fee", fees.MaxFeePerGas,
		"priority_fee", fees.PriorityFeePerGas,
	)
	return p.broadcaster.broadcast(ctx, tx, req.OnAccepted)
}

// Estimate runs only the fee and gas stages. Nothing is signed or sent.
func (p *Pipeline) Estimate(ctx context.Context, req Request) (FeeEnvelope, uint64, error) {
	if err := validateRequest(req); err != nil {
		return FeeEnvelope{}, 0, p.fail(err)
	}
	fees, gas, err := p.estimate(ctx, req)
	if err != nil {
		return FeeEnvelope{}, 0, p.fail(err)
	}
	return fees, gas, nil
}

// Resume waits for the receipt of a transaction broadcast by an earlier run.
func (p *Pipeline) Resume(ctx context.Context, signed *types.Transaction) (*Outcome, error) {
	if signed == nil {
		return nil, p.fail(&SubmissionError{Kind: InvalidInput, Stage: StageReceipt, Err: errors.New("transaction is nil")})
	}
	receipt, err := p.broadcaster.AwaitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, p.fail(err)
	}
	return &Outcome{Hash: signed.Hash(), Receipt: receipt}, nil
}

func (p *Pipeline) estimate(ctx context.Context, req Request) (FeeEnvelope, uint64, error) {
	fees, err := p.fees.Estimate(ctx)
	if err != nil {
		return FeeEnvelope{}, 0, err
	}
	gas, err := p.gas.Simulate(ctx, Draft{
		From:  p.from,
		To:    req.To,
		Value: req.Value,
		Data:  req.Data,
		Fees:  fees,
	})
	if err != nil {
		return FeeEnvelope{}, 0, err
	}
	return fees, gas, nil
}

func (p *Pipeline) fail(err error) error {
	return reportFailure(p.logger, p.observer, err)
}

func validateRequest(req Request) error {
	if req.Value == nil {
		return &SubmissionError{Kind: InvalidInput, Stage: StageAssemble, Err: errors.New("value is required")}
	}
	if req.Value.Sign() < 0 {
		return &SubmissionError{Kind: InvalidInput, Stage: StageAssemble, Err: errors.New("value must be non-negative")}
	}
	return nil
}
