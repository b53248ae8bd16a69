package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"txsubmit/internal/util"
)

// Outcome is the result of a broadcast that reached the chain.
type Outcome struct {
	Hash     common.Hash
	Receipt  *types.Receipt
	Attempts int
}

// Reverted reports whether the transaction was mined but failed execution.
func (o *Outcome) Reverted() bool {
	return o != nil && o.Receipt != nil && o.Receipt.Status == types.ReceiptStatusFailed
}

type BroadcasterConfig struct {
	ChainID *big.Int
	// Submit governs resubmission after rate limiting.
	Submit util.Policy
	// Receipt governs polling for the receipt once the node accepted the tx.
	Receipt util.Policy
}

// Broadcaster signs a transaction once and submits the same signed payload
// until the node accepts it or answers with a non-transient error.
type Broadcaster struct {
	client   ChainClient
	signer   Signer
	cfg      BroadcasterConfig
	logger   *slog.Logger
	observer Observer
}

func NewBroadcaster(client ChainClient, signer Signer, cfg BroadcasterConfig, logger *slog.Logger, observer Observer) *Broadcaster {
	return &Broadcaster{
		client:   client,
		signer:   signer,
		cfg:      cfg,
		logger:   loggerOrDefault(logger),
		observer: observerOrNop(observer),
	}
}

func (b *Broadcaster) Broadcast(ctx context.Context, tx *types.Transaction) (*Outcome, error) {
	out, err := b.broadcast(ctx, tx, nil)
	if err != nil {
		return nil, reportFailure(b.logger, b.observer, err)
	}
	return out, nil
}

func (b *Broadcaster) broadcast(ctx context.Context, tx *types.Transaction, onAccepted func(*types.Transaction)) (*Outcome, error) {
	signed, err := b.Sign(tx)
	if err != nil {
		return nil, &SubmissionError{Kind: SigningFailure, Stage: StageSign, Err: err}
	}
	logger := b.logger.With("tx_hash", signed.Hash().Hex(), "nonce", signed.Nonce())

	attempts, err := b.submit(ctx, logger, signed)
	if err != nil {
		return nil, err
	}
	logger.Info("transaction accepted", "attempts", attempts)
	b.observer.BroadcastAccepted(signed.Hash())
	if onAccepted != nil {
		onAccepted(signed)
	}

	receipt, err := b.AwaitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	return &Outcome{Hash: signed.Hash(), Receipt: receipt, Attempts: attempts}, nil
}

// Sign signs tx with the configured signer and checks the recovered sender.
func (b *Broadcaster) Sign(tx *types.Transaction) (*types.Transaction, error) {
	if b.signer == nil {
		return nil, errors.New("signer is not configured")
	}
	if b.cfg.ChainID == nil {
		return nil, errors.New("chainID is required")
	}
	if tx == nil {
		return nil, errors.New("transaction is nil")
	}
	signed, err := b.signer.SignTx(tx, b.cfg.ChainID)
	if err != nil {
		return nil, err
	}
	sender, err := types.Sender(types.LatestSignerForChainID(b.cfg.ChainID), signed)
	if err != nil {
		return nil, err
	}
	if sender != b.signer.Address() {
		return nil, fmt.Errorf("%w: expected %s, signed by %s", ErrSenderMismatch, b.signer.Address().Hex(), sender.Hex())
	}
	return signed, nil
}

func (b *Broadcaster) submit(ctx context.Context, logger *slog.Logger, signed *types.Transaction) (int, error) {
	attempts := 0
	policy := observed(b.cfg.Submit, StageSubmit, b.observer, logger)
	err := util.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		err := b.client.SendTransaction(ctx, signed)
		if err == nil {
			return nil
		}
		// A rate-limited attempt may still have reached the pool.
		if attempt > 1 && isAlreadyKnown(err) {
			logger.Info("earlier submission already in pool", "attempt", attempt)
			return nil
		}
		if ClassifyNodeError(err) == ClassRateLimited {
			return util.Retryable(err)
		}
		return err
	})
	if err != nil {
		kind := TerminalSubmit
		if exhausted(err) {
			kind = TransientSubmit
		}
		return attempts, stageError(ctx, StageSubmit, kind, err)
	}
	return attempts, nil
}

// AwaitReceipt polls for the receipt of an accepted transaction.
func (b *Broadcaster) AwaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := util.Do(ctx, b.cfg.Receipt, func(ctx context.Context, attempt int) error {
		r, err := b.client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			b.logger.Debug("receipt not yet available", "tx_hash", hash.Hex(), "attempt", attempt)
			return util.Retryable(err)
		}
		if err != nil {
			b.logger.Warn("receipt read failed", "tx_hash", hash.Hex(), "attempt", attempt, "error", err)
			return util.Retryable(err)
		}
		if r == nil {
			return util.Retryable(ethereum.NotFound)
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, stageError(ctx, StageReceipt, TransientRead, err)
	}
	b.logger.Info("transaction confirmed",
		"tx_hash", hash.Hex(),
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
		"status", receipt.Status,
	)
	b.observer.BroadcastConfirmed(receipt)
	return receipt, nil
}

// reportFailure logs a run-ending error and hands it to the observer once.
func reportFailure(logger *slog.Logger, observer Observer, err error) error {
	kind := KindOf(err)
	logger.Error("submission failed", "kind", kind.String(), "error", err)
	observer.SubmissionFailed(kind, err)
	return err
}
