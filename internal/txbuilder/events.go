package txbuilder

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"txsubmit/internal/util"
)

// Observer receives lifecycle events of a submission run. Implementations
// must not block; they are called inline from the pipeline.
type Observer interface {
	FeeComputed(fees FeeEnvelope)
	GasEstimated(gasLimit uint64)
	NonceResolved(account common.Address, nonce uint64)
	BroadcastAccepted(hash common.Hash)
	BroadcastConfirmed(receipt *types.Receipt)
	SubmissionFailed(kind ErrorKind, err error)
	Retrying(stage Stage, attempt int, err error, wait time.Duration)
}

type NopObserver struct{}

func (NopObserver) FeeComputed(FeeEnvelope) {}
func (NopObserver) GasEstimated(uint64) {}
func (NopObserver) NonceResolved(common.Address, uint64) {}
func (NopObserver) BroadcastAccepted(common.Hash) {}
func (NopObserver) BroadcastConfirmed(*types.Receipt) {}
func (NopObserver) SubmissionFailed(ErrorKind, error) {}
func (NopObserver) Retrying(Stage, int, error, time.Duration) {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) FeeComputed(fees FeeEnvelope) {
	for _, obs := range o {
		obs.FeeComputed(fees)
	}
}

func (o Observers) GasEstimated(gasLimit uint64) {
	for _, obs := range o {
		obs.GasEstimated(gasLimit)
	}
}

func (o Observers) NonceResolved(account common.Address, nonce uint64) {
	for _, obs := range o {
		obs.NonceResolved(account, nonce)
	}
}

func (o Observers) BroadcastAccepted(hash common.Hash) {
	for _, obs := range o {
		obs.BroadcastAccepted(hash)
	}
}

func (o Observers) BroadcastConfirmed(receipt *types.Receipt) {
	for _, obs := range o {
		obs.BroadcastConfirmed(receipt)
	}
}

func (o Observers) SubmissionFailed(kind ErrorKind, err error) {
	for _, obs := range o {
		obs.SubmissionFailed(kind, err)
	}
}

func (o Observers) Retrying(stage Stage, attempt int, err error, wait time.Duration) {
	for _, obs := range o {
		obs.Retrying(stage, attempt, err, wait)
	}
}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}

// observed returns p with an OnWait hook that logs the retry and reports it
// to obs before any hook p already carried.
func observed(p util.Policy, stage Stage, obs Observer, logger *slog.Logger) util.Policy {
	inner := p.OnWait
	p.OnWait = func(attempt int, err error, wait time.Duration) {
		logger.Warn("stage failed, retrying", "stage", string(stage), "attempt", attempt, "wait", wait, "error", err)
		obs.Retrying(stage, attempt, err, wait)
		if inner != nil {
			inner(attempt, err, wait)
		}
	}
	return p
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
