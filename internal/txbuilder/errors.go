package txbuilder

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"

	"txsubmit/internal/util"
)

var (
	ErrMissingBaseFee  = errors.New("latest block has no base fee")
	ErrZeroGasEstimate = errors.New("gas estimate is zero")
	ErrSenderMismatch  = errors.New("signed sender does not match account")
)

// ErrorKind classifies why a submission run ended without a receipt.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	TransientRead
	SimulationRejected
	SigningFailure
	TransientSubmit
	TerminalSubmit
	InvalidInput
	Canceled
)

func (k ErrorKind) String() string {
	switch k {
	case TransientRead:
		return "transient_read"
	case SimulationRejected:
		return "simulation_rejected"
	case SigningFailure:
		return "signing_failure"
	case TransientSubmit:
		return "transient_submit"
	case TerminalSubmit:
		return "terminal_submit"
	case InvalidInput:
		return "invalid_input"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Stage names the pipeline step an error or retry belongs to.
type Stage string

const (
	StageFee      Stage = "fee"
	StageGas      Stage = "gas"
	StageNonce    Stage = "nonce"
	StageAssemble Stage = "assemble"
	StageSign     Stage = "sign"
	StageSubmit   Stage = "submit"
	StageReceipt  Stage = "receipt"
)

type SubmissionError struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

func (e *SubmissionError) Error() string {
	if e == nil {
		return "submission failed"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return subErr.Kind
	}
	return KindUnknown
}

// stageError wraps err for stage, turning a context shutdown into Canceled and
// an exhausted retry loop into the stage's transient kind.
func stageError(ctx context.Context, stage Stage, kind ErrorKind, err error) *SubmissionError {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		kind = Canceled
	}
	return &SubmissionError{Kind: kind, Stage: stage, Err: err}
}

func exhausted(err error) bool {
	return errors.Is(err, util.ErrAttemptsExhausted)
}

type EstimateGasError struct {
	Err     error
	Class   ErrorClass
	CallMsg ethereum.CallMsg
}

func (e *EstimateGasError) Error() string {
	if e == nil {
		return "estimate gas failed"
	}
	if e.Err == nil {
		return "estimate gas failed"
	}
	return "estimate gas failed: " + e.Err.Error()
}

func (e *EstimateGasError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
