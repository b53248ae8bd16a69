package txbuilder

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrorClass is the boundary classification of a node error.
type ErrorClass int

const (
	ClassOther ErrorClass = iota
	ClassRateLimited
	ClassRejected
	ClassNetworkFailure
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassRejected:
		return "rejected"
	case ClassNetworkFailure:
		return "network_failure"
	default:
		return "other"
	}
}

const (
	// EIP-1474 "limit exceeded", used by most hosted providers for throttling.
	codeLimitExceeded = -32005
	// geth reports execution reverts with code 3 and the revert data attached.
	codeExecutionReverted = 3
)

var rateLimitMarkers = []string{
	"too many requests",
	"rate limit",
	"request limit",
	"exceeded the rate",
}

var rejectionMarkers = []string{
	"execution reverted",
	"insufficient funds",
	"intrinsic gas too low",
	"gas required exceeds allowance",
	"invalid opcode",
	"nonce too low",
	"nonce too high",
	"replacement transaction underpriced",
	"max fee per gas less than block base fee",
	"exceeds block gas limit",
	"invalid sender",
}

var alreadyKnownMarkers = []string{
	"already known",
	"known transaction",
}

// ClassifyNodeError maps an error from the node client to an ErrorClass.
// Structured transport information (HTTP status, JSON-RPC code) wins over
// message text, which is only consulted when the transport gave nothing.
func ClassifyNodeError(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return ClassRateLimited
		case httpErr.StatusCode >= http.StatusInternalServerError:
			return ClassNetworkFailure
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeLimitExceeded:
			return ClassRateLimited
		case codeExecutionReverted:
			return ClassRejected
		}
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, rateLimitMarkers) {
		return ClassRateLimited
	}
	if containsAny(msg, rejectionMarkers) {
		return ClassRejected
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ClassNetworkFailure
	}
	return ClassOther
}

func isAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), alreadyKnownMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
