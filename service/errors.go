package service

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrLeafNotFound       = errors.New("service: leaf not found")
	ErrRelayerMisbehaving = errors.New("service: relayer misbehaving")
	ErrEdgeRootNotFound   = errors.New("service: edge root not found")
	ErrSyncFailed         = errors.New("service: sync failed")
	ErrRootMismatch       = errors.New("service: root mismatch")
	ErrNonMonotonic       = errors.New("service: non-monotonic cache update")
	ErrCancelled          = errors.New("service: cancelled")
	ErrUnknownChain       = errors.New("service: unknown chain")
	ErrNoRelayer          = errors.New("service: no eligible relayer")

	// ErrRangeTooLarge is what a LogSource returns when the provider refused a
	// block range; the engine splits the range and asks again.
	ErrRangeTooLarge = errors.New("service: log range too large")
)

// rangeTooLargeCode is the JSON-RPC "limit exceeded" code providers answer
// oversized eth_getLogs ranges with.
const rangeTooLargeCode = -32005

// rangeLimitMessages are the ways providers word a refused eth_getLogs range
// when they do not use rangeTooLargeCode.
var rangeLimitMessages = []string{
	"block range is too large",
	"block range too large",
	"range too large",
	"exceeds max block range",
	"exceed maximum block range",
	"block range limit",
	"query returned more than",
	"too many blocks",
}

// IsRetryable reports whether the caller should try the same request again
// later rather than treat it as a permanent failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEdgeRootNotFound)
}

func IsRangeTooLarge(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRangeTooLarge) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rangeTooLargeCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range rangeLimitMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
