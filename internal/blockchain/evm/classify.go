package evm

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"airdrop/offchain/internal/errs"
)

// JSON-RPC error code geth and most providers use for reverted calls.
const revertErrorCode = 3

// classifyError maps a raw RPC, signer or transport error onto the errs
// taxonomy. Errors that are already classified pass through unchanged.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var classified *errs.Error
	if errors.As(err, &classified) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return errs.E(errs.KindCanceled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return errs.E(errs.KindConnectivity, op, err)
	}

	if reason, ok := revertReason(err); ok {
		return &errs.Error{Kind: errs.KindRevert, Op: op, Reason: reason, Err: err}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 || httpErr.StatusCode == 429 {
			return errs.E(errs.KindConnectivity, op, err)
		}
		return errs.E(errs.KindInternal, op, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return errs.E(errs.KindConnectivity, op, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case isUserDenial(msg):
		return errs.E(errs.KindUserRejected, op, err)
	case strings.Contains(msg, "insufficient funds"):
		return &errs.Error{Kind: errs.KindInsufficientBalance, Op: op, Reason: "insufficient funds for gas", Err: err}
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "too many requests"):
		return errs.E(errs.KindConnectivity, op, err)
	}

	return errs.E(errs.KindInternal, op, err)
}

// revertReason extracts the Error(string) reason from a reverted call. The
// second result reports whether err was a revert at all.
func revertReason(err error) (string, bool) {
	var rpcErr rpc.Error
	isRevert := errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode
	if !isRevert && !strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return "", false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(data); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	// Providers that drop the data field usually inline the reason.
	if _, after, found := strings.Cut(err.Error(), "execution reverted: "); found {
		return after, true
	}
	return "", true
}

func isUserDenial(msg string) bool {
	return strings.Contains(msg, "request denied") ||
		strings.Contains(msg, "user denied") ||
		strings.Contains(msg, "user rejected") ||
		strings.Contains(msg, "rejected by user")
}

// isKnownTransaction reports a broadcast rejected only because the node
// already holds the same signed transaction.
func isKnownTransaction(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
