package dealerjson

import (
	"errors"
	"fmt"
)

// RPCError is an error object returned by the venue as part of a response
// envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Guarantee RPCError satisfies the builtin error interface.
var _, _ error = RPCError{}, (*RPCError)(nil)

// Error returns a string describing the RPC error.  This satisfies the
// builtin error interface.
func (e RPCError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// NewRPCError constructs and returns a new JSON-RPC error that is suitable
// for use in a response envelope.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// Venue error codes the dealer reacts to. Any other code is treated as an
// opaque rejection of the single command that produced it.
var (
	ErrRPCLoginFailed = &RPCError{
		Code:    100,
		Message: "Dealer login failed",
	}
	ErrRPCQuoteRejected = &RPCError{
		Code:    201,
		Message: "Quote rejected",
	}
	ErrRPCOrderNotFound = &RPCError{
		Code:    202,
		Message: "Order not found",
	}
)

// ErrRPCTimeout is returned when no response arrives for an issued request
// within the configured request timeout. A timed-out venue call leaves the
// connection in an unknown state and is treated as unrecoverable by the
// dealer engine.
var ErrRPCTimeout = errors.New("rpc request timeout")
