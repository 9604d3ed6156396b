package dispatch

import "fmt"

// JSON-RPC error codes surfaced by the tool handlers. The rate-limit
// code is service-specific.
const (
	CodeInvalidRequest    = -32600
	CodeInvalidParams     = -32602
	CodeInternalError     = -32603
	CodeRateLimitExceeded = -32001
)

// RPCError is a structured tool failure with a stable numeric code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, args ...any) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func internalError(message string) *RPCError {
	return &RPCError{Code: CodeInternalError, Message: message}
}

func rateLimited(message string) *RPCError {
	return &RPCError{Code: CodeRateLimitExceeded, Message: message}
}
