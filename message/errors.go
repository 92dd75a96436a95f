package message

import (
	"errors"
	"fmt"
)

// Failure reasons carried in Meta.ErrorText and CallError.Reason.
const (
	ReasonNotConnected    = "did not connect"
	ReasonServiceNotExist = "service not exist"
	ReasonMethodNotExist  = "method not exist"
	ReasonRequestDecode   = "request decode failed"
	ReasonParseFailed     = "parse failed"
	ReasonTimeout         = "timeout"
	ReasonCanceled        = "canceled"
	ReasonConnClosed      = "connection closed"
	ReasonRequestEncode   = "request encode failed"
	ReasonResponseEncode  = "response encode failed"
	ReasonTableSaturated  = "call table saturated"
	ReasonHandlerTimeout  = "request timed out"
	ReasonRateLimited     = "rate limit exceeded"
	ReasonHandlerPanic    = "handler panic"
)

// CallError is the failure a caller observes on a resolved call. Two
// CallErrors match under errors.Is when their reasons are equal.
type CallError struct {
	Reason string
}

func (e *CallError) Error() string {
	return "rpc: " + e.Reason
}

func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	return ok && t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrNotConnected    = &CallError{Reason: ReasonNotConnected}
	ErrServiceNotExist = &CallError{Reason: ReasonServiceNotExist}
	ErrMethodNotExist  = &CallError{Reason: ReasonMethodNotExist}
	ErrRequestDecode   = &CallError{Reason: ReasonRequestDecode}
	ErrParseFailed     = &CallError{Reason: ReasonParseFailed}
	ErrTimeout         = &CallError{Reason: ReasonTimeout}
	ErrCanceled        = &CallError{Reason: ReasonCanceled}
	ErrConnClosed      = &CallError{Reason: ReasonConnClosed}
)

// PanicError is the failure reported for a handler that panicked with p.
func PanicError(p any) *CallError {
	return &CallError{Reason: fmt.Sprintf("%s: %v", ReasonHandlerPanic, p)}
}

// ReasonOf returns the failure reason for err: the CallError reason when err
// wraps one, err.Error() otherwise, and "" for nil.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}
