package iothub

import (
	"errors"
	"fmt"
)

// Result is the coarse outcome of a client operation.
type Result int

const (
	ResultOK Result = iota
	ResultInvalidArg
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultInvalidArg:
		return "invalid_arg"
	case ResultError:
		return "error"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// ClientError is returned for failures raised by the client itself, as
// opposed to failures passed through from the lower layer.
type ClientError struct {
	Result Result
	Msg    string
	Err    error
}

// Error implements the error interface
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Result.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare ClientError values by Result
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Result == t.Result
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidArg = &ClientError{Result: ResultInvalidArg}
	ErrError      = &ClientError{Result: ResultError}
)

func invalidArg(msg string) error {
	return &ClientError{Result: ResultInvalidArg, Msg: msg}
}

func clientError(msg string, err error) error {
	return &ClientError{Result: ResultError, Msg: msg, Err: err}
}

// ResultOf maps err to a Result. Errors that did not originate in this
// package, such as lower-layer failures, map to ResultError.
func ResultOf(err error) Result {
	if err == nil {
		return ResultOK
	}
	var cerr *ClientError
	if errors.As(err, &cerr) {
		return cerr.Result
	}
	return ResultError
}
