package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the outcome of a risk check or an order operation.
type ErrorCode int

const (
	NoError ErrorCode = iota
	ErrorCodeSelfTrade
	ErrorCodePositionNotEnough
	ErrorCodeFundNotEnough
	ErrorCodeExceedThrottleRate
	ErrorCodeSendFailed
	ErrorCodeRejected
	ErrorCodeContractNotFound
	ErrorCodeInvalidRequest
)

var errorCodeNames = map[ErrorCode]string{
	NoError:                     "no_error",
	ErrorCodeSelfTrade:          "self_trade",
	ErrorCodePositionNotEnough:  "position_not_enough",
	ErrorCodeFundNotEnough:      "fund_not_enough",
	ErrorCodeExceedThrottleRate: "exceed_throttle_rate",
	ErrorCodeSendFailed:         "send_failed",
	ErrorCodeRejected:           "rejected",
	ErrorCodeContractNotFound:   "contract_not_found",
	ErrorCodeInvalidRequest:     "invalid_request",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error_code(%d)", int(c))
}

// ErrOrderRejected is wrapped by every non-nil ErrorCode.Err so callers can
// test for any rejection with errors.Is.
var ErrOrderRejected = errors.New("order rejected")

type codeError struct{ code ErrorCode }

func (e *codeError) Error() string { return "order rejected: " + e.code.String() }

func (e *codeError) Unwrap() error { return ErrOrderRejected }

// Err converts the code to an error. NoError yields nil.
func (c ErrorCode) Err() error {
	if c == NoError {
		return nil
	}
	return &codeError{code: c}
}

// CodeOf extracts the ErrorCode from an error produced by Err. It returns
// NoError for nil and ErrorCodeRejected for any other error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code
	}
	return ErrorCodeRejected
}
