// Package apperr holds the error taxonomy shared by the orchestrator and the
// backend services: typed business errors with stable codes, opaque failures
// recovered from services that panic with non-error values, and the
// classification used to decide whether a failure can be redirected.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable business error code. The zero value is not a valid code;
// NoError is the explicit "nothing went wrong" sentinel.
type Code string

const (
	NoError                             Code = "NO_ERROR"
	UnknownException                    Code = "UNKNOWN_EXCEPTION"
	SystemException                     Code = "SYSTEM_EXCEPTION"
	NoFareForClassUsed                  Code = "NO_FARE_FOR_CLASS_USED"
	NoCombinableFaresForClass           Code = "NO_COMBINABLE_FARES_FOR_CLASS"
	UnableToMatchReissueRules           Code = "UNABLE_TO_MATCH_REISSUE_RULES"
	RefundRulesFailed                   Code = "REFUND_RULES_FAIL"
	ReissueRulesFail                    Code = "REISSUE_RULES_FAIL"
	NoFareMatch                         Code = "NO_FARE_MATCH"
	NoPnrSegmentsFound                  Code = "NO_PNR_SEGMENTS"
	InvalidTrxForRedirectToPortExchange Code = "INVALID_TRX_FOR_REDIRECT_TO_PORT_EXCHANGE"
	InvalidRequest                      Code = "INVALID_REQUEST"
)

// redirectable is the fixed allow-list of business conditions that can be
// retried through an alternate sub-transaction.
var redirectable = map[Code]bool{
	NoFareForClassUsed:        true,
	NoCombinableFaresForClass: true,
	UnableToMatchReissueRules: true,
	RefundRulesFailed:         true,
}

// IsRedirectable reports whether code is on the redirect allow-list.
func IsRedirectable(code Code) bool {
	return redirectable[code]
}

// BusinessError is the only failure shape that carries a code.
type BusinessError struct {
	Code    Code
	Message string
}

// New returns a BusinessError with the given code and message.
func New(code Code, message string) *BusinessError {
	return &BusinessError{Code: code, Message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *BusinessError {
	return &BusinessError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// OpaqueError wraps a non-error value recovered from a service panic, for
// example a raw integer status.
type OpaqueError struct {
	Value any
}

func (e *OpaqueError) Error() string {
	return fmt.Sprintf("opaque failure: %v", e.Value)
}

// FailureKind is the coarse shape of a failure.
type FailureKind int

const (
	KindNone FailureKind = iota
	KindBusiness
	KindRuntime
	KindOpaque
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBusiness:
		return "business"
	case KindRuntime:
		return "runtime"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Failure is a classified error. Business is set only for KindBusiness.
type Failure struct {
	Kind        FailureKind
	Business    *BusinessError
	Description string
	Err         error
}

// Code returns the business code, or UnknownException for every other kind.
func (f Failure) Code() Code {
	switch f.Kind {
	case KindNone:
		return NoError
	case KindBusiness:
		return f.Business.Code
	default:
		return UnknownException
	}
}

// Classify maps err into one of the failure kinds. Wrapped business errors
// are found through errors.As.
func Classify(err error) Failure {
	if err == nil {
		return Failure{Kind: KindNone}
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return Failure{Kind: KindBusiness, Business: be, Description: be.Message, Err: err}
	}
	var oe *OpaqueError
	if errors.As(err, &oe) {
		return Failure{Kind: KindOpaque, Description: oe.Error(), Err: err}
	}
	return Failure{Kind: KindRuntime, Description: err.Error(), Err: err}
}

// Kind returns a short label for logs and API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	f := Classify(err)
	if f.Kind == KindBusiness {
		return string(f.Business.Code)
	}
	return "internal"
}

// HTTPStatus translates an error propagated out of the orchestrator.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest
	}
	f := Classify(err)
	if f.Kind != KindBusiness {
		return http.StatusInternalServerError
	}
	switch f.Business.Code {
	case InvalidRequest:
		return http.StatusBadRequest
	case InvalidTrxForRedirectToPortExchange:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
