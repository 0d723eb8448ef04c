package pkgerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeLockAcquisitionFailed  Code = "LOCK_ACQUISITION_FAILED"
	CodeGatewayDeclined        Code = "GATEWAY_DECLINED"
	CodeGatewayTransient       Code = "GATEWAY_TRANSIENT"
	CodeMaxRetriesExceeded     Code = "MAX_RETRIES_EXCEEDED"
	CodeRefundFailed           Code = "REFUND_FAILED"
	CodeVersionConflict        Code = "VERSION_CONFLICT"
	CodeRateLimitExceeded      Code = "RATE_LIMIT_EXCEEDED"
	CodeCircuitOpen            Code = "CIRCUIT_OPEN"
	CodeDuplicateKey           Code = "DUPLICATE_KEY"
	CodeJSONParsing            Code = "JSON_PARSING"
	CodeUnknown                Code = "INTERNAL"
)

// AppError is the single error shape returned across package boundaries.
// Two AppErrors match under errors.Is when their codes are equal.
type AppError struct {
	Code      Code
	Message   string
	Retryable bool
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation             = &AppError{Code: CodeValidation, Message: "validation failed"}
	ErrNotFound               = &AppError{Code: CodeNotFound, Message: "not found"}
	ErrInvalidStateTransition = &AppError{Code: CodeInvalidStateTransition, Message: "invalid state transition"}
	ErrLockAcquisitionFailed  = &AppError{Code: CodeLockAcquisitionFailed, Message: "lock acquisition failed", Retryable: true}
	ErrGatewayDeclined        = &AppError{Code: CodeGatewayDeclined, Message: "payment declined"}
	ErrGatewayTransient       = &AppError{Code: CodeGatewayTransient, Message: "gateway unavailable", Retryable: true}
	ErrMaxRetriesExceeded     = &AppError{Code: CodeMaxRetriesExceeded, Message: "max retries exceeded"}
	ErrRefundFailed           = &AppError{Code: CodeRefundFailed, Message: "refund failed"}
	ErrVersionConflict        = &AppError{Code: CodeVersionConflict, Message: "concurrent modification", Retryable: true}
	ErrRateLimitExceeded      = &AppError{Code: CodeRateLimitExceeded, Message: "rate limit exceeded", Retryable: true}
	ErrCircuitOpen            = &AppError{Code: CodeCircuitOpen, Message: "circuit breaker open", Retryable: true}
	ErrDuplicateKey           = &AppError{Code: CodeDuplicateKey, Message: "duplicate key violation"}
	ErrJSONParsing            = &AppError{Code: CodeJSONParsing, Message: "JSON parsing failed"}
)

func NewValidationError(format string, args ...any) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewNotFoundError(format string, args ...any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewInvalidStateTransitionError(from, to string) *AppError {
	return &AppError{
		Code:    CodeInvalidStateTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NewLockAcquisitionError(key string, err error) *AppError {
	return &AppError{
		Code:      CodeLockAcquisitionFailed,
		Message:   fmt.Sprintf("could not acquire lock for key %s", key),
		Retryable: true,
		Err:       err,
	}
}

func NewGatewayDeclinedError(code, msg string) *AppError {
	return &AppError{
		Code:    CodeGatewayDeclined,
		Message: fmt.Sprintf("%s: %s", code, msg),
	}
}

func NewGatewayTransientError(err error) *AppError {
	return &AppError{
		Code:      CodeGatewayTransient,
		Message:   "gateway call failed",
		Retryable: true,
		Err:       err,
	}
}

func NewMaxRetriesExceededError(attempts int) *AppError {
	return &AppError{
		Code:    CodeMaxRetriesExceeded,
		Message: fmt.Sprintf("payment reached %d attempts", attempts),
	}
}

func NewRefundFailedError(msg string, err error) *AppError {
	return &AppError{
		Code:    CodeRefundFailed,
		Message: msg,
		Err:     err,
	}
}

func NewVersionConflictError(id string, version int64) *AppError {
	return &AppError{
		Code:      CodeVersionConflict,
		Message:   fmt.Sprintf("payment %s changed since version %d", id, version),
		Retryable: true,
	}
}

func NewRateLimitExceededError(op string) *AppError {
	return &AppError{
		Code:      CodeRateLimitExceeded,
		Message:   fmt.Sprintf("rate limit exceeded for %s", op),
		Retryable: true,
	}
}

func NewCircuitOpenError(err error) *AppError {
	return &AppError{
		Code:      CodeCircuitOpen,
		Message:   "gateway circuit is open",
		Retryable: true,
		Err:       err,
	}
}

func NewDuplicateKeyError(err error) *AppError {
	return &AppError{
		Code:    CodeDuplicateKey,
		Message: "duplicate key violation",
		Err:     err,
	}
}

func NewJSONParsingError(err error) *AppError {
	return &AppError{
		Code:    CodeJSONParsing,
		Message: "failed to parse JSON",
		Err:     err,
	}
}

func NewInternalError(msg string, err error) *AppError {
	return &AppError{
		Code:    CodeUnknown,
		Message: msg,
		Err:     err,
	}
}

func IsCode(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func GetErrorCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

func HTTPStatus(err error) int {
	switch GetErrorCode(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidStateTransition, CodeMaxRetriesExceeded, CodeVersionConflict, CodeDuplicateKey:
		return http.StatusConflict
	case CodeLockAcquisitionFailed, CodeCircuitOpen, CodeGatewayTransient:
		return http.StatusServiceUnavailable
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeGatewayDeclined, CodeRefundFailed:
		return http.StatusUnprocessableEntity
	case CodeJSONParsing:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
