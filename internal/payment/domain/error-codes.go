package domain

type ErrorCode string

const (
	ErrorCode_GatewayTimeout     ErrorCode = "GATEWAY_TIMEOUT"
	ErrorCode_GatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrorCode_NetworkError       ErrorCode = "NETWORK_ERROR"
	ErrorCode_CardDeclined       ErrorCode = "CARD_DECLINED"
	ErrorCode_InsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	ErrorCode_ExpiredCard        ErrorCode = "EXPIRED_CARD"
	ErrorCode_InvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrorCode_Timeout            ErrorCode = "TIMEOUT"
	ErrorCode_ProcessingError    ErrorCode = "PROCESSING_ERROR"
)

// IsRetryable reports whether a failure with this code may be retried.
// Unknown codes are treated as non-retryable.
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case ErrorCode_GatewayTimeout, ErrorCode_GatewayUnavailable, ErrorCode_NetworkError:
		return true
	case ErrorCode_CardDeclined, ErrorCode_InsufficientFunds, ErrorCode_ExpiredCard, ErrorCode_InvalidToken:
		return false
	case ErrorCode_Timeout, ErrorCode_ProcessingError:
		return false
	default:
		return false
	}
}

// GatewayError carries the provider's code for a call that did not produce a
// declared outcome.
type GatewayError struct {
	Code    ErrorCode
	Message string
}

func (e *GatewayError) Error() string {
	return string(e.Code) + ": " + e.Message
}
