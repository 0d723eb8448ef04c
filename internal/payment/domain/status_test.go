package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[PaymentStatus][]PaymentStatus{
		PaymentStatus_Created:    {PaymentStatus_Processing},
		PaymentStatus_Processing: {PaymentStatus_Success, PaymentStatus_Failed},
		PaymentStatus_Failed:     {PaymentStatus_Processing},
		PaymentStatus_Success:    {PaymentStatus_Refunded},
		PaymentStatus_Refunded:   {},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			expected := false
			for _, a := range allowed[from] {
				if a == to {
					expected = true
				}
			}
			assert.Equal(t, expected, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		parsed, err := ParseStatus(string(s))
		assert.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("PENDING")
	assert.Error(t, err)
}

func TestOnlyRefundedIsTerminal(t *testing.T) {
	for _, s := range AllStatuses {
		assert.Equal(t, s == PaymentStatus_Refunded, s.IsTerminal(), string(s))
	}
}

func TestErrorCodeRetryability(t *testing.T) {
	cases := map[ErrorCode]bool{
		ErrorCode_GatewayTimeout:     true,
		ErrorCode_GatewayUnavailable: true,
		ErrorCode_NetworkError:       true,
		ErrorCode_CardDeclined:       false,
		ErrorCode_InsufficientFunds:  false,
		ErrorCode_ExpiredCard:        false,
		ErrorCode_InvalidToken:       false,
		ErrorCode_Timeout:            false,
		ErrorCode("SOMETHING_NEW"):   false,
	}
	for code, retryable := range cases {
		assert.Equal(t, retryable, code.IsRetryable(), string(code))
	}
}
