package application

import "fmt"

func RefundKey(key string) string {
	return "refund:" + key
}

// PaymentRefundLockKey serializes every refund path of one payment, whatever
// key the caller used.
func PaymentRefundLockKey(paymentID string) string {
	return "payment-refund:" + paymentID
}

// refundProviderKey makes a refund re-sent after a lost write a no-op at the
// provider. A payment is refunded at most once.
func refundProviderKey(paymentID string) string {
	return "refund:" + paymentID
}

func OrderRefundKey(orderID string) string {
	return "order-cancel-refund:" + orderID
}

// RetryKey is shared by manual and sweeper retries so that both collapse onto
// one execution per attempt.
func RetryKey(paymentID string, attemptCount int) string {
	return fmt.Sprintf("retry:%s:%d", paymentID, attemptCount)
}

func chargeKey(idempotencyKey string, attemptCount int) string {
	return fmt.Sprintf("%s:%d", idempotencyKey, attemptCount)
}
