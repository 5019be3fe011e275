package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingPayment(t *testing.T) *Payment {
	t.Helper()
	payment, err := NewPayment("pay-1", "order-1", ProviderMpesa, MustMoney("1500.00", "KES"))
	require.NoError(t, err)
	return payment
}

func event(status EventStatus) *ProviderEvent {
	return &ProviderEvent{
		Provider:          ProviderMpesa,
		CheckoutRequestID: "chk-1",
		Status:            status,
		OccurredAt:        time.Now(),
	}
}

func TestNewPayment(t *testing.T) {
	t.Run("starts pending", func(t *testing.T) {
		payment := pendingPayment(t)
		assert.Equal(t, StatusPending, payment.Status)
		assert.True(t, payment.Active())
		assert.False(t, payment.IsTerminal())
		assert.Equal(t, payment.Amount, payment.OriginalAmount)
	})

	t.Run("requires identifiers and a known provider", func(t *testing.T) {
		_, err := NewPayment("", "order-1", ProviderMpesa, MustMoney("1", "KES"))
		assert.Error(t, err)
		_, err = NewPayment("pay-1", "", ProviderMpesa, MustMoney("1", "KES"))
		assert.Error(t, err)
		_, err = NewPayment("pay-1", "order-1", "SQUARE", MustMoney("1", "KES"))
		assert.Error(t, err)
	})
}

func TestPaymentApply(t *testing.T) {
	now := time.Now()

	t.Run("success from pending", func(t *testing.T) {
		payment := pendingPayment(t)
		ev := event(EventSuccess)
		ev.TransactionID = "RCT1"

		changed, err := payment.Apply(ev, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StatusCompleted, payment.Status)
		assert.True(t, payment.IsTerminal())
		require.NotNil(t, payment.TransactionID)
		assert.Equal(t, "RCT1", *payment.TransactionID)
	})

	t.Run("success from processing", func(t *testing.T) {
		payment := pendingPayment(t)
		_, err := payment.Apply(event(EventPending), now)
		require.NoError(t, err)
		require.Equal(t, StatusProcessing, payment.Status)

		changed, err := payment.Apply(event(EventSuccess), now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StatusCompleted, payment.Status)
	})

	t.Run("success on completed is a no-op", func(t *testing.T) {
		payment := pendingPayment(t)
		_, err := payment.Apply(event(EventSuccess), now)
		require.NoError(t, err)

		changed, err := payment.Apply(event(EventSuccess), now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, StatusCompleted, payment.Status)
	})

	t.Run("pending event moves pending to processing", func(t *testing.T) {
		payment := pendingPayment(t)
		changed, err := payment.Apply(event(EventPending), now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StatusProcessing, payment.Status)

		// Re-acknowledgement records but does not change.
		changed, err = payment.Apply(event(EventPending), now)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("cancellation is a user-cancelled failure", func(t *testing.T) {
		payment := pendingPayment(t)
		changed, err := payment.Apply(event(EventCancelled), now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StatusFailed, payment.Status)
		require.NotNil(t, payment.FailureType)
		assert.Equal(t, FailureUserCancelled, *payment.FailureType)
		assert.Equal(t, 0, payment.RetryCount)
	})

	t.Run("temporary failure increments retry count", func(t *testing.T) {
		payment := pendingPayment(t)
		ev := event(EventFailed)
		ev.FailureKind = FailureTemporary

		changed, err := payment.Apply(ev, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 1, payment.RetryCount)
		require.NotNil(t, payment.LastRetryAt)
	})

	t.Run("permanent failure does not increment retry count", func(t *testing.T) {
		payment := pendingPayment(t)
		ev := event(EventFailed)
		ev.FailureKind = FailurePermanent

		_, err := payment.Apply(ev, now)
		require.NoError(t, err)
		assert.Equal(t, 0, payment.RetryCount)
		assert.Nil(t, payment.LastRetryAt)
	})

	t.Run("failure without kind defaults to permanent", func(t *testing.T) {
		payment := pendingPayment(t)
		_, err := payment.Apply(event(EventFailed), now)
		require.NoError(t, err)
		require.NotNil(t, payment.FailureType)
		assert.Equal(t, FailurePermanent, *payment.FailureType)
	})

	t.Run("refund requires completed", func(t *testing.T) {
		payment := pendingPayment(t)
		_, err := payment.Apply(event(EventRefunded), now)
		require.Error(t, err)
		assert.True(t, IsErrorCode(err, ErrCodeInvalidTransition))
		assert.Equal(t, StatusPending, payment.Status)

		_, err = payment.Apply(event(EventSuccess), now)
		require.NoError(t, err)

		changed, err := payment.Apply(event(EventRefunded), now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StatusRefunded, payment.Status)
	})

	t.Run("redelivered refund is a no-op", func(t *testing.T) {
		payment := pendingPayment(t)
		_, err := payment.Apply(event(EventSuccess), now)
		require.NoError(t, err)
		_, err = payment.Apply(event(EventRefunded), now)
		require.NoError(t, err)

		// Providers redeliver until acknowledged; the replay must not 409.
		changed, err := payment.Apply(event(EventRefunded), now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, StatusRefunded, payment.Status)
	})

	t.Run("terminal states reject further events", func(t *testing.T) {
		tests := []struct {
			name  string
			setup []EventStatus
			next  EventStatus
		}{
			{"failed then success", []EventStatus{EventFailed}, EventSuccess},
			{"failed then refund", []EventStatus{EventFailed}, EventRefunded},
			{"refunded then success", []EventStatus{EventSuccess, EventRefunded}, EventSuccess},
			{"completed then cancel", []EventStatus{EventSuccess}, EventCancelled},
			{"completed then pending", []EventStatus{EventSuccess}, EventPending},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				payment := pendingPayment(t)
				for _, status := range tt.setup {
					_, err := payment.Apply(event(status), now)
					require.NoError(t, err)
				}
				before := payment.Status

				_, err := payment.Apply(event(tt.next), now)
				require.Error(t, err)
				assert.True(t, IsErrorCode(err, ErrCodeInvalidTransition))
				assert.Equal(t, before, payment.Status)
			})
		}
	})

	t.Run("provider amount in another currency is kept as converted", func(t *testing.T) {
		payment := pendingPayment(t)
		payment.OriginalAmount = MustMoney("10.00", "USD")
		ev := event(EventSuccess)
		amount := MustMoney("1295.00", "KES")
		ev.Amount = &amount

		_, err := payment.Apply(ev, now)
		require.NoError(t, err)
		require.NotNil(t, payment.ConvertedAmount)
		assert.Equal(t, "KES", payment.ConvertedAmount.Currency)
	})

	t.Run("success clears a stale failure type", func(t *testing.T) {
		payment := pendingPayment(t)
		ev := event(EventPending)
		_, err := payment.Apply(ev, now)
		require.NoError(t, err)

		_, err = payment.Apply(event(EventSuccess), now)
		require.NoError(t, err)
		assert.Nil(t, payment.FailureType)
	})
}

func TestSupersededBy(t *testing.T) {
	payment := pendingPayment(t)
	payment.SupersededBy("pay-2", time.Now())

	assert.Equal(t, StatusFailed, payment.Status)
	require.NotNil(t, payment.FailureType)
	assert.Equal(t, FailurePermanent, *payment.FailureType)
	require.NotNil(t, payment.ResultDescription)
	assert.Contains(t, *payment.ResultDescription, "pay-2")
}

func TestMarkInitiated(t *testing.T) {
	payment := pendingPayment(t)
	payment.MarkInitiated("ws_CO_1", "TXN-1", []byte(`{}`))

	require.NotNil(t, payment.CheckoutRequestID)
	assert.Equal(t, "ws_CO_1", *payment.CheckoutRequestID)
	require.NotNil(t, payment.TransactionID)
	assert.Equal(t, "TXN-1", *payment.TransactionID)
	assert.Equal(t, StatusPending, payment.Status)
}
