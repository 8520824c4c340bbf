package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/reclaim/internal/models"
)

func testPayment() *models.FailedPayment {
	return &models.FailedPayment{
		ID:               "fp_1",
		CustomerEmail:    "jane@example.com",
		Amount:           4900,
		Currency:         "usd",
		HostedInvoiceURL: "https://invoice.stripe.com/i/in_1",
	}
}

func TestCompose(t *testing.T) {
	types := []models.NotificationType{
		models.NotifyPaymentFailed,
		models.NotifyCardUpdateReminder,
		models.NotifyFinalWarning,
		models.NotifyPaymentRecovered,
	}
	for _, typ := range types {
		t.Run(string(typ), func(t *testing.T) {
			msg, err := Compose(typ, testPayment())
			require.NoError(t, err)
			assert.Equal(t, "jane@example.com", msg.To)
			assert.NotEmpty(t, msg.Subject)
			assert.Contains(t, msg.Body, "49.00 USD")
		})
	}

	msg, err := Compose(models.NotifyCardUpdateReminder, testPayment())
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "https://invoice.stripe.com/i/in_1")

	recovered, err := Compose(models.NotifyPaymentRecovered, testPayment())
	require.NoError(t, err)
	assert.NotContains(t, recovered.Body, "update your payment method")
}

func TestCompose_Errors(t *testing.T) {
	p := testPayment()
	p.CustomerEmail = ""
	_, err := Compose(models.NotifyFinalWarning, p)
	assert.ErrorIs(t, err, ErrNoRecipient)

	_, err = Compose(models.NotificationType("sms"), testPayment())
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "49.00 USD", FormatAmount(4900, "usd"))
	assert.Equal(t, "0.05 EUR", FormatAmount(5, "eur"))
	assert.Equal(t, "-12.30 GBP", FormatAmount(-1230, "gbp"))
	assert.Equal(t, "500 JPY", FormatAmount(500, "jpy"))
	assert.Equal(t, "12000 KRW", FormatAmount(12000, "KRW"))
}

func TestLogSend(t *testing.T) {
	l := NewLog(zerolog.Nop())
	assert.NoError(t, l.Send(context.Background(), models.NotifyPaymentFailed, testPayment()))

	p := testPayment()
	p.CustomerEmail = ""
	assert.ErrorIs(t, l.Send(context.Background(), models.NotifyPaymentFailed, p), ErrNoRecipient)
}
