package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shohag/reclaim/internal/config"
	"github.com/shohag/reclaim/internal/models"
)

func TestPolicyDecide(t *testing.T) {
	pol := DefaultPolicy()

	tests := []struct {
		name   string
		status models.PaymentStatus
		count  int
		sent   []models.EmailRecord
		want   models.NotificationType
	}{
		{name: "new pending payment", status: models.StatusPending, want: models.NotifyPaymentFailed},
		{name: "pending already notified", status: models.StatusPending,
			sent: []models.EmailRecord{{Type: models.NotifyPaymentFailed}}},
		{name: "dunning on creation", status: models.StatusDunning, want: models.NotifyCardUpdateReminder},
		{name: "expired card on creation", status: models.StatusExpiredCard, want: models.NotifyCardUpdateReminder},
		{name: "dunning already reminded", status: models.StatusExpiredCard,
			sent: []models.EmailRecord{{Type: models.NotifyCardUpdateReminder}}},
		{name: "after first failure", status: models.StatusRetrying, count: 1, want: models.NotifyCardUpdateReminder},
		{name: "between milestones", status: models.StatusRetrying, count: 2},
		{name: "one attempt left", status: models.StatusRetrying, count: 3, want: models.NotifyCardUpdateReminder},
		{name: "milestone already sent", status: models.StatusRetrying, count: 3,
			sent: []models.EmailRecord{{Type: models.NotifyCardUpdateReminder, RetryCount: 3}}},
		{name: "earlier reminder does not block", status: models.StatusRetrying, count: 3,
			sent: []models.EmailRecord{{Type: models.NotifyCardUpdateReminder, RetryCount: 1}},
			want: models.NotifyCardUpdateReminder},
		{name: "exhausted", status: models.StatusFailed, count: 4, want: models.NotifyFinalWarning},
		{name: "final warning once", status: models.StatusFailed, count: 4,
			sent: []models.EmailRecord{{Type: models.NotifyFinalWarning, RetryCount: 4}}},
		{name: "recovered", status: models.StatusRecovered, count: 2, want: models.NotifyPaymentRecovered},
		{name: "recovered once", status: models.StatusRecovered,
			sent: []models.EmailRecord{{Type: models.NotifyPaymentRecovered}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &models.FailedPayment{Status: tt.status, RetryCount: tt.count, MaxRetries: 4, EmailsSent: tt.sent}
			got, ok := pol.Decide(p)
			assert.Equal(t, tt.want != "", ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicyDecide_ConfiguredMilestones(t *testing.T) {
	pol := NewPolicy(config.NotificationConfig{ReminderAfter: []int{2}})

	for count, want := range map[int]bool{1: false, 2: true, 3: false} {
		p := &models.FailedPayment{Status: models.StatusRetrying, RetryCount: count, MaxRetries: 4}
		_, ok := pol.Decide(p)
		assert.Equal(t, want, ok, "retry count %d", count)
	}
}
