package recovery

import (
	"github.com/shohag/reclaim/internal/config"
	"github.com/shohag/reclaim/internal/models"
)

// Policy decides which notification, if any, a payment is owed in its current
// state. Each notification is sent at most once per (type, retry count).
type Policy struct {
	reminderAfter            map[int]bool
	reminderBeforeExhaustion int
}

func NewPolicy(cfg config.NotificationConfig) Policy {
	p := Policy{
		reminderAfter:            make(map[int]bool, len(cfg.ReminderAfter)),
		reminderBeforeExhaustion: cfg.ReminderBeforeExhaustion,
	}
	for _, n := range cfg.ReminderAfter {
		if n > 0 {
			p.reminderAfter[n] = true
		}
	}
	return p
}

// DefaultPolicy reminds after the first failed retry and when one attempt remains.
func DefaultPolicy() Policy {
	return NewPolicy(config.NotificationConfig{ReminderAfter: []int{1}, ReminderBeforeExhaustion: 1})
}

// Decide returns the notification due for p, or false when none is.
func (pol Policy) Decide(p *models.FailedPayment) (models.NotificationType, bool) {
	switch p.Status {
	case models.StatusRecovered:
		return once(p, models.NotifyPaymentRecovered)
	case models.StatusFailed:
		return once(p, models.NotifyFinalWarning)
	case models.StatusDunning, models.StatusExpiredCard:
		return once(p, models.NotifyCardUpdateReminder)
	case models.StatusPending:
		if p.RetryCount == 0 {
			return once(p, models.NotifyPaymentFailed)
		}
	case models.StatusRetrying:
		if pol.reminderDue(p) && !p.HasEmail(models.NotifyCardUpdateReminder, p.RetryCount) {
			return models.NotifyCardUpdateReminder, true
		}
	}
	return "", false
}

func (pol Policy) reminderDue(p *models.FailedPayment) bool {
	if pol.reminderAfter[p.RetryCount] {
		return true
	}
	n := pol.reminderBeforeExhaustion
	return n > 0 && p.RetryCount > 0 && p.MaxRetries-p.RetryCount == n
}

func once(p *models.FailedPayment, t models.NotificationType) (models.NotificationType, bool) {
	if p.HasEmail(t, -1) {
		return "", false
	}
	return t, true
}
