package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shohag/reclaim/internal/models"
)

var ErrNoRecipient = errors.New("notify: payment has no customer email")

type Message struct {
	To      string
	Subject string
	Body    string
}

// Compose renders the plain-text email for a notification type.
func Compose(t models.NotificationType, p *models.FailedPayment) (Message, error) {
	if strings.TrimSpace(p.CustomerEmail) == "" {
		return Message{}, ErrNoRecipient
	}

	amount := FormatAmount(p.Amount, p.Currency)
	link := p.HostedInvoiceURL
	msg := Message{To: p.CustomerEmail}

	switch t {
	case models.NotifyPaymentFailed:
		msg.Subject = "Your payment didn't go through"
		msg.Body = fmt.Sprintf("We couldn't process your payment of %s. We'll try again automatically.\n\nIf you'd like to update your card now: %s\n", amount, link)
	case models.NotifyCardUpdateReminder:
		msg.Subject = "Action needed: update your payment method"
		msg.Body = fmt.Sprintf("Your payment of %s is still outstanding. Please update your payment method to keep your subscription active:\n\n%s\n", amount, link)
	case models.NotifyFinalWarning:
		msg.Subject = "Final notice: your payment is overdue"
		msg.Body = fmt.Sprintf("We were unable to collect %s after several attempts. Please update your payment method as soon as possible:\n\n%s\n", amount, link)
	case models.NotifyPaymentRecovered:
		msg.Subject = "Payment received, thank you"
		msg.Body = fmt.Sprintf("Your payment of %s was received. No further action is needed.\n", amount)
	default:
		return Message{}, fmt.Errorf("notify: unknown notification type %q", t)
	}
	return msg, nil
}

// zeroDecimal lists currencies whose minor unit is the whole unit.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// FormatAmount renders minor units, e.g. 4900 usd -> "49.00 USD" and
// 500 jpy -> "500 JPY".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	code := strings.ToUpper(currency)
	if zeroDecimal[strings.ToLower(currency)] {
		return fmt.Sprintf("%s%d %s", sign, minor, code)
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, code)
}

// Log records notifications without delivering them. Used when SMTP is disabled.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Send(ctx context.Context, t models.NotificationType, p *models.FailedPayment) error {
	msg, err := Compose(t, p)
	if err != nil {
		return err
	}
	l.log.Info().
		Str("payment_id", p.ID).
		Str("type", string(t)).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("notification recorded (smtp disabled)")
	return nil
}
