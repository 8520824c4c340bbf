package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/shohag/reclaim/internal/models"
)

const (
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaid             = "invoice.paid"
)

var ErrInvalidEvent = errors.New("gateway: invalid invoice event")

// VerifyEvent checks the Stripe-Signature header and decodes the event.
func VerifyEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
}

// invoiceObject holds the subset of a Stripe invoice that recovery needs.
// Expandable references may arrive as an id string or as an object.
type invoiceObject struct {
	ID               string          `json:"id"`
	Customer         expandable      `json:"customer"`
	CustomerEmail    string          `json:"customer_email"`
	Subscription     expandable      `json:"subscription"`
	AmountDue        int64           `json:"amount_due"`
	Currency         string          `json:"currency"`
	HostedInvoiceURL string          `json:"hosted_invoice_url"`
	Charge           json.RawMessage `json:"charge"`
	PaymentIntent    json.RawMessage `json:"payment_intent"`
}

type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

type chargeObject struct {
	ID             string `json:"id"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
	Outcome        *struct {
		Reason string `json:"reason"`
	} `json:"outcome"`
}

type paymentIntentObject struct {
	LastPaymentError *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_payment_error"`
}

func decodeInvoice(evt stripe.Event) (*invoiceObject, error) {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data", ErrInvalidEvent, evt.ID)
	}
	var inv invoiceObject
	if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if inv.ID == "" {
		return nil, fmt.Errorf("%w: event %s has no invoice id", ErrInvalidEvent, evt.ID)
	}
	return &inv, nil
}

// InvoiceID extracts the invoice id from an invoice event.
func InvoiceID(evt stripe.Event) (string, error) {
	inv, err := decodeInvoice(evt)
	if err != nil {
		return "", err
	}
	return inv.ID, nil
}

// FailedInvoiceFromEvent converts an invoice.payment_failed event into the
// gateway-neutral FailedInvoice.
func FailedInvoiceFromEvent(evt stripe.Event) (*models.FailedInvoice, error) {
	inv, err := decodeInvoice(evt)
	if err != nil {
		return nil, err
	}

	out := &models.FailedInvoice{
		InvoiceID:        inv.ID,
		CustomerID:       inv.Customer.ID,
		CustomerEmail:    inv.CustomerEmail,
		SubscriptionID:   inv.Subscription.ID,
		Amount:           inv.AmountDue,
		Currency:         inv.Currency,
		HostedInvoiceURL: inv.HostedInvoiceURL,
	}

	if len(inv.PaymentIntent) > 0 && inv.PaymentIntent[0] == '{' {
		var pi paymentIntentObject
		if err := json.Unmarshal(inv.PaymentIntent, &pi); err == nil && pi.LastPaymentError != nil {
			out.FailureCode = pi.LastPaymentError.DeclineCode
			if out.FailureCode == "" {
				out.FailureCode = pi.LastPaymentError.Code
			}
			out.FailureMessage = pi.LastPaymentError.Message
		}
	}

	if len(inv.Charge) > 0 {
		switch inv.Charge[0] {
		case '"':
			_ = json.Unmarshal(inv.Charge, &out.ChargeID)
		case '{':
			var ch chargeObject
			if err := json.Unmarshal(inv.Charge, &ch); err == nil {
				out.ChargeID = ch.ID
				if out.FailureCode == "" {
					reason := ""
					if ch.Outcome != nil {
						reason = ch.Outcome.Reason
					}
					out.FailureCode = preferReason(ch.FailureCode, reason)
					out.FailureMessage = ch.FailureMessage
				}
			}
		}
	}

	return out, nil
}
