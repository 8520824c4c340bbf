package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/retry"
)

// Stripe retries invoices through the Stripe API, optionally on behalf of a
// connected account.
type Stripe struct {
	api *client.API
	log zerolog.Logger
}

func NewStripe(secretKey string, log zerolog.Logger) *Stripe {
	return &Stripe{
		api: client.New(secretKey, nil),
		log: log,
	}
}

func scope(ctx context.Context, params *stripe.Params, acct *models.Account) {
	params.Context = ctx
	if acct != nil && acct.StripeAccountID != "" {
		params.SetStripeAccount(acct.StripeAccountID)
	}
}

// RetryInvoice attempts to collect an open invoice. It never returns an error:
// failures are folded into the Result so the caller can record them.
func (s *Stripe) RetryInvoice(ctx context.Context, invoiceID string, acct *models.Account) Result {
	params := &stripe.InvoicePayParams{}
	scope(ctx, &params.Params, acct)

	inv, err := s.api.Invoices.Pay(invoiceID, params)
	if err != nil {
		res := ResultFromError(err)
		s.log.Debug().
			Str("invoice_id", invoiceID).
			Str("outcome", string(res.Outcome)).
			Str("code", res.Code).
			Msg("stripe invoice payment failed")
		return res
	}
	if inv.Paid || inv.Status == stripe.InvoiceStatusPaid {
		return Result{Outcome: OutcomeSuccess}
	}
	return Result{
		Outcome: OutcomeCardError,
		Message: fmt.Sprintf("invoice left in status %q", inv.Status),
	}
}

// ChargeFailure looks up the decline reason and message recorded on a charge.
func (s *Stripe) ChargeFailure(ctx context.Context, chargeID string, acct *models.Account) (string, string, error) {
	params := &stripe.ChargeParams{}
	scope(ctx, &params.Params, acct)
	params.AddExpand("payment_intent")

	ch, err := s.api.Charges.Get(chargeID, params)
	if err != nil {
		return "", "", fmt.Errorf("get charge %s: %w", chargeID, err)
	}
	return chargeDecline(ch), ch.FailureMessage, nil
}

// chargeDecline returns the most specific failure code on a charge. The
// payment intent's decline code and the outcome reason name the issuer's
// reason; failure_code is only the error category, e.g. card_declined.
func chargeDecline(ch *stripe.Charge) string {
	if ch.PaymentIntent != nil && ch.PaymentIntent.LastPaymentError != nil {
		if code := string(ch.PaymentIntent.LastPaymentError.DeclineCode); code != "" {
			return code
		}
	}
	reason := ""
	if ch.Outcome != nil {
		reason = ch.Outcome.Reason
	}
	return preferReason(ch.FailureCode, reason)
}

// preferReason picks the outcome reason over the failure code when the reason
// is a recognised decline code. Risk reasons such as highest_risk_level are
// not.
func preferReason(failureCode, reason string) string {
	if reason != "" && retry.IsKnownCode(reason) {
		return reason
	}
	return failureCode
}

// ResultFromError maps a Stripe API error to a retry outcome. Card errors carry
// the decline code; everything else is a gateway error.
func ResultFromError(err error) Result {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return Result{Outcome: OutcomeGatewayError, Message: err.Error()}
	}
	if stripeErr.Type == stripe.ErrorTypeCard {
		code := string(stripeErr.DeclineCode)
		if code == "" {
			code = string(stripeErr.Code)
		}
		return Result{Outcome: OutcomeCardError, Code: code, Message: stripeErr.Msg}
	}
	return Result{Outcome: OutcomeGatewayError, Code: string(stripeErr.Code), Message: stripeErr.Msg}
}
