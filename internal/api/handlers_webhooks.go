package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shohag/reclaim/internal/gateway"
	"github.com/shohag/reclaim/internal/recovery"
	"github.com/shohag/reclaim/internal/storage"
)

const maxWebhookSize = 64 * 1024

type WebhookHandler struct {
	store         storage.Storage
	service       *recovery.Service
	defaultSecret string
	log           zerolog.Logger
}

func NewWebhookHandler(store storage.Storage, service *recovery.Service, defaultSecret string, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{store: store, service: service, defaultSecret: defaultSecret, log: log}
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	Ignored   string `json:"ignored,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	Created   bool   `json:"created,omitempty"`
	Changed   bool   `json:"changed,omitempty"`
}

// Stripe ingests invoice events for one connected account. Store failures
// answer 500 so Stripe redelivers; ingestion is idempotent per invoice.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	acct, err := h.store.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	secret := acct.WebhookSecret
	if secret == "" {
		secret = h.defaultSecret
	}
	if secret == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	evt, err := gateway.VerifyEvent(body, r.Header.Get("Stripe-Signature"), secret)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	log := h.log.With().Str("account_id", acct.ID).Str("event_id", evt.ID).Str("event_type", string(evt.Type)).Logger()
	if !acct.Connected {
		log.Info().Msg("ignoring event for disconnected account")
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: "account disconnected"})
		return
	}

	switch string(evt.Type) {
	case gateway.EventInvoicePaymentFailed:
		inv, err := gateway.FailedInvoiceFromEvent(evt)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p, created, err := h.service.HandleFailed(r.Context(), acct, inv)
		if errors.Is(err, recovery.ErrForeignInvoice) {
			log.Warn().Str("invoice_id", inv.InvoiceID).Msg("ignoring event for invoice tracked under another account")
			writeJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: "invoice belongs to another account"})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("invoice_id", inv.InvoiceID).Msg("failed to ingest payment failure")
			writeError(w, http.StatusInternalServerError, "failed to record payment failure")
			return
		}
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, PaymentID: p.ID, Created: created})

	case gateway.EventInvoicePaymentSucceeded, gateway.EventInvoicePaid:
		invoiceID, err := gateway.InvoiceID(evt)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p, changed, err := h.service.HandleSucceeded(r.Context(), acct, invoiceID)
		if errors.Is(err, recovery.ErrForeignInvoice) {
			log.Warn().Str("invoice_id", invoiceID).Msg("ignoring event for invoice tracked under another account")
			writeJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: "invoice belongs to another account"})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("invoice_id", invoiceID).Msg("failed to apply payment success")
			writeError(w, http.StatusInternalServerError, "failed to record payment success")
			return
		}
		resp := webhookResponse{Received: true, Changed: changed}
		if p != nil {
			resp.PaymentID = p.ID
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: "unhandled event type"})
	}
}
