package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/recovery"
	"github.com/shohag/reclaim/internal/storage"
)

type PaymentHandler struct {
	store   storage.Storage
	service *recovery.Service
}

func NewPaymentHandler(store storage.Storage, service *recovery.Service) *PaymentHandler {
	return &PaymentHandler{store: store, service: service}
}

type listPaymentsQuery struct {
	Status string `json:"status" validate:"omitempty,oneof=pending retrying dunning expired_card recovered failed"`
	Limit  int    `json:"limit" validate:"min=1,max=200"`
	Offset int    `json:"offset" validate:"min=0"`
}

func parseListQuery(r *http.Request) (listPaymentsQuery, error) {
	q := listPaymentsQuery{Status: r.URL.Query().Get("status"), Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, errors.New("limit must be an integer")
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, errors.New("offset must be an integer")
		}
		q.Offset = n
	}
	return q, validate.Struct(q)
}

func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	payments, err := h.store.ListPayments(r.Context(), acct.ID, models.PaymentStatus(q.Status), q.Limit, q.Offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}
	if payments == nil {
		payments = []models.FailedPayment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

// owned loads a payment of the calling account, writing the error response itself.
func (h *PaymentHandler) owned(w http.ResponseWriter, r *http.Request) *models.FailedPayment {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	p, err := h.store.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get payment")
		return nil
	}
	if p == nil || p.AccountID != acct.ID {
		writeError(w, http.StatusNotFound, "payment not found")
		return nil
	}
	return p
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := h.owned(w, r)
	if p == nil {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type retryResponse struct {
	Transition recovery.Transition   `json:"transition"`
	Payment    *models.FailedPayment `json:"payment"`
}

// Retry runs a manual attempt. It consumes one attempt of the payment's budget.
func (h *PaymentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	p := h.owned(w, r)
	if p == nil {
		return
	}

	updated, transition, err := h.service.RetryNow(r.Context(), p.ID)
	switch {
	case errors.Is(err, recovery.ErrNotRetryable), errors.Is(err, recovery.ErrRetryBudgetExhausted):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "payment changed during retry, reload and try again")
		return
	case errors.Is(err, recovery.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to retry payment")
		return
	}

	writeJSON(w, http.StatusOK, retryResponse{Transition: transition, Payment: updated})
}
