package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/storage"
)

type AccountHandler struct {
	store storage.Storage
}

func NewAccountHandler(store storage.Storage) *AccountHandler {
	return &AccountHandler{store: store}
}

type createAccountRequest struct {
	Name            string `json:"name" validate:"required,max=200"`
	StripeAccountID string `json:"stripe_account_id" validate:"omitempty,startswith=acct_"`
	WebhookSecret   string `json:"webhook_secret" validate:"omitempty,startswith=whsec_"`
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	now := time.Now().UTC()
	acct := &models.Account{
		ID:              models.NewID("acct"),
		Name:            req.Name,
		StripeAccountID: req.StripeAccountID,
		WebhookSecret:   req.WebhookSecret,
		APIKey:          models.NewAPIKey(),
		Connected:       true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.store.CreateAccount(r.Context(), acct); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	acct.WebhookSecret = ""
	writeJSON(w, http.StatusCreated, acct)
}

// redact strips credentials before an account leaves the API.
func redact(acct *models.Account) {
	acct.APIKey = ""
	acct.WebhookSecret = ""
}

func (h *AccountHandler) load(w http.ResponseWriter, r *http.Request) *models.Account {
	acct, err := h.store.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return nil
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return nil
	}
	return acct
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	acct := h.load(w, r)
	if acct == nil {
		return
	}
	redact(acct)
	writeJSON(w, http.StatusOK, acct)
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	for i := range accts {
		redact(&accts[i])
	}
	if accts == nil {
		accts = []models.Account{}
	}
	writeJSON(w, http.StatusOK, accts)
}

// Disconnect stops future retries for the account. Its records are kept.
func (h *AccountHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.setConnected(w, r, false)
}

func (h *AccountHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.setConnected(w, r, true)
}

func (h *AccountHandler) setConnected(w http.ResponseWriter, r *http.Request, connected bool) {
	acct := h.load(w, r)
	if acct == nil {
		return
	}
	if err := h.store.SetAccountConnected(r.Context(), acct.ID, connected); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	acct.Connected = connected
	redact(acct)
	writeJSON(w, http.StatusOK, acct)
}

func (h *AccountHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	acct := h.load(w, r)
	if acct == nil {
		return
	}

	newKey := models.NewAPIKey()
	if err := h.store.UpdateAccountAPIKey(r.Context(), acct.ID, newKey); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rotate key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"api_key": newKey})
}
