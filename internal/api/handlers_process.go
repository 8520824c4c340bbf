package api

import (
	"io"
	"net/http"
	"time"

	"github.com/shohag/reclaim/internal/recovery"
	"github.com/shohag/reclaim/internal/signing"
)

const maxTriggerSize = 4 * 1024

type ProcessHandler struct {
	processor *recovery.Processor
	secret    string
	tolerance time.Duration
}

func NewProcessHandler(processor *recovery.Processor, secret string, tolerance time.Duration) *ProcessHandler {
	return &ProcessHandler{processor: processor, secret: secret, tolerance: tolerance}
}

// Process runs one batch over the due queue for an external scheduler.
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		writeError(w, http.StatusServiceUnavailable, "trigger secret not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTriggerSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	if err := signing.VerifyHeaders(h.secret, body, r.Header, h.tolerance, time.Now()); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	res, err := h.processor.ProcessDue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process due payments")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
