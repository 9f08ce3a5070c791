package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/proof"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError maps the settlement error taxonomy onto the HTTP surface.
// Validation failures are caller mistakes (400); conflicts and terminal
// replays are retry-against-new-state conditions (409); proof and binding
// problems are semantically unprocessable (422); not-yet-final is a
// transient 409 the caller retries on backoff.
func WriteDomainError(w http.ResponseWriter, err error) {
	var v *domain.Violation
	if errors.As(err, &v) {
		WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", v.Reason, map[string]any{"transition": string(v.Kind)})
		return
	}
	var pe *domain.ProofError
	if errors.As(err, &pe) {
		WriteError(w, http.StatusUnprocessableEntity, "PROOF_INVALID", pe.Error(), nil)
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyFinal):
		WriteError(w, http.StatusConflict, "ALREADY_FINAL", err.Error(), nil)
	case errors.Is(err, domain.ErrNotYetFinal):
		WriteError(w, http.StatusConflict, "NOT_YET_FINAL", err.Error(), nil)
	case errors.Is(err, domain.ErrConflict):
		WriteError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, domain.ErrUnknownBinding):
		WriteError(w, http.StatusUnprocessableEntity, "UNKNOWN_BINDING", err.Error(), nil)
	case errors.Is(err, domain.ErrTradeMismatch):
		WriteError(w, http.StatusUnprocessableEntity, "TRADE_MISMATCH", err.Error(), nil)
	case errors.Is(err, proof.ErrUnknownAttester):
		WriteError(w, http.StatusUnprocessableEntity, "UNKNOWN_ATTESTER", err.Error(), nil)
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
