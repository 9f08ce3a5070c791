package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/httpx"
	"github.com/hyperledger-labs/harmonia-sub001/services/dcr/internal/lifecycle"
)

type serverDeps struct {
	mgr     *lifecycle.Manager
	metrics http.Handler // optional
}

func newRouter(d serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	if d.metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.metrics)
	}

	r.Route("/dcr", func(api chi.Router) {

		api.Post("/records", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Owner    string   `json:"owner"`
				Issuer   string   `json:"issuer"`
				Value    string   `json:"value"`
				Currency string   `json:"currency"`
				TradeID  string   `json:"tradeId"`
				Signers  []string `json:"signers"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			value, err := decimal.NewFromString(req.Value)
			if err != nil {
				httpx.WriteError(w, 400, "VALIDATION_FAILED", "value must be a decimal number", nil)
				return
			}
			rec, err := d.mgr.Create(r.Context(), lifecycle.CreateRequest{
				Owner:    domain.Party(req.Owner),
				Issuer:   domain.Party(req.Issuer),
				Value:    value,
				Currency: req.Currency,
				TradeID:  req.TradeID,
				Signers:  parties(req.Signers),
			})
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "record": rec})
		})

		api.Post("/records/{linear_id}/earmark", func(w http.ResponseWriter, r *http.Request) {
			linearID := chi.URLParam(r, "linear_id")
			var req struct {
				PartyName string `json:"partyName"`
				TradeID   string `json:"tradeId"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			rec, err := d.mgr.Earmark(r.Context(), linearID, domain.Party(req.PartyName), req.TradeID)
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "record": rec})
		})

		api.Post("/confirm", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				TradeID          string `json:"tradeId"`
				SystemID         string `json:"systemId"`
				SourceSystemID   string `json:"sourceSystemId"`
				EncodedInfo      string `json:"encodedInfo"`
				SignatureOrProof string `json:"signatureOrProof"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			rec, err := d.mgr.Confirm(r.Context(), lifecycle.ConfirmRequest{
				TradeID:          req.TradeID,
				SystemID:         req.SystemID,
				SourceSystemID:   req.SourceSystemID,
				EncodedInfo:      req.EncodedInfo,
				SignatureOrProof: req.SignatureOrProof,
			})
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "record": rec})
		})

		api.Post("/cancel", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				TradeID          string `json:"tradeId"`
				EncodedInfo      string `json:"encodedInfo"`
				SignatureOrProof string `json:"signatureOrProof"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			rec, err := d.mgr.Cancel(r.Context(), lifecycle.CancelRequest{
				TradeID:          req.TradeID,
				EncodedInfo:      req.EncodedInfo,
				SignatureOrProof: req.SignatureOrProof,
			})
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "record": rec})
		})

		api.Get("/records/{linear_id}", func(w http.ResponseWriter, r *http.Request) {
			rec, err := d.mgr.Record(r.Context(), chi.URLParam(r, "linear_id"))
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "record": rec})
		})

		// Settlement-status query used by counterpart trade coordinators.
		// The body is the bare status object, not the request envelope:
		// machine clients decode it directly.
		api.Get("/trades/{trade_id}/status", func(w http.ResponseWriter, r *http.Request) {
			rec, err := d.mgr.StatusByTrade(r.Context(), chi.URLParam(r, "trade_id"))
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"linear_id": rec.LinearID,
				"trade_id":  rec.TradeID,
				"status":    rec.Status,
			})
		})
	})

	return r
}

func parties(names []string) []domain.Party {
	out := make([]domain.Party, 0, len(names))
	for _, n := range names {
		out = append(out, domain.Party(n))
	}
	return out
}
