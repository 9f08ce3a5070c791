package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/httpx"
	"github.com/hyperledger-labs/harmonia-sub001/services/xvp/internal/coordinator"
	"github.com/hyperledger-labs/harmonia-sub001/services/xvp/internal/idempotency"
)

type serverDeps struct {
	coord   *coordinator.Coordinator
	idem    idempotency.Store // optional
	metrics http.Handler      // optional
}

func actorFrom(r *http.Request) idempotency.Actor {
	return idempotency.Actor{
		ActorID:        r.Header.Get("X-Actor-Id"),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
}

func newRouter(d serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	if d.metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.metrics)
	}

	r.Route("/xvp", func(api chi.Router) {

		api.Post("/trades", func(w http.ResponseWriter, r *http.Request) {
			actor := actorFrom(r)
			if d.idem != nil {
				status, saved, found, err := idempotency.Replay(r.Context(), d.idem, actor, idempotency.EndpointCreateTrade)
				if err != nil {
					httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
					return
				}
				if found {
					httpx.WriteJSON(w, status, saved)
					return
				}
			}
			var req struct {
				TradeID string `json:"tradeId"`
				AssetID string `json:"assetId"`
				From    string `json:"from"`
				To      string `json:"to"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			rec, err := d.coord.CreateTrade(r.Context(), req.TradeID, req.AssetID,
				domain.Party(req.From), domain.Party(req.To))
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			resp := map[string]any{"request_id": httpx.NewRequestID(), "trade": rec}
			if d.idem != nil {
				if err := idempotency.Save(r.Context(), d.idem, actor, idempotency.EndpointCreateTrade, 201, resp); err != nil {
					httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
					return
				}
			}
			httpx.WriteJSON(w, 201, resp)
		})

		api.Post("/trades/{trade_id}/resolve", func(w http.ResponseWriter, r *http.Request) {
			tradeID := chi.URLParam(r, "trade_id")
			actor := actorFrom(r)
			if d.idem != nil {
				// A replayed resolve skips the counterpart round trip;
				// only terminal responses are saved, so the replay can
				// never pin a pre-resolution answer.
				status, saved, found, err := idempotency.Replay(r.Context(), d.idem, actor, idempotency.EndpointResolveTrade)
				if err != nil {
					httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
					return
				}
				if found {
					httpx.WriteJSON(w, status, saved)
					return
				}
			}
			var req struct {
				SourceNetworkID string `json:"sourceNetworkId"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			rec, err := d.coord.ResolveTrade(r.Context(), tradeID, req.SourceNetworkID)
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			resp := map[string]any{"request_id": httpx.NewRequestID(), "trade": rec}
			if d.idem != nil {
				if err := idempotency.Save(r.Context(), d.idem, actor, idempotency.EndpointResolveTrade, 200, resp); err != nil {
					httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
					return
				}
			}
			httpx.WriteJSON(w, 200, resp)
		})

		api.Get("/trades/{trade_id}", func(w http.ResponseWriter, r *http.Request) {
			rec, err := d.coord.Trade(r.Context(), chi.URLParam(r, "trade_id"))
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "trade": rec})
		})
	})

	return r
}
