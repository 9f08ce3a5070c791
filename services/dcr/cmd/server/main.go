package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/db"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/ledger"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/obs"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/proof"
	"github.com/hyperledger-labs/harmonia-sub001/services/dcr/internal/lifecycle"
	"github.com/hyperledger-labs/harmonia-sub001/services/dcr/internal/store"
)

func main() {
	ctx := context.Background()
	log := obs.NewLogger("dcr")

	var oracle ledger.Oracle
	if path := os.Getenv("LEDGER_DB_PATH"); path != "" {
		sq, err := ledger.OpenSQLite(ctx, path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("open ledger")
		}
		defer sq.Close()
		oracle = sq
	} else {
		log.Warn().Msg("LEDGER_DB_PATH not set, using in-memory ledger")
		oracle = ledger.NewMemory()
	}

	var projection lifecycle.Projection
	if os.Getenv("DATABASE_URL") != "" {
		pool := db.MustConnect(ctx)
		defer pool.Close()
		st := store.New(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("projection schema")
		}
		projection = st
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg, "dcr")

	mgr := lifecycle.New(lifecycle.Config{
		Oracle:        oracle,
		Attesters:     parseAttesters(os.Getenv("ATTESTERS")),
		Projection:    projection,
		LocalSystemID: os.Getenv("SYSTEM_ID"),
		Logger:        log,
		Metrics:       metrics,
	})

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8084"
	}
	h := newRouter(serverDeps{
		mgr:     mgr,
		metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	log.Info().Str("port", port).Msg("dcr service listening")
	if err := http.ListenAndServe(":"+port, h); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// parseAttesters reads "systemId=base64PubKey" pairs separated by commas.
func parseAttesters(raw string) proof.Registry {
	reg := proof.Registry{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, key, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		reg[strings.TrimSpace(id)] = strings.TrimSpace(key)
	}
	return reg
}
