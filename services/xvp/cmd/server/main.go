package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/db"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/ledger"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/obs"
	"github.com/hyperledger-labs/harmonia-sub001/services/xvp/internal/coordinator"
	"github.com/hyperledger-labs/harmonia-sub001/services/xvp/internal/dcrclient"
	"github.com/hyperledger-labs/harmonia-sub001/services/xvp/internal/idempotency"
	"github.com/hyperledger-labs/harmonia-sub001/services/xvp/internal/store"
)

func main() {
	ctx := context.Background()
	log := obs.NewLogger("xvp")

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

	var projection coordinator.Projection
	var idem idempotency.Store
	if os.Getenv("DATABASE_URL") != "" {
		pool := db.MustConnect(ctx)
		defer pool.Close()
		st := store.New(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("projection schema")
		}
		projection = st
		idem = st
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg, "xvp")

	counterpart := dcrclient.New(parseNetworks(os.Getenv("COUNTERPART_NETWORKS")),
		dcrclient.WithAttemptTimeout(envDuration("RESOLVE_ATTEMPT_TIMEOUT", 3*time.Second)),
		dcrclient.WithRetryBudget(envInt("RESOLVE_RETRY_BUDGET", 2)))
	counterpart.OnRetry = metrics.ResolveRetries.Inc

	coord := coordinator.New(coordinator.Config{
		Oracle:         oracle,
		Counterpart:    counterpart,
		Projection:     projection,
		AllowSelfTrade: os.Getenv("ALLOW_SELF_TRADE") == "true",
		Logger:         log,
		Metrics:        metrics,
	})

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8085"
	}
	h := newRouter(serverDeps{
		coord:   coord,
		idem:    idem,
		metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	log.Info().Str("port", port).Msg("xvp service listening")
	if err := http.ListenAndServe(":"+port, h); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// parseNetworks reads "networkId=baseURL" pairs separated by commas.
func parseNetworks(raw string) map[string]string {
	networks := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, base, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		networks[strings.TrimSpace(id)] = strings.TrimSpace(base)
	}
	return networks
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
