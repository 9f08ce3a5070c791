package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/ledger"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/obs"
	"github.com/hyperledger-labs/harmonia-sub001/services/xvp/internal/dcrclient"
)

// CounterpartClient answers settlement-status queries against a source
// network. Implemented by dcrclient; faked in tests.
type CounterpartClient interface {
	SettlementStatus(ctx context.Context, networkID, tradeID string) (dcrclient.SettlementStatus, error)
}

// Projection mirrors committed trade state into the query store.
type Projection interface {
	UpsertXVP(ctx context.Context, rec domain.XVPRecord) error
}

// Coordinator owns the trade state machine. It never mutates a commitment
// on the counterpart ledger; it only reads that ledger's terminal state and
// treats it as the single source of truth for the trade's outcome.
type Coordinator struct {
	oracle         ledger.Oracle
	counterpart    CounterpartClient
	projection     Projection
	allowSelfTrade bool
	log            zerolog.Logger
	metrics        *obs.Metrics
}

type Config struct {
	Oracle         ledger.Oracle
	Counterpart    CounterpartClient
	Projection     Projection // optional
	AllowSelfTrade bool
	Logger         zerolog.Logger
	Metrics        *obs.Metrics // optional
}

func New(cfg Config) *Coordinator {
	return &Coordinator{
		oracle:         cfg.Oracle,
		counterpart:    cfg.Counterpart,
		projection:     cfg.Projection,
		allowSelfTrade: cfg.AllowSelfTrade,
		log:            cfg.Logger,
		metrics:        cfg.Metrics,
	}
}

// CreateTrade registers a PENDING trade. Trade ids are caller-supplied (they
// correlate with the counterpart's commitment), so a duplicate is a conflict.
func (c *Coordinator) CreateTrade(ctx context.Context, tradeID, assetID string, from, to domain.Party) (domain.XVPRecord, error) {
	start := time.Now()
	rec := domain.XVPRecord{
		LinearID: "xvp_" + uuid.NewString(),
		Version:  1,
		TradeID:  tradeID,
		AssetID:  assetID,
		Sender:   from,
		Receiver: to,
		Status:   domain.XVPPending,
		Recorded: time.Now().UTC(),
	}
	signers := []domain.Party{from, to}
	if err := domain.ValidateXVPTransition(domain.XVPCreateKind, nil, &rec, signers, c.allowSelfTrade); err != nil {
		return domain.XVPRecord{}, c.finish("create_trade", start, tradeID, err)
	}
	if _, err := c.oracle.Submit(ctx, ledger.Transition{Kind: domain.XVPCreateKind, Produces: rec}); err != nil {
		return domain.XVPRecord{}, c.finish("create_trade", start, tradeID, err)
	}
	c.project(ctx, rec)
	return rec, c.finish("create_trade", start, tradeID, nil)
}

// Trade returns the current version of a trade.
func (c *Coordinator) Trade(ctx context.Context, tradeID string) (domain.XVPRecord, error) {
	return c.oracle.CurrentXVPByTrade(ctx, tradeID)
}

// ResolveTrade drives a PENDING trade to its terminal state from the
// commitment's finality on the source ledger. Safe to call any number of
// times: an already-resolved trade is returned unchanged, and a lost resolve
// race converges on the winner's outcome. When the counterpart is not yet
// final the call returns ErrNotYetFinal and the caller re-invokes on backoff
// or an external event; no goroutine waits in between.
func (c *Coordinator) ResolveTrade(ctx context.Context, tradeID, sourceNetworkID string) (domain.XVPRecord, error) {
	start := time.Now()
	cur, err := c.oracle.CurrentXVPByTrade(ctx, tradeID)
	if err != nil {
		return domain.XVPRecord{}, c.finish("resolve_trade", start, tradeID, err)
	}
	if cur.Status.Terminal() {
		return cur, c.finish("resolve_trade", start, tradeID, nil)
	}

	st, err := c.counterpart.SettlementStatus(ctx, sourceNetworkID, tradeID)
	if err != nil {
		switch {
		case errors.Is(err, dcrclient.ErrNoBinding):
			err = fmt.Errorf("trade %s on %s: %w", tradeID, sourceNetworkID, domain.ErrUnknownBinding)
		case errors.Is(err, dcrclient.ErrUnavailable):
			err = fmt.Errorf("trade %s on %s: %w", tradeID, sourceNetworkID, domain.ErrNotYetFinal)
		}
		return domain.XVPRecord{}, c.finish("resolve_trade", start, tradeID, err)
	}
	if st.TradeID != "" && st.TradeID != tradeID {
		return domain.XVPRecord{}, c.finish("resolve_trade", start, tradeID,
			fmt.Errorf("counterpart answered for trade %s: %w", st.TradeID, domain.ErrTradeMismatch))
	}

	var outcome domain.XVPStatus
	switch st.Status {
	case domain.DCRConfirmed:
		outcome = domain.XVPResolvedSuccess
	case domain.DCRCancelled:
		outcome = domain.XVPResolvedFailed
	case domain.DCREarmarked:
		return domain.XVPRecord{}, c.finish("resolve_trade", start, tradeID,
			fmt.Errorf("trade %s on %s: %w", tradeID, sourceNetworkID, domain.ErrNotYetFinal))
	default:
		// AVAILABLE (or anything else): the commitment was never earmarked
		// for this trade. A stale or malicious resolution request.
		return domain.XVPRecord{}, c.finish("resolve_trade", start, tradeID,
			fmt.Errorf("trade %s on %s: %w", tradeID, sourceNetworkID, domain.ErrUnknownBinding))
	}

	next := cur.Next()
	next.Status = outcome
	if err := domain.ValidateXVPTransition(domain.XVPResolveKind, &cur, &next, []domain.Party{cur.Receiver}, c.allowSelfTrade); err != nil {
		return domain.XVPRecord{}, c.finish("resolve_trade", start, tradeID, err)
	}
	if _, err := c.oracle.Submit(ctx, ledger.Transition{
		Kind:     domain.XVPResolveKind,
		Consumes: &ledger.VersionKey{LinearID: cur.LinearID, Version: cur.Version},
		Produces: next,
	}); err != nil {
		// A concurrent resolve may have won; its terminal state stands.
		if errors.Is(err, domain.ErrConflict) {
			if settled, rerr := c.oracle.CurrentXVPByTrade(ctx, tradeID); rerr == nil && settled.Status.Terminal() {
				return settled, c.finish("resolve_trade", start, tradeID, nil)
			}
		}
		return domain.XVPRecord{}, c.finish("resolve_trade", start, tradeID, err)
	}
	c.project(ctx, next)
	return next, c.finish("resolve_trade", start, tradeID, nil)
}

func (c *Coordinator) project(ctx context.Context, rec domain.XVPRecord) {
	if c.projection == nil {
		return
	}
	if err := c.projection.UpsertXVP(ctx, rec); err != nil {
		if c.metrics != nil {
			c.metrics.ProjectionErrors.Inc()
		}
		c.log.Error().Err(err).Str("linear_id", rec.LinearID).Msg("projection upsert failed")
	}
}

func (c *Coordinator) finish(op string, start time.Time, tradeID string, err error) error {
	if c.metrics != nil {
		c.metrics.OpLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
		c.metrics.TransitionsTotal.WithLabelValues(op, classify(err)).Inc()
	}
	evt := c.log.Info()
	if err != nil && !errors.Is(err, domain.ErrNotYetFinal) {
		evt = c.log.Error().Err(err)
	}
	evt.Str("op", op).Str("trade_id", tradeID).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("trade transition")
	return err
}

func classify(err error) string {
	if err == nil {
		return "success"
	}
	var v *domain.Violation
	if errors.As(err, &v) {
		return "validation"
	}
	switch {
	case errors.Is(err, domain.ErrNotYetFinal):
		return "not_final"
	case errors.Is(err, domain.ErrUnknownBinding):
		return "unknown_binding"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrTradeMismatch):
		return "trade_mismatch"
	}
	return "error"
}
