package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/ledger"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/obs"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/proof"
)

// Projection mirrors committed commitment state into the query store. The
// ledger stays authoritative: a projection failure is reported, never used
// to unwind a committed transition.
type Projection interface {
	UpsertDCR(ctx context.Context, rec domain.DCRRecord) error
}

// Manager owns the commitment state machine. It is the only writer of DCR
// records: the trade coordinator on the counterpart ledger reaches them
// exclusively through requests this manager executes.
type Manager struct {
	oracle        ledger.Oracle
	attesters     proof.Registry
	projection    Projection
	localSystemID string
	log           zerolog.Logger
	metrics       *obs.Metrics
}

type Config struct {
	Oracle        ledger.Oracle
	Attesters     proof.Registry
	Projection    Projection // optional
	LocalSystemID string
	Logger        zerolog.Logger
	Metrics       *obs.Metrics // optional
}

func New(cfg Config) *Manager {
	return &Manager{
		oracle:        cfg.Oracle,
		attesters:     cfg.Attesters,
		projection:    cfg.Projection,
		localSystemID: cfg.LocalSystemID,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

type CreateRequest struct {
	Owner    domain.Party
	Issuer   domain.Party
	Value    decimal.Decimal
	Currency string
	TradeID  string
	// Signers are the identities whose counter-signatures the platform has
	// already verified on the enclosing transaction.
	Signers []domain.Party
}

type ConfirmRequest struct {
	TradeID          string
	SystemID         string
	SourceSystemID   string
	EncodedInfo      string
	SignatureOrProof string
}

type CancelRequest struct {
	TradeID          string
	EncodedInfo      string
	SignatureOrProof string
}

// Create issues a new AVAILABLE commitment. Both owner and issuer must be
// among the presented signers.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (domain.DCRRecord, error) {
	start := time.Now()
	rec := domain.DCRRecord{
		LinearID: "dcr_" + uuid.NewString(),
		Version:  1,
		Owner:    req.Owner,
		Issuer:   req.Issuer,
		Value:    req.Value,
		Currency: req.Currency,
		TradeID:  req.TradeID,
		Status:   domain.DCRAvailable,
		Recorded: time.Now().UTC(),
	}
	if err := domain.ValidateDCRTransition(domain.DCRCreateKind, nil, &rec, req.Signers); err != nil {
		return domain.DCRRecord{}, m.finish("create", start, rec.LinearID, err)
	}
	if _, err := m.oracle.Submit(ctx, ledger.Transition{Kind: domain.DCRCreateKind, Produces: rec}); err != nil {
		return domain.DCRRecord{}, m.finish("create", start, rec.LinearID, err)
	}
	m.project(ctx, rec)
	return rec, m.finish("create", start, rec.LinearID, nil)
}

// Earmark is the lock step of the protocol: compare-and-set on the current
// AVAILABLE version, binding the commitment to one trade. Losing a race
// returns a conflict; the record is never double-reserved.
func (m *Manager) Earmark(ctx context.Context, linearID string, party domain.Party, tradeID string) (domain.DCRRecord, error) {
	start := time.Now()
	cur, err := m.currentDCR(ctx, linearID)
	if err != nil {
		return domain.DCRRecord{}, m.finish("earmark", start, linearID, err)
	}
	if cur.Status.Terminal() {
		return domain.DCRRecord{}, m.finish("earmark", start, linearID,
			fmt.Errorf("commitment %s is %s: %w", linearID, cur.Status, domain.ErrAlreadyFinal))
	}
	next := cur.Next()
	next.Status = domain.DCREarmarked
	next.TradeID = tradeID
	if err := domain.ValidateDCRTransition(domain.DCREarmarkKind, &cur, &next, []domain.Party{party}); err != nil {
		return domain.DCRRecord{}, m.finish("earmark", start, linearID, err)
	}
	if _, err := m.oracle.Submit(ctx, ledger.Transition{
		Kind:     domain.DCREarmarkKind,
		Consumes: &ledger.VersionKey{LinearID: cur.LinearID, Version: cur.Version},
		Produces: next,
	}); err != nil {
		return domain.DCRRecord{}, m.finish("earmark", start, linearID, err)
	}
	m.project(ctx, next)
	return next, m.finish("earmark", start, linearID, nil)
}

// Confirm finalizes an earmarked commitment once the presented proof
// verifies against the attester registered for the source system. A failed
// proof leaves the record EARMARKED and is retryable.
func (m *Manager) Confirm(ctx context.Context, req ConfirmRequest) (domain.DCRRecord, error) {
	start := time.Now()
	if m.localSystemID != "" && req.SystemID != m.localSystemID {
		return domain.DCRRecord{}, m.finish("confirm", start, req.TradeID,
			&domain.Violation{Kind: domain.DCRConfirmKind, Reason: "request addressed to a different system"})
	}
	cur, err := m.oracle.CurrentDCRByTrade(ctx, req.TradeID)
	if err != nil {
		return domain.DCRRecord{}, m.finish("confirm", start, req.TradeID, err)
	}
	if cur.Status.Terminal() {
		return domain.DCRRecord{}, m.finish("confirm", start, req.TradeID,
			fmt.Errorf("commitment for trade %s is %s: %w", req.TradeID, cur.Status, domain.ErrAlreadyFinal))
	}
	if _, err := proof.VerifyJSON(m.attesters, req.SourceSystemID, []byte(req.EncodedInfo), req.SignatureOrProof); err != nil {
		return domain.DCRRecord{}, m.finish("confirm", start, req.TradeID,
			&domain.ProofError{SourceSystemID: req.SourceSystemID, Err: err})
	}
	next := cur.Next()
	next.Status = domain.DCRConfirmed
	next.Proof = req.SignatureOrProof
	if err := domain.ValidateDCRTransition(domain.DCRConfirmKind, &cur, &next, []domain.Party{cur.Issuer}); err != nil {
		return domain.DCRRecord{}, m.finish("confirm", start, req.TradeID, err)
	}
	if _, err := m.oracle.Submit(ctx, ledger.Transition{
		Kind:     domain.DCRConfirmKind,
		Consumes: &ledger.VersionKey{LinearID: cur.LinearID, Version: cur.Version},
		Produces: next,
	}); err != nil {
		return domain.DCRRecord{}, m.finish("confirm", start, req.TradeID, m.reconcileTerminal(ctx, req.TradeID, err))
	}
	m.project(ctx, next)
	return next, m.finish("confirm", start, req.TradeID, nil)
}

// Cancel releases an earmarked commitment. Cancellation after confirmation
// is rejected: settlement cannot be reneged on.
func (m *Manager) Cancel(ctx context.Context, req CancelRequest) (domain.DCRRecord, error) {
	start := time.Now()
	cur, err := m.oracle.CurrentDCRByTrade(ctx, req.TradeID)
	if err != nil {
		return domain.DCRRecord{}, m.finish("cancel", start, req.TradeID, err)
	}
	if cur.Status == domain.DCRConfirmed {
		return domain.DCRRecord{}, m.finish("cancel", start, req.TradeID,
			&domain.Violation{Kind: domain.DCRCancelKind, Reason: "cannot cancel a confirmed commitment"})
	}
	if cur.Status == domain.DCRCancelled {
		return domain.DCRRecord{}, m.finish("cancel", start, req.TradeID,
			fmt.Errorf("commitment for trade %s is %s: %w", req.TradeID, cur.Status, domain.ErrAlreadyFinal))
	}
	env, err := proof.DecodeEnvelope(req.SignatureOrProof)
	if err != nil {
		return domain.DCRRecord{}, m.finish("cancel", start, req.TradeID,
			&domain.ProofError{Err: err})
	}
	if _, err := proof.Verify(m.attesters, env.Attester, []byte(req.EncodedInfo), env); err != nil {
		return domain.DCRRecord{}, m.finish("cancel", start, req.TradeID,
			&domain.ProofError{SourceSystemID: env.Attester, Err: err})
	}
	next := cur.Next()
	next.Status = domain.DCRCancelled
	next.Proof = req.SignatureOrProof
	if err := domain.ValidateDCRTransition(domain.DCRCancelKind, &cur, &next, []domain.Party{cur.Issuer}); err != nil {
		return domain.DCRRecord{}, m.finish("cancel", start, req.TradeID, err)
	}
	if _, err := m.oracle.Submit(ctx, ledger.Transition{
		Kind:     domain.DCRCancelKind,
		Consumes: &ledger.VersionKey{LinearID: cur.LinearID, Version: cur.Version},
		Produces: next,
	}); err != nil {
		return domain.DCRRecord{}, m.finish("cancel", start, req.TradeID, err)
	}
	m.project(ctx, next)
	return next, m.finish("cancel", start, req.TradeID, nil)
}

// Record returns the current version of a commitment.
func (m *Manager) Record(ctx context.Context, linearID string) (domain.DCRRecord, error) {
	return m.currentDCR(ctx, linearID)
}

// StatusByTrade answers the counterpart coordinator's settlement query.
func (m *Manager) StatusByTrade(ctx context.Context, tradeID string) (domain.DCRRecord, error) {
	return m.oracle.CurrentDCRByTrade(ctx, tradeID)
}

func (m *Manager) currentDCR(ctx context.Context, linearID string) (domain.DCRRecord, error) {
	rec, err := m.oracle.Current(ctx, linearID)
	if err != nil {
		return domain.DCRRecord{}, err
	}
	dcr, ok := rec.(domain.DCRRecord)
	if !ok {
		return domain.DCRRecord{}, fmt.Errorf("%s is not a commitment: %w", linearID, domain.ErrNotFound)
	}
	return dcr, nil
}

// reconcileTerminal turns a commit-time conflict into ErrAlreadyFinal when a
// concurrent confirm already finalized the same trade.
func (m *Manager) reconcileTerminal(ctx context.Context, tradeID string, submitErr error) error {
	if !errors.Is(submitErr, domain.ErrConflict) {
		return submitErr
	}
	cur, err := m.oracle.CurrentDCRByTrade(ctx, tradeID)
	if err == nil && cur.Status.Terminal() {
		return fmt.Errorf("commitment for trade %s is %s: %w", tradeID, cur.Status, domain.ErrAlreadyFinal)
	}
	return submitErr
}

func (m *Manager) project(ctx context.Context, rec domain.DCRRecord) {
	if m.projection == nil {
		return
	}
	if err := m.projection.UpsertDCR(ctx, rec); err != nil {
		if m.metrics != nil {
			m.metrics.ProjectionErrors.Inc()
		}
		m.log.Error().Err(err).Str("linear_id", rec.LinearID).Msg("projection upsert failed")
	}
}

func (m *Manager) finish(op string, start time.Time, key string, err error) error {
	if m.metrics != nil {
		m.metrics.OpLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
		m.metrics.TransitionsTotal.WithLabelValues(op, classify(err)).Inc()
	}
	evt := m.log.Info()
	if err != nil {
		evt = m.log.Error().Err(err)
	}
	evt.Str("op", op).Str("record", key).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("commitment transition")
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
	var pe *domain.ProofError
	if errors.As(err, &pe) {
		return "proof"
	}
	switch {
	case errors.Is(err, domain.ErrAlreadyFinal):
		return "already_final"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNotYetFinal):
		return "not_final"
	}
	return "error"
}
