package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party is a legal entity participating in a settlement, identified by name.
// Signature verification for a party is the platform's concern; the domain
// layer only reasons about party identity and signer-set membership.
type Party string

type DCRStatus string

const (
	DCRAvailable DCRStatus = "AVAILABLE"
	DCREarmarked DCRStatus = "EARMARKED"
	DCRConfirmed DCRStatus = "CONFIRMED"
	DCRCancelled DCRStatus = "CANCELLED"
)

// Terminal reports whether no further transition is legal from s.
func (s DCRStatus) Terminal() bool {
	return s == DCRConfirmed || s == DCRCancelled
}

type XVPStatus string

const (
	XVPPending         XVPStatus = "PENDING"
	XVPResolvedSuccess XVPStatus = "RESOLVED_SUCCESS"
	XVPResolvedFailed  XVPStatus = "RESOLVED_FAILED"
)

func (s XVPStatus) Terminal() bool {
	return s == XVPResolvedSuccess || s == XVPResolvedFailed
}

// DCRRecord is one version of a delivery commitment: a reserved claim on a
// specific asset value. Versions are immutable; a transition supersedes the
// current version with the next one, it never mutates in place.
type DCRRecord struct {
	LinearID string          `json:"linear_id"`
	Version  int64           `json:"version"`
	Owner    Party           `json:"owner"`
	Issuer   Party           `json:"issuer"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
	TradeID  string          `json:"trade_id"`
	Proof    string          `json:"proof,omitempty"`
	Status   DCRStatus       `json:"status"`
	Recorded time.Time       `json:"recorded_at"`
}

func (r DCRRecord) RecordID() string      { return r.LinearID }
func (r DCRRecord) RecordVersion() int64  { return r.Version }
func (r DCRRecord) RecordTradeID() string { return r.TradeID }

// Next returns a copy of r as the succeeding version. Callers set the fields
// the transition changes before validating and submitting it.
func (r DCRRecord) Next() DCRRecord {
	n := r
	n.Version = r.Version + 1
	n.Recorded = time.Now().UTC()
	return n
}

// XVPRecord is one version of a cross-ledger trade.
type XVPRecord struct {
	LinearID string    `json:"linear_id"`
	Version  int64     `json:"version"`
	TradeID  string    `json:"trade_id"`
	AssetID  string    `json:"asset_id"`
	Sender   Party     `json:"sender"`
	Receiver Party     `json:"receiver"`
	Status   XVPStatus `json:"status"`
	Recorded time.Time `json:"recorded_at"`
}

func (r XVPRecord) RecordID() string      { return r.LinearID }
func (r XVPRecord) RecordVersion() int64  { return r.Version }
func (r XVPRecord) RecordTradeID() string { return r.TradeID }

func (r XVPRecord) Next() XVPRecord {
	n := r
	n.Version = r.Version + 1
	n.Recorded = time.Now().UTC()
	return n
}

// Record is the surface the ledger needs from either record type.
type Record interface {
	RecordID() string
	RecordVersion() int64
	RecordTradeID() string
}
