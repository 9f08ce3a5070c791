package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
)

// Store is the read-only query surface for commitments: one row per current
// record version, refreshed after every committed transition.
type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS dcr_records (
  linear_id TEXT PRIMARY KEY,
  owner TEXT NOT NULL,
  issuer TEXT NOT NULL,
  value TEXT NOT NULL,
  currency TEXT NOT NULL,
  trade_id TEXT NOT NULL DEFAULT '',
  proof TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  version BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dcr_records_trade ON dcr_records(trade_id);
CREATE INDEX IF NOT EXISTS idx_dcr_records_status ON dcr_records(status);
`)
	return err
}

func (s *Store) UpsertDCR(ctx context.Context, rec domain.DCRRecord) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO dcr_records(linear_id, owner, issuer, value, currency, trade_id, proof, status, version, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
ON CONFLICT (linear_id) DO UPDATE SET
  trade_id=$6, proof=$7, status=$8, version=$9, updated_at=now()
WHERE dcr_records.version < $9
`, rec.LinearID, string(rec.Owner), string(rec.Issuer), rec.Value.String(), rec.Currency,
		rec.TradeID, rec.Proof, string(rec.Status), rec.Version)
	return err
}

type Row struct {
	LinearID string `json:"linear_id"`
	Owner    string `json:"owner"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
	TradeID  string `json:"trade_id"`
	Proof    string `json:"proof,omitempty"`
	Status   string `json:"status"`
	Version  int64  `json:"version"`
}

func (s *Store) Get(ctx context.Context, linearID string) (Row, error) {
	var r Row
	err := s.DB.QueryRow(ctx, `
SELECT linear_id, owner, issuer, value, currency, trade_id, proof, status, version
FROM dcr_records WHERE linear_id=$1
`, linearID).Scan(&r.LinearID, &r.Owner, &r.Issuer, &r.Value, &r.Currency, &r.TradeID, &r.Proof, &r.Status, &r.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, fmt.Errorf("%s: %w", linearID, domain.ErrNotFound)
	}
	return r, err
}

func (s *Store) ListByStatus(ctx context.Context, status string) ([]Row, error) {
	rows, err := s.DB.Query(ctx, `
SELECT linear_id, owner, issuer, value, currency, trade_id, proof, status, version
FROM dcr_records WHERE status=$1 ORDER BY updated_at DESC
`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.LinearID, &r.Owner, &r.Issuer, &r.Value, &r.Currency, &r.TradeID, &r.Proof, &r.Status, &r.Version); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
