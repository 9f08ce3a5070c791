package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
)

// Store is the trade-side query surface plus the gateway's idempotency
// records.
type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS xvp_records (
  linear_id TEXT PRIMARY KEY,
  trade_id TEXT NOT NULL,
  asset_id TEXT NOT NULL,
  sender TEXT NOT NULL,
  receiver TEXT NOT NULL,
  status TEXT NOT NULL,
  version BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_xvp_records_trade ON xvp_records(trade_id);

CREATE TABLE IF NOT EXISTS idempotency_records (
  actor_id TEXT NOT NULL,
  idempotency_key TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  response_status INT NOT NULL,
  response_body JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (actor_id, idempotency_key, endpoint)
);
`)
	return err
}

func (s *Store) UpsertXVP(ctx context.Context, rec domain.XVPRecord) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO xvp_records(linear_id, trade_id, asset_id, sender, receiver, status, version, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,now())
ON CONFLICT (linear_id) DO UPDATE SET
  status=$6, version=$7, updated_at=now()
WHERE xvp_records.version < $7
`, rec.LinearID, rec.TradeID, rec.AssetID, string(rec.Sender), string(rec.Receiver),
		string(rec.Status), rec.Version)
	return err
}

type Row struct {
	LinearID string `json:"linear_id"`
	TradeID  string `json:"trade_id"`
	AssetID  string `json:"asset_id"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Status   string `json:"status"`
	Version  int64  `json:"version"`
}

func (s *Store) GetByTrade(ctx context.Context, tradeID string) (Row, error) {
	var r Row
	err := s.DB.QueryRow(ctx, `
SELECT linear_id, trade_id, asset_id, sender, receiver, status, version
FROM xvp_records WHERE trade_id=$1
`, tradeID).Scan(&r.LinearID, &r.TradeID, &r.AssetID, &r.Sender, &r.Receiver, &r.Status, &r.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, fmt.Errorf("trade %s: %w", tradeID, domain.ErrNotFound)
	}
	return r, err
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error) {
	var status int
	var body []byte
	err := s.DB.QueryRow(ctx, `
SELECT response_status, response_body FROM idempotency_records
WHERE actor_id=$1 AND idempotency_key=$2 AND endpoint=$3
`, actorID, idempotencyKey, endpoint).Scan(&status, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, nil, false, err
	}
	return status, resp, true, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error {
	b, err := json.Marshal(responseBody)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO idempotency_records(actor_id, idempotency_key, endpoint, response_status, response_body)
VALUES($1,$2,$3,$4,$5::jsonb)
ON CONFLICT (actor_id, idempotency_key, endpoint) DO NOTHING
`, actorID, idempotencyKey, endpoint, responseStatus, string(b))
	return err
}
