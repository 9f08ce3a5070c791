package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
)

// SQLite is a single-node transactional oracle. It gives the same
// single-writer-wins guarantee as a real notarization service by running
// every Submit in a serializable transaction and flipping the `current` flag
// with a version-guarded UPDATE.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS ledger_records (
  linear_id TEXT NOT NULL,
  version INTEGER NOT NULL,
  kind TEXT NOT NULL,
  trade_id TEXT NOT NULL DEFAULT '',
  body TEXT NOT NULL,
  current INTEGER NOT NULL,
  recorded_at_ns INTEGER NOT NULL,
  PRIMARY KEY (linear_id, version)
);

CREATE INDEX IF NOT EXISTS idx_ledger_kind_trade ON ledger_records(kind, trade_id) WHERE current = 1;
`)
	return err
}

func isSQLiteBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (s *SQLite) Submit(ctx context.Context, t Transition) (Commit, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		if isSQLiteBusy(err) {
			return Commit{}, fmt.Errorf("submit %s: store busy: %w", t.Kind, domain.ErrConflict)
		}
		return Commit{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	if t.Consumes != nil {
		// Compare-and-set: the consumed version must still be current.
		res, err := tx.ExecContext(ctx, `
UPDATE ledger_records SET current = 0
WHERE linear_id = ? AND version = ? AND current = 1;
`, t.Consumes.LinearID, t.Consumes.Version)
		if err != nil {
			if isSQLiteBusy(err) {
				return Commit{}, fmt.Errorf("submit %s: store busy: %w", t.Kind, domain.ErrConflict)
			}
			return Commit{}, err
		}
		aff, _ := res.RowsAffected()
		if aff != 1 {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM ledger_records WHERE linear_id = ?;`, t.Consumes.LinearID,
			).Scan(&n); err == nil && n == 0 {
				return Commit{}, fmt.Errorf("submit %s: %s: %w", t.Kind, t.Consumes.LinearID, domain.ErrNotFound)
			}
			return Commit{}, fmt.Errorf("submit %s: version %d of %s is not current: %w",
				t.Kind, t.Consumes.Version, t.Consumes.LinearID, domain.ErrConflict)
		}
	}

	if t.Produces != nil {
		if t.Consumes == nil {
			if xvp, ok := t.Produces.(domain.XVPRecord); ok {
				var n int
				if err := tx.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM ledger_records WHERE kind = 'XVP' AND trade_id = ?;`, xvp.TradeID,
				).Scan(&n); err != nil {
					return Commit{}, err
				}
				if n > 0 {
					return Commit{}, fmt.Errorf("submit %s: trade %s exists: %w", t.Kind, xvp.TradeID, domain.ErrConflict)
				}
			}
		} else if t.Produces.RecordID() != t.Consumes.LinearID {
			return Commit{}, fmt.Errorf("submit %s: produced record changes linear id: %w", t.Kind, domain.ErrConflict)
		}

		// One active commitment per trade: a second DCR may not take a
		// tradeId a current, non-cancelled commitment still holds.
		if dcr, ok := t.Produces.(domain.DCRRecord); ok && dcr.TradeID != "" {
			var boundID, boundBody string
			err := tx.QueryRowContext(ctx, `
SELECT linear_id, body FROM ledger_records
WHERE kind = 'DCR' AND trade_id = ? AND current = 1 AND linear_id != ?
ORDER BY recorded_at_ns DESC LIMIT 1;
`, dcr.TradeID, dcr.LinearID).Scan(&boundID, &boundBody)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return Commit{}, err
			default:
				bound, derr := decodeRecord("DCR", boundBody)
				if derr != nil {
					return Commit{}, derr
				}
				if bound.(domain.DCRRecord).Status != domain.DCRCancelled {
					return Commit{}, fmt.Errorf("submit %s: trade %s is bound to %s: %w",
						t.Kind, dcr.TradeID, boundID, domain.ErrConflict)
				}
			}
		}

		body, err := json.Marshal(t.Produces)
		if err != nil {
			return Commit{}, err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO ledger_records(linear_id, version, kind, trade_id, body, current, recorded_at_ns)
VALUES(?, ?, ?, ?, ?, 1, ?);
`, t.Produces.RecordID(), t.Produces.RecordVersion(), recordKind(t.Produces),
			t.Produces.RecordTradeID(), string(body), now.UnixNano())
		if err != nil {
			if isUniqueViolation(err) || isSQLiteBusy(err) {
				return Commit{}, fmt.Errorf("submit %s: version %d of %s exists: %w",
					t.Kind, t.Produces.RecordVersion(), t.Produces.RecordID(), domain.ErrConflict)
			}
			return Commit{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		if isSQLiteBusy(err) {
			return Commit{}, fmt.Errorf("submit %s: store busy: %w", t.Kind, domain.ErrConflict)
		}
		return Commit{}, err
	}
	return Commit{Record: t.Produces, At: now}, nil
}

func (s *SQLite) Current(ctx context.Context, linearID string) (domain.Record, error) {
	var kind, body string
	err := s.db.QueryRowContext(ctx, `
SELECT kind, body FROM ledger_records WHERE linear_id = ? AND current = 1;
`, linearID).Scan(&kind, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", linearID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(kind, body)
}

func (s *SQLite) CurrentDCRByTrade(ctx context.Context, tradeID string) (domain.DCRRecord, error) {
	r, err := s.currentByTrade(ctx, "DCR", tradeID)
	if err != nil {
		return domain.DCRRecord{}, err
	}
	return r.(domain.DCRRecord), nil
}

func (s *SQLite) CurrentXVPByTrade(ctx context.Context, tradeID string) (domain.XVPRecord, error) {
	r, err := s.currentByTrade(ctx, "XVP", tradeID)
	if err != nil {
		return domain.XVPRecord{}, err
	}
	return r.(domain.XVPRecord), nil
}

func (s *SQLite) currentByTrade(ctx context.Context, kind, tradeID string) (domain.Record, error) {
	var body string
	// The newest binding wins: a cancelled commitment may still be current
	// for a trade that a fresh commitment has since retaken.
	err := s.db.QueryRowContext(ctx, `
SELECT body FROM ledger_records WHERE kind = ? AND trade_id = ? AND current = 1
ORDER BY recorded_at_ns DESC, version DESC LIMIT 1;
`, kind, tradeID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", tradeID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(kind, body)
}

func (s *SQLite) History(ctx context.Context, linearID string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, body FROM ledger_records WHERE linear_id = ? ORDER BY version ASC;
`, linearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var kind, body string
		if err := rows.Scan(&kind, &body); err != nil {
			return nil, err
		}
		r, err := decodeRecord(kind, body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", linearID, domain.ErrNotFound)
	}
	return out, nil
}

func decodeRecord(kind, body string) (domain.Record, error) {
	switch kind {
	case "DCR":
		var r domain.DCRRecord
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, err
		}
		return r, nil
	case "XVP":
		var r domain.XVPRecord
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown record kind %q", kind)
}
