package ledger

import (
	"context"
	"time"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
)

// The finality oracle: the single component allowed to decide that a record
// transition is committed. Implementations provide single-writer-wins
// semantics per record version, so a compare-and-set on the current version
// substitutes for the platform's native double-spend prevention. Everything
// above this interface validates before submitting and treats the committed
// result as authoritative.

// VersionKey addresses one immutable record version.
type VersionKey struct {
	LinearID string
	Version  int64
}

// Transition is a candidate state change: consume zero or one current
// version, produce at most one successor. Creations consume nothing;
// a consume-only transition retires the record with no successor.
type Transition struct {
	Kind     domain.TransitionKind
	Consumes *VersionKey
	Produces domain.Record
}

// Commit is the durably finalized outcome of a submitted transition.
type Commit struct {
	Record domain.Record // new current version, nil for consume-only
	At     time.Time
}

// Oracle accepts candidate transitions and answers current-state queries.
//
// Submit returns domain.ErrConflict when the consumed version is no longer
// current (or a produced id already exists) and domain.ErrNotFound when the
// consumed record does not exist. Either way nothing is committed: the old
// version stays current.
type Oracle interface {
	Submit(ctx context.Context, t Transition) (Commit, error)
	Current(ctx context.Context, linearID string) (domain.Record, error)
	CurrentDCRByTrade(ctx context.Context, tradeID string) (domain.DCRRecord, error)
	CurrentXVPByTrade(ctx context.Context, tradeID string) (domain.XVPRecord, error)
	History(ctx context.Context, linearID string) ([]domain.Record, error)
}

func recordKind(r domain.Record) string {
	switch r.(type) {
	case domain.DCRRecord:
		return "DCR"
	case domain.XVPRecord:
		return "XVP"
	}
	return ""
}
