package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
)

// Memory is a mutex-guarded in-process oracle with the same compare-and-set
// semantics as the durable implementations. Used by unit tests and
// single-process deployments.
type Memory struct {
	mu       sync.Mutex
	history  map[string][]domain.Record
	spent    map[string]bool // retired by a consume-only transition
	dcrTrade map[string]string
	xvpTrade map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		history:  make(map[string][]domain.Record),
		spent:    make(map[string]bool),
		dcrTrade: make(map[string]string),
		xvpTrade: make(map[string]string),
	}
}

func (m *Memory) Submit(ctx context.Context, t Transition) (Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Consumes == nil {
		if t.Produces == nil {
			return Commit{}, fmt.Errorf("submit %s: empty transition", t.Kind)
		}
		id := t.Produces.RecordID()
		if len(m.history[id]) > 0 {
			return Commit{}, fmt.Errorf("submit %s: linear id %s exists: %w", t.Kind, id, domain.ErrConflict)
		}
		if xvp, ok := t.Produces.(domain.XVPRecord); ok {
			if _, dup := m.xvpTrade[xvp.TradeID]; dup {
				return Commit{}, fmt.Errorf("submit %s: trade %s exists: %w", t.Kind, xvp.TradeID, domain.ErrConflict)
			}
		}
		if err := m.checkDCRBinding(t.Kind, t.Produces); err != nil {
			return Commit{}, err
		}
		m.append(t.Produces)
		return Commit{Record: t.Produces, At: time.Now().UTC()}, nil
	}

	versions := m.history[t.Consumes.LinearID]
	if len(versions) == 0 {
		return Commit{}, fmt.Errorf("submit %s: %s: %w", t.Kind, t.Consumes.LinearID, domain.ErrNotFound)
	}
	current := versions[len(versions)-1]
	if m.spent[t.Consumes.LinearID] || current.RecordVersion() != t.Consumes.Version {
		return Commit{}, fmt.Errorf("submit %s: version %d of %s is not current: %w",
			t.Kind, t.Consumes.Version, t.Consumes.LinearID, domain.ErrConflict)
	}
	if t.Produces == nil {
		m.spent[t.Consumes.LinearID] = true
		return Commit{At: time.Now().UTC()}, nil
	}
	if t.Produces.RecordID() != t.Consumes.LinearID {
		return Commit{}, fmt.Errorf("submit %s: produced record changes linear id: %w", t.Kind, domain.ErrConflict)
	}
	if err := m.checkDCRBinding(t.Kind, t.Produces); err != nil {
		return Commit{}, err
	}
	m.append(t.Produces)
	return Commit{Record: t.Produces, At: time.Now().UTC()}, nil
}

// checkDCRBinding enforces one active commitment per trade: a produced DCR
// may not take a tradeId another current commitment still holds. A cancelled
// or retired commitment releases its binding, so a retry with a fresh
// record may rebind the same trade.
func (m *Memory) checkDCRBinding(kind domain.TransitionKind, produced domain.Record) error {
	dcr, ok := produced.(domain.DCRRecord)
	if !ok || dcr.TradeID == "" {
		return nil
	}
	boundID, bound := m.dcrTrade[dcr.TradeID]
	if !bound || boundID == dcr.LinearID {
		return nil
	}
	cur, err := m.currentLocked(boundID)
	if err != nil {
		return nil
	}
	if cur.(domain.DCRRecord).Status == domain.DCRCancelled {
		return nil
	}
	return fmt.Errorf("submit %s: trade %s is bound to %s: %w", kind, dcr.TradeID, boundID, domain.ErrConflict)
}

func (m *Memory) append(r domain.Record) {
	id := r.RecordID()
	m.history[id] = append(m.history[id], r)
	if trade := r.RecordTradeID(); trade != "" {
		switch r.(type) {
		case domain.DCRRecord:
			m.dcrTrade[trade] = id
		case domain.XVPRecord:
			m.xvpTrade[trade] = id
		}
	}
}

func (m *Memory) Current(ctx context.Context, linearID string) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(linearID)
}

func (m *Memory) currentLocked(linearID string) (domain.Record, error) {
	versions := m.history[linearID]
	if len(versions) == 0 || m.spent[linearID] {
		return nil, fmt.Errorf("%s: %w", linearID, domain.ErrNotFound)
	}
	return versions[len(versions)-1], nil
}

func (m *Memory) CurrentDCRByTrade(ctx context.Context, tradeID string) (domain.DCRRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.dcrTrade[tradeID]
	if !ok {
		return domain.DCRRecord{}, fmt.Errorf("trade %s: %w", tradeID, domain.ErrNotFound)
	}
	r, err := m.currentLocked(id)
	if err != nil {
		return domain.DCRRecord{}, err
	}
	return r.(domain.DCRRecord), nil
}

func (m *Memory) CurrentXVPByTrade(ctx context.Context, tradeID string) (domain.XVPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.xvpTrade[tradeID]
	if !ok {
		return domain.XVPRecord{}, fmt.Errorf("trade %s: %w", tradeID, domain.ErrNotFound)
	}
	r, err := m.currentLocked(id)
	if err != nil {
		return domain.XVPRecord{}, err
	}
	return r.(domain.XVPRecord), nil
}

func (m *Memory) History(ctx context.Context, linearID string) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.history[linearID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s: %w", linearID, domain.ErrNotFound)
	}
	out := make([]domain.Record, len(versions))
	copy(out, versions)
	return out, nil
}
