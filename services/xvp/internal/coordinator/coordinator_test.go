package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/ledger"
	"github.com/hyperledger-labs/harmonia-sub001/services/xvp/internal/dcrclient"
)

type fakeCounterpart struct {
	mu     sync.Mutex
	status map[string]domain.DCRStatus
	err    error
	calls  int
}

func (f *fakeCounterpart) SettlementStatus(ctx context.Context, networkID, tradeID string) (dcrclient.SettlementStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return dcrclient.SettlementStatus{}, f.err
	}
	st, ok := f.status[tradeID]
	if !ok {
		return dcrclient.SettlementStatus{}, dcrclient.ErrNoBinding
	}
	return dcrclient.SettlementStatus{LinearID: "dcr-" + tradeID, TradeID: tradeID, Status: st}, nil
}

func newCoordinator(cp CounterpartClient) *Coordinator {
	return New(Config{
		Oracle:      ledger.NewMemory(),
		Counterpart: cp,
		Logger:      zerolog.Nop(),
	})
}

func TestCreateTradeStartsPending(t *testing.T) {
	c := newCoordinator(&fakeCounterpart{})
	rec, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Status != domain.XVPPending {
		t.Fatalf("expected PENDING, got %s", rec.Status)
	}
}

func TestCreateTradeRejectsSelfTrade(t *testing.T) {
	c := newCoordinator(&fakeCounterpart{})
	_, err := c.CreateTrade(context.Background(), "123", "asset-9", "bank", "bank")
	var v *domain.Violation
	if !errors.As(err, &v) || v.Reason != "sender and receiver cannot be the same entity" {
		t.Fatalf("expected self-trade violation, got %v", err)
	}
}

func TestCreateTradeAllowsSelfTradeWhenEnabled(t *testing.T) {
	c := New(Config{
		Oracle:         ledger.NewMemory(),
		Counterpart:    &fakeCounterpart{},
		AllowSelfTrade: true,
		Logger:         zerolog.Nop(),
	})
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "bank", "bank"); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestCreateTradeDuplicateConflicts(t *testing.T) {
	c := newCoordinator(&fakeCounterpart{})
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestResolveSuccessFromConfirmedCommitment(t *testing.T) {
	cp := &fakeCounterpart{status: map[string]domain.DCRStatus{"123": domain.DCRConfirmed}}
	c := newCoordinator(cp)
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, err := c.ResolveTrade(context.Background(), "123", "ledger-a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.Status != domain.XVPResolvedSuccess {
		t.Fatalf("expected RESOLVED_SUCCESS, got %s", rec.Status)
	}
}

func TestResolveFailedFromCancelledCommitment(t *testing.T) {
	cp := &fakeCounterpart{status: map[string]domain.DCRStatus{"123": domain.DCRCancelled}}
	c := newCoordinator(cp)
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, err := c.ResolveTrade(context.Background(), "123", "ledger-a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.Status != domain.XVPResolvedFailed {
		t.Fatalf("expected RESOLVED_FAILED, got %s", rec.Status)
	}
}

func TestResolveNotYetFinalWhileEarmarked(t *testing.T) {
	cp := &fakeCounterpart{status: map[string]domain.DCRStatus{"123": domain.DCREarmarked}}
	c := newCoordinator(cp)
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := c.ResolveTrade(context.Background(), "123", "ledger-a")
	if !errors.Is(err, domain.ErrNotYetFinal) {
		t.Fatalf("expected not-yet-final, got %v", err)
	}
	// The trade stays PENDING until an outcome or an explicit cancel.
	cur, err := c.Trade(context.Background(), "123")
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if cur.Status != domain.XVPPending {
		t.Fatalf("expected PENDING, got %s", cur.Status)
	}
}

func TestResolveNotYetFinalWhenCounterpartUnreachable(t *testing.T) {
	cp := &fakeCounterpart{err: dcrclient.ErrUnavailable}
	c := newCoordinator(cp)
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := c.ResolveTrade(context.Background(), "123", "ledger-a")
	if !errors.Is(err, domain.ErrNotYetFinal) {
		t.Fatalf("expected not-yet-final, got %v", err)
	}
}

func TestResolveUnknownBindingIsFatal(t *testing.T) {
	cp := &fakeCounterpart{} // no commitment for any trade
	c := newCoordinator(cp)
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := c.ResolveTrade(context.Background(), "123", "ledger-a")
	if !errors.Is(err, domain.ErrUnknownBinding) {
		t.Fatalf("expected unknown binding, got %v", err)
	}
}

func TestResolveNeverEarmarkedIsUnknownBinding(t *testing.T) {
	cp := &fakeCounterpart{status: map[string]domain.DCRStatus{"123": domain.DCRAvailable}}
	c := newCoordinator(cp)
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := c.ResolveTrade(context.Background(), "123", "ledger-a")
	if !errors.Is(err, domain.ErrUnknownBinding) {
		t.Fatalf("expected unknown binding, got %v", err)
	}
}

func TestResolveUnknownTradeNotFound(t *testing.T) {
	c := newCoordinator(&fakeCounterpart{})
	_, err := c.ResolveTrade(context.Background(), "missing", "ledger-a")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	cp := &fakeCounterpart{status: map[string]domain.DCRStatus{"123": domain.DCRConfirmed}}
	c := newCoordinator(cp)
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := c.ResolveTrade(context.Background(), "123", "ledger-a")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// Even if the counterpart later claims CANCELLED, the resolved trade
	// must not flip.
	cp.mu.Lock()
	cp.status["123"] = domain.DCRCancelled
	cp.mu.Unlock()

	second, err := c.ResolveTrade(context.Background(), "123", "ledger-a")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.Status != first.Status {
		t.Fatalf("resolved status flipped: %s then %s", first.Status, second.Status)
	}

	// The second call answered from local state without a counterpart query.
	cp.mu.Lock()
	calls := cp.calls
	cp.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 counterpart call, got %d", calls)
	}
}

func TestConcurrentResolvesConverge(t *testing.T) {
	cp := &fakeCounterpart{status: map[string]domain.DCRStatus{"123": domain.DCRConfirmed}}
	c := newCoordinator(cp)
	if _, err := c.CreateTrade(context.Background(), "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}

	const racers = 8
	results := make(chan domain.XVPStatus, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := c.ResolveTrade(context.Background(), "123", "ledger-a")
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			results <- rec.Status
		}()
	}
	wg.Wait()
	close(results)
	for st := range results {
		if st != domain.XVPResolvedSuccess {
			t.Fatalf("diverged resolution: %s", st)
		}
	}
}

type recordingProjection struct {
	mu   sync.Mutex
	recs []domain.XVPRecord
}

func (p *recordingProjection) UpsertXVP(ctx context.Context, rec domain.XVPRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

type failingProjection struct{}

func (failingProjection) UpsertXVP(context.Context, domain.XVPRecord) error {
	return errors.New("projection store down")
}

func TestProjectionMirrorsTradeLifecycle(t *testing.T) {
	cp := &fakeCounterpart{status: map[string]domain.DCRStatus{"123": domain.DCRConfirmed}}
	proj := &recordingProjection{}
	c := newCoordinator(cp)
	c.projection = proj
	ctx := context.Background()

	if _, err := c.CreateTrade(ctx, "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	resolved, err := c.ResolveTrade(ctx, "123", "ledger-a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(proj.recs) != 2 {
		t.Fatalf("expected 2 projected versions, got %d", len(proj.recs))
	}
	if proj.recs[0].Status != domain.XVPPending || proj.recs[0].Version != 1 {
		t.Fatalf("unexpected first projection: %+v", proj.recs[0])
	}
	if proj.recs[1].Status != resolved.Status || proj.recs[1].Version != resolved.Version {
		t.Fatalf("projection lags committed state: %+v vs %+v", proj.recs[1], resolved)
	}
}

func TestProjectionFailureDoesNotFailResolve(t *testing.T) {
	cp := &fakeCounterpart{status: map[string]domain.DCRStatus{"123": domain.DCRConfirmed}}
	c := newCoordinator(cp)
	c.projection = failingProjection{}
	ctx := context.Background()

	if _, err := c.CreateTrade(ctx, "123", "asset-9", "alice", "bob"); err != nil {
		t.Fatalf("create must not fail on a projection error: %v", err)
	}
	if _, err := c.ResolveTrade(ctx, "123", "ledger-a"); err != nil {
		t.Fatalf("resolve must not fail on a projection error: %v", err)
	}
	cur, err := c.Trade(ctx, "123")
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if cur.Status != domain.XVPResolvedSuccess {
		t.Fatalf("committed state unwound: %+v", cur)
	}
}
