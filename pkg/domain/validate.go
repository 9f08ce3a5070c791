package domain

// The invariant validator: pure predicates over a proposed transition,
// checked by the issuing side before anything is submitted for finality.
// Violations carry the specific broken rule, not a generic failure.

var dcrEdges = map[DCRStatus][]DCRStatus{
	DCRAvailable: {DCREarmarked},
	DCREarmarked: {DCRConfirmed, DCRCancelled},
}

var xvpEdges = map[XVPStatus][]XVPStatus{
	XVPPending: {XVPResolvedSuccess, XVPResolvedFailed},
}

// ValidateDCRTransition checks a proposed commitment transition. prev is nil
// for creation; next may be nil only for a consume-only cancellation.
func ValidateDCRTransition(kind TransitionKind, prev, next *DCRRecord, signers []Party) error {
	switch kind {
	case DCRCreateKind:
		if prev != nil {
			return violation(kind, "a creation must not consume a prior record version")
		}
		if next == nil {
			return violation(kind, "a creation must produce exactly one record version")
		}
		if next.Value.IsNegative() {
			return violation(kind, "value must be non-negative")
		}
		if next.Owner == next.Issuer {
			return violation(kind, "owner and issuer cannot be the same entity")
		}
		if next.Status != DCRAvailable {
			return violation(kind, "a new commitment must start AVAILABLE")
		}
		if !containsAll(signers, RequiredSigners(kind, *next)) {
			return violation(kind, "all participants must be signers")
		}
		return nil

	case DCREarmarkKind, DCRConfirmKind, DCRCancelKind:
		if prev == nil {
			return violation(kind, "a transition must consume exactly one prior record version")
		}
		if next == nil {
			// Consume-only terminal cancellation: a pure status flip with no
			// successor version.
			if kind != DCRCancelKind {
				return violation(kind, "a transition must produce exactly one record version")
			}
			if prev.Status != DCREarmarked {
				return violation(kind, "illegal status transition from %s to %s", prev.Status, DCRCancelled)
			}
			if !containsAll(signers, RequiredSigners(kind, *prev)) {
				return violation(kind, "all participants must be signers")
			}
			return nil
		}
		if next.LinearID != prev.LinearID {
			return violation(kind, "linear id must be preserved across versions")
		}
		if kind == DCREarmarkKind {
			if next.TradeID == "" {
				return violation(kind, "an earmark must bind the record to a trade")
			}
			// Checked before the edge rule so a double reservation reports
			// the specific conflict, not a generic illegal transition.
			if prev.TradeID != "" && prev.TradeID != next.TradeID {
				return violation(kind, "record is already earmarked for a different trade")
			}
		} else if prev.TradeID != next.TradeID {
			return violation(kind, "record is already earmarked for a different trade")
		}
		if !legalDCREdge(prev.Status, next.Status) {
			return violation(kind, "illegal status transition from %s to %s", prev.Status, next.Status)
		}
		if next.Owner != prev.Owner || next.Issuer != prev.Issuer ||
			!next.Value.Equal(prev.Value) || next.Currency != prev.Currency {
			return violation(kind, "record economics cannot change across versions")
		}
		if !containsAll(signers, RequiredSigners(kind, *next)) {
			return violation(kind, "all participants must be signers")
		}
		return nil
	}
	return violation(kind, "unknown transition kind")
}

// ValidateXVPTransition checks a proposed trade transition. A terminal trade
// status is immutable once set; the only legal edges leave PENDING.
func ValidateXVPTransition(kind TransitionKind, prev, next *XVPRecord, signers []Party, allowSelfTrade bool) error {
	switch kind {
	case XVPCreateKind:
		if prev != nil {
			return violation(kind, "a creation must not consume a prior record version")
		}
		if next == nil {
			return violation(kind, "a creation must produce exactly one record version")
		}
		if next.Sender == next.Receiver && !allowSelfTrade {
			return violation(kind, "sender and receiver cannot be the same entity")
		}
		if next.TradeID == "" {
			return violation(kind, "a trade must carry a trade id")
		}
		if next.Status != XVPPending {
			return violation(kind, "a new trade must start PENDING")
		}
		if !containsAll(signers, RequiredSigners(kind, *next)) {
			return violation(kind, "all participants must be signers")
		}
		return nil

	case XVPResolveKind:
		if prev == nil {
			return violation(kind, "a transition must consume exactly one prior record version")
		}
		if next == nil {
			return violation(kind, "a transition must produce exactly one record version")
		}
		if next.LinearID != prev.LinearID {
			return violation(kind, "linear id must be preserved across versions")
		}
		if next.TradeID != prev.TradeID {
			return violation(kind, "trade id must be preserved across versions")
		}
		if !legalXVPEdge(prev.Status, next.Status) {
			return violation(kind, "illegal status transition from %s to %s", prev.Status, next.Status)
		}
		if !containsAll(signers, RequiredSigners(kind, *next)) {
			return violation(kind, "all participants must be signers")
		}
		return nil
	}
	return violation(kind, "unknown transition kind")
}

func legalDCREdge(from, to DCRStatus) bool {
	for _, s := range dcrEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func legalXVPEdge(from, to XVPStatus) bool {
	for _, s := range xvpEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}
