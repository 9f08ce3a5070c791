package domain

// TransitionKind names one edge of a record state machine. The validator and
// the signer policy are both keyed by it.
type TransitionKind string

const (
	DCRCreateKind  TransitionKind = "DCR_CREATE"
	DCREarmarkKind TransitionKind = "DCR_EARMARK"
	DCRConfirmKind TransitionKind = "DCR_CONFIRM"
	DCRCancelKind  TransitionKind = "DCR_CANCEL"
	XVPCreateKind  TransitionKind = "XVP_CREATE"
	XVPResolveKind TransitionKind = "XVP_RESOLVE"
)

// SignerPolicy yields the identities that must sign a given transition.
// Decoupled from any cryptographic scheme: the validator checks membership
// of the presented signer set, not signature bytes.
type SignerPolicy func(kind TransitionKind, record Record) []Party

// RequiredSigners is the default policy. Creation needs every participant;
// earmark is the owner locking their claim; confirm and cancel are executed
// by the liable issuer against a presented proof.
func RequiredSigners(kind TransitionKind, record Record) []Party {
	switch kind {
	case DCRCreateKind:
		r := record.(DCRRecord)
		return []Party{r.Owner, r.Issuer}
	case DCREarmarkKind:
		r := record.(DCRRecord)
		return []Party{r.Owner}
	case DCRConfirmKind, DCRCancelKind:
		r := record.(DCRRecord)
		return []Party{r.Issuer}
	case XVPCreateKind:
		r := record.(XVPRecord)
		if r.Sender == r.Receiver {
			return []Party{r.Sender}
		}
		return []Party{r.Sender, r.Receiver}
	case XVPResolveKind:
		r := record.(XVPRecord)
		return []Party{r.Receiver}
	}
	return nil
}

func signerSet(signers []Party) map[Party]struct{} {
	set := make(map[Party]struct{}, len(signers))
	for _, s := range signers {
		set[s] = struct{}{}
	}
	return set
}

func containsAll(signers []Party, required []Party) bool {
	set := signerSet(signers)
	for _, p := range required {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}
