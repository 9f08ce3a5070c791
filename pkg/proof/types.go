package proof

// Envelope is the attestation a source ledger attaches to a settlement
// outcome. The signature covers the SHA-256 of the encoded settlement info;
// the attester field names the system whose registered key must verify it.
type Envelope struct {
	Version     string `json:"version"`
	Algorithm   string `json:"algorithm"`
	Attester    string `json:"attester"`
	PublicKey   string `json:"public_key"`
	Signature   string `json:"signature"`
	PayloadHash string `json:"payload_hash"`
	IssuedAt    string `json:"issued_at"`
}
