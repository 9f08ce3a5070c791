package proof

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidIssuedAt      = errors.New("invalid issued_at")
	ErrPayloadHashMismatch  = errors.New("payload hash mismatch")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInvalidEncoding      = errors.New("invalid encoding")
	ErrUnknownAttester      = errors.New("unknown attester")
	ErrAttesterMismatch     = errors.New("attester key mismatch")
)

const envelopeVersion = "attest-v1"

// Registry maps a source system id to the base64 ed25519 public key its
// attestations must verify against. Built from configuration at startup.
type Registry map[string]string

type VerifyResult struct {
	Attester string
	IssuedAt time.Time
}

// PayloadSHA256Hex hashes the encoded settlement info the way the envelope
// signer does: raw payload bytes hashed with SHA-256, lower hex.
func PayloadSHA256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify checks env against payload for the attester registered under
// sourceSystemID. The signature covers the payload hash bytes.
func Verify(reg Registry, sourceSystemID string, payload []byte, env Envelope) (VerifyResult, error) {
	expectedKey, ok := reg[sourceSystemID]
	if !ok {
		return VerifyResult{}, fmt.Errorf("%q: %w", sourceSystemID, ErrUnknownAttester)
	}
	if strings.TrimSpace(env.Version) != envelopeVersion {
		return VerifyResult{}, ErrUnsupportedAlgorithm
	}
	if strings.ToLower(strings.TrimSpace(env.Algorithm)) != "ed25519" {
		return VerifyResult{}, ErrUnsupportedAlgorithm
	}
	if strings.TrimSpace(env.IssuedAt) == "" {
		return VerifyResult{}, ErrInvalidIssuedAt
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, env.IssuedAt)
	if err != nil {
		return VerifyResult{}, ErrInvalidIssuedAt
	}
	if strings.TrimSpace(env.PublicKey) != strings.TrimSpace(expectedKey) {
		return VerifyResult{}, fmt.Errorf("%q: %w", sourceSystemID, ErrAttesterMismatch)
	}

	expectedHash := PayloadSHA256Hex(payload)
	expectedBytes, err := hex.DecodeString(expectedHash)
	if err != nil {
		return VerifyResult{}, ErrInvalidEncoding
	}
	presentedBytes, err := decodeLowerHex32(strings.TrimSpace(env.PayloadHash))
	if err != nil {
		return VerifyResult{}, err
	}
	if subtle.ConstantTimeCompare(expectedBytes, presentedBytes) != 1 {
		return VerifyResult{}, ErrPayloadHashMismatch
	}

	if err := verifyEd25519(presentedBytes, env.PublicKey, env.Signature); err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Attester: env.Attester, IssuedAt: issuedAt.UTC()}, nil
}

// DecodeEnvelope parses the wire form of the signatureOrProof request field.
func DecodeEnvelope(raw string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", ErrInvalidEncoding)
	}
	return env, nil
}

// VerifyJSON decodes an envelope serialized as JSON (the wire form of the
// signatureOrProof request field) and verifies it.
func VerifyJSON(reg Registry, sourceSystemID string, payload []byte, rawEnvelope string) (VerifyResult, error) {
	env, err := DecodeEnvelope(rawEnvelope)
	if err != nil {
		return VerifyResult{}, err
	}
	return Verify(reg, sourceSystemID, payload, env)
}

// Sign produces an envelope over payload with the given ed25519 key. Used by
// the attesting side and by the xvpctl tooling.
func Sign(attester string, priv ed25519.PrivateKey, payload []byte) (Envelope, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Envelope{}, ErrInvalidEncoding
	}
	hashHex := PayloadSHA256Hex(payload)
	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil {
		return Envelope{}, ErrInvalidEncoding
	}
	sig := ed25519.Sign(priv, hashBytes)
	pub := priv.Public().(ed25519.PublicKey)
	return Envelope{
		Version:     envelopeVersion,
		Algorithm:   "ed25519",
		Attester:    attester,
		PublicKey:   base64.StdEncoding.EncodeToString(pub),
		Signature:   base64.StdEncoding.EncodeToString(sig),
		PayloadHash: hashHex,
		IssuedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func verifyEd25519(messageHash []byte, publicKeyB64, sigB64 string) error {
	publicKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(publicKeyB64))
	if err != nil {
		return ErrInvalidEncoding
	}
	signature, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigB64))
	if err != nil {
		return ErrInvalidEncoding
	}
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return ErrInvalidEncoding
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), messageHash, signature) {
		return ErrInvalidSignature
	}
	return nil
}

func decodeLowerHex32(s string) ([]byte, error) {
	if len(s) != 64 || s != strings.ToLower(s) {
		return nil, ErrInvalidEncoding
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	return b, nil
}
