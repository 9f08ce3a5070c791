package proof

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func testKeyAndRegistry(t *testing.T, systemID string) (ed25519.PrivateKey, Registry) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	reg := Registry{systemID: base64.StdEncoding.EncodeToString(pub)}
	return priv, reg
}

func TestSignThenVerify(t *testing.T) {
	priv, reg := testKeyAndRegistry(t, "ledger-a")
	payload := []byte(`{"trade_id":"123","outcome":"CONFIRMED"}`)

	env, err := Sign("ledger-a-notary", priv, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, err := Verify(reg, "ledger-a", payload, env)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Attester != "ledger-a-notary" {
		t.Fatalf("unexpected attester: %s", res.Attester)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	priv, reg := testKeyAndRegistry(t, "ledger-a")
	env, err := Sign("ledger-a-notary", priv, []byte("original"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = Verify(reg, "ledger-a", []byte("tampered"), env)
	if !errors.Is(err, ErrPayloadHashMismatch) {
		t.Fatalf("expected payload hash mismatch, got %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv, _ := testKeyAndRegistry(t, "ledger-a")
	_, reg := testKeyAndRegistry(t, "ledger-a") // registry holds a different key
	payload := []byte("payload")
	env, err := Sign("ledger-a-notary", priv, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = Verify(reg, "ledger-a", payload, env)
	if !errors.Is(err, ErrAttesterMismatch) {
		t.Fatalf("expected attester mismatch, got %v", err)
	}
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	priv, reg := testKeyAndRegistry(t, "ledger-a")
	payload := []byte("payload")
	env, err := Sign("ledger-a-notary", priv, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	env.Signature = base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize))
	_, err = Verify(reg, "ledger-a", payload, env)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestVerifyRejectsUnknownSystem(t *testing.T) {
	priv, reg := testKeyAndRegistry(t, "ledger-a")
	payload := []byte("payload")
	env, err := Sign("ledger-a-notary", priv, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = Verify(reg, "ledger-b", payload, env)
	if !errors.Is(err, ErrUnknownAttester) {
		t.Fatalf("expected unknown attester, got %v", err)
	}
}

func TestVerifyJSONRoundTrip(t *testing.T) {
	priv, reg := testKeyAndRegistry(t, "ledger-a")
	payload := []byte("payload")
	env, err := Sign("ledger-a-notary", priv, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := VerifyJSON(reg, "ledger-a", payload, string(raw)); err != nil {
		t.Fatalf("verify json: %v", err)
	}
}

func TestVerifyJSONRejectsGarbage(t *testing.T) {
	_, reg := testKeyAndRegistry(t, "ledger-a")
	_, err := VerifyJSON(reg, "ledger-a", []byte("payload"), "not json")
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("expected invalid encoding, got %v", err)
	}
}
