package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/ledger"
	"github.com/hyperledger-labs/harmonia-sub001/pkg/proof"
	"github.com/hyperledger-labs/harmonia-sub001/services/dcr/internal/lifecycle"
)

type gatewayFixture struct {
	srv  *httptest.Server
	priv ed25519.PrivateKey
}

func newGateway(t *testing.T) gatewayFixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mgr := lifecycle.New(lifecycle.Config{
		Oracle:        ledger.NewMemory(),
		Attesters:     proof.Registry{"ledger-b": base64.StdEncoding.EncodeToString(pub)},
		LocalSystemID: "ledger-a",
		Logger:        zerolog.Nop(),
	})
	srv := httptest.NewServer(newRouter(serverDeps{mgr: mgr}))
	t.Cleanup(srv.Close)
	return gatewayFixture{srv: srv, priv: priv}
}

func (g gatewayFixture) post(t *testing.T, path string, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(g.srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return resp, decoded
}

func (g gatewayFixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(g.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return resp, decoded
}

func (g gatewayFixture) createRecord(t *testing.T, tradeID string) string {
	t.Helper()
	resp, body := g.post(t, "/dcr/records", map[string]any{
		"owner": "alice", "issuer": "bank",
		"value": "100.5", "currency": "GBP", "tradeId": tradeID,
		"signers": []string{"alice", "bank"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create: status %d body %v", resp.StatusCode, body)
	}
	rec := body["record"].(map[string]any)
	return rec["linear_id"].(string)
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %v", body)
	}
	return e["code"].(string)
}

func TestCreateRecordReturnsAvailable(t *testing.T) {
	g := newGateway(t)
	resp, body := g.post(t, "/dcr/records", map[string]any{
		"owner": "alice", "issuer": "bank",
		"value": "100.5", "currency": "GBP",
		"signers": []string{"alice", "bank"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	rec := body["record"].(map[string]any)
	if rec["status"] != "AVAILABLE" || rec["value"] != "100.5" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestCreateRecordRejectsBadValue(t *testing.T) {
	g := newGateway(t)
	resp, body := g.post(t, "/dcr/records", map[string]any{
		"owner": "alice", "issuer": "bank",
		"value": "not-a-number", "currency": "GBP",
		"signers": []string{"alice", "bank"},
	})
	if resp.StatusCode != 400 || errorCode(t, body) != "VALIDATION_FAILED" {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
}

func TestCreateRecordSurfacesViolationReason(t *testing.T) {
	g := newGateway(t)
	resp, body := g.post(t, "/dcr/records", map[string]any{
		"owner": "alice", "issuer": "alice",
		"value": "1", "currency": "GBP",
		"signers": []string{"alice"},
	})
	if resp.StatusCode != 400 {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	msg := body["error"].(map[string]any)["message"]
	if msg != "owner and issuer cannot be the same entity" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestEarmarkThenRebindRejected(t *testing.T) {
	g := newGateway(t)
	linearID := g.createRecord(t, "")

	resp, body := g.post(t, "/dcr/records/"+linearID+"/earmark", map[string]any{
		"partyName": "alice", "tradeId": "123",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("earmark: status %d body %v", resp.StatusCode, body)
	}
	if body["record"].(map[string]any)["status"] != "EARMARKED" {
		t.Fatalf("unexpected record %v", body["record"])
	}

	resp, body = g.post(t, "/dcr/records/"+linearID+"/earmark", map[string]any{
		"partyName": "alice", "tradeId": "999",
	})
	if resp.StatusCode != 400 || errorCode(t, body) != "VALIDATION_FAILED" {
		t.Fatalf("rebind: status %d body %v", resp.StatusCode, body)
	}
	msg := body["error"].(map[string]any)["message"]
	if msg != "record is already earmarked for a different trade" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestTradeStatusIsBareObject(t *testing.T) {
	g := newGateway(t)
	linearID := g.createRecord(t, "")
	g.post(t, "/dcr/records/"+linearID+"/earmark", map[string]any{
		"partyName": "alice", "tradeId": "t-1",
	})

	resp, body := g.get(t, "/dcr/trades/t-1/status")
	if resp.StatusCode != 200 {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["linear_id"] != linearID || body["trade_id"] != "t-1" || body["status"] != "EARMARKED" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, hasEnvelope := body["request_id"]; hasEnvelope {
		t.Fatal("status body must not carry the request envelope")
	}
}

func TestConfirmWithValidProof(t *testing.T) {
	g := newGateway(t)
	linearID := g.createRecord(t, "")
	g.post(t, "/dcr/records/"+linearID+"/earmark", map[string]any{
		"partyName": "alice", "tradeId": "t-2",
	})

	info := "settlement-details"
	env, err := proof.Sign("ledger-b", g.priv, []byte(info))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rawEnv, _ := json.Marshal(env)

	resp, body := g.post(t, "/dcr/confirm", map[string]any{
		"tradeId": "t-2", "systemId": "ledger-a", "sourceSystemId": "ledger-b",
		"encodedInfo": info, "signatureOrProof": string(rawEnv),
	})
	if resp.StatusCode != 200 {
		t.Fatalf("confirm: status %d body %v", resp.StatusCode, body)
	}
	if body["record"].(map[string]any)["status"] != "CONFIRMED" {
		t.Fatalf("unexpected record %v", body["record"])
	}
}

func TestConfirmWithBadProofIsUnprocessable(t *testing.T) {
	g := newGateway(t)
	linearID := g.createRecord(t, "")
	g.post(t, "/dcr/records/"+linearID+"/earmark", map[string]any{
		"partyName": "alice", "tradeId": "t-3",
	})

	resp, body := g.post(t, "/dcr/confirm", map[string]any{
		"tradeId": "t-3", "systemId": "ledger-a", "sourceSystemId": "ledger-b",
		"encodedInfo": "x", "signatureOrProof": "garbage",
	})
	if resp.StatusCode != 422 || errorCode(t, body) != "PROOF_INVALID" {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}

	resp, body = g.get(t, "/dcr/records/"+linearID)
	if resp.StatusCode != 200 || body["record"].(map[string]any)["status"] != "EARMARKED" {
		t.Fatalf("record after failed proof: status %d body %v", resp.StatusCode, body)
	}
}

func TestCancelAfterConfirmRejected(t *testing.T) {
	g := newGateway(t)
	linearID := g.createRecord(t, "")
	g.post(t, "/dcr/records/"+linearID+"/earmark", map[string]any{
		"partyName": "alice", "tradeId": "t-4",
	})

	info := "settlement-details"
	env, _ := proof.Sign("ledger-b", g.priv, []byte(info))
	rawEnv, _ := json.Marshal(env)
	g.post(t, "/dcr/confirm", map[string]any{
		"tradeId": "t-4", "systemId": "ledger-a", "sourceSystemId": "ledger-b",
		"encodedInfo": info, "signatureOrProof": string(rawEnv),
	})

	resp, body := g.post(t, "/dcr/cancel", map[string]any{
		"tradeId": "t-4", "encodedInfo": info, "signatureOrProof": string(rawEnv),
	})
	if resp.StatusCode != 400 {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	msg := body["error"].(map[string]any)["message"]
	if msg != "cannot cancel a confirmed commitment" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestUnknownRecordIs404(t *testing.T) {
	g := newGateway(t)
	resp, body := g.get(t, "/dcr/records/dcr_missing")
	if resp.StatusCode != 404 || errorCode(t, body) != "NOT_FOUND" {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	resp, body = g.get(t, fmt.Sprintf("/dcr/trades/%s/status", "no-such-trade"))
	if resp.StatusCode != 404 || errorCode(t, body) != "NOT_FOUND" {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
}
