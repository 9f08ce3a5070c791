package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/proof"
)

const usage = "usage: xvpctl keygen --out <prefix> | " +
	"xvpctl proof make --key <path> --attester <id> --payload <path> --out <path> | " +
	"xvpctl proof verify --pubkey <path> --attester <id> --payload <path> --proof <path> | " +
	"xvpctl trade status --base <url> --trade-id <id>"

func main() {
	if len(os.Args) < 2 {
		failSummary(usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "keygen":
		runKeygen(os.Args[2:])
	case "proof":
		runProof(os.Args[2:])
	case "trade":
		runTrade(os.Args[2:])
	default:
		failSummary("unknown command")
		os.Exit(2)
	}
}

func runKeygen(args []string) {
	fs := newFlagSet("keygen")
	outPrefix := fs.String("out", "", "path prefix for the key pair files")
	if err := fs.Parse(args); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*outPrefix) == "" {
		failSummary("--out is required")
		os.Exit(2)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		failSummary("generate key failed: " + err.Error())
		os.Exit(1)
	}
	privPath := *outPrefix + ".key"
	pubPath := *outPrefix + ".pub"
	if err := os.WriteFile(privPath, []byte(base64.StdEncoding.EncodeToString(priv)), 0o600); err != nil {
		failSummary("write private key failed: " + err.Error())
		os.Exit(1)
	}
	if err := os.WriteFile(pubPath, []byte(base64.StdEncoding.EncodeToString(pub)), 0o644); err != nil {
		failSummary("write public key failed: " + err.Error())
		os.Exit(1)
	}
	passSummary(map[string]string{"private_key_path": privPath, "public_key_path": pubPath})
}

func runProof(args []string) {
	if len(args) < 1 {
		failSummary(usage)
		os.Exit(2)
	}
	switch args[0] {
	case "make":
		runProofMake(args[1:])
	case "verify":
		runProofVerify(args[1:])
	default:
		failSummary(usage)
		os.Exit(2)
	}
}

func runProofMake(args []string) {
	fs := newFlagSet("proof make")
	keyPath := fs.String("key", "", "path to base64 ed25519 private key")
	attester := fs.String("attester", "", "attesting system id")
	payloadPath := fs.String("payload", "", "path to the encoded settlement info")
	outPath := fs.String("out", "", "path to write the attestation envelope json")
	if err := fs.Parse(args); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*keyPath) == "" || strings.TrimSpace(*attester) == "" ||
		strings.TrimSpace(*payloadPath) == "" || strings.TrimSpace(*outPath) == "" {
		failSummary("--key, --attester, --payload and --out are all required")
		os.Exit(2)
	}

	priv, err := readPrivateKey(*keyPath)
	if err != nil {
		failSummary("read key failed: " + err.Error())
		os.Exit(1)
	}
	payload, err := os.ReadFile(*payloadPath)
	if err != nil {
		failSummary("read payload failed: " + err.Error())
		os.Exit(1)
	}

	env, err := proof.Sign(strings.TrimSpace(*attester), priv, payload)
	if err != nil {
		failSummary(err.Error())
		os.Exit(1)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		failSummary(err.Error())
		os.Exit(1)
	}
	if err := os.WriteFile(*outPath, raw, 0o644); err != nil {
		failSummary("write proof failed: " + err.Error())
		os.Exit(1)
	}
	passSummary(map[string]string{
		"attester":     env.Attester,
		"payload_hash": env.PayloadHash,
		"proof_path":   *outPath,
	})
}

func runProofVerify(args []string) {
	fs := newFlagSet("proof verify")
	pubPath := fs.String("pubkey", "", "path to base64 ed25519 public key")
	attester := fs.String("attester", "", "expected attesting system id")
	payloadPath := fs.String("payload", "", "path to the encoded settlement info")
	proofPath := fs.String("proof", "", "path to the attestation envelope json")
	if err := fs.Parse(args); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*pubPath) == "" || strings.TrimSpace(*attester) == "" ||
		strings.TrimSpace(*payloadPath) == "" || strings.TrimSpace(*proofPath) == "" {
		failSummary("--pubkey, --attester, --payload and --proof are all required")
		os.Exit(2)
	}

	pubRaw, err := os.ReadFile(*pubPath)
	if err != nil {
		failSummary("read pubkey failed: " + err.Error())
		os.Exit(1)
	}
	payload, err := os.ReadFile(*payloadPath)
	if err != nil {
		failSummary("read payload failed: " + err.Error())
		os.Exit(1)
	}
	envRaw, err := os.ReadFile(*proofPath)
	if err != nil {
		failSummary("read proof failed: " + err.Error())
		os.Exit(1)
	}

	env, err := proof.DecodeEnvelope(string(envRaw))
	if err != nil {
		failSummary(err.Error())
		os.Exit(1)
	}
	id := strings.TrimSpace(*attester)
	reg := proof.Registry{id: strings.TrimSpace(string(pubRaw))}
	res, err := proof.Verify(reg, id, payload, env)
	if err != nil {
		failSummary(err.Error())
		os.Exit(1)
	}
	passSummary(map[string]string{
		"attester":      res.Attester,
		"payload_hash":  env.PayloadHash,
		"issued_at_utc": res.IssuedAt.Format(time.RFC3339Nano),
	})
}

func runTrade(args []string) {
	if len(args) < 1 || args[0] != "status" {
		failSummary(usage)
		os.Exit(2)
	}
	fs := newFlagSet("trade status")
	base := fs.String("base", "", "commitment service base url")
	tradeID := fs.String("trade-id", "", "trade id to query")
	if err := fs.Parse(args[1:]); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*base) == "" || strings.TrimSpace(*tradeID) == "" {
		failSummary("both --base and --trade-id are required")
		os.Exit(2)
	}

	url := fmt.Sprintf("%s/dcr/trades/%s/status", strings.TrimRight(*base, "/"), *tradeID)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		failSummary("query failed: " + err.Error())
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		failSummary(fmt.Sprintf("service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		os.Exit(1)
	}
	var st struct {
		LinearID string `json:"linear_id"`
		TradeID  string `json:"trade_id"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(body, &st); err != nil {
		failSummary("decode status failed: " + err.Error())
		os.Exit(1)
	}
	passSummary(map[string]string{
		"linear_id": st.LinearID,
		"trade_id":  st.TradeID,
		"status":    st.Status,
	})
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func passSummary(fields map[string]string) {
	printSummary("PASS", "", fields)
}

func failSummary(reason string) {
	printSummary("FAIL", reason, nil)
}

func printSummary(status, reason string, fields map[string]string) {
	out := map[string]string{
		"protocol":      "xvp-settlement",
		"status":        status,
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		out["reason"] = reason
	}
	for k, v := range fields {
		out[k] = v
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}

func readPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(decoded))
	}
	return ed25519.PrivateKey(decoded), nil
}
