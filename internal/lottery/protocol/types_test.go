package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"
)

func TestTxSignAndVerify(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payload, _ := json.Marshal(LotteryEnterPayload{Amount: "10000000000000000"})
	tx := Tx{
		TxID:      "tx-1",
		Nonce:     "n1",
		Timestamp: time.Now().UTC(),
		Op:        OpLotteryEnter,
		Payload:   payload,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tx.Actor != AddressFromPublicKey(priv.Public().(ed25519.PublicKey)) {
		t.Fatalf("expected actor derived from key, got %s", tx.Actor)
	}

	tampered := tx
	tampered.Payload = json.RawMessage(`{"amount":"1"}`)
	if err := tampered.Verify(); err == nil {
		t.Fatalf("expected verify failure after tamper")
	}
}

func TestTxVerifyRejectsForeignActor(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	other, _, _ := ed25519.GenerateKey(rand.Reader)
	tx, err := NewSignedTx(priv, OpLotteryTrigger, LotteryTriggerPayload{}, time.Now())
	if err != nil {
		t.Fatalf("new tx: %v", err)
	}
	tx.Actor = AddressFromPublicKey(other)
	if err := tx.Verify(); err == nil {
		t.Fatalf("expected actor mismatch to fail verification")
	}
}

func TestNewSignedTxGeneratesIdentifiers(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	a, err := NewSignedTx(priv, OpVRFSubCreate, VRFSubCreatePayload{}, time.Now())
	if err != nil {
		t.Fatalf("new tx: %v", err)
	}
	b, err := NewSignedTx(priv, OpVRFSubCreate, VRFSubCreatePayload{}, time.Now())
	if err != nil {
		t.Fatalf("new tx: %v", err)
	}
	if a.TxID == b.TxID || a.Nonce == b.Nonce {
		t.Fatalf("expected unique tx ids and nonces")
	}
	if err := a.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestNormalizeAddress(t *testing.T) {
	addr, err := NormalizeAddress("0xABCDEF0123456789abcdef0123456789ABCDEF01")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if addr != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("unexpected address %s", addr)
	}
	for _, bad := range []string{"", "abcdef", "0x1234", "0xzzcdef0123456789abcdef0123456789abcdef01"} {
		if _, err := NormalizeAddress(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("250000000000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.Dec() != "250000000000000000" {
		t.Fatalf("unexpected amount %s", v.Dec())
	}
	if _, err := ParseAmount("-1"); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
	if _, err := ParseAmount(""); err == nil {
		t.Fatalf("expected empty amount to fail")
	}
}
