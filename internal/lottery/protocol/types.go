package protocol

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation defines supported ledger writes.
type Operation string

const (
	OpAccountDeposit   Operation = "ACCOUNT_DEPOSIT"
	OpAccountConfigure Operation = "ACCOUNT_CONFIGURE"
	OpLotteryEnter     Operation = "LOTTERY_ENTER"
	OpLotteryTrigger   Operation = "LOTTERY_TRIGGER"
	OpVRFFulfill       Operation = "VRF_FULFILL"
	OpVRFSubCreate     Operation = "VRF_SUB_CREATE"
	OpVRFSubFund       Operation = "VRF_SUB_FUND"
	OpVRFConsumerAdd   Operation = "VRF_CONSUMER_ADD"
	OpVRFConsumerDel   Operation = "VRF_CONSUMER_REMOVE"
	OpVRFKeyRegister   Operation = "VRF_KEY_REGISTER"
)

var validOps = map[Operation]struct{}{
	OpAccountDeposit:   {},
	OpAccountConfigure: {},
	OpLotteryEnter:     {},
	OpLotteryTrigger:   {},
	OpVRFFulfill:       {},
	OpVRFSubCreate:     {},
	OpVRFSubFund:       {},
	OpVRFConsumerAdd:   {},
	OpVRFConsumerDel:   {},
	OpVRFKeyRegister:   {},
}

// Tx is the signed, replicated command envelope.
type Tx struct {
	TxID      string          `json:"tx_id"`
	Nonce     string          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"` // address derived from public_key
	Op        Operation       `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	PublicKey string          `json:"public_key"` // base64 raw ed25519 public key
	Signature string          `json:"signature"`  // base64 raw signature
}

type txSignable struct {
	TxID      string          `json:"tx_id"`
	Nonce     string          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Op        Operation       `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	PublicKey string          `json:"public_key"`
}

// CanonicalBytes returns the deterministic signing payload.
func (t Tx) CanonicalBytes() ([]byte, error) {
	signable := txSignable{
		TxID:      strings.TrimSpace(t.TxID),
		Nonce:     strings.TrimSpace(t.Nonce),
		Timestamp: t.Timestamp.UTC(),
		Actor:     strings.ToLower(strings.TrimSpace(t.Actor)),
		Op:        t.Op,
		Payload:   t.Payload,
		PublicKey: strings.TrimSpace(t.PublicKey),
	}
	return json.Marshal(signable)
}

// ValidateBasic checks required immutable tx fields.
func (t Tx) ValidateBasic() error {
	required := []struct {
		name  string
		value string
	}{
		{"tx_id", t.TxID},
		{"nonce", t.Nonce},
		{"actor", t.Actor},
		{"public_key", t.PublicKey},
		{"signature", t.Signature},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	if t.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, ok := validOps[t.Op]; !ok {
		return fmt.Errorf("unsupported op: %s", t.Op)
	}
	if len(t.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

// Sign fills actor and public key from privateKey and signs the canonical
// bytes.
func (t *Tx) Sign(privateKey ed25519.PrivateKey) error {
	if len(privateKey) != ed25519.PrivateKeySize {
		return errors.New("invalid private key")
	}
	pub := privateKey.Public().(ed25519.PublicKey)
	t.PublicKey = base64.StdEncoding.EncodeToString(pub)
	t.Actor = AddressFromPublicKey(pub)
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	t.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(privateKey, payload))
	return nil
}

// Verify checks the signature and that actor is the signer's address.
func (t Tx) Verify() error {
	if err := t.ValidateBasic(); err != nil {
		return err
	}
	pub, err := decodeFixed(t.PublicKey, ed25519.PublicKeySize, "public_key")
	if err != nil {
		return err
	}
	sig, err := decodeFixed(t.Signature, ed25519.SignatureSize, "signature")
	if err != nil {
		return err
	}
	if t.Sender() != AddressFromPublicKey(pub) {
		return errors.New("actor does not match public_key")
	}
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, payload, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

// DecodePublicKey parses a base64 raw ed25519 public key.
func DecodePublicKey(raw string) (ed25519.PublicKey, error) {
	return decodeFixed(raw, ed25519.PublicKeySize, "public_key")
}

func decodeFixed(raw string, size int, field string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("invalid %s size: %d", field, len(b))
	}
	return b, nil
}

// Sender returns the normalized actor address.
func (t Tx) Sender() string {
	return strings.ToLower(strings.TrimSpace(t.Actor))
}

// NewSignedTx builds and signs a tx with a fresh id and nonce.
func NewSignedTx(privateKey ed25519.PrivateKey, op Operation, payload any, at time.Time) (Tx, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Tx{}, fmt.Errorf("marshal payload: %w", err)
	}
	tx := Tx{
		TxID:      uuid.NewString(),
		Nonce:     uuid.NewString(),
		Timestamp: at.UTC(),
		Op:        op,
		Payload:   raw,
	}
	if err := tx.Sign(privateKey); err != nil {
		return Tx{}, err
	}
	return tx, nil
}

// DecodePayload decodes operation payloads.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

type AccountDepositPayload struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type AccountConfigurePayload struct {
	AcceptPayments bool `json:"accept_payments"`
}

type LotteryEnterPayload struct {
	Amount string `json:"amount"`
}

// LotteryTriggerPayload carries the opaque automation hint (hex).
type LotteryTriggerPayload struct {
	PerformData string `json:"perform_data,omitempty"`
}

type VRFFulfillPayload struct {
	RequestID uint64 `json:"request_id"`
	Proof     string `json:"proof"` // base64 ed25519 signature over the request seed
}

type VRFSubCreatePayload struct{}

type VRFSubFundPayload struct {
	SubID  uint64 `json:"sub_id"`
	Amount string `json:"amount"`
}

type VRFConsumerAddPayload struct {
	SubID    uint64 `json:"sub_id"`
	Consumer string `json:"consumer"`
}

// VRFConsumerPayload is shared by consumer add and remove.
type VRFConsumerPayload = VRFConsumerAddPayload

type VRFKeyRegisterPayload struct {
	PublicKey string `json:"public_key"` // base64 raw ed25519 public key
}
