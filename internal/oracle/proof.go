package oracle

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

// Seed is the message a proving key signs to fulfill req:
// keccak256(keyHash || consumer || requestID).
func Seed(req Request) []byte {
	keyHash, _ := decodeHex(req.KeyHash)
	consumer, _ := decodeHex(req.Consumer)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], req.ID)
	return protocol.Keccak256(keyHash, consumer, id[:])
}

// VerifyProof checks that proof is a valid signature of Seed(req) under pub.
//
// An ed25519 signature authenticates the seed but is not unique for it: the
// key holder can produce other valid signatures with a different nonce, and
// each yields different words. Honest provers sign deterministically (RFC
// 8032), so Prove always returns the same proof. The proving key holder is
// therefore trusted not to grind. Removing that trust needs a VRF with
// unique proofs such as ECVRF.
func VerifyProof(pub ed25519.PublicKey, req Request, proof []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(proof) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, Seed(req), proof)
}

// DeriveWords expands a proof into n 256-bit words: keccak256(proof || i).
// Words come from the signature rather than the public seed so no one but
// the key holder can predict them before fulfillment.
func DeriveWords(proof []byte, n uint32) []*uint256.Int {
	out := make([]*uint256.Int, 0, n)
	var idx [4]byte
	for i := uint32(0); i < n; i++ {
		binary.BigEndian.PutUint32(idx[:], i)
		out = append(out, new(uint256.Int).SetBytes(protocol.Keccak256(proof, idx[:])))
	}
	return out
}

// Prover holds a proving key and answers requests routed to it.
type Prover struct {
	key     ed25519.PrivateKey
	keyHash string
}

func NewProver(key ed25519.PrivateKey) (*Prover, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid proving key")
	}
	return &Prover{key: key, keyHash: protocol.KeyHash(key.Public().(ed25519.PublicKey))}, nil
}

func (p *Prover) KeyHash() string { return p.keyHash }

func (p *Prover) PublicKey() ed25519.PublicKey { return p.key.Public().(ed25519.PublicKey) }

// Owns reports whether req is routed to this prover's key.
func (p *Prover) Owns(req Request) bool { return strings.EqualFold(req.KeyHash, p.keyHash) }

// Prove signs Seed(req). The result is deterministic for a given key and
// request.
func (p *Prover) Prove(req Request) []byte {
	return ed25519.Sign(p.key, Seed(req))
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x"))
}

func encodeHex(b []byte) string { return "0x" + hex.EncodeToString(b) }
