package protocol

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

const addressHexLen = 40

// Keccak256 hashes the concatenation of parts.
func Keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// AddressFromPublicKey derives the 20-byte account address of a key.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	sum := Keccak256(pub)
	return "0x" + hex.EncodeToString(sum[12:])
}

// KeyHash identifies a proving key; it is the oracle routing key.
func KeyHash(pub ed25519.PublicKey) string {
	return "0x" + hex.EncodeToString(Keccak256(pub))
}

// NormalizeAddress validates and lowercases a 0x-prefixed address.
func NormalizeAddress(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("address must be 0x-prefixed: %q", raw)
	}
	body := s[2:]
	if len(body) != addressHexLen {
		return "", fmt.Errorf("address must have %d hex chars: %q", addressHexLen, raw)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("address is not hex: %q", raw)
	}
	return s, nil
}

// NormalizeKeyHash validates and lowercases a 0x-prefixed 32-byte hash.
func NormalizeKeyHash(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("key hash must be 32 hex bytes: %q", raw)
	}
	return "0x" + hex.EncodeToString(b), nil
}

// ParseAmount parses a decimal amount in the smallest monetary unit.
func ParseAmount(raw string) (*uint256.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("amount is required")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v, nil
}
