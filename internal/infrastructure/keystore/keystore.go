package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

var ErrKeyNotFound = errors.New("key not found")

// Roles a node signs under.
const (
	RoleKeeper = "keeper"
	RoleVRF    = "vrf"
)

// StaticKeyStore is a simple in-memory keystore of ed25519 signing keys.
type StaticKeyStore struct {
	keys         map[string]ed25519.PrivateKey
	defaultKeyID string
	roleKeys     map[string]string
}

// Parse builds a keystore from "keyId:hex,keyId2:hex". Each value is a
// 32-byte seed or a 64-byte private key. roles maps a role to a key id and
// overrides defaultKeyID for that role.
func Parse(raw, defaultKeyID string, roles map[string]string) (*StaticKeyStore, error) {
	keys := make(map[string]ed25519.PrivateKey)
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, errors.New("invalid key list format")
		}
		key, err := DecodeKey(parts[1])
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", parts[0], err)
		}
		keys[parts[0]] = key
	}

	ks := &StaticKeyStore{
		keys:         keys,
		defaultKeyID: defaultKeyID,
		roleKeys:     map[string]string{},
	}
	for role, id := range roles {
		if id == "" {
			continue
		}
		if _, ok := keys[id]; !ok {
			return nil, fmt.Errorf("role %s: %w: %s", role, ErrKeyNotFound, id)
		}
		ks.roleKeys[role] = id
	}
	return ks, nil
}

// DecodeKey accepts a hex seed or private key, with or without 0x.
func DecodeKey(s string) (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, err
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, fmt.Errorf("expected %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

// EncodeSeed is the inverse of DecodeKey for a seed.
func EncodeSeed(key ed25519.PrivateKey) string {
	return hex.EncodeToString(key.Seed())
}

func (s *StaticKeyStore) Key(keyID string) (ed25519.PrivateKey, error) {
	key, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return key, nil
}

// KeyForRole resolves the role override, then the default key.
func (s *StaticKeyStore) KeyForRole(role string) (keyID string, key ed25519.PrivateKey, err error) {
	if id, ok := s.roleKeys[role]; ok {
		key, err = s.Key(id)
		return id, key, err
	}
	if s.defaultKeyID == "" {
		return "", nil, errors.New("default key not configured")
	}
	key, err = s.Key(s.defaultKeyID)
	return s.defaultKeyID, key, err
}

// Addresses lists each key id with its account address.
func (s *StaticKeyStore) Addresses() map[string]string {
	out := make(map[string]string, len(s.keys))
	for id, key := range s.keys {
		out[id] = protocol.AddressFromPublicKey(key.Public().(ed25519.PublicKey))
	}
	return out
}

// IDs returns key ids in sorted order.
func (s *StaticKeyStore) IDs() []string {
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
