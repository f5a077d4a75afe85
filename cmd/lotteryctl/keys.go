package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aman879/LotteryDaap/internal/infrastructure/keystore"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

type keyInfo struct {
	Seed      string `json:"seed,omitempty"`
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
	KeyHash   string `json:"key_hash"`
}

func describeKey(key ed25519.PrivateKey, withSeed bool) keyInfo {
	pub := key.Public().(ed25519.PublicKey)
	info := keyInfo{
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Address:   protocol.AddressFromPublicKey(pub),
		KeyHash:   protocol.KeyHash(pub),
	}
	if withSeed {
		info.Seed = keystore.EncodeSeed(key)
	}
	return info
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key",
	Long:  "Generate an ed25519 key and print its seed, address and VRF key hash.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), describeKey(key, true))
	},
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the address of --key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := signingKey()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), describeKey(key, false))
	},
}
