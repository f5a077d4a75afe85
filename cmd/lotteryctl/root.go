package main

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aman879/LotteryDaap/internal/infrastructure/keystore"
	"github.com/aman879/LotteryDaap/internal/lottery/client"
)

type GlobalFlags struct {
	Endpoint string
	Timeout  time.Duration
	Key      string
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:           "lotteryctl",
	Short:         "Command line client for a lottery node",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Endpoint, "endpoint", envOr("LOTTERY_ENDPOINT", "http://127.0.0.1:18080"), "node HTTP endpoint")
	rootCmd.PersistentFlags().DurationVar(&globalFlags.Timeout, "timeout", 15*time.Second, "request timeout")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Key, "key", os.Getenv("LOTTERY_KEY"), "hex ed25519 seed or private key used to sign")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(enterCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(depositCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(upkeepCmd)
	rootCmd.AddCommand(playerCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getClient() *client.Client {
	return client.New(globalFlags.Endpoint, globalFlags.Timeout)
}

func signingKey() (ed25519.PrivateKey, error) {
	if globalFlags.Key == "" {
		return nil, errors.New("--key or LOTTERY_KEY is required")
	}
	key, err := keystore.DecodeKey(globalFlags.Key)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return key, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
