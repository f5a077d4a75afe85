package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
	"github.com/aman879/LotteryDaap/internal/oracle"
)

// Config holds node configuration. Every replica of a cluster must agree on
// the genesis fields (lottery, VRF, admins, genesis time).
type Config struct {
	NodeID            string            `env:"LOTTERY_NODE_ID"`
	RaftAddr          string            `env:"LOTTERY_RAFT_ADDR"           envDefault:"127.0.0.1:17000"`
	HTTPAddr          string            `env:"LOTTERY_HTTP_ADDR"           envDefault:"0.0.0.0:18080"`
	DataDir           string            `env:"LOTTERY_DATA_DIR"`
	Bootstrap         bool              `env:"LOTTERY_BOOTSTRAP"           envDefault:"false"`
	ApplyTimeout      time.Duration     `env:"LOTTERY_APPLY_TIMEOUT"       envDefault:"5s"`
	JoinEndpoint      string            `env:"LOTTERY_JOIN_ENDPOINT"`
	JoinRetries       int               `env:"LOTTERY_JOIN_RETRIES"        envDefault:"30"`
	JoinRetryDelay    time.Duration     `env:"LOTTERY_JOIN_RETRY_DELAY"    envDefault:"1s"`
	StartupWaitLeader time.Duration     `env:"LOTTERY_STARTUP_WAIT_LEADER" envDefault:"4s"`
	Peers             map[string]string `env:"LOTTERY_PEERS"               envSeparator:"," envKeyValSeparator:"="`
	MaxClockSkew      time.Duration     `env:"LOTTERY_MAX_CLOCK_SKEW"      envDefault:"30s"`
	// SnapshotThreshold of 0 keeps the raft default.
	SnapshotThreshold uint64 `env:"LOTTERY_SNAPSHOT_THRESHOLD"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	Genesis              time.Time     `env:"LOTTERY_GENESIS"               envDefault:"2026-01-01T00:00:00Z"`
	Admins               []string      `env:"LOTTERY_ADMINS"                envSeparator:","`
	LotteryAddress       string        `env:"LOTTERY_ADDRESS"               envDefault:"0x000000000000000000000000000000000000107e"`
	EntryFee             string        `env:"LOTTERY_ENTRY_FEE"             envDefault:"10000000000000000"`
	Interval             time.Duration `env:"LOTTERY_INTERVAL"              envDefault:"30s"`
	CallbackGasLimit     uint32        `env:"LOTTERY_CALLBACK_GAS_LIMIT"    envDefault:"500000"`
	KeyHash              string        `env:"LOTTERY_KEY_HASH"`
	SubscriptionID       uint64        `env:"LOTTERY_SUBSCRIPTION_ID"       envDefault:"1"`
	RequestConfirmations uint16        `env:"LOTTERY_REQUEST_CONFIRMATIONS" envDefault:"3"`
	NumWords             uint32        `env:"LOTTERY_NUM_WORDS"             envDefault:"1"`
	// EventRetention caps the lottery and VRF event logs kept in state.
	EventRetention int `env:"LOTTERY_EVENT_RETENTION" envDefault:"4096"`
	// ReplayWindow is how long applied tx ids are remembered; older txs are refused.
	ReplayWindow time.Duration `env:"LOTTERY_REPLAY_WINDOW" envDefault:"24h"`

	CoordinatorAddress string   `env:"VRF_COORDINATOR_ADDRESS" envDefault:"0x000000000000000000000000000000000000c0de"`
	BaseFee            string   `env:"VRF_BASE_FEE"            envDefault:"250000000000000000"`
	GasPriceLink       string   `env:"VRF_GAS_PRICE_LINK"      envDefault:"1000000000"`
	ProvingKeys        []string `env:"VRF_PROVING_KEYS"        envSeparator:","`
	SubscriptionOwner  string   `env:"VRF_SUBSCRIPTION_OWNER"`
	SubscriptionFund   string   `env:"VRF_SUBSCRIPTION_FUND"   envDefault:"100000000000000000000"`

	Keys         string `env:"LOTTERY_KEYS"`
	DefaultKeyID string `env:"LOTTERY_DEFAULT_KEY_ID"`
	KeeperKeyID  string `env:"KEEPER_KEY_ID"`
	VRFKeyID     string `env:"VRF_KEY_ID"`

	KeeperEnabled   bool          `env:"KEEPER_ENABLED"   envDefault:"false"`
	KeeperPoll      time.Duration `env:"KEEPER_POLL"      envDefault:"5s"`
	KeeperCondition string        `env:"KEEPER_CONDITION"`

	ResponderEnabled  bool          `env:"VRF_RESPONDER_ENABLED"   envDefault:"false"`
	ResponderPoll     time.Duration `env:"VRF_RESPONDER_POLL"      envDefault:"2s"`
	ConfirmationDelay time.Duration `env:"VRF_CONFIRMATION_DELAY"  envDefault:"1s"`
	ResubmitAfter     time.Duration `env:"VRF_RESUBMIT_AFTER"      envDefault:"30s"`

	NTPServer       string        `env:"NTP_SERVER"`
	NTPSyncInterval time.Duration `env:"NTP_SYNC_INTERVAL" envDefault:"10m"`

	DatabaseURL      string        `env:"DATABASE_URL"`
	MigrationsDir    string        `env:"MIGRATIONS_DIR"            envDefault:"internal/migrations"`
	BackfillInterval time.Duration `env:"HISTORY_BACKFILL_INTERVAL" envDefault:"1m"`

	EventBusQueueSize int `env:"EVENTBUS_QUEUE_SIZE" envDefault:"4096"`
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.NodeID) == "" {
		hostname, _ := os.Hostname()
		c.NodeID = strings.TrimSpace(hostname)
	}
	if c.NodeID == "" {
		c.NodeID = "node-1"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = filepath.Join("tmp", "lotterynode", c.NodeID)
	}
	if len(c.ProvingKeys) == 0 {
		return errors.New("VRF_PROVING_KEYS is required")
	}
	if _, err := c.ProvingPublicKeys(); err != nil {
		return err
	}
	if c.KeyHash == "" {
		keys, _ := c.ProvingPublicKeys()
		c.KeyHash = protocol.KeyHash(keys[0])
	}
	if c.SubscriptionOwner == "" && len(c.Admins) > 0 {
		c.SubscriptionOwner = c.Admins[0]
	}
	if c.SubscriptionOwner == "" {
		return errors.New("VRF_SUBSCRIPTION_OWNER or LOTTERY_ADMINS is required")
	}
	if c.ReplayWindow <= c.MaxClockSkew {
		return fmt.Errorf("LOTTERY_REPLAY_WINDOW (%s) must exceed LOTTERY_MAX_CLOCK_SKEW (%s)", c.ReplayWindow, c.MaxClockSkew)
	}
	if c.EventRetention <= 0 {
		return errors.New("LOTTERY_EVENT_RETENTION must be positive")
	}
	c.Genesis = c.Genesis.UTC()
	return nil
}

// EnsureDataDir creates the raft data directory.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}

// ProvingPublicKeys decodes VRF_PROVING_KEYS (hex ed25519 public keys).
func (c *Config) ProvingPublicKeys() ([]ed25519.PublicKey, error) {
	out := make([]ed25519.PublicKey, 0, len(c.ProvingKeys))
	for _, raw := range c.ProvingKeys {
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			return nil, fmt.Errorf("proving key %q: %w", raw, err)
		}
		if len(b) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("proving key %q: expected %d bytes", raw, ed25519.PublicKeySize)
		}
		out = append(out, ed25519.PublicKey(b))
	}
	return out, nil
}

func (c *Config) LotteryParams() (state.Params, error) {
	fee, err := protocol.ParseAmount(c.EntryFee)
	if err != nil {
		return state.Params{}, fmt.Errorf("LOTTERY_ENTRY_FEE: %w", err)
	}
	return state.Params{
		Address:              c.LotteryAddress,
		Coordinator:          c.CoordinatorAddress,
		SubscriptionID:       c.SubscriptionID,
		KeyHash:              c.KeyHash,
		EntryFee:             fee,
		CallbackGasLimit:     c.CallbackGasLimit,
		Interval:             c.Interval,
		RequestConfirmations: c.RequestConfirmations,
		NumWords:             c.NumWords,
		EventRetention:       c.EventRetention,
	}, nil
}

func (c *Config) CoordinatorParams() (oracle.Params, error) {
	baseFee, err := protocol.ParseAmount(c.BaseFee)
	if err != nil {
		return oracle.Params{}, fmt.Errorf("VRF_BASE_FEE: %w", err)
	}
	gasPrice, err := protocol.ParseAmount(c.GasPriceLink)
	if err != nil {
		return oracle.Params{}, fmt.Errorf("VRF_GAS_PRICE_LINK: %w", err)
	}
	return oracle.Params{
		Address:        c.CoordinatorAddress,
		BaseFee:        baseFee,
		GasPriceLink:   gasPrice,
		EventRetention: c.EventRetention,
	}, nil
}

func (c *Config) SubscriptionFunding() (*uint256.Int, error) {
	if strings.TrimSpace(c.SubscriptionFund) == "" {
		return new(uint256.Int), nil
	}
	return protocol.ParseAmount(c.SubscriptionFund)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_PRETTY.
func (c *Config) NewLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if c.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("node_id", c.NodeID).Logger()
}
