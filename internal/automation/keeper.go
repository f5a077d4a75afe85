package automation

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aman879/LotteryDaap/internal/clock"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
)

// ReadinessSource evaluates the lottery's readiness predicate.
type ReadinessSource interface {
	CheckReady(at time.Time) state.Readiness
	Interval() time.Duration
}

// Submitter sends a signed transaction to the replicated ledger.
type Submitter interface {
	Submit(ctx context.Context, tx protocol.Tx) error
}

type Config struct {
	Signer       ed25519.PrivateKey
	Source       ReadinessSource
	Submitter    Submitter
	Clock        clock.Clock
	PollInterval time.Duration
	Condition    *Condition
}

// Keeper polls readiness and submits TRIGGER transactions. Several keepers
// may race; the losers are refused with UpkeepNotNeeded.
type Keeper struct {
	cfg    Config
	logger zerolog.Logger
}

func NewKeeper(cfg Config, logger zerolog.Logger) (*Keeper, error) {
	if len(cfg.Signer) != ed25519.PrivateKeySize {
		return nil, errors.New("signer key is required")
	}
	if cfg.Source == nil || cfg.Submitter == nil {
		return nil, errors.New("source and submitter are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Keeper{
		cfg:    cfg,
		logger: logger.With().Str("service", "keeper").Str("address", protocol.AddressFromPublicKey(cfg.Signer.Public().(ed25519.PublicKey))).Logger(),
	}, nil
}

// Run ticks until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.cfg.PollInterval)
	defer ticker.Stop()
	k.logger.Info().Dur("poll_interval", k.cfg.PollInterval).Str("condition", k.cfg.Condition.String()).Msg("keeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick checks readiness once and reports whether a trigger was accepted.
func (k *Keeper) Tick(ctx context.Context) bool {
	now := k.cfg.Clock.Now()
	ready := k.cfg.Source.CheckReady(now)
	if !ready.Ready {
		k.logger.Debug().Str("failed", ready.Failed.String()).Msg("upkeep not needed")
		return false
	}
	ok, err := k.cfg.Condition.Holds(ready, k.cfg.Source.Interval().Seconds())
	if err != nil {
		k.logger.Warn().Err(err).Msg("keeper condition failed")
		return false
	}
	if !ok {
		k.logger.Debug().Int("players", ready.Players).Msg("keeper condition not met")
		return false
	}

	tx, err := protocol.NewSignedTx(k.cfg.Signer, protocol.OpLotteryTrigger, protocol.LotteryTriggerPayload{
		PerformData: hex.EncodeToString(ready.Failed.Bytes()),
	}, now)
	if err != nil {
		k.logger.Error().Err(err).Msg("build trigger")
		return false
	}
	if err := k.cfg.Submitter.Submit(ctx, tx); err != nil {
		if errors.Is(err, state.ErrUpkeepNotNeeded) {
			k.logger.Debug().Err(err).Str("tx_id", tx.TxID).Msg("trigger lost race")
			return false
		}
		k.logger.Warn().Err(err).Str("tx_id", tx.TxID).Msg("submit trigger failed")
		return false
	}
	k.logger.Info().Str("tx_id", tx.TxID).Int("players", ready.Players).Str("pot", ready.Pot.Dec()).Msg("round triggered")
	return true
}
