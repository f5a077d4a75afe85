package oracle

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aman879/LotteryDaap/internal/clock"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

// PendingSource lists requests awaiting fulfillment.
type PendingSource interface {
	PendingRequests() []Request
}

// Submitter sends a signed transaction to the replicated ledger.
type Submitter interface {
	Submit(ctx context.Context, tx protocol.Tx) error
}

type ResponderConfig struct {
	Prover    *Prover
	Signer    ed25519.PrivateKey
	Source    PendingSource
	Submitter Submitter
	Clock     clock.Clock
	// PollInterval bounds how long a request can sit unnoticed.
	PollInterval time.Duration
	// ConfirmationDelay is waited per requested confirmation before
	// answering.
	ConfirmationDelay time.Duration
	// ResubmitAfter is how long to wait before retrying a request whose
	// fulfillment was submitted but is still pending.
	ResubmitAfter time.Duration
}

// Responder answers pending requests routed to its proving key by submitting
// VRF_FULFILL transactions.
type Responder struct {
	cfg    ResponderConfig
	logger zerolog.Logger
	wake   chan struct{}

	mu   sync.Mutex
	sent map[uint64]time.Time
}

func NewResponder(cfg ResponderConfig, logger zerolog.Logger) (*Responder, error) {
	if cfg.Prover == nil {
		return nil, errors.New("prover is required")
	}
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
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ResubmitAfter <= 0 {
		cfg.ResubmitAfter = 30 * time.Second
	}
	return &Responder{
		cfg:    cfg,
		logger: logger.With().Str("service", "vrf-responder").Str("key_hash", cfg.Prover.KeyHash()).Logger(),
		wake:   make(chan struct{}, 1),
		sent:   map[uint64]time.Time{},
	}, nil
}

// Wake schedules an immediate poll without blocking.
func (r *Responder) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	r.logger.Info().Dur("poll_interval", r.cfg.PollInterval).Msg("vrf responder started")
	for {
		r.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Poll submits fulfillments for every due request and returns how many
// were submitted.
func (r *Responder) Poll(ctx context.Context) int {
	now := r.cfg.Clock.Now()
	pending := r.cfg.Source.PendingRequests()
	live := make(map[uint64]struct{}, len(pending))
	submitted := 0
	for _, req := range pending {
		live[req.ID] = struct{}{}
		if !r.cfg.Prover.Owns(req) || !r.due(req, now) {
			continue
		}
		if err := r.fulfill(ctx, req, now); err != nil {
			r.logger.Warn().Err(err).Uint64("request_id", req.ID).Msg("submit fulfillment failed")
			continue
		}
		submitted++
	}
	r.forgetSettled(live)
	return submitted
}

func (r *Responder) due(req Request, now time.Time) bool {
	wait := time.Duration(req.Confirmations) * r.cfg.ConfirmationDelay
	if now.Sub(req.RequestedAt) < wait {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.sent[req.ID]
	return !ok || now.Sub(last) >= r.cfg.ResubmitAfter
}

func (r *Responder) fulfill(ctx context.Context, req Request, now time.Time) error {
	proof := r.cfg.Prover.Prove(req)
	tx, err := protocol.NewSignedTx(r.cfg.Signer, protocol.OpVRFFulfill, protocol.VRFFulfillPayload{
		RequestID: req.ID,
		Proof:     base64.StdEncoding.EncodeToString(proof),
	}, now)
	if err != nil {
		return err
	}
	if err := r.cfg.Submitter.Submit(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	r.sent[req.ID] = now
	r.mu.Unlock()
	r.logger.Info().Uint64("request_id", req.ID).Str("consumer", req.Consumer).Msg("fulfillment submitted")
	return nil
}

func (r *Responder) forgetSettled(live map[uint64]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.sent {
		if _, ok := live[id]; !ok {
			delete(r.sent, id)
		}
	}
}
