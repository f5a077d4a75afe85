package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aman879/LotteryDaap/internal/domain/history"
	"github.com/aman879/LotteryDaap/internal/infrastructure/eventbus"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	writeTimeout     = 5 * time.Second
)

// EventSource is the replicated lottery event log. Old entries may have
// been trimmed; OldestEventSeq is the first one still held.
type EventSource interface {
	EventsSince(seq uint64) []state.Event
	OldestEventSeq() uint64
}

// Service projects lottery events into the history repository.
type Service struct {
	repo   history.Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a history service.
func NewService(repo history.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "history").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record persists ev and, for a settlement, the settled round.
func (s *Service) Record(ctx context.Context, ev state.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.repo.InsertEvent(ctx, &history.EventRecord{
		ID:        uuid.New(),
		Seq:       int64(ev.Seq),
		Type:      string(ev.Type),
		Round:     int64(ev.Round),
		Payload:   payload,
		At:        ev.At,
		CreatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Seq, err)
	}
	if ev.Type != state.EventWinnerPicked {
		return nil
	}
	if err := s.repo.InsertRound(ctx, &history.SettledRound{
		ID:        uuid.New(),
		Round:     int64(ev.Round),
		Winner:    ev.Winner,
		Pot:       ev.Amount,
		RequestID: int64(ev.RequestID),
		Players:   ev.Players,
		EventSeq:  int64(ev.Seq),
		SettledAt: ev.At,
	}); err != nil {
		return fmt.Errorf("insert round %d: %w", ev.Round, err)
	}
	return nil
}

// Backfill records every event in src after the last gap-free seq in the
// repository. Events already stored past a gap are rewritten as no-ops;
// gaps older than the retained log cannot be filled and are skipped.
func (s *Service) Backfill(ctx context.Context, src EventSource) (int, error) {
	floor := int64(0)
	if oldest := src.OldestEventSeq(); oldest > 1 {
		floor = int64(oldest) - 1
	}
	last, err := s.repo.ContiguousEventSeq(ctx, floor)
	if err != nil {
		return 0, fmt.Errorf("contiguous event seq: %w", err)
	}
	n := 0
	for _, ev := range src.EventsSince(uint64(last)) {
		if err := s.Record(ctx, ev); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Info().Int("events", n).Int64("from_seq", last).Msg("history backfilled")
	}
	return n, nil
}

// RunBackfill repeats Backfill every interval until ctx is done, so rows
// lost to a failed live write are refilled without a restart.
func (s *Service) RunBackfill(ctx context.Context, src EventSource, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Backfill(ctx, src); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("history backfill failed")
			}
		}
	}
}

// Attach records lottery events as they are applied.
func (s *Service) Attach(bus *eventbus.Bus) error {
	return bus.OnLotteryEvent(func(ev state.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.Record(ctx, ev); err != nil {
			s.logger.Error().Err(err).Uint64("seq", ev.Seq).Str("type", string(ev.Type)).Msg("record event")
		}
	})
}

// ListRounds returns settled rounds, newest first.
func (s *Service) ListRounds(ctx context.Context, limit, offset int) ([]*history.SettledRound, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListRounds(ctx, limit, offset)
}

func (s *Service) GetRound(ctx context.Context, round int64) (*history.SettledRound, error) {
	return s.repo.GetRound(ctx, round)
}
