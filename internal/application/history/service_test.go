package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/aman879/LotteryDaap/internal/domain/history"
	"github.com/aman879/LotteryDaap/internal/domain/history/mocks"
	"github.com/aman879/LotteryDaap/internal/infrastructure/eventbus"
	"github.com/aman879/LotteryDaap/internal/lottery/app"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
)

var settledAt = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type staticSource []state.Event

func (s staticSource) EventsSince(seq uint64) []state.Event {
	var out []state.Event
	for _, ev := range s {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

func (s staticSource) OldestEventSeq() uint64 {
	if len(s) == 0 {
		return 0
	}
	return s[0].Seq
}

func winnerPicked(seq uint64) state.Event {
	idx := 1
	return state.Event{
		Seq:       seq,
		Type:      state.EventWinnerPicked,
		Round:     4,
		Winner:    "0x00000000000000000000000000000000000000b1",
		Index:     &idx,
		Amount:    "300",
		RequestID: 9,
		Players:   3,
		At:        settledAt,
	}
}

func TestRecordSettlementWritesRound(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())

	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec *history.EventRecord) error {
		assert.Equal(t, int64(12), rec.Seq)
		assert.Equal(t, "WinnerPicked", rec.Type)
		var ev state.Event
		require.NoError(t, json.Unmarshal(rec.Payload, &ev))
		assert.Equal(t, 3, ev.Players)
		return nil
	})
	var got *history.SettledRound
	repo.EXPECT().InsertRound(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r *history.SettledRound) error {
		got = r
		return nil
	})

	require.NoError(t, svc.Record(context.Background(), winnerPicked(12)))
	require.NotNil(t, got)
	assert.Equal(t, int64(4), got.Round)
	assert.Equal(t, "300", got.Pot)
	assert.Equal(t, int64(9), got.RequestID)
	assert.Equal(t, 3, got.Players)
	assert.Equal(t, settledAt, got.SettledAt)
}

func TestRecordEntryWritesOnlyEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())

	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).Return(nil)
	require.NoError(t, svc.Record(context.Background(), state.Event{Seq: 1, Type: state.EventEnteredRound, Round: 1}))
}

func TestRecordStopsOnEventFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())

	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).Return(errors.New("db down"))
	err := svc.Record(context.Background(), winnerPicked(2))
	assert.ErrorContains(t, err, "db down")
}

func TestBackfillResumesAfterLatestSeq(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())

	src := staticSource{
		{Seq: 1, Type: state.EventEnteredRound},
		{Seq: 2, Type: state.EventEnteredRound},
		{Seq: 3, Type: state.EventRoundCalculating},
		winnerPicked(4),
	}
	repo.EXPECT().ContiguousEventSeq(gomock.Any(), int64(0)).Return(int64(2), nil)
	var seqs []int64
	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).Times(2).DoAndReturn(func(_ context.Context, rec *history.EventRecord) error {
		seqs = append(seqs, rec.Seq)
		return nil
	})
	repo.EXPECT().InsertRound(gomock.Any(), gomock.Any()).Return(nil)

	n, err := svc.Backfill(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{3, 4}, seqs)
}

func TestBackfillRefillsGapBelowLatestSeq(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())

	// seq 2 failed to persist live while 3 and 4 landed; the repository
	// reports 1 as the last gap-free seq
	src := staticSource{
		{Seq: 1, Type: state.EventEnteredRound},
		{Seq: 2, Type: state.EventEnteredRound},
		{Seq: 3, Type: state.EventRoundCalculating},
		winnerPicked(4),
	}
	repo.EXPECT().ContiguousEventSeq(gomock.Any(), int64(0)).Return(int64(1), nil)
	var seqs []int64
	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).Times(3).DoAndReturn(func(_ context.Context, rec *history.EventRecord) error {
		seqs = append(seqs, rec.Seq)
		return nil
	})
	repo.EXPECT().InsertRound(gomock.Any(), gomock.Any()).Return(nil)

	n, err := svc.Backfill(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{2, 3, 4}, seqs)
}

func TestBackfillStartsAtRetainedLog(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())

	// seqs below 40 were trimmed from the log and never reached the repository
	src := staticSource{
		{Seq: 40, Type: state.EventEnteredRound},
		{Seq: 41, Type: state.EventRoundCalculating},
	}
	repo.EXPECT().ContiguousEventSeq(gomock.Any(), int64(39)).Return(int64(41), nil)

	n, err := svc.Backfill(context.Background(), src)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunBackfillStopsWithContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	repo.EXPECT().ContiguousEventSeq(gomock.Any(), gomock.Any()).MinTimes(1).DoAndReturn(func(context.Context, int64) (int64, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return 0, nil
	})

	done := make(chan struct{})
	go func() {
		svc.RunBackfill(ctx, staticSource{}, 5*time.Millisecond)
		close(done)
	}()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("backfill never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunBackfill did not return after cancel")
	}
}

func TestAttachRecordsBusEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())
	bus := eventbus.New(zerolog.Nop())
	require.NoError(t, svc.Attach(bus))

	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).Return(nil)
	repo.EXPECT().InsertRound(gomock.Any(), gomock.Any()).Return(nil)

	bus.PublishApplied(app.Result{TxID: "tx", LotteryEvents: []state.Event{winnerPicked(7)}})
	bus.WaitAsync()
}

func TestListRoundsClampsPaging(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())

	repo.EXPECT().ListRounds(gomock.Any(), defaultListLimit, 0).Return(nil, nil)
	repo.EXPECT().ListRounds(gomock.Any(), maxListLimit, 5).Return([]*history.SettledRound{{Round: 1}}, nil)

	_, err := svc.ListRounds(context.Background(), 0, -3)
	require.NoError(t, err)
	rounds, err := svc.ListRounds(context.Background(), 10000, 5)
	require.NoError(t, err)
	assert.Len(t, rounds, 1)
}
