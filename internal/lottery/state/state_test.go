package state_test

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/aman879/LotteryDaap/internal/lottery/state"
	"github.com/aman879/LotteryDaap/internal/lottery/state/mocks"
)

const (
	lotteryAddr     = "0x00000000000000000000000000000000000000aa"
	coordinatorAddr = "0x00000000000000000000000000000000000000cc"
	keyHash         = "0x1111111111111111111111111111111111111111111111111111111111111111"
	alice           = "0x000000000000000000000000000000000000000a"
	bob             = "0x000000000000000000000000000000000000000b"
	carol           = "0x000000000000000000000000000000000000000c"
)

var genesis = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	machine  *state.Machine
	oracle   *mocks.MockRandomnessOracle
	treasury *mocks.MockTreasury
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, tweak func(*state.Params)) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	oracle := mocks.NewMockRandomnessOracle(ctrl)
	treasury := mocks.NewMockTreasury(ctrl)
	params := state.Params{
		Address:          lotteryAddr,
		Coordinator:      coordinatorAddr,
		SubscriptionID:   1,
		KeyHash:          keyHash,
		EntryFee:         uint256.NewInt(1),
		CallbackGasLimit: 500000,
		Interval:         100 * time.Second,
	}
	if tweak != nil {
		tweak(&params)
	}
	m, err := state.NewMachine(params, oracle, treasury, genesis)
	require.NoError(t, err)
	return &fixture{machine: m, oracle: oracle, treasury: treasury}
}

func (f *fixture) enter(t *testing.T, who string, amount uint64, at time.Time) int {
	t.Helper()
	f.treasury.EXPECT().Collect(who, uint256.NewInt(amount)).Return(nil)
	idx, err := f.machine.Enter(who, uint256.NewInt(amount), at)
	require.NoError(t, err)
	return idx
}

func (f *fixture) trigger(t *testing.T, requestID uint64, at time.Time) {
	t.Helper()
	f.oracle.EXPECT().RequestRandomWords(state.RandomnessRequest{
		Consumer:         lotteryAddr,
		KeyHash:          keyHash,
		SubscriptionID:   1,
		Confirmations:    3,
		CallbackGasLimit: 500000,
		NumWords:         1,
	}).Return(requestID, nil)
	id, err := f.machine.Trigger(nil, at)
	require.NoError(t, err)
	require.Equal(t, requestID, id)
}

func TestNewMachineStartsOpen(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, state.RoundOpen, f.machine.State())
	assert.Equal(t, 0, f.machine.PlayerCount())
	assert.True(t, f.machine.Pot().IsZero())
	assert.Equal(t, genesis, f.machine.LastTimestamp())
	assert.Empty(t, f.machine.RecentWinner())
	assert.Equal(t, "1", f.machine.EntryFee().Dec())
	assert.Equal(t, 100*time.Second, f.machine.Interval())
	_, pending := f.machine.PendingRequestID()
	assert.False(t, pending)
}

func TestNewMachineRejectsBadParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	oracle := mocks.NewMockRandomnessOracle(ctrl)
	treasury := mocks.NewMockTreasury(ctrl)
	base := state.Params{
		Address:          lotteryAddr,
		Coordinator:      coordinatorAddr,
		KeyHash:          keyHash,
		EntryFee:         uint256.NewInt(1),
		CallbackGasLimit: 1,
		Interval:         time.Second,
	}

	p := base
	p.Interval = 0
	_, err := state.NewMachine(p, oracle, treasury, genesis)
	assert.Error(t, err)

	p = base
	p.EntryFee = nil
	_, err = state.NewMachine(p, oracle, treasury, genesis)
	assert.Error(t, err)

	p = base
	p.Coordinator = "not-an-address"
	_, err = state.NewMachine(p, oracle, treasury, genesis)
	assert.Error(t, err)

	_, err = state.NewMachine(base, nil, treasury, genesis)
	assert.Error(t, err)
}

func TestSingleEntrantWins(t *testing.T) {
	f := newFixture(t)
	idx := f.enter(t, alice, 1, genesis.Add(time.Second))
	assert.Equal(t, 0, idx)

	early := f.machine.CheckReady(genesis.Add(50 * time.Second))
	assert.False(t, early.Ready)
	assert.True(t, early.Failed.Has(state.DiagIntervalNotElapsed))

	ready := f.machine.CheckReady(genesis.Add(100 * time.Second))
	require.True(t, ready.Ready)
	assert.Equal(t, state.Diagnostic(0), ready.Failed)

	f.trigger(t, 1, genesis.Add(101*time.Second))
	assert.Equal(t, state.RoundCalculating, f.machine.State())
	pending, ok := f.machine.PendingRequestID()
	require.True(t, ok)
	assert.Equal(t, uint64(1), pending)

	settledAt := genesis.Add(110 * time.Second)
	f.treasury.EXPECT().Pay(alice, uint256.NewInt(1)).Return(nil)
	err := f.machine.FulfillRandomness(coordinatorAddr, 1, []*uint256.Int{uint256.NewInt(7)}, settledAt)
	require.NoError(t, err)

	assert.Equal(t, state.RoundOpen, f.machine.State())
	assert.Equal(t, alice, f.machine.RecentWinner())
	assert.Equal(t, 0, f.machine.PlayerCount())
	assert.True(t, f.machine.Pot().IsZero())
	assert.Equal(t, settledAt, f.machine.LastTimestamp())
	assert.Equal(t, uint64(2), f.machine.View().Round)

	events := f.machine.ListEvents(10, 0)
	require.Len(t, events, 3)
	picked := events[0]
	assert.Equal(t, state.EventWinnerPicked, picked.Type)
	assert.Equal(t, alice, picked.Winner)
	assert.Equal(t, uint64(1), picked.Round)
	assert.Equal(t, "1", picked.Amount)
	assert.Equal(t, 1, picked.Players)
	require.NotNil(t, picked.Index)
	assert.Equal(t, 0, *picked.Index)
}

func TestThreeEntrantsPickByModulo(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 0, f.enter(t, alice, 1, genesis.Add(1*time.Second)))
	assert.Equal(t, 1, f.enter(t, bob, 1, genesis.Add(2*time.Second)))
	assert.Equal(t, 2, f.enter(t, carol, 1, genesis.Add(3*time.Second)))

	player, err := f.machine.PlayerAt(1)
	require.NoError(t, err)
	assert.Equal(t, bob, player)
	assert.Equal(t, "3", f.machine.Pot().Dec())

	f.trigger(t, 9, genesis.Add(200*time.Second))
	f.treasury.EXPECT().Pay(carol, uint256.NewInt(3)).Return(nil)
	require.NoError(t, f.machine.FulfillRandomness(coordinatorAddr, 9, []*uint256.Int{uint256.NewInt(5)}, genesis.Add(201*time.Second)))
	assert.Equal(t, carol, f.machine.RecentWinner())
}

func TestSameParticipantMayEnterTwice(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)
	idx := f.enter(t, alice, 2, genesis)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 2, f.machine.PlayerCount())
	assert.Equal(t, "3", f.machine.Pot().Dec())
}

func TestEnterRejectsUnderpayment(t *testing.T) {
	ctrl := gomock.NewController(t)
	treasury := mocks.NewMockTreasury(ctrl)
	m, err := state.NewMachine(state.Params{
		Address:          lotteryAddr,
		Coordinator:      coordinatorAddr,
		KeyHash:          keyHash,
		EntryFee:         uint256.NewInt(10),
		CallbackGasLimit: 1,
		Interval:         time.Second,
	}, mocks.NewMockRandomnessOracle(ctrl), treasury, genesis)
	require.NoError(t, err)

	_, err = m.Enter(alice, uint256.NewInt(9), genesis)
	assert.ErrorIs(t, err, state.ErrNotEnoughPaid)
	assert.Equal(t, 0, m.PlayerCount())
	assert.Empty(t, m.ListEvents(10, 0))
}

func TestEnterRejectedWhileCalculating(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)
	f.trigger(t, 1, genesis.Add(100*time.Second))

	_, err := f.machine.Enter(bob, uint256.NewInt(1), genesis.Add(101*time.Second))
	assert.ErrorIs(t, err, state.ErrRoundNotOpen)
	assert.Equal(t, 1, f.machine.PlayerCount())
}

func TestEnterLeavesStateUntouchedWhenCollectFails(t *testing.T) {
	f := newFixture(t)
	f.treasury.EXPECT().Collect(alice, gomock.Any()).Return(errors.New("insufficient balance"))
	_, err := f.machine.Enter(alice, uint256.NewInt(1), genesis)
	require.Error(t, err)
	assert.Equal(t, 0, f.machine.PlayerCount())
	assert.True(t, f.machine.Pot().IsZero())
}

func TestCheckReadyDiagnostics(t *testing.T) {
	f := newFixture(t)
	r := f.machine.CheckReady(genesis)
	assert.False(t, r.Ready)
	assert.True(t, r.Failed.Has(state.DiagIntervalNotElapsed))
	assert.True(t, r.Failed.Has(state.DiagNoParticipants))
	assert.True(t, r.Failed.Has(state.DiagEmptyPot))
	assert.False(t, r.Failed.Has(state.DiagNotOpen))
	assert.Equal(t, "INTERVAL_NOT_ELAPSED|NO_PARTICIPANTS|EMPTY_POT", r.Failed.String())

	r = f.machine.CheckReady(genesis.Add(time.Hour))
	assert.Equal(t, []string{"NO_PARTICIPANTS", "EMPTY_POT"}, r.Failed.Names())

	f.enter(t, alice, 1, genesis)
	f.trigger(t, 4, genesis.Add(time.Hour))
	r = f.machine.CheckReady(genesis.Add(2 * time.Hour))
	assert.False(t, r.Ready)
	assert.True(t, r.Failed.Has(state.DiagNotOpen))
}

func TestTriggerRefusedWhenNotReady(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)

	_, err := f.machine.Trigger([]byte("stale hint"), genesis.Add(10*time.Second))
	require.ErrorIs(t, err, state.ErrUpkeepNotNeeded)
	var notNeeded *state.UpkeepNotNeededError
	require.ErrorAs(t, err, &notNeeded)
	assert.Equal(t, "1", notNeeded.Pot)
	assert.Equal(t, 1, notNeeded.Players)
	assert.Equal(t, state.RoundOpen, notNeeded.State)
	assert.Equal(t, state.RoundOpen, f.machine.State())
}

func TestSecondTriggerIsRefused(t *testing.T) {
	tests := []struct {
		name   string
		second time.Time
	}{
		{name: "back to back", second: genesis.Add(time.Hour)},
		{name: "interval elapsed again while calculating", second: genesis.Add(3 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.enter(t, alice, 1, genesis)
			f.enter(t, bob, 1, genesis)
			f.oracle.EXPECT().RequestRandomWords(gomock.Any()).Return(uint64(11), nil).Times(1)

			id, err := f.machine.Trigger(nil, genesis.Add(time.Hour))
			require.NoError(t, err)
			require.Equal(t, uint64(11), id)
			round := f.machine.RoundNumber()
			events := f.machine.LastEventSeq()

			_, err = f.machine.Trigger(nil, tt.second)
			var notNeeded *state.UpkeepNotNeededError
			require.ErrorAs(t, err, &notNeeded)
			assert.True(t, notNeeded.Failed.Has(state.DiagNotOpen))
			assert.Equal(t, state.RoundCalculating, notNeeded.State)

			pending, ok := f.machine.PendingRequestID()
			require.True(t, ok)
			assert.Equal(t, uint64(11), pending)
			assert.Equal(t, 2, f.machine.PlayerCount())
			assert.Equal(t, round, f.machine.RoundNumber())
			assert.Equal(t, events, f.machine.LastEventSeq())
		})
	}
}

func TestTriggerPropagatesOracleFailure(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)
	f.oracle.EXPECT().RequestRandomWords(gomock.Any()).Return(uint64(0), errors.New("subscription not funded"))

	_, err := f.machine.Trigger(nil, genesis.Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, state.RoundOpen, f.machine.State())
	_, pending := f.machine.PendingRequestID()
	assert.False(t, pending)
}

func TestFulfillRejectsUnauthorizedCaller(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)
	f.trigger(t, 1, genesis.Add(time.Hour))

	err := f.machine.FulfillRandomness(alice, 1, []*uint256.Int{uint256.NewInt(1)}, genesis.Add(time.Hour))
	assert.ErrorIs(t, err, state.ErrUnauthorizedCaller)
	assert.Equal(t, state.RoundCalculating, f.machine.State())
}

func TestFulfillRejectsStaleRequest(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)
	f.trigger(t, 2, genesis.Add(time.Hour))

	err := f.machine.FulfillRandomness(coordinatorAddr, 1, []*uint256.Int{uint256.NewInt(1)}, genesis.Add(time.Hour))
	assert.ErrorIs(t, err, state.ErrUnknownOrStaleRequest)
	assert.Equal(t, state.RoundCalculating, f.machine.State())

	err = f.machine.FulfillRandomness(coordinatorAddr, 2, nil, genesis.Add(time.Hour))
	assert.ErrorIs(t, err, state.ErrNoRandomWords)
}

func TestReplayedFulfillmentIsRejected(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)
	f.trigger(t, 1, genesis.Add(time.Hour))
	f.treasury.EXPECT().Pay(alice, gomock.Any()).Return(nil).Times(1)

	words := []*uint256.Int{uint256.NewInt(3)}
	require.NoError(t, f.machine.FulfillRandomness(coordinatorAddr, 1, words, genesis.Add(time.Hour)))
	seq := f.machine.LastEventSeq()

	err := f.machine.FulfillRandomness(coordinatorAddr, 1, words, genesis.Add(2*time.Hour))
	assert.ErrorIs(t, err, state.ErrUnknownOrStaleRequest)
	assert.Equal(t, seq, f.machine.LastEventSeq())
	assert.Equal(t, state.RoundOpen, f.machine.State())
}

func TestPayoutFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)
	f.enter(t, bob, 1, genesis)
	f.trigger(t, 1, genesis.Add(time.Hour))
	f.treasury.EXPECT().Pay(bob, uint256.NewInt(2)).Return(errors.New("payment refused"))

	err := f.machine.FulfillRandomness(coordinatorAddr, 1, []*uint256.Int{uint256.NewInt(1)}, genesis.Add(time.Hour))
	require.ErrorIs(t, err, state.ErrPayoutFailed)
	var payout *state.PayoutFailedError
	require.ErrorAs(t, err, &payout)
	assert.Equal(t, bob, payout.Winner)
	assert.Equal(t, "2", payout.Amount)

	assert.Equal(t, state.RoundCalculating, f.machine.State())
	assert.Equal(t, 2, f.machine.PlayerCount())
	assert.Equal(t, "2", f.machine.Pot().Dec())
	assert.Empty(t, f.machine.RecentWinner())
	id, ok := f.machine.PendingRequestID()
	require.True(t, ok)
	assert.Equal(t, uint64(1), id)
}

func TestPlayerAtOutOfRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.PlayerAt(0)
	assert.ErrorIs(t, err, state.ErrIndexOutOfRange)
	f.enter(t, alice, 1, genesis)
	_, err = f.machine.PlayerAt(-1)
	assert.ErrorIs(t, err, state.ErrIndexOutOfRange)
	_, err = f.machine.PlayerAt(1)
	assert.ErrorIs(t, err, state.ErrIndexOutOfRange)
}

func TestEventsSinceAndPaging(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)
	f.enter(t, bob, 1, genesis)
	f.enter(t, carol, 1, genesis)

	since := f.machine.EventsSince(1)
	require.Len(t, since, 2)
	assert.Equal(t, bob, since[0].Participant)
	assert.Equal(t, carol, since[1].Participant)

	page := f.machine.ListEvents(1, 1)
	require.Len(t, page, 1)
	assert.Equal(t, bob, page[0].Participant)
	assert.Empty(t, f.machine.ListEvents(10, 5))
}

func TestSnapshotRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.enter(t, alice, 1, genesis)
	f.enter(t, bob, 4, genesis.Add(time.Second))
	f.trigger(t, 7, genesis.Add(time.Hour))

	data, err := f.machine.Marshal()
	require.NoError(t, err)

	restored := newFixture(t)
	require.NoError(t, restored.machine.Unmarshal(data))
	assert.Equal(t, f.machine.View(), restored.machine.View())
	assert.Equal(t, f.machine.ListEvents(10, 0), restored.machine.ListEvents(10, 0))

	restored.treasury.EXPECT().Pay(bob, uint256.NewInt(5)).Return(nil)
	require.NoError(t, restored.machine.FulfillRandomness(coordinatorAddr, 7, []*uint256.Int{uint256.NewInt(1)}, genesis.Add(2*time.Hour)))
	assert.Equal(t, bob, restored.machine.RecentWinner())
}

func TestUnmarshalRejectsInconsistentSnapshot(t *testing.T) {
	f := newFixture(t)
	err := f.machine.Unmarshal([]byte(`{"number":1,"state":"CALCULATING","participants":[],"pot":"0","events":[]}`))
	assert.Error(t, err)
	assert.Error(t, f.machine.Unmarshal(nil))
}

func TestEventLogKeepsNewestEntries(t *testing.T) {
	retain := func(p *state.Params) { p.EventRetention = 2 }
	f := newFixtureWith(t, retain)
	f.enter(t, alice, 1, genesis)
	f.enter(t, bob, 1, genesis)
	f.enter(t, carol, 1, genesis)

	since := f.machine.EventsSince(0)
	require.Len(t, since, 2)
	assert.Equal(t, uint64(2), since[0].Seq)
	assert.Equal(t, uint64(3), since[1].Seq)
	assert.Equal(t, uint64(2), f.machine.OldestEventSeq())
	assert.Equal(t, uint64(3), f.machine.LastEventSeq())

	data, err := f.machine.Marshal()
	require.NoError(t, err)
	restored := newFixtureWith(t, retain)
	require.NoError(t, restored.machine.Unmarshal(data))
	restored.enter(t, alice, 1, genesis)
	assert.Equal(t, uint64(4), restored.machine.LastEventSeq())
	assert.Equal(t, uint64(3), restored.machine.OldestEventSeq())
}

func TestUnmarshalDerivesNextSeqFromNewestEvent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.machine.Unmarshal([]byte(`{"number":2,"state":"OPEN","participants":[],"pot":"0",`+
		`"events":[{"seq":5,"type":"EnteredRound"},{"seq":6,"type":"EnteredRound"}]}`)))
	assert.Equal(t, uint64(6), f.machine.LastEventSeq())
	assert.Equal(t, uint64(5), f.machine.OldestEventSeq())
}

func TestPrepareRestoreWaitsForCommit(t *testing.T) {
	src := newFixture(t)
	src.enter(t, alice, 1, genesis)
	data, err := src.machine.Marshal()
	require.NoError(t, err)

	f := newFixture(t)
	commit, err := f.machine.PrepareRestore(data)
	require.NoError(t, err)
	assert.Equal(t, 0, f.machine.PlayerCount())

	commit()
	assert.Equal(t, 1, f.machine.PlayerCount())

	_, err = f.machine.PrepareRestore([]byte(`{"number":1,"state":"OPEN","pot":"x"}`))
	assert.Error(t, err)
	assert.Equal(t, 1, f.machine.PlayerCount())
}
