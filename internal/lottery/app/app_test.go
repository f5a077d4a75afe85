package app

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
	"github.com/aman879/LotteryDaap/internal/oracle"
)

const (
	lotteryAddr     = "0x00000000000000000000000000000000000000aa"
	coordinatorAddr = "0x00000000000000000000000000000000000000cc"
	subOwner        = "0x00000000000000000000000000000000000000dd"
)

var genesis = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	app    *App
	admin  ed25519.PrivateKey
	prover *oracle.Prover
	keeper ed25519.PrivateKey
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func addr(priv ed25519.PrivateKey) string {
	return protocol.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, 0)
}

func newHarnessWith(t *testing.T, replayWindow time.Duration) *harness {
	t.Helper()
	admin := newKey(t)
	proving := newKey(t)
	prover, err := oracle.NewProver(proving)
	require.NoError(t, err)
	fund, err := uint256.FromDecimal("100000000000000000000")
	require.NoError(t, err)

	a, err := New(Config{
		Lottery: state.Params{
			Address:          lotteryAddr,
			KeyHash:          prover.KeyHash(),
			EntryFee:         uint256.NewInt(10),
			CallbackGasLimit: 500000,
			Interval:         100 * time.Second,
		},
		Coordinator: oracle.DefaultParams(coordinatorAddr),
		Admins:      []string{addr(admin)},
		Genesis:     genesis,
		Bootstrap: &Bootstrap{
			ProvingKeys:       []ed25519.PublicKey{prover.PublicKey()},
			SubscriptionOwner: subOwner,
			SubscriptionFund:  fund,
		},
		ReplayWindow: replayWindow,
	})
	require.NoError(t, err)
	return &harness{app: a, admin: admin, prover: prover, keeper: newKey(t)}
}

func (h *harness) apply(t *testing.T, priv ed25519.PrivateKey, op protocol.Operation, payload any, at time.Time) Result {
	t.Helper()
	tx, err := protocol.NewSignedTx(priv, op, payload, at)
	require.NoError(t, err)
	res, err := h.app.ApplyTx(tx)
	require.NoError(t, err)
	return res
}

func (h *harness) tryApply(t *testing.T, priv ed25519.PrivateKey, op protocol.Operation, payload any, at time.Time) error {
	t.Helper()
	tx, err := protocol.NewSignedTx(priv, op, payload, at)
	require.NoError(t, err)
	_, err = h.app.ApplyTx(tx)
	return err
}

func (h *harness) fundPlayer(t *testing.T, player ed25519.PrivateKey, amount string) {
	t.Helper()
	h.apply(t, h.admin, protocol.OpAccountDeposit, protocol.AccountDepositPayload{To: addr(player), Amount: amount}, genesis)
}

func (h *harness) fulfill(t *testing.T, requestID uint64, at time.Time) Result {
	t.Helper()
	req, ok := h.app.Coordinator().Request(requestID)
	require.True(t, ok)
	return h.apply(t, h.keeper, protocol.OpVRFFulfill, protocol.VRFFulfillPayload{
		RequestID: requestID,
		Proof:     base64.StdEncoding.EncodeToString(h.prover.Prove(req)),
	}, at)
}

func TestFullRoundPaysWinner(t *testing.T) {
	h := newHarness(t)
	alice, bob := newKey(t), newKey(t)
	h.fundPlayer(t, alice, "10")
	h.fundPlayer(t, bob, "15")

	res := h.apply(t, alice, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: "10"}, genesis.Add(time.Second))
	require.NotNil(t, res.Index)
	assert.Equal(t, 0, *res.Index)
	require.Len(t, res.LotteryEvents, 1)
	assert.Equal(t, state.EventEnteredRound, res.LotteryEvents[0].Type)

	// overpayment is kept in the pot
	h.apply(t, bob, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: "15"}, genesis.Add(2*time.Second))
	assert.Equal(t, "25", h.app.Machine().Pot().Dec())
	assert.Equal(t, "25", h.app.Ledger().Balance(lotteryAddr).Dec())

	err := h.tryApply(t, h.keeper, protocol.OpLotteryTrigger, protocol.LotteryTriggerPayload{}, genesis.Add(50*time.Second))
	assert.ErrorIs(t, err, state.ErrUpkeepNotNeeded)

	trig := h.apply(t, h.keeper, protocol.OpLotteryTrigger, protocol.LotteryTriggerPayload{PerformData: "0x00"}, genesis.Add(100*time.Second))
	assert.Equal(t, uint64(1), trig.RequestID)
	require.Len(t, trig.OracleEvents, 1)
	assert.Equal(t, oracle.EventRandomWordsRequested, trig.OracleEvents[0].Type)

	fin := h.fulfill(t, trig.RequestID, genesis.Add(110*time.Second))
	assert.Empty(t, fin.CallbackError)
	require.Len(t, fin.LotteryEvents, 1)
	picked := fin.LotteryEvents[0]
	assert.Equal(t, state.EventWinnerPicked, picked.Type)

	winner := picked.Winner
	assert.Contains(t, []string{addr(alice), addr(bob)}, winner)
	assert.Equal(t, "25", h.app.Ledger().Balance(winner).Dec())
	assert.True(t, h.app.Ledger().Balance(lotteryAddr).IsZero())
	assert.Equal(t, state.RoundOpen, h.app.Machine().State())
	assert.Equal(t, genesis.Add(110*time.Second), h.app.Machine().LastTimestamp())
}

func TestPayoutFailureKeepsRoundCalculating(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	h.fundPlayer(t, alice, "10")
	h.apply(t, alice, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: "10"}, genesis)
	h.apply(t, alice, protocol.OpAccountConfigure, protocol.AccountConfigurePayload{AcceptPayments: false}, genesis)

	trig := h.apply(t, h.keeper, protocol.OpLotteryTrigger, protocol.LotteryTriggerPayload{}, genesis.Add(time.Hour))
	fin := h.fulfill(t, trig.RequestID, genesis.Add(time.Hour))

	assert.True(t, fin.PayoutFailed)
	assert.NotEmpty(t, fin.CallbackError)
	assert.Empty(t, fin.LotteryEvents)
	assert.Equal(t, state.RoundCalculating, h.app.Machine().State())
	assert.Equal(t, "10", h.app.Machine().Pot().Dec())
	assert.Equal(t, "10", h.app.Ledger().Balance(lotteryAddr).Dec())

	// the coordinator consumed the request and will not deliver again
	_, ok := h.app.Coordinator().Request(trig.RequestID)
	assert.False(t, ok)
}

func TestReplayedTxIsNoOp(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	h.fundPlayer(t, alice, "30")

	tx, err := protocol.NewSignedTx(alice, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: "10"}, genesis)
	require.NoError(t, err)
	first, err := h.app.ApplyTx(tx)
	require.NoError(t, err)
	again, err := h.app.ApplyTx(tx)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, h.app.Machine().PlayerCount())
	assert.Equal(t, "20", h.app.Ledger().Balance(addr(alice)).Dec())
	assert.True(t, h.app.IsApplied(tx.TxID))
}

func TestBlockTimeNeverMovesBackwards(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	h.fundPlayer(t, alice, "20")

	h.apply(t, alice, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: "10"}, genesis.Add(time.Minute))
	res := h.apply(t, alice, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: "10"}, genesis)
	assert.Equal(t, genesis.Add(time.Minute), res.BlockTime)
	assert.Equal(t, genesis.Add(time.Minute), h.app.Status().BlockTime)
}

func TestUnderpaidEntryRejectedWithoutCharge(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	h.fundPlayer(t, alice, "10")

	err := h.tryApply(t, alice, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: "9"}, genesis)
	assert.ErrorIs(t, err, state.ErrNotEnoughPaid)
	assert.Equal(t, "10", h.app.Ledger().Balance(addr(alice)).Dec())
	assert.Equal(t, uint64(1), h.app.Status().Height)
}

func TestEntryWithoutFundsRejected(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	err := h.tryApply(t, alice, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: "10"}, genesis)
	assert.Error(t, err)
	assert.Equal(t, 0, h.app.Machine().PlayerCount())
}

func TestDepositRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	mallory := newKey(t)
	err := h.tryApply(t, mallory, protocol.OpAccountDeposit, protocol.AccountDepositPayload{To: addr(mallory), Amount: "1"}, genesis)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSubscriptionLifecycleThroughTxs(t *testing.T) {
	h := newHarness(t)
	owner := newKey(t)
	h.fundPlayer(t, owner, "1000")

	created := h.apply(t, owner, protocol.OpVRFSubCreate, protocol.VRFSubCreatePayload{}, genesis)
	assert.Equal(t, uint64(2), created.SubscriptionID)

	h.apply(t, owner, protocol.OpVRFSubFund, protocol.VRFSubFundPayload{SubID: 2, Amount: "400"}, genesis)
	assert.Equal(t, "600", h.app.Ledger().Balance(addr(owner)).Dec())
	sub, err := h.app.Coordinator().Subscription(2)
	require.NoError(t, err)
	assert.Equal(t, "400", sub.Balance)

	h.apply(t, owner, protocol.OpVRFConsumerAdd, protocol.VRFConsumerAddPayload{SubID: 2, Consumer: lotteryAddr}, genesis)
	h.apply(t, owner, protocol.OpVRFConsumerDel, protocol.VRFConsumerPayload{SubID: 2, Consumer: lotteryAddr}, genesis)

	err = h.tryApply(t, owner, protocol.OpVRFSubFund, protocol.VRFSubFundPayload{SubID: 9, Amount: "1"}, genesis)
	assert.ErrorIs(t, err, oracle.ErrInvalidSubscription)
	assert.Equal(t, "600", h.app.Ledger().Balance(addr(owner)).Dec())
}

func TestKeyRegisterRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	pub := newKey(t).Public().(ed25519.PublicKey)
	payload := protocol.VRFKeyRegisterPayload{PublicKey: base64.StdEncoding.EncodeToString(pub)}

	err := h.tryApply(t, h.keeper, protocol.OpVRFKeyRegister, payload, genesis)
	assert.ErrorIs(t, err, ErrUnauthorized)

	res := h.apply(t, h.admin, protocol.OpVRFKeyRegister, payload, genesis)
	assert.Equal(t, protocol.KeyHash(pub), res.KeyHash)
}

func TestAppSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	h.fundPlayer(t, alice, "10")
	h.apply(t, alice, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: "10"}, genesis)
	trig := h.apply(t, h.keeper, protocol.OpLotteryTrigger, protocol.LotteryTriggerPayload{}, genesis.Add(time.Hour))

	data, err := h.app.Marshal()
	require.NoError(t, err)

	restored := newHarness(t)
	restored.prover = h.prover
	require.NoError(t, restored.app.Unmarshal(data))
	assert.Equal(t, h.app.Status(), restored.app.Status())
	assert.Equal(t, h.app.Machine().View(), restored.app.Machine().View())

	fin := restored.fulfill(t, trig.RequestID, genesis.Add(2*time.Hour))
	require.Len(t, fin.LotteryEvents, 1)
	assert.Equal(t, addr(alice), fin.LotteryEvents[0].Winner)
	assert.Equal(t, "10", restored.app.Ledger().Balance(addr(alice)).Dec())
}

func TestTxOutsideReplayWindowIsRejected(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	h.apply(t, h.admin, protocol.OpAccountDeposit, protocol.AccountDepositPayload{To: addr(alice), Amount: "5"}, genesis.Add(25*time.Hour))

	err := h.tryApply(t, h.admin, protocol.OpAccountDeposit, protocol.AccountDepositPayload{To: addr(alice), Amount: "5"}, genesis)
	assert.ErrorIs(t, err, ErrTxExpired)
	assert.Equal(t, "5", h.app.Ledger().Balance(addr(alice)).Dec())
	assert.Equal(t, uint64(1), h.app.Status().Height)

	// inside the window the block time still wins
	res := h.apply(t, h.admin, protocol.OpAccountDeposit, protocol.AccountDepositPayload{To: addr(alice), Amount: "5"}, genesis.Add(2*time.Hour))
	assert.Equal(t, genesis.Add(25*time.Hour), res.BlockTime)
}

func TestAppliedIDsArePrunedPastWindow(t *testing.T) {
	h := newHarnessWith(t, time.Hour)
	alice := newKey(t)

	old, err := protocol.NewSignedTx(h.admin, protocol.OpAccountDeposit, protocol.AccountDepositPayload{To: addr(alice), Amount: "1"}, genesis)
	require.NoError(t, err)
	_, err = h.app.ApplyTx(old)
	require.NoError(t, err)

	later := genesis.Add(2 * time.Hour)
	for i := 1; i < pruneEvery; i++ {
		h.apply(t, h.admin, protocol.OpAccountDeposit, protocol.AccountDepositPayload{To: addr(alice), Amount: "1"}, later.Add(time.Duration(i)*time.Millisecond))
	}
	require.Equal(t, uint64(pruneEvery), h.app.Status().Height)
	assert.False(t, h.app.IsApplied(old.TxID))
	assert.Equal(t, pruneEvery-1, h.app.Status().AppliedTx)

	// a forgotten id cannot be applied a second time
	_, err = h.app.ApplyTx(old)
	assert.ErrorIs(t, err, ErrTxExpired)
	assert.Equal(t, "256", h.app.Ledger().Balance(addr(alice)).Dec())
}

func TestUnmarshalLeavesAppUntouchedOnBadSection(t *testing.T) {
	src := newHarness(t)
	bob := newKey(t)
	src.fundPlayer(t, bob, "40")
	data, err := src.app.Marshal()
	require.NoError(t, err)

	var snap map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &snap))
	snap["coordinator"] = json.RawMessage(`{"keys":["0xzz"]}`)
	corrupt, err := json.Marshal(snap)
	require.NoError(t, err)

	h := newHarness(t)
	alice := newKey(t)
	h.fundPlayer(t, alice, "10")
	before := h.app.Status()

	require.Error(t, h.app.Unmarshal(corrupt))
	assert.Equal(t, "10", h.app.Ledger().Balance(addr(alice)).Dec())
	assert.True(t, h.app.Ledger().Balance(addr(bob)).IsZero())
	assert.Equal(t, before, h.app.Status())
}

func TestSnapshotKeepsReplayProtection(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	tx, err := protocol.NewSignedTx(h.admin, protocol.OpAccountDeposit, protocol.AccountDepositPayload{To: addr(alice), Amount: "3"}, genesis)
	require.NoError(t, err)
	_, err = h.app.ApplyTx(tx)
	require.NoError(t, err)
	data, err := h.app.Marshal()
	require.NoError(t, err)

	restored := newHarness(t)
	require.NoError(t, restored.app.Unmarshal(data))
	res, err := restored.app.ApplyTx(tx)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "3", restored.app.Ledger().Balance(addr(alice)).Dec())
}
