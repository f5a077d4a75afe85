package app

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/aman879/LotteryDaap/internal/lottery/bank"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
	"github.com/aman879/LotteryDaap/internal/oracle"
)

var (
	ErrUnauthorized = errors.New("actor is not authorized for this operation")
	// ErrTxExpired rejects txs stamped before the replay window; their ids may
	// no longer be remembered.
	ErrTxExpired = errors.New("tx timestamp is outside the replay window")
)

// DefaultReplayWindow applies when Config.ReplayWindow is unset.
const DefaultReplayWindow = 24 * time.Hour

// pruneEvery is the height interval at which expired tx ids are forgotten.
const pruneEvery = 256

// Bootstrap provisions the oracle side at genesis so the lottery can request
// randomness from its first round.
type Bootstrap struct {
	ProvingKeys       []ed25519.PublicKey
	SubscriptionOwner string
	SubscriptionFund  *uint256.Int
}

type Config struct {
	Lottery     state.Params
	Coordinator oracle.Params
	// Admins may mint balances and register proving keys.
	Admins    []string
	Genesis   time.Time
	Bootstrap *Bootstrap
	// ReplayWindow bounds how far behind block time a tx timestamp may be.
	// Applied tx ids are kept only that long.
	ReplayWindow time.Duration
}

// App is the replicated application: ledger, coordinator and lottery
// advanced together by signed transactions.
type App struct {
	mu          sync.Mutex
	ledger      *bank.Ledger
	coordinator *oracle.Coordinator
	machine     *state.Machine
	admins      map[string]struct{}
	applied     map[string]time.Time // tx id to tx timestamp
	window      time.Duration
	blockTime   time.Time
	txTime      time.Time
	height      uint64
}

// Result describes the effects of one applied transaction.
type Result struct {
	TxID           string             `json:"txId"`
	Op             protocol.Operation `json:"op"`
	Actor          string             `json:"actor"`
	Height         uint64             `json:"height"`
	BlockTime      time.Time          `json:"blockTime"`
	Replayed       bool               `json:"replayed,omitempty"`
	Index          *int               `json:"index,omitempty"`
	RequestID      uint64             `json:"requestId,omitempty"`
	SubscriptionID uint64             `json:"subId,omitempty"`
	KeyHash        string             `json:"keyHash,omitempty"`
	CallbackError  string             `json:"callbackError,omitempty"`
	PayoutFailed   bool               `json:"payoutFailed,omitempty"`
	LotteryEvents  []state.Event      `json:"lotteryEvents,omitempty"`
	OracleEvents   []oracle.Event     `json:"oracleEvents,omitempty"`
}

func New(cfg Config) (*App, error) {
	genesis := cfg.Genesis.UTC()
	if genesis.IsZero() {
		return nil, errors.New("genesis time is required")
	}
	coordinator, err := oracle.NewCoordinator(cfg.Coordinator)
	if err != nil {
		return nil, err
	}
	admins := make(map[string]struct{}, len(cfg.Admins))
	for _, raw := range cfg.Admins {
		addr, err := protocol.NormalizeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("admin: %w", err)
		}
		admins[addr] = struct{}{}
	}
	window := cfg.ReplayWindow
	if window <= 0 {
		window = DefaultReplayWindow
	}
	a := &App{
		ledger:      bank.NewLedger(),
		coordinator: coordinator,
		admins:      admins,
		applied:     map[string]time.Time{},
		window:      window,
		blockTime:   genesis,
		txTime:      genesis,
	}

	params := cfg.Lottery
	params.Coordinator = coordinator.Address()
	if cfg.Bootstrap != nil {
		if params.SubscriptionID, err = a.bootstrap(*cfg.Bootstrap, params.Address, genesis); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}
	custody, err := a.ledger.Custody(params.Address)
	if err != nil {
		return nil, fmt.Errorf("lottery address: %w", err)
	}
	machine, err := state.NewMachine(params, coordinator.Oracle(a.requestTime), custody, genesis)
	if err != nil {
		return nil, err
	}
	if err := coordinator.Bind(machine.Address(), machine); err != nil {
		return nil, err
	}
	a.machine = machine
	return a, nil
}

func (a *App) bootstrap(b Bootstrap, consumer string, at time.Time) (uint64, error) {
	for _, pub := range b.ProvingKeys {
		if _, err := a.coordinator.RegisterProvingKey(pub, at); err != nil {
			return 0, err
		}
	}
	subID, err := a.coordinator.CreateSubscription(b.SubscriptionOwner, at)
	if err != nil {
		return 0, err
	}
	if b.SubscriptionFund != nil && !b.SubscriptionFund.IsZero() {
		if err := a.coordinator.FundSubscription(subID, b.SubscriptionFund, at); err != nil {
			return 0, err
		}
	}
	if err := a.coordinator.AddConsumer(b.SubscriptionOwner, subID, consumer, at); err != nil {
		return 0, err
	}
	return subID, nil
}

// requestTime is read by the coordinator while a tx is being applied.
func (a *App) requestTime() time.Time { return a.txTime }

// ApplyTx verifies and applies one transaction. Replayed tx ids are
// acknowledged without effect; txs older than the replay window are
// rejected with ErrTxExpired.
func (a *App) ApplyTx(tx protocol.Tx) (Result, error) {
	if err := tx.Verify(); err != nil {
		return Result{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	res := Result{TxID: tx.TxID, Op: tx.Op, Actor: tx.Sender()}
	if _, ok := a.applied[tx.TxID]; ok {
		res.Replayed = true
		res.Height = a.height
		res.BlockTime = a.blockTime
		return res, nil
	}
	if tx.Timestamp.Before(a.expiryCutoff()) {
		return Result{}, fmt.Errorf("%w: %s before %s", ErrTxExpired,
			tx.Timestamp.UTC().Format(time.RFC3339), a.expiryCutoff().Format(time.RFC3339))
	}

	at := tx.Timestamp.UTC()
	if at.Before(a.blockTime) {
		at = a.blockTime
	}
	a.txTime = at
	lotterySeq := a.machine.LastEventSeq()
	oracleSeq := a.coordinator.LastEventSeq()

	var err error
	switch tx.Op {
	case protocol.OpAccountDeposit:
		err = a.applyDeposit(tx)
	case protocol.OpAccountConfigure:
		err = a.applyConfigure(tx)
	case protocol.OpLotteryEnter:
		err = a.applyEnter(tx, at, &res)
	case protocol.OpLotteryTrigger:
		err = a.applyTrigger(tx, at, &res)
	case protocol.OpVRFFulfill:
		err = a.applyFulfill(tx, at, &res)
	case protocol.OpVRFSubCreate:
		res.SubscriptionID, err = a.coordinator.CreateSubscription(tx.Sender(), at)
	case protocol.OpVRFSubFund:
		err = a.applySubFund(tx, at, &res)
	case protocol.OpVRFConsumerAdd, protocol.OpVRFConsumerDel:
		err = a.applyConsumer(tx, at, &res)
	case protocol.OpVRFKeyRegister:
		err = a.applyKeyRegister(tx, at, &res)
	default:
		err = fmt.Errorf("unsupported op: %s", tx.Op)
	}
	if err != nil {
		return Result{}, err
	}

	a.applied[tx.TxID] = tx.Timestamp.UTC()
	a.blockTime = at
	a.height++
	if a.height%pruneEvery == 0 {
		a.pruneAppliedLocked()
	}
	res.Height = a.height
	res.BlockTime = at
	res.LotteryEvents = a.machine.EventsSince(lotterySeq)
	res.OracleEvents = a.coordinator.EventsSince(oracleSeq)
	return res, nil
}

func (a *App) expiryCutoff() time.Time { return a.blockTime.Add(-a.window) }

// pruneAppliedLocked forgets ids that ApplyTx would now reject as expired
// anyway. It runs at fixed heights so every replica prunes identically.
func (a *App) pruneAppliedLocked() {
	cutoff := a.expiryCutoff()
	for id, ts := range a.applied {
		if ts.Before(cutoff) {
			delete(a.applied, id)
		}
	}
}

func (a *App) isAdmin(addr string) bool {
	_, ok := a.admins[addr]
	return ok
}

func (a *App) applyDeposit(tx protocol.Tx) error {
	if !a.isAdmin(tx.Sender()) {
		return ErrUnauthorized
	}
	payload, err := protocol.DecodePayload[protocol.AccountDepositPayload](tx.Payload)
	if err != nil {
		return err
	}
	amount, err := protocol.ParseAmount(payload.Amount)
	if err != nil {
		return err
	}
	return a.ledger.Deposit(payload.To, amount)
}

func (a *App) applyConfigure(tx protocol.Tx) error {
	payload, err := protocol.DecodePayload[protocol.AccountConfigurePayload](tx.Payload)
	if err != nil {
		return err
	}
	return a.ledger.SetAcceptPayments(tx.Sender(), payload.AcceptPayments)
}

func (a *App) applyEnter(tx protocol.Tx, at time.Time, res *Result) error {
	payload, err := protocol.DecodePayload[protocol.LotteryEnterPayload](tx.Payload)
	if err != nil {
		return err
	}
	amount, err := protocol.ParseAmount(payload.Amount)
	if err != nil {
		return err
	}
	idx, err := a.machine.Enter(tx.Sender(), amount, at)
	if err != nil {
		return err
	}
	res.Index = &idx
	return nil
}

func (a *App) applyTrigger(tx protocol.Tx, at time.Time, res *Result) error {
	payload, err := protocol.DecodePayload[protocol.LotteryTriggerPayload](tx.Payload)
	if err != nil {
		return err
	}
	var hint []byte
	if s := strings.TrimPrefix(strings.TrimSpace(payload.PerformData), "0x"); s != "" {
		if hint, err = hex.DecodeString(s); err != nil {
			return fmt.Errorf("perform_data must be hex: %w", err)
		}
	}
	res.RequestID, err = a.machine.Trigger(hint, at)
	return err
}

func (a *App) applyFulfill(tx protocol.Tx, at time.Time, res *Result) error {
	payload, err := protocol.DecodePayload[protocol.VRFFulfillPayload](tx.Payload)
	if err != nil {
		return err
	}
	proof, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload.Proof))
	if err != nil {
		return fmt.Errorf("invalid proof encoding: %w", err)
	}
	out, err := a.coordinator.Fulfill(payload.RequestID, proof, at)
	if err != nil {
		return err
	}
	res.RequestID = out.RequestID
	if out.Err != nil {
		res.CallbackError = out.Err.Error()
		res.PayoutFailed = errors.Is(out.Err, state.ErrPayoutFailed)
	}
	return nil
}

func (a *App) applySubFund(tx protocol.Tx, at time.Time, res *Result) error {
	payload, err := protocol.DecodePayload[protocol.VRFSubFundPayload](tx.Payload)
	if err != nil {
		return err
	}
	amount, err := protocol.ParseAmount(payload.Amount)
	if err != nil {
		return err
	}
	if _, err := a.coordinator.Subscription(payload.SubID); err != nil {
		return err
	}
	if err := a.ledger.Transfer(tx.Sender(), a.coordinator.Address(), amount); err != nil {
		return err
	}
	if err := a.coordinator.FundSubscription(payload.SubID, amount, at); err != nil {
		if rbErr := a.ledger.Transfer(a.coordinator.Address(), tx.Sender(), amount); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	res.SubscriptionID = payload.SubID
	return nil
}

func (a *App) applyConsumer(tx protocol.Tx, at time.Time, res *Result) error {
	payload, err := protocol.DecodePayload[protocol.VRFConsumerPayload](tx.Payload)
	if err != nil {
		return err
	}
	if tx.Op == protocol.OpVRFConsumerDel {
		err = a.coordinator.RemoveConsumer(tx.Sender(), payload.SubID, payload.Consumer, at)
	} else {
		err = a.coordinator.AddConsumer(tx.Sender(), payload.SubID, payload.Consumer, at)
	}
	if err != nil {
		return err
	}
	res.SubscriptionID = payload.SubID
	return nil
}

func (a *App) applyKeyRegister(tx protocol.Tx, at time.Time, res *Result) error {
	if !a.isAdmin(tx.Sender()) {
		return ErrUnauthorized
	}
	payload, err := protocol.DecodePayload[protocol.VRFKeyRegisterPayload](tx.Payload)
	if err != nil {
		return err
	}
	pub, err := protocol.DecodePublicKey(payload.PublicKey)
	if err != nil {
		return err
	}
	res.KeyHash, err = a.coordinator.RegisterProvingKey(pub, at)
	return err
}

func (a *App) Machine() *state.Machine          { return a.machine }
func (a *App) Ledger() *bank.Ledger             { return a.ledger }
func (a *App) Coordinator() *oracle.Coordinator { return a.coordinator }

// Status is the replication-level view of the app.
type Status struct {
	Height    uint64    `json:"height"`
	BlockTime time.Time `json:"blockTime"`
	AppliedTx int       `json:"appliedTx"`
}

func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{Height: a.height, BlockTime: a.blockTime, AppliedTx: len(a.applied)}
}

func (a *App) IsApplied(txID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.applied[txID]
	return ok
}

type appliedRecord struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

type snapshot struct {
	Height      uint64          `json:"height"`
	BlockTime   time.Time       `json:"blockTime"`
	AppliedTx   []appliedRecord `json:"appliedTx"`
	Ledger      json.RawMessage `json:"ledger"`
	Coordinator json.RawMessage `json:"coordinator"`
	Lottery     json.RawMessage `json:"lottery"`
}

func (a *App) Marshal() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ledger, err := a.ledger.Marshal()
	if err != nil {
		return nil, err
	}
	coordinator, err := a.coordinator.Marshal()
	if err != nil {
		return nil, err
	}
	lottery, err := a.machine.Marshal()
	if err != nil {
		return nil, err
	}
	applied := make([]appliedRecord, 0, len(a.applied))
	for id, at := range a.applied {
		applied = append(applied, appliedRecord{ID: id, At: at})
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i].ID < applied[j].ID })
	return json.Marshal(snapshot{
		Height:      a.height,
		BlockTime:   a.blockTime,
		AppliedTx:   applied,
		Ledger:      ledger,
		Coordinator: coordinator,
		Lottery:     lottery,
	})
}

// Unmarshal restores a snapshot. Every section is decoded before any is
// installed, so a bad snapshot leaves the app unchanged.
func (a *App) Unmarshal(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	commitLedger, err := a.ledger.PrepareRestore(snap.Ledger)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	commitCoordinator, err := a.coordinator.PrepareRestore(snap.Coordinator)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	commitLottery, err := a.machine.PrepareRestore(snap.Lottery)
	if err != nil {
		return fmt.Errorf("lottery: %w", err)
	}
	applied := make(map[string]time.Time, len(snap.AppliedTx))
	for _, rec := range snap.AppliedTx {
		applied[rec.ID] = rec.At.UTC()
	}

	commitLedger()
	commitCoordinator()
	commitLottery()
	a.applied = applied
	a.height = snap.Height
	a.blockTime = snap.BlockTime.UTC()
	a.txTime = a.blockTime
	return nil
}
