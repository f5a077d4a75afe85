package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_collaborators.go -package=mocks . RandomnessOracle,Treasury

// RoundState is the protocol state of the current round.
type RoundState int

const (
	RoundOpen RoundState = iota
	RoundCalculating
)

func (s RoundState) String() string {
	switch s {
	case RoundOpen:
		return "OPEN"
	case RoundCalculating:
		return "CALCULATING"
	default:
		return "UNKNOWN"
	}
}

func (s RoundState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RoundState) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "OPEN":
		*s = RoundOpen
	case "CALCULATING":
		*s = RoundCalculating
	default:
		return fmt.Errorf("invalid round state: %s", b)
	}
	return nil
}

// RandomnessRequest is the outbound oracle request.
type RandomnessRequest struct {
	Consumer         string
	KeyHash          string
	SubscriptionID   uint64
	Confirmations    uint16
	CallbackGasLimit uint32
	NumWords         uint32
}

// RandomnessOracle accepts randomness requests and returns their ids.
type RandomnessOracle interface {
	RequestRandomWords(req RandomnessRequest) (uint64, error)
}

// Treasury moves funds in and out of the lottery's custody account.
type Treasury interface {
	Collect(from string, amount *uint256.Int) error
	Pay(to string, amount *uint256.Int) error
}

// Params are fixed at construction.
type Params struct {
	Address              string // the lottery's own account
	Coordinator          string // only principal allowed to deliver randomness
	SubscriptionID       uint64
	KeyHash              string
	EntryFee             *uint256.Int
	CallbackGasLimit     uint32
	Interval             time.Duration
	RequestConfirmations uint16
	NumWords             uint32
	EventRetention       int // newest events kept in state
}

// DefaultEventRetention applies when Params.EventRetention is unset.
const DefaultEventRetention = 4096

func (p Params) normalized() (Params, error) {
	var err error
	if p.Address, err = protocol.NormalizeAddress(p.Address); err != nil {
		return p, fmt.Errorf("address: %w", err)
	}
	if p.Coordinator, err = protocol.NormalizeAddress(p.Coordinator); err != nil {
		return p, fmt.Errorf("coordinator: %w", err)
	}
	if p.KeyHash, err = protocol.NormalizeKeyHash(p.KeyHash); err != nil {
		return p, err
	}
	if p.EntryFee == nil {
		return p, errors.New("entry fee is required")
	}
	p.EntryFee = p.EntryFee.Clone()
	if p.Interval <= 0 {
		return p, errors.New("interval must be positive")
	}
	if p.CallbackGasLimit == 0 {
		return p, errors.New("callback gas limit is required")
	}
	if p.RequestConfirmations == 0 {
		p.RequestConfirmations = 3
	}
	if p.NumWords == 0 {
		p.NumWords = 1
	}
	if p.EventRetention <= 0 {
		p.EventRetention = DefaultEventRetention
	}
	return p, nil
}

type round struct {
	Number        uint64
	State         RoundState
	Participants  []string
	Pot           *uint256.Int
	LastTriggerAt time.Time
	PendingID     *uint64
	RecentWinner  string
	Events        []Event
	NextSeq       uint64
}

// Machine is the single-round raffle state machine.
type Machine struct {
	mu       sync.RWMutex
	params   Params
	oracle   RandomnessOracle
	treasury Treasury
	s        round
}

// NewMachine constructs an OPEN machine whose interval starts at createdAt.
func NewMachine(params Params, oracle RandomnessOracle, treasury Treasury, createdAt time.Time) (*Machine, error) {
	params, err := params.normalized()
	if err != nil {
		return nil, err
	}
	if oracle == nil {
		return nil, errors.New("randomness oracle is required")
	}
	if treasury == nil {
		return nil, errors.New("treasury is required")
	}
	return &Machine{
		params:   params,
		oracle:   oracle,
		treasury: treasury,
		s:        emptyRound(createdAt.UTC()),
	}, nil
}

func emptyRound(at time.Time) round {
	return round{
		Number:        1,
		State:         RoundOpen,
		Participants:  []string{},
		Pot:           new(uint256.Int),
		LastTriggerAt: at,
		Events:        []Event{},
		NextSeq:       1,
	}
}

// Enter appends participant to the round and returns its slot index.
func (m *Machine) Enter(participant string, paid *uint256.Int, at time.Time) (int, error) {
	participant, err := protocol.NormalizeAddress(participant)
	if err != nil {
		return 0, err
	}
	if paid == nil {
		paid = new(uint256.Int)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.State != RoundOpen {
		return 0, ErrRoundNotOpen
	}
	if paid.Lt(m.params.EntryFee) {
		return 0, fmt.Errorf("%w: paid %s, fee %s", ErrNotEnoughPaid, paid.Dec(), m.params.EntryFee.Dec())
	}
	pot, overflow := new(uint256.Int).AddOverflow(m.s.Pot, paid)
	if overflow {
		return 0, ErrPotOverflow
	}
	if err := m.treasury.Collect(participant, paid.Clone()); err != nil {
		return 0, fmt.Errorf("collect entry: %w", err)
	}
	index := len(m.s.Participants)
	m.s.Participants = append(m.s.Participants, participant)
	m.s.Pot = pot
	m.appendEventLocked(Event{
		Type:        EventEnteredRound,
		Participant: participant,
		Index:       &index,
		Amount:      paid.Dec(),
	}, at)
	return index, nil
}

// CheckReady evaluates the readiness predicate without side effects.
func (m *Machine) CheckReady(at time.Time) Readiness {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkReadyLocked(at.UTC())
}

// Trigger moves an eligible round to CALCULATING and requests randomness.
// The first argument is opaque automation data and is ignored; readiness is
// always re-evaluated here.
func (m *Machine) Trigger(_ []byte, at time.Time) (uint64, error) {
	at = at.UTC()
	// The lock is held across RequestRandomWords so two triggers cannot both
	// pass readiness. The oracle must not call back into the machine from
	// inside that call; fulfillment arrives as a separate tx.
	m.mu.Lock()
	defer m.mu.Unlock()
	ready := m.checkReadyLocked(at)
	if !ready.Ready {
		return 0, &UpkeepNotNeededError{
			Pot:     ready.Pot.Dec(),
			Players: ready.Players,
			State:   ready.State,
			Failed:  ready.Failed,
		}
	}
	requestID, err := m.oracle.RequestRandomWords(RandomnessRequest{
		Consumer:         m.params.Address,
		KeyHash:          m.params.KeyHash,
		SubscriptionID:   m.params.SubscriptionID,
		Confirmations:    m.params.RequestConfirmations,
		CallbackGasLimit: m.params.CallbackGasLimit,
		NumWords:         m.params.NumWords,
	})
	if err != nil {
		return 0, fmt.Errorf("request randomness: %w", err)
	}
	m.s.State = RoundCalculating
	m.s.PendingID = &requestID
	m.appendEventLocked(Event{Type: EventRoundCalculating, RequestID: requestID}, at)
	return requestID, nil
}

// FulfillRandomness settles the round with delivered randomness. Stale or
// unknown request ids return ErrUnknownOrStaleRequest and change nothing.
func (m *Machine) FulfillRandomness(caller string, requestID uint64, words []*uint256.Int, at time.Time) error {
	if !strings.EqualFold(strings.TrimSpace(caller), m.params.Coordinator) {
		return ErrUnauthorizedCaller
	}
	at = at.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.State != RoundCalculating || m.s.PendingID == nil || *m.s.PendingID != requestID {
		return ErrUnknownOrStaleRequest
	}
	if len(words) == 0 || words[0] == nil {
		return ErrNoRandomWords
	}
	if len(m.s.Participants) == 0 {
		return errors.New("calculating round has no participants")
	}
	// Modulo bias is accepted; participant counts are tiny next to 2^256.
	n := uint256.NewInt(uint64(len(m.s.Participants)))
	index := new(uint256.Int).Mod(words[0], n).Uint64()
	winner := m.s.Participants[index]
	prize := m.s.Pot.Clone()

	if err := m.treasury.Pay(winner, prize.Clone()); err != nil {
		return &PayoutFailedError{Winner: winner, Amount: prize.Dec(), Err: err}
	}

	settled := m.s.Number
	players := len(m.s.Participants)
	m.s.RecentWinner = winner
	m.s.Participants = []string{}
	m.s.Pot = new(uint256.Int)
	m.s.LastTriggerAt = at
	m.s.PendingID = nil
	m.s.State = RoundOpen
	m.s.Number++
	idx := int(index)
	m.appendEventLocked(Event{
		Type:      EventWinnerPicked,
		Round:     settled,
		Winner:    winner,
		Index:     &idx,
		Amount:    prize.Dec(),
		RequestID: requestID,
		Players:   players,
	}, at)
	return nil
}

func (m *Machine) appendEventLocked(ev Event, at time.Time) {
	ev.Seq = m.s.NextSeq
	m.s.NextSeq++
	if ev.Round == 0 {
		ev.Round = m.s.Number
	}
	ev.At = at.UTC()
	m.s.Events = trimEvents(append(m.s.Events, ev), m.params.EventRetention)
}

// trimEvents keeps the newest keep entries.
func trimEvents(events []Event, keep int) []Event {
	if keep > 0 && len(events) > keep {
		return events[len(events)-keep:]
	}
	return events
}

func (m *Machine) Params() Params {
	p := m.params
	p.EntryFee = p.EntryFee.Clone()
	return p
}

func (m *Machine) Address() string { return m.params.Address }

func (m *Machine) State() RoundState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.State
}

func (m *Machine) EntryFee() *uint256.Int { return m.params.EntryFee.Clone() }

func (m *Machine) Interval() time.Duration { return m.params.Interval }

func (m *Machine) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.s.Participants)
}

// PlayerAt returns the participant occupying slot index.
func (m *Machine) PlayerAt(index int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.s.Participants) {
		return "", fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return m.s.Participants[index], nil
}

func (m *Machine) LastTimestamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.LastTriggerAt
}

func (m *Machine) RoundNumber() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Number
}

func (m *Machine) RecentWinner() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.RecentWinner
}

func (m *Machine) Pot() *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Pot.Clone()
}

// PendingRequestID reports the in-flight request, if any.
func (m *Machine) PendingRequestID() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.s.PendingID == nil {
		return 0, false
	}
	return *m.s.PendingID, true
}

// RoundView is a consistent read of the whole round.
type RoundView struct {
	Address          string     `json:"address"`
	Round            uint64     `json:"round"`
	State            RoundState `json:"state"`
	EntryFee         string     `json:"entryFee"`
	IntervalSeconds  int64      `json:"intervalSeconds"`
	Players          int        `json:"players"`
	Pot              string     `json:"pot"`
	LastTimestamp    time.Time  `json:"lastTimestamp"`
	PendingRequestID *uint64    `json:"pendingRequestId,omitempty"`
	RecentWinner     string     `json:"recentWinner,omitempty"`
}

func (m *Machine) View() RoundView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := RoundView{
		Address:         m.params.Address,
		Round:           m.s.Number,
		State:           m.s.State,
		EntryFee:        m.params.EntryFee.Dec(),
		IntervalSeconds: int64(m.params.Interval / time.Second),
		Players:         len(m.s.Participants),
		Pot:             m.s.Pot.Dec(),
		LastTimestamp:   m.s.LastTriggerAt,
		RecentWinner:    m.s.RecentWinner,
	}
	if m.s.PendingID != nil {
		id := *m.s.PendingID
		v.PendingRequestID = &id
	}
	return v
}

// ListEvents returns events newest first.
func (m *Machine) ListEvents(limit, offset int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := len(m.s.Events)
	start, end := pageWindow(total, limit, offset)
	out := make([]Event, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, cloneEvent(m.s.Events[total-1-i]))
	}
	return out
}

// EventsSince returns events with Seq > seq in emission order.
func (m *Machine) EventsSince(seq uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0)
	for _, ev := range m.s.Events {
		if ev.Seq > seq {
			out = append(out, cloneEvent(ev))
		}
	}
	return out
}

// OldestEventSeq is the sequence number of the oldest retained event, or
// the next one to be assigned when none are held.
func (m *Machine) OldestEventSeq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.s.Events) == 0 {
		return m.s.NextSeq
	}
	return m.s.Events[0].Seq
}

// LastEventSeq is the sequence number of the newest event, 0 if none.
func (m *Machine) LastEventSeq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.NextSeq - 1
}

type roundRecord struct {
	Number        uint64    `json:"number"`
	State         string    `json:"state"`
	Participants  []string  `json:"participants"`
	Pot           string    `json:"pot"`
	LastTriggerAt time.Time `json:"lastTriggerAt"`
	PendingID     *uint64   `json:"pendingId,omitempty"`
	RecentWinner  string    `json:"recentWinner,omitempty"`
	Events        []Event   `json:"events"`
	NextSeq       uint64    `json:"nextSeq"`
}

// Marshal serializes the round for snapshots.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec := roundRecord{
		Number:        m.s.Number,
		State:         m.s.State.String(),
		Participants:  append([]string(nil), m.s.Participants...),
		Pot:           m.s.Pot.Dec(),
		LastTriggerAt: m.s.LastTriggerAt,
		PendingID:     m.s.PendingID,
		RecentWinner:  m.s.RecentWinner,
		Events:        m.s.Events,
		NextSeq:       m.s.NextSeq,
	}
	return json.Marshal(rec)
}

// Unmarshal restores the round from a snapshot payload.
func (m *Machine) Unmarshal(data []byte) error {
	commit, err := m.PrepareRestore(data)
	if err != nil {
		return err
	}
	commit()
	return nil
}

// PrepareRestore decodes and validates a snapshot payload without touching
// the machine. The returned commit installs it.
func (m *Machine) PrepareRestore(data []byte) (func(), error) {
	if len(data) == 0 {
		return nil, errors.New("empty snapshot")
	}
	var rec roundRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	var st RoundState
	if err := st.UnmarshalText([]byte(rec.State)); err != nil {
		return nil, err
	}
	if (st == RoundCalculating) != (rec.PendingID != nil) {
		return nil, errors.New("snapshot state and pending request disagree")
	}
	pot, err := uint256.FromDecimal(rec.Pot)
	if err != nil {
		return nil, fmt.Errorf("snapshot pot: %w", err)
	}
	r := round{
		Number:        rec.Number,
		State:         st,
		Participants:  rec.Participants,
		Pot:           pot,
		LastTriggerAt: rec.LastTriggerAt.UTC(),
		PendingID:     rec.PendingID,
		RecentWinner:  rec.RecentWinner,
		Events:        rec.Events,
		NextSeq:       rec.NextSeq,
	}
	if r.Participants == nil {
		r.Participants = []string{}
	}
	if r.Events == nil {
		r.Events = []Event{}
	}
	if r.Number == 0 {
		r.Number = 1
	}
	if r.NextSeq == 0 {
		r.NextSeq = 1
		if n := len(r.Events); n > 0 {
			r.NextSeq = r.Events[n-1].Seq + 1
		}
	}
	r.Events = trimEvents(r.Events, m.params.EventRetention)
	return func() {
		m.mu.Lock()
		m.s = r
		m.mu.Unlock()
	}, nil
}

func pageWindow(total, limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return total, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}
