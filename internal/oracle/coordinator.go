package oracle

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
)

const (
	MaxNumWords         = 500
	MinConfirmations    = 3
	MaxConfirmations    = 200
	MaxCallbackGasLimit = 2_500_000
	maxConsumersPerSub  = 100
)

var (
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidConsumer     = errors.New("invalid consumer")
	ErrMustBeSubOwner      = errors.New("must be subscription owner")
	ErrTooManyConsumers    = errors.New("too many consumers")
	ErrInvalidKeyHash      = errors.New("invalid key hash")
	ErrKeyAlreadyExists    = errors.New("proving key already registered")
	ErrNumWordsTooBig      = errors.New("num words too big")
	ErrInvalidConfirmation = errors.New("invalid request confirmations")
	ErrGasLimitTooBig      = errors.New("callback gas limit too big")
	ErrNonexistentRequest  = errors.New("nonexistent request")
	ErrInvalidProof        = errors.New("invalid proof")
	ErrInsufficientBalance = errors.New("insufficient subscription balance")
)

// Consumer receives delivered randomness. caller is the coordinator address.
type Consumer interface {
	FulfillRandomness(caller string, requestID uint64, words []*uint256.Int, at time.Time) error
}

// Params configure pricing and identity of the coordinator.
type Params struct {
	Address      string
	BaseFee      *uint256.Int
	GasPriceLink *uint256.Int
	// EventRetention caps the log; 0 means DefaultEventRetention.
	EventRetention int
}

const DefaultEventRetention = 4096

// DefaultParams mirror the reference deployment: 0.25 LINK base fee and a
// 1 gwei gas price.
func DefaultParams(address string) Params {
	return Params{
		Address:      address,
		BaseFee:      uint256.NewInt(250_000_000_000_000_000),
		GasPriceLink: uint256.NewInt(1_000_000_000),
	}
}

type Subscription struct {
	ID        uint64
	Owner     string
	Balance   *uint256.Int
	Consumers []string
}

// Request is a pending randomness request.
type Request struct {
	ID               uint64    `json:"id"`
	SubscriptionID   uint64    `json:"subId"`
	KeyHash          string    `json:"keyHash"`
	Consumer         string    `json:"consumer"`
	Confirmations    uint16    `json:"confirmations"`
	CallbackGasLimit uint32    `json:"callbackGasLimit"`
	NumWords         uint32    `json:"numWords"`
	RequestedAt      time.Time `json:"requestedAt"`
}

// Fulfillment reports the outcome of a delivery.
type Fulfillment struct {
	RequestID uint64
	Consumer  string
	Words     []*uint256.Int
	Payment   *uint256.Int
	Success   bool
	Err       error
}

// Coordinator is a deterministic randomness coordinator holding
// subscriptions, proving keys and pending requests.
type Coordinator struct {
	mu        sync.Mutex
	params    Params
	subs      map[uint64]*Subscription
	keys      map[string]ed25519.PublicKey
	requests  map[uint64]*Request
	consumers map[string]Consumer
	nextSub   uint64
	nextReq   uint64
	events    []Event
	nextSeq   uint64
}

func NewCoordinator(params Params) (*Coordinator, error) {
	addr, err := protocol.NormalizeAddress(params.Address)
	if err != nil {
		return nil, fmt.Errorf("coordinator address: %w", err)
	}
	params.Address = addr
	if params.BaseFee == nil {
		params.BaseFee = new(uint256.Int)
	}
	if params.GasPriceLink == nil {
		params.GasPriceLink = new(uint256.Int)
	}
	if params.EventRetention <= 0 {
		params.EventRetention = DefaultEventRetention
	}
	return &Coordinator{
		params:    params,
		subs:      map[uint64]*Subscription{},
		keys:      map[string]ed25519.PublicKey{},
		requests:  map[uint64]*Request{},
		consumers: map[string]Consumer{},
		nextSub:   1,
		nextReq:   1,
		nextSeq:   1,
	}, nil
}

func (c *Coordinator) Address() string { return c.params.Address }

// Bind attaches the in-process consumer living at address. Bindings are
// runtime wiring and not part of snapshots.
func (c *Coordinator) Bind(address string, consumer Consumer) error {
	address, err := protocol.NormalizeAddress(address)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[address] = consumer
	return nil
}

// Payment is what a fulfillment of req costs its subscription.
func (c *Coordinator) Payment(gasLimit uint32) *uint256.Int {
	p := new(uint256.Int).Mul(c.params.GasPriceLink, uint256.NewInt(uint64(gasLimit)))
	return p.Add(p, c.params.BaseFee)
}

func (c *Coordinator) RegisterProvingKey(pub ed25519.PublicKey, at time.Time) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", errors.New("invalid proving key size")
	}
	keyHash := protocol.KeyHash(pub)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[keyHash]; ok {
		return "", ErrKeyAlreadyExists
	}
	c.keys[keyHash] = append(ed25519.PublicKey(nil), pub...)
	c.appendEventLocked(Event{Type: EventProvingKeyRegistered, KeyHash: keyHash}, at)
	return keyHash, nil
}

func (c *Coordinator) CreateSubscription(owner string, at time.Time) (uint64, error) {
	owner, err := protocol.NormalizeAddress(owner)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = &Subscription{ID: id, Owner: owner, Balance: new(uint256.Int), Consumers: []string{}}
	c.appendEventLocked(Event{Type: EventSubscriptionCreated, SubscriptionID: id, Owner: owner}, at)
	return id, nil
}

// FundSubscription credits amount to subID. Moving the funds out of the
// payer's account is the caller's job.
func (c *Coordinator) FundSubscription(subID uint64, amount *uint256.Int, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	sum, overflow := new(uint256.Int).AddOverflow(sub.Balance, amount)
	if overflow {
		return errors.New("subscription balance overflow")
	}
	old := sub.Balance
	sub.Balance = sum
	c.appendEventLocked(Event{
		Type:           EventSubscriptionFunded,
		SubscriptionID: subID,
		OldBalance:     old.Dec(),
		NewBalance:     sum.Dec(),
	}, at)
	return nil
}

func (c *Coordinator) AddConsumer(caller string, subID uint64, consumer string, at time.Time) error {
	consumer, err := protocol.NormalizeAddress(consumer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConsumer, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, err := c.ownedSubLocked(caller, subID)
	if err != nil {
		return err
	}
	for _, existing := range sub.Consumers {
		if existing == consumer {
			return nil
		}
	}
	if len(sub.Consumers) >= maxConsumersPerSub {
		return ErrTooManyConsumers
	}
	sub.Consumers = append(sub.Consumers, consumer)
	c.appendEventLocked(Event{Type: EventConsumerAdded, SubscriptionID: subID, Consumer: consumer}, at)
	return nil
}

func (c *Coordinator) RemoveConsumer(caller string, subID uint64, consumer string, at time.Time) error {
	consumer, err := protocol.NormalizeAddress(consumer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConsumer, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, err := c.ownedSubLocked(caller, subID)
	if err != nil {
		return err
	}
	for i, existing := range sub.Consumers {
		if existing == consumer {
			sub.Consumers = append(sub.Consumers[:i], sub.Consumers[i+1:]...)
			c.appendEventLocked(Event{Type: EventConsumerRemoved, SubscriptionID: subID, Consumer: consumer}, at)
			return nil
		}
	}
	return ErrInvalidConsumer
}

func (c *Coordinator) ownedSubLocked(caller string, subID uint64) (*Subscription, error) {
	sub, ok := c.subs[subID]
	if !ok {
		return nil, ErrInvalidSubscription
	}
	if !strings.EqualFold(strings.TrimSpace(caller), sub.Owner) {
		return nil, ErrMustBeSubOwner
	}
	return sub, nil
}

// RequestRandomWords records a new pending request on behalf of
// req.Consumer and returns its id.
func (c *Coordinator) RequestRandomWords(req state.RandomnessRequest, at time.Time) (uint64, error) {
	consumer, err := protocol.NormalizeAddress(req.Consumer)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConsumer, err)
	}
	keyHash, err := protocol.NormalizeKeyHash(req.KeyHash)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[req.SubscriptionID]
	if !ok {
		return 0, ErrInvalidSubscription
	}
	if !containsString(sub.Consumers, consumer) {
		return 0, fmt.Errorf("%w: %s on subscription %d", ErrInvalidConsumer, consumer, sub.ID)
	}
	if _, ok := c.keys[keyHash]; !ok {
		return 0, ErrInvalidKeyHash
	}
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return 0, fmt.Errorf("%w: %d", ErrNumWordsTooBig, req.NumWords)
	}
	if req.Confirmations < MinConfirmations || req.Confirmations > MaxConfirmations {
		return 0, fmt.Errorf("%w: %d", ErrInvalidConfirmation, req.Confirmations)
	}
	if req.CallbackGasLimit > MaxCallbackGasLimit {
		return 0, fmt.Errorf("%w: %d", ErrGasLimitTooBig, req.CallbackGasLimit)
	}
	id := c.nextReq
	c.nextReq++
	c.requests[id] = &Request{
		ID:               id,
		SubscriptionID:   sub.ID,
		KeyHash:          keyHash,
		Consumer:         consumer,
		Confirmations:    req.Confirmations,
		CallbackGasLimit: req.CallbackGasLimit,
		NumWords:         req.NumWords,
		RequestedAt:      at.UTC(),
	}
	c.appendEventLocked(Event{
		Type:           EventRandomWordsRequested,
		RequestID:      id,
		SubscriptionID: sub.ID,
		KeyHash:        keyHash,
		Consumer:       consumer,
		NumWords:       req.NumWords,
	}, at)
	return id, nil
}

// Oracle adapts the coordinator to state.RandomnessOracle, stamping requests
// with the time reported by now.
func (c *Coordinator) Oracle(now func() time.Time) state.RandomnessOracle {
	return boundOracle{c: c, now: now}
}

type boundOracle struct {
	c   *Coordinator
	now func() time.Time
}

func (b boundOracle) RequestRandomWords(req state.RandomnessRequest) (uint64, error) {
	return b.c.RequestRandomWords(req, b.now())
}

// Fulfill verifies proof for a pending request, charges its subscription and
// delivers the derived words to the consumer. A consumer failure is recorded
// and reported in the result; the request is consumed either way.
func (c *Coordinator) Fulfill(requestID uint64, proof []byte, at time.Time) (Fulfillment, error) {
	c.mu.Lock()
	req, ok := c.requests[requestID]
	if !ok {
		c.mu.Unlock()
		return Fulfillment{}, ErrNonexistentRequest
	}
	pub, ok := c.keys[req.KeyHash]
	if !ok {
		c.mu.Unlock()
		return Fulfillment{}, ErrInvalidKeyHash
	}
	if !VerifyProof(pub, *req, proof) {
		c.mu.Unlock()
		return Fulfillment{}, ErrInvalidProof
	}
	sub, ok := c.subs[req.SubscriptionID]
	if !ok {
		c.mu.Unlock()
		return Fulfillment{}, ErrInvalidSubscription
	}
	payment := c.Payment(req.CallbackGasLimit)
	if sub.Balance.Lt(payment) {
		c.mu.Unlock()
		return Fulfillment{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, sub.Balance.Dec(), payment.Dec())
	}
	sub.Balance = new(uint256.Int).Sub(sub.Balance, payment)
	delete(c.requests, requestID)
	consumer := c.consumers[req.Consumer]
	caller := c.params.Address
	// Consumers run without c.mu. A consumer holds its own lock while it
	// requests randomness, so the order is always consumer then coordinator.
	c.mu.Unlock()

	words := DeriveWords(proof, req.NumWords)
	result := Fulfillment{RequestID: requestID, Consumer: req.Consumer, Words: words, Payment: payment}
	if consumer == nil {
		result.Err = fmt.Errorf("no consumer bound at %s", req.Consumer)
	} else {
		result.Err = consumer.FulfillRandomness(caller, requestID, cloneWords(words), at)
	}
	result.Success = result.Err == nil

	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendEventLocked(Event{
		Type:           EventRandomWordsFulfilled,
		RequestID:      requestID,
		SubscriptionID: req.SubscriptionID,
		Consumer:       req.Consumer,
		Payment:        payment.Dec(),
		Success:        &result.Success,
	}, at)
	return result, nil
}

func (c *Coordinator) Subscription(id uint64) (SubscriptionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[id]
	if !ok {
		return SubscriptionView{}, ErrInvalidSubscription
	}
	return SubscriptionView{
		ID:        sub.ID,
		Owner:     sub.Owner,
		Balance:   sub.Balance.Dec(),
		Consumers: append([]string{}, sub.Consumers...),
	}, nil
}

// SubscriptionView is the read model of a subscription.
type SubscriptionView struct {
	ID        uint64   `json:"id"`
	Owner     string   `json:"owner"`
	Balance   string   `json:"balance"`
	Consumers []string `json:"consumers"`
}

// PendingRequests lists unfulfilled requests by ascending id.
func (c *Coordinator) PendingRequests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Coordinator) Request(id uint64) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.requests[id]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

func (c *Coordinator) HasProvingKey(keyHash string) bool {
	keyHash, err := protocol.NormalizeKeyHash(keyHash)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[keyHash]
	return ok
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func cloneWords(in []*uint256.Int) []*uint256.Int {
	out := make([]*uint256.Int, len(in))
	for i, w := range in {
		out[i] = w.Clone()
	}
	return out
}

type subscriptionRecord struct {
	ID        uint64   `json:"id"`
	Owner     string   `json:"owner"`
	Balance   string   `json:"balance"`
	Consumers []string `json:"consumers"`
}

type coordinatorRecord struct {
	Subscriptions []subscriptionRecord `json:"subscriptions"`
	Keys          []string             `json:"keys"` // hex ed25519 public keys
	Requests      []Request            `json:"requests"`
	NextSub       uint64               `json:"nextSub"`
	NextReq       uint64               `json:"nextReq"`
	Events        []Event              `json:"events"`
	NextSeq       uint64               `json:"nextSeq"`
}

func (c *Coordinator) Marshal() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := coordinatorRecord{
		Subscriptions: make([]subscriptionRecord, 0, len(c.subs)),
		Keys:          make([]string, 0, len(c.keys)),
		Requests:      make([]Request, 0, len(c.requests)),
		NextSub:       c.nextSub,
		NextReq:       c.nextReq,
		Events:        c.events,
		NextSeq:       c.nextSeq,
	}
	for _, sub := range c.subs {
		rec.Subscriptions = append(rec.Subscriptions, subscriptionRecord{
			ID:        sub.ID,
			Owner:     sub.Owner,
			Balance:   sub.Balance.Dec(),
			Consumers: sub.Consumers,
		})
	}
	sort.Slice(rec.Subscriptions, func(i, j int) bool { return rec.Subscriptions[i].ID < rec.Subscriptions[j].ID })
	for _, pub := range c.keys {
		rec.Keys = append(rec.Keys, encodeHex(pub))
	}
	sort.Strings(rec.Keys)
	for _, r := range c.requests {
		rec.Requests = append(rec.Requests, *r)
	}
	sort.Slice(rec.Requests, func(i, j int) bool { return rec.Requests[i].ID < rec.Requests[j].ID })
	return json.Marshal(rec)
}

// Unmarshal restores persisted state; consumer bindings are kept.
func (c *Coordinator) Unmarshal(data []byte) error {
	commit, err := c.PrepareRestore(data)
	if err != nil {
		return err
	}
	commit()
	return nil
}

// PrepareRestore decodes a snapshot payload without touching the
// coordinator. The returned commit installs it.
func (c *Coordinator) PrepareRestore(data []byte) (func(), error) {
	var rec coordinatorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	subs := make(map[uint64]*Subscription, len(rec.Subscriptions))
	for _, s := range rec.Subscriptions {
		bal, err := uint256.FromDecimal(s.Balance)
		if err != nil {
			return nil, fmt.Errorf("subscription %d balance: %w", s.ID, err)
		}
		consumers := s.Consumers
		if consumers == nil {
			consumers = []string{}
		}
		subs[s.ID] = &Subscription{ID: s.ID, Owner: s.Owner, Balance: bal, Consumers: consumers}
	}
	keys := make(map[string]ed25519.PublicKey, len(rec.Keys))
	for _, k := range rec.Keys {
		pub, err := decodeHex(k)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid proving key in snapshot: %q", k)
		}
		keys[protocol.KeyHash(pub)] = pub
	}
	requests := make(map[uint64]*Request, len(rec.Requests))
	for i := range rec.Requests {
		r := rec.Requests[i]
		requests[r.ID] = &r
	}
	events := rec.Events
	if events == nil {
		events = []Event{}
	}
	nextSeq := max(rec.NextSeq, 1)
	if n := len(events); n > 0 {
		nextSeq = max(nextSeq, events[n-1].Seq+1)
	}
	events = trimEvents(events, c.params.EventRetention)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs = subs
		c.keys = keys
		c.requests = requests
		c.nextSub = max(rec.NextSub, 1)
		c.nextReq = max(rec.NextReq, 1)
		c.events = events
		c.nextSeq = nextSeq
	}, nil
}
