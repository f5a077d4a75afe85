package bank

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPaymentRejected   = errors.New("recipient does not accept payments")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

type account struct {
	Balance        *uint256.Int
	RejectPayments bool
}

// Ledger keeps native balances for every address.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

func NewLedger() *Ledger {
	return &Ledger{accounts: map[string]*account{}}
}

// AccountView is the public read model of one account.
type AccountView struct {
	Address        string `json:"address"`
	Balance        string `json:"balance"`
	AcceptPayments bool   `json:"acceptPayments"`
}

func (l *Ledger) accountLocked(addr string) *account {
	a, ok := l.accounts[addr]
	if !ok {
		a = &account{Balance: new(uint256.Int)}
		l.accounts[addr] = a
	}
	return a
}

// Deposit mints amount into addr.
func (l *Ledger) Deposit(addr string, amount *uint256.Int) error {
	addr, err := protocol.NormalizeAddress(addr)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.accountLocked(addr)
	sum, overflow := new(uint256.Int).AddOverflow(a.Balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	a.Balance = sum
	return nil
}

// Transfer moves amount from one account to another. Either both sides
// change or neither does.
func (l *Ledger) Transfer(from, to string, amount *uint256.Int) error {
	from, err := protocol.NormalizeAddress(from)
	if err != nil {
		return fmt.Errorf("from: %w", err)
	}
	to, err = protocol.NormalizeAddress(to)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, amount)
}

// transferLocked only creates the destination account once the transfer
// succeeds; a refused transfer leaves the ledger as it was.
func (l *Ledger) transferLocked(from, to string, amount *uint256.Int) error {
	zero := new(uint256.Int)
	srcBal := zero
	src, hasSrc := l.accounts[from]
	if hasSrc {
		srcBal = src.Balance
	}
	dst, hasDst := l.accounts[to]
	if hasDst && dst.RejectPayments {
		return ErrPaymentRejected
	}
	if srcBal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, srcBal.Dec(), amount.Dec())
	}
	if from == to || amount.IsZero() {
		return nil
	}
	dstBal := zero
	if hasDst {
		dstBal = dst.Balance
	}
	sum, overflow := new(uint256.Int).AddOverflow(dstBal, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	src.Balance = new(uint256.Int).Sub(src.Balance, amount)
	l.accountLocked(to).Balance = sum
	return nil
}

// SetAcceptPayments toggles whether addr can receive transfers.
func (l *Ledger) SetAcceptPayments(addr string, accept bool) error {
	addr, err := protocol.NormalizeAddress(addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accountLocked(addr).RejectPayments = !accept
	return nil
}

func (l *Ledger) Balance(addr string) *uint256.Int {
	addr, err := protocol.NormalizeAddress(addr)
	if err != nil {
		return new(uint256.Int)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[addr]
	if !ok {
		return new(uint256.Int)
	}
	return a.Balance.Clone()
}

func (l *Ledger) Account(addr string) (AccountView, error) {
	addr, err := protocol.NormalizeAddress(addr)
	if err != nil {
		return AccountView{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	view := AccountView{Address: addr, Balance: "0", AcceptPayments: true}
	if a, ok := l.accounts[addr]; ok {
		view.Balance = a.Balance.Dec()
		view.AcceptPayments = !a.RejectPayments
	}
	return view, nil
}

// Custody binds a ledger to the account holding entry fees so it can act as
// the lottery's treasury.
type Custody struct {
	ledger  *Ledger
	address string
}

func (l *Ledger) Custody(address string) (*Custody, error) {
	address, err := protocol.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return &Custody{ledger: l, address: address}, nil
}

func (c *Custody) Address() string { return c.address }

func (c *Custody) Collect(from string, amount *uint256.Int) error {
	return c.ledger.Transfer(from, c.address, amount)
}

func (c *Custody) Pay(to string, amount *uint256.Int) error {
	return c.ledger.Transfer(c.address, to, amount)
}

type accountRecord struct {
	Address        string `json:"address"`
	Balance        string `json:"balance"`
	RejectPayments bool   `json:"rejectPayments,omitempty"`
}

func (l *Ledger) Marshal() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	addrs := make([]string, 0, len(l.accounts))
	for addr := range l.accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	out := make([]accountRecord, 0, len(addrs))
	for _, addr := range addrs {
		a := l.accounts[addr]
		out = append(out, accountRecord{Address: addr, Balance: a.Balance.Dec(), RejectPayments: a.RejectPayments})
	}
	return json.Marshal(out)
}

func (l *Ledger) Unmarshal(data []byte) error {
	commit, err := l.PrepareRestore(data)
	if err != nil {
		return err
	}
	commit()
	return nil
}

// PrepareRestore decodes a snapshot payload without touching the ledger.
// The returned commit installs it.
func (l *Ledger) PrepareRestore(data []byte) (func(), error) {
	var recs []accountRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	accounts := make(map[string]*account, len(recs))
	for _, rec := range recs {
		bal, err := uint256.FromDecimal(rec.Balance)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", rec.Address, err)
		}
		accounts[rec.Address] = &account{Balance: bal, RejectPayments: rec.RejectPayments}
	}
	return func() {
		l.mu.Lock()
		l.accounts = accounts
		l.mu.Unlock()
	}, nil
}
