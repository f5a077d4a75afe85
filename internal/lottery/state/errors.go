package state

import (
	"errors"
	"fmt"
)

var (
	ErrNotEnoughPaid         = errors.New("not enough paid to enter")
	ErrRoundNotOpen          = errors.New("round is not open")
	ErrUpkeepNotNeeded       = errors.New("upkeep not needed")
	ErrUnknownOrStaleRequest = errors.New("unknown or stale randomness request")
	ErrPayoutFailed          = errors.New("payout to winner failed")
	ErrIndexOutOfRange       = errors.New("player index out of range")
	ErrUnauthorizedCaller    = errors.New("only the coordinator can fulfill")
	ErrNoRandomWords         = errors.New("no random words delivered")
	ErrPotOverflow           = errors.New("pot overflow")
)

// UpkeepNotNeededError reports why a trigger was refused.
type UpkeepNotNeededError struct {
	Pot     string
	Players int
	State   RoundState
	Failed  Diagnostic
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed: pot=%s players=%d state=%s failed=%s", e.Pot, e.Players, e.State, e.Failed)
}

func (e *UpkeepNotNeededError) Unwrap() error { return ErrUpkeepNotNeeded }

// PayoutFailedError wraps the treasury failure that aborted a settlement.
type PayoutFailedError struct {
	Winner string
	Amount string
	Err    error
}

func (e *PayoutFailedError) Error() string {
	return fmt.Sprintf("payout of %s to %s failed: %v", e.Amount, e.Winner, e.Err)
}

func (e *PayoutFailedError) Unwrap() []error { return []error{ErrPayoutFailed, e.Err} }
