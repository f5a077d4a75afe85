package state

import (
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// Diagnostic is a bitfield of failed readiness conditions.
type Diagnostic uint8

const (
	DiagNotOpen Diagnostic = 1 << iota
	DiagIntervalNotElapsed
	DiagNoParticipants
	DiagEmptyPot
)

var diagnosticNames = []struct {
	flag Diagnostic
	name string
}{
	{DiagNotOpen, "NOT_OPEN"},
	{DiagIntervalNotElapsed, "INTERVAL_NOT_ELAPSED"},
	{DiagNoParticipants, "NO_PARTICIPANTS"},
	{DiagEmptyPot, "EMPTY_POT"},
}

func (d Diagnostic) Has(flag Diagnostic) bool { return d&flag != 0 }

// Names lists the failed conditions in bit order.
func (d Diagnostic) Names() []string {
	out := make([]string, 0, len(diagnosticNames))
	for _, n := range diagnosticNames {
		if d.Has(n.flag) {
			out = append(out, n.name)
		}
	}
	return out
}

func (d Diagnostic) String() string {
	if d == 0 {
		return "NONE"
	}
	return strings.Join(d.Names(), "|")
}

// Bytes is the opaque encoding handed back to automation callers.
func (d Diagnostic) Bytes() []byte { return []byte{byte(d)} }

// Readiness is the result of the readiness predicate.
type Readiness struct {
	Ready   bool
	Failed  Diagnostic
	State   RoundState
	Players int
	Pot     *uint256.Int
	Elapsed time.Duration
}

func (m *Machine) checkReadyLocked(at time.Time) Readiness {
	r := Readiness{
		State:   m.s.State,
		Players: len(m.s.Participants),
		Pot:     m.s.Pot.Clone(),
		Elapsed: at.Sub(m.s.LastTriggerAt),
	}
	if m.s.State != RoundOpen {
		r.Failed |= DiagNotOpen
	}
	if r.Elapsed < m.params.Interval {
		r.Failed |= DiagIntervalNotElapsed
	}
	if r.Players == 0 {
		r.Failed |= DiagNoParticipants
	}
	if m.s.Pot.IsZero() {
		r.Failed |= DiagEmptyPot
	}
	r.Ready = r.Failed == 0
	return r
}
