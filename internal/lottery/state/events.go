package state

import "time"

type EventType string

const (
	EventEnteredRound     EventType = "EnteredRound"
	EventRoundCalculating EventType = "RoundCalculating"
	EventWinnerPicked     EventType = "WinnerPicked"
)

// Event is one entry of the lottery's observable log.
type Event struct {
	Seq         uint64    `json:"seq"`
	Type        EventType `json:"type"`
	Round       uint64    `json:"round"`
	Participant string    `json:"participant,omitempty"`
	Index       *int      `json:"index,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	RequestID   uint64    `json:"requestId,omitempty"`
	Winner      string    `json:"winner,omitempty"`
	Players     int       `json:"players,omitempty"`
	At          time.Time `json:"at"`
}

func cloneEvent(in Event) Event {
	if in.Index != nil {
		idx := *in.Index
		in.Index = &idx
	}
	return in
}
