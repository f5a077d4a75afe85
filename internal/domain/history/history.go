package history

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SettledRound is a round that paid its winner.
type SettledRound struct {
	ID        uuid.UUID `json:"id"`
	Round     int64     `json:"round"`
	Winner    string    `json:"winner"`
	Pot       string    `json:"pot"`
	RequestID int64     `json:"requestId"`
	Players   int       `json:"players"`
	EventSeq  int64     `json:"eventSeq"`
	SettledAt time.Time `json:"settledAt"`
}

// EventRecord is one persisted lottery event. Seq is unique, so replays of
// the same event are ignored.
type EventRecord struct {
	ID        uuid.UUID       `json:"id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Round     int64           `json:"round"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
	CreatedAt time.Time       `json:"createdAt"`
}
