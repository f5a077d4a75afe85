package oracle

import "time"

type EventType string

const (
	EventProvingKeyRegistered EventType = "ProvingKeyRegistered"
	EventSubscriptionCreated  EventType = "SubscriptionCreated"
	EventSubscriptionFunded   EventType = "SubscriptionFunded"
	EventConsumerAdded        EventType = "ConsumerAdded"
	EventConsumerRemoved      EventType = "ConsumerRemoved"
	EventRandomWordsRequested EventType = "RandomWordsRequested"
	EventRandomWordsFulfilled EventType = "RandomWordsFulfilled"
)

// Event is one entry of the coordinator log.
type Event struct {
	Seq            uint64    `json:"seq"`
	Type           EventType `json:"type"`
	RequestID      uint64    `json:"requestId,omitempty"`
	SubscriptionID uint64    `json:"subId,omitempty"`
	KeyHash        string    `json:"keyHash,omitempty"`
	Consumer       string    `json:"consumer,omitempty"`
	Owner          string    `json:"owner,omitempty"`
	NumWords       uint32    `json:"numWords,omitempty"`
	OldBalance     string    `json:"oldBalance,omitempty"`
	NewBalance     string    `json:"newBalance,omitempty"`
	Payment        string    `json:"payment,omitempty"`
	Success        *bool     `json:"success,omitempty"`
	At             time.Time `json:"at"`
}

func (c *Coordinator) appendEventLocked(ev Event, at time.Time) {
	ev.Seq = c.nextSeq
	c.nextSeq++
	ev.At = at.UTC()
	c.events = trimEvents(append(c.events, ev), c.params.EventRetention)
}

func trimEvents(events []Event, keep int) []Event {
	if keep > 0 && len(events) > keep {
		return events[len(events)-keep:]
	}
	return events
}

// EventsSince returns events with Seq > seq in emission order.
func (c *Coordinator) EventsSince(seq uint64) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0)
	for _, ev := range c.events {
		if ev.Seq > seq {
			if ev.Success != nil {
				ok := *ev.Success
				ev.Success = &ok
			}
			out = append(out, ev)
		}
	}
	return out
}

func (c *Coordinator) LastEventSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSeq - 1
}
