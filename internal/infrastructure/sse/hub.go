package sse

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aman879/LotteryDaap/internal/infrastructure/eventbus"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
	"github.com/aman879/LotteryDaap/internal/oracle"
)

const (
	EventLottery = "lottery"
	EventVRF     = "vrf"
)

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
)

// Client is one active stream. An empty Topics set receives everything.
type Client struct {
	ClientID    string
	Topics      map[string]struct{}
	ConnectedAt time.Time
	MessageChan chan *Message
}

func NewClient(clientID string, topics []string) *Client {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return &Client{
		ClientID:    clientID,
		Topics:      set,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, 100),
	}
}

func (c *Client) wants(event string) bool {
	if len(c.Topics) == 0 {
		return true
	}
	_, ok := c.Topics[event]
	return ok
}

func (c *Client) Close() {
	close(c.MessageChan)
}

// Message is one server-sent event.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewMessage(event string, v any) (*Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Hub manages SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With().Str("service", "sse-hub").Logger(),
	}
}

// Register adds client, replacing any stream with the same id.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok && old != client {
		old.Close()
	}
	h.clients[client.ClientID] = client
}

// Unregister closes client if it is still the registered stream for its id.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[client.ClientID]; ok && c == client {
		c.Close()
		delete(h.clients, client.ClientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every interested client. Slow clients drop
// messages rather than block publishers.
func (h *Hub) Broadcast(msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(msg.Event) {
			continue
		}
		if !trySend(c, msg) {
			h.logger.Warn().Str("client_id", c.ClientID).Msg("sse client lagging, message dropped")
		}
	}
}

func (h *Hub) SendToClient(clientID string, message *Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[clientID]
	if c == nil {
		return ErrClientNotFound
	}
	if !trySend(c, message) {
		return ErrChannelFull
	}
	return nil
}

// Attach forwards lottery and coordinator events from bus to clients.
func (h *Hub) Attach(bus *eventbus.Bus) error {
	if err := bus.OnLotteryEvent(func(ev state.Event) { h.publish(EventLottery, ev) }); err != nil {
		return err
	}
	return bus.OnOracleEvent(func(ev oracle.Event) { h.publish(EventVRF, ev) })
}

func (h *Hub) publish(event string, v any) {
	msg, err := NewMessage(event, v)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode sse message")
		return
	}
	h.Broadcast(msg)
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *Client, msg *Message) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
