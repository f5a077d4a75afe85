package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"

	"github.com/aman879/LotteryDaap/internal/lottery/app"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
	"github.com/aman879/LotteryDaap/internal/oracle"
)

const (
	TopicTxApplied    = "lottery:tx"
	TopicTxRejected   = "lottery:rejected"
	TopicLotteryEvent = "lottery:event"
	TopicOracleEvent  = "vrf:event"
)

// Rejection is published when a committed tx fails to apply.
type Rejection struct {
	TxID  string
	Op    protocol.Operation
	Actor string
	Err   error
}

// DefaultQueueSize bounds the backlog of each subscriber.
const DefaultQueueSize = 4096

// Bus fans applied results out to in-process subscribers. Publishing never
// waits on a handler: every subscriber owns a bounded queue drained by its
// own goroutine, so a subscriber sees its topic in publish order. When a
// queue is full the value is dropped for that subscriber and counted.
type Bus struct {
	bus       evbus.Bus
	logger    zerolog.Logger
	queueSize int
	dropped   atomic.Uint64

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
	done    chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func New(logger zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		bus:       evbus.New(),
		logger:    logger.With().Str("service", "eventbus").Logger(),
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	b.idle = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublishApplied publishes the result and then each event it produced.
func (b *Bus) PublishApplied(res app.Result) {
	if res.Replayed {
		return
	}
	b.bus.Publish(TopicTxApplied, res)
	for _, ev := range res.LotteryEvents {
		b.bus.Publish(TopicLotteryEvent, ev)
	}
	for _, ev := range res.OracleEvents {
		b.bus.Publish(TopicOracleEvent, ev)
	}
}

func (b *Bus) PublishRejected(tx protocol.Tx, err error) {
	b.bus.Publish(TopicTxRejected, Rejection{TxID: tx.TxID, Op: tx.Op, Actor: tx.Sender(), Err: err})
}

func (b *Bus) OnApplied(fn func(app.Result)) error {
	return subscribe(b, TopicTxApplied, fn)
}

func (b *Bus) OnRejected(fn func(Rejection)) error {
	return subscribe(b, TopicTxRejected, fn)
}

func (b *Bus) OnLotteryEvent(fn func(state.Event)) error {
	return subscribe(b, TopicLotteryEvent, fn)
}

func (b *Bus) OnOracleEvent(fn func(oracle.Event)) error {
	return subscribe(b, TopicOracleEvent, fn)
}

// Dropped reports how many deliveries were discarded on full queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// WaitAsync blocks until every queued delivery has been handled.
func (b *Bus) WaitAsync() {
	b.mu.Lock()
	for b.pending > 0 && !b.closed {
		b.idle.Wait()
	}
	b.mu.Unlock()
}

// Close stops the subscriber goroutines. Deliveries still queued are
// abandoned; call WaitAsync first to drain them.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.idle.Broadcast()
	b.mu.Unlock()
}

func subscribe[T any](b *Bus, topic string, fn func(T)) error {
	queue := make(chan T, b.queueSize)
	enqueue := func(v T) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		select {
		case queue <- v:
			b.pending++
		default:
			b.dropped.Add(1)
			b.logger.Warn().Str("topic", topic).Int("queue_size", b.queueSize).Msg("subscriber queue full, dropping")
		}
	}
	if err := b.bus.Subscribe(topic, enqueue); err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("subscribe failed")
		return err
	}
	go drain(b, topic, queue, fn)
	return nil
}

func drain[T any](b *Bus, topic string, queue <-chan T, fn func(T)) {
	for {
		select {
		case <-b.done:
			return
		case v := <-queue:
			b.handle(topic, func() { fn(v) })
		}
	}
}

func (b *Bus) handle(topic string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("topic", topic).Msg("subscriber panicked")
		}
		b.mu.Lock()
		b.pending--
		if b.pending == 0 {
			b.idle.Broadcast()
		}
		b.mu.Unlock()
	}()
	call()
}
