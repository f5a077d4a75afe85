package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aman879/LotteryDaap/internal/infrastructure/eventbus"
	"github.com/aman879/LotteryDaap/internal/lottery/app"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
	"github.com/aman879/LotteryDaap/internal/oracle"
)

const namespace = "lottery"

// Metrics holds the node's collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	entries        prometheus.Counter
	roundsSettled  prometheus.Counter
	payoutFailures prometheus.Counter
	upkeepRejected prometheus.Counter
	txApplied      *prometheus.CounterVec
	txRejected     *prometheus.CounterVec
	vrfRequests    prometheus.Counter
	vrfFulfilled   *prometheus.CounterVec
	busDropped     prometheus.CounterFunc
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		entries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Total number of accepted entries",
		}),
		roundsSettled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_settled_total",
			Help:      "Total number of rounds that paid a winner",
		}),
		payoutFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_failures_total",
			Help:      "Fulfillments rolled back because the winner could not be paid",
		}),
		upkeepRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upkeep_rejected_total",
			Help:      "Trigger transactions refused because upkeep was not needed",
		}),
		txApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_applied_total",
			Help:      "Applied transactions by operation",
		}, []string{"op"}),
		txRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_rejected_total",
			Help:      "Committed transactions that failed to apply, by operation",
		}, []string{"op"}),
		vrfRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vrf",
			Name:      "requests_total",
			Help:      "Randomness requests recorded by the coordinator",
		}),
		vrfFulfilled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vrf",
			Name:      "fulfillments_total",
			Help:      "Randomness deliveries by consumer outcome",
		}, []string{"success"}),
	}
}

// WatchRound exports the live player count and pot of machine.
func (m *Metrics) WatchRound(machine *state.Machine) {
	f := promauto.With(m.registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "players",
		Help:      "Participants in the current round",
	}, func() float64 { return float64(machine.PlayerCount()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pot",
		Help:      "Current pot in the smallest monetary unit",
	}, func() float64 { return machine.Pot().Float64() })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "calculating",
		Help:      "1 while the round awaits randomness",
	}, func() float64 {
		if machine.State() == state.RoundCalculating {
			return 1
		}
		return 0
	})
}

// WatchClock exports the NTP offset reported by health.
func (m *Metrics) WatchClock(offsetSeconds func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "node",
		Name:      "clock_offset_seconds",
		Help:      "Offset applied to the local clock from NTP",
	}, offsetSeconds)
}

// Attach records counters from the bus.
func (m *Metrics) Attach(bus *eventbus.Bus) error {
	m.busDropped = promauto.With(m.registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: "node",
		Name:      "eventbus_dropped_total",
		Help:      "Deliveries discarded because a subscriber queue was full",
	}, func() float64 { return float64(bus.Dropped()) })
	if err := bus.OnApplied(m.ObserveApplied); err != nil {
		return err
	}
	if err := bus.OnRejected(m.ObserveRejected); err != nil {
		return err
	}
	if err := bus.OnLotteryEvent(m.ObserveLotteryEvent); err != nil {
		return err
	}
	return bus.OnOracleEvent(m.ObserveOracleEvent)
}

func (m *Metrics) ObserveApplied(res app.Result) {
	m.txApplied.WithLabelValues(string(res.Op)).Inc()
	if res.PayoutFailed {
		m.payoutFailures.Inc()
	}
}

func (m *Metrics) ObserveRejected(r eventbus.Rejection) {
	m.txRejected.WithLabelValues(string(r.Op)).Inc()
	if errors.Is(r.Err, state.ErrUpkeepNotNeeded) {
		m.upkeepRejected.Inc()
	}
}

func (m *Metrics) ObserveLotteryEvent(ev state.Event) {
	switch ev.Type {
	case state.EventEnteredRound:
		m.entries.Inc()
	case state.EventWinnerPicked:
		m.roundsSettled.Inc()
	}
}

func (m *Metrics) ObserveOracleEvent(ev oracle.Event) {
	switch ev.Type {
	case oracle.EventRandomWordsRequested:
		m.vrfRequests.Inc()
	case oracle.EventRandomWordsFulfilled:
		ok := "false"
		if ev.Success != nil && *ev.Success {
			ok = "true"
		}
		m.vrfFulfilled.WithLabelValues(ok).Inc()
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
