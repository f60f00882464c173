package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	consensusMetricsOnce sync.Once
	consensusRegistry    *consensusMetrics
)

// consensusMetrics instruments the engine's height/round/step progression
// and per-round vote tallying.
type consensusMetrics struct {
	blockInterval prometheus.Gauge
	height        prometheus.Gauge
	round         prometheus.Gauge
	step          prometheus.Gauge
	votes         *prometheus.CounterVec
	commits       prometheus.Counter
	roundChanges  prometheus.Counter
}

// Consensus exposes the metrics registry for consensus level instrumentation.
func Consensus() *consensusMetrics {
	consensusMetricsOnce.Do(func() {
		consensusRegistry = &consensusMetrics{
			blockInterval: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bftcore",
				Subsystem: "consensus",
				Name:      "block_interval_seconds",
				Help:      "Interval in seconds between the timestamps of consecutive committed blocks.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bftcore",
				Subsystem: "consensus",
				Name:      "height",
				Help:      "Current consensus height.",
			}),
			round: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bftcore",
				Subsystem: "consensus",
				Name:      "round",
				Help:      "Current round within the consensus height.",
			}),
			step: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bftcore",
				Subsystem: "consensus",
				Name:      "step",
				Help:      "Current step of the per-round protocol, as the ordinal of types.Step.",
			}),
			votes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bftcore",
				Subsystem: "consensus",
				Name:      "votes_total",
				Help:      "Count of votes accepted by the engine, segmented by kind.",
			}, []string{"kind"}),
			commits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "bftcore",
				Subsystem: "consensus",
				Name:      "commits_total",
				Help:      "Count of heights committed by the engine.",
			}),
			roundChanges: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "bftcore",
				Subsystem: "consensus",
				Name:      "round_changes_total",
				Help:      "Count of round advances, including both timeout-driven and proof-driven round changes.",
			}),
		}
		prometheus.MustRegister(
			consensusRegistry.blockInterval,
			consensusRegistry.height,
			consensusRegistry.round,
			consensusRegistry.step,
			consensusRegistry.votes,
			consensusRegistry.commits,
			consensusRegistry.roundChanges,
		)
	})
	return consensusRegistry
}

// RecordBlockInterval updates the block interval gauge with the supplied duration.
func (m *consensusMetrics) RecordBlockInterval(interval time.Duration) {
	if m == nil {
		return
	}
	seconds := interval.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.blockInterval.Set(seconds)
}

// SetPosition updates the height/round/step gauges to reflect the engine's
// current position.
func (m *consensusMetrics) SetPosition(height, round uint64, step int) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
	m.round.Set(float64(round))
	m.step.Set(float64(step))
}

// RecordVote increments the vote counter for the given kind ("prevote" or
// "precommit").
func (m *consensusMetrics) RecordVote(kind string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(kind).Inc()
}

// RecordCommit increments the commit counter.
func (m *consensusMetrics) RecordCommit() {
	if m == nil {
		return
	}
	m.commits.Inc()
}

// RecordRoundChange increments the round-change counter.
func (m *consensusMetrics) RecordRoundChange() {
	if m == nil {
		return
	}
	m.roundChanges.Inc()
}
