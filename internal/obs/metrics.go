// Package obs collects lightweight runtime counters for a backtest.
package obs

import "sync/atomic"

// Metrics counts driver activity. All methods are safe on a nil
// receiver so instrumentation stays optional.
type Metrics struct {
	steps        atomic.Uint64
	candles      atomic.Uint64
	tradeEvents  atomic.Uint64
	tickEvents   atomic.Uint64
	stalledSteps atomic.Uint64
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Steps        uint64
	Candles      uint64
	TradeEvents  uint64
	TickEvents   uint64
	StalledSteps uint64
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// AddStep counts one completed time step.
func (m *Metrics) AddStep() {
	if m == nil {
		return
	}
	m.steps.Add(1)
}

// AddCandles counts candles pushed into feeds.
func (m *Metrics) AddCandles(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.candles.Add(uint64(n))
}

// AddTradeEvents counts delivered trade events.
func (m *Metrics) AddTradeEvents(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tradeEvents.Add(uint64(n))
}

// AddTickEvents counts delivered tick events.
func (m *Metrics) AddTickEvents(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tickEvents.Add(uint64(n))
}

// AddStalledStep counts a step that produced no data on any feed.
func (m *Metrics) AddStalledStep() {
	if m == nil {
		return
	}
	m.stalledSteps.Add(1)
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Steps:        m.steps.Load(),
		Candles:      m.candles.Load(),
		TradeEvents:  m.tradeEvents.Load(),
		TickEvents:   m.tickEvents.Load(),
		StalledSteps: m.stalledSteps.Load(),
	}
}
