// Package sim drives simulated time across any number of emulated
// markets: it pulls due candles from the history source, advances
// every feed, triggers order resolution, and flushes buffered events
// in a fixed phase order so backtests stay deterministic.
package sim

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/candle"
	"main/internal/errors"
	"main/internal/market"
	"main/internal/obs"
)

var (
	ErrUnknownMarket = errors.New("market not registered with simulator")
	ErrNoFeeds       = errors.New("simulator has no feeds to drive")
)

// LoadPolicy selects how historical candles are brought into memory.
type LoadPolicy uint8

const (
	// LoadBulk pre-loads the entire requested range once.
	LoadBulk LoadPolicy = iota
	// LoadIncremental reloads one calendar month at a time, bounding
	// memory for long backtests. Month rollover is tracked per feed.
	LoadIncremental
)

// ParseLoadPolicy maps a config string to a policy.
func ParseLoadPolicy(s string) (LoadPolicy, error) {
	switch s {
	case "", "bulk":
		return LoadBulk, nil
	case "incremental":
		return LoadIncremental, nil
	default:
		return LoadBulk, errors.New("unknown load policy: " + s)
	}
}

const defaultStallLimit = 10

// Config controls the stepping loop.
type Config struct {
	Resolution time.Duration
	Start      time.Time
	End        time.Time
	Policy     LoadPolicy

	// StallLimit ends the run after this many consecutive steps with
	// no new data on any feed. Zero means the default of 10.
	StallLimit int
}

// Recorder receives end-of-step state for later analysis.
type Recorder interface {
	RecordStep(step uint64, simTime time.Time, markets []*market.Market) error
}

type feedState struct {
	market *market.Market
	symbol string
	series *candle.Series

	loadedThrough time.Time
	loaded        bool // bulk policy: range fetched
}

// Simulator advances simulated wall-clock time across all markets.
type Simulator struct {
	cfg     Config
	source  candle.Source
	markets []*market.Market
	byName  map[string]*market.Market
	feeds   []*feedState

	current time.Time
	step    uint64
	stall   int

	metrics  *obs.Metrics
	recorder Recorder
}

// New creates a simulator over the given markets.
func New(cfg Config, source candle.Source, markets ...*market.Market) *Simulator {
	if cfg.Resolution <= 0 {
		cfg.Resolution = time.Minute
	}
	if cfg.StallLimit <= 0 {
		cfg.StallLimit = defaultStallLimit
	}
	byName := make(map[string]*market.Market, len(markets))
	for _, m := range markets {
		byName[m.Name()] = m
	}
	return &Simulator{
		cfg:     cfg,
		source:  source,
		markets: markets,
		byName:  byName,
		current: cfg.Start,
		metrics: obs.NewMetrics(),
	}
}

// SetRecorder attaches an optional run recorder.
func (s *Simulator) SetRecorder(r Recorder) {
	s.recorder = r
}

// Metrics returns the driver's counters.
func (s *Simulator) Metrics() *obs.Metrics {
	return s.metrics
}

// CurrentTime returns the simulated clock.
func (s *Simulator) CurrentTime() time.Time {
	return s.current
}

// AddFeed registers a symbol feed to drive on a market. The market
// must have been passed to New.
func (s *Simulator) AddFeed(marketName, symbol string) error {
	m, ok := s.byName[marketName]
	if !ok {
		return ErrUnknownMarket
	}
	if _, err := m.SymbolFeed(symbol); err != nil {
		return errors.Wrapf(err, "feed %s/%s", marketName, symbol)
	}
	s.feeds = append(s.feeds, &feedState{
		market:        m,
		symbol:        symbol,
		series:        &candle.Series{},
		loadedThrough: s.cfg.Start,
	})
	return nil
}

// Deposit seeds free balance on a market before the run.
func (s *Simulator) Deposit(marketName, asset string, amount decimal.Decimal) error {
	m, ok := s.byName[marketName]
	if !ok {
		return ErrUnknownMarket
	}
	m.Deposit(asset, amount)
	return nil
}

// Market returns a registered market by name.
func (s *Simulator) Market(name string) (*market.Market, bool) {
	m, ok := s.byName[name]
	return m, ok
}

// Run steps the simulator until the end time, a stall, or context
// cancellation, then closes the history source.
func (s *Simulator) Run(ctx context.Context) error {
	if len(s.feeds) == 0 {
		return ErrNoFeeds
	}
	defer func() {
		if err := s.source.Close(); err != nil {
			logs.Warnf("close history source: %+v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		done, err := s.Step()
		if err != nil {
			return err
		}
		if done {
			snap := s.metrics.Snapshot()
			logs.Infof("backtest finished: steps=%d candles=%d trades=%d ticks=%d stalled=%d",
				snap.Steps, snap.Candles, snap.TradeEvents, snap.TickEvents, snap.StalledSteps)
			return nil
		}
	}
}

// Step advances the clock by one resolution and runs the fixed phase
// order: feed advancement, order resolution across every market, then
// event delivery with trade events before tick events. Returns true
// when the run is over.
func (s *Simulator) Step() (bool, error) {
	next := s.current.Add(s.cfg.Resolution)
	if next.After(s.cfg.End) {
		return true, nil
	}
	s.current = next
	s.step++

	var pushed int
	for _, fs := range s.feeds {
		if err := s.ensureLoaded(fs); err != nil {
			return false, err
		}
		for _, c := range fs.series.PopThrough(s.current) {
			if err := fs.market.PushCandle(fs.symbol, c); err != nil {
				return false, errors.Wrapf(err, "push candle %s/%s", fs.market.Name(), fs.symbol)
			}
			pushed++
		}
	}

	for _, m := range s.markets {
		m.ResolvePendingOrders()
	}

	for _, m := range s.markets {
		trades, ticks := m.FlushEvents()
		s.metrics.AddTradeEvents(trades)
		s.metrics.AddTickEvents(ticks)
	}

	s.metrics.AddStep()
	s.metrics.AddCandles(pushed)

	if s.recorder != nil {
		if err := s.recorder.RecordStep(s.step, s.current, s.markets); err != nil {
			return false, errors.Wrap(err, "record step")
		}
	}

	if pushed == 0 {
		s.stall++
		s.metrics.AddStalledStep()
		if s.stall >= s.cfg.StallLimit {
			logs.Warnf("no feed produced data for %d consecutive steps, stopping at %s", s.stall, s.current)
			return true, nil
		}
	} else {
		s.stall = 0
	}
	return false, nil
}

// ensureLoaded tops up a feed's candle buffer according to the load
// policy.
func (s *Simulator) ensureLoaded(fs *feedState) error {
	rangeEnd := s.cfg.End.Add(s.cfg.Resolution)

	switch s.cfg.Policy {
	case LoadBulk:
		if fs.loaded {
			return nil
		}
		cs, err := s.source.GetHistory(fs.market.Name(), fs.symbol, s.cfg.Resolution, s.cfg.Start, rangeEnd)
		if err != nil {
			return errors.Wrapf(err, "bulk load %s/%s", fs.market.Name(), fs.symbol)
		}
		fs.series.Append(cs...)
		fs.loaded = true
		return nil

	case LoadIncremental:
		for fs.loadedThrough.Before(rangeEnd) && !fs.loadedThrough.After(s.current) {
			to := nextMonth(fs.loadedThrough)
			if to.After(rangeEnd) {
				to = rangeEnd
			}
			cs, err := s.source.GetHistory(fs.market.Name(), fs.symbol, s.cfg.Resolution, fs.loadedThrough, to)
			if err != nil {
				return errors.Wrapf(err, "load month %s for %s/%s", fs.loadedThrough.Format("2006-01"), fs.market.Name(), fs.symbol)
			}
			fs.series.Append(cs...)
			fs.loadedThrough = to
		}
		return nil

	default:
		return errors.New("unsupported load policy")
	}
}

// nextMonth returns the first instant of the calendar month after t.
func nextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}
