package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/candle"
	"main/internal/outbox"
	"main/internal/venue"
)

// TickHandler receives the candle that updated a feed.
type TickHandler func(symbol string, c candle.Candle)

// SymbolFeed is the simulated price stream for one symbol. Bid, ask
// and spread are kept in float64 for speed; conversion to decimal
// happens only at the settlement boundary via roundUp/roundDown.
type SymbolFeed struct {
	mu *sync.Mutex // the owning market's lock

	symbol     string
	info       venue.SymbolInfo
	resolution time.Duration
	spreadFrac float64

	bid    float64
	ask    float64
	spread float64
	now    time.Time
	last   candle.Candle

	ticks    *outbox.Queue[candle.Candle]
	handlers []TickHandler
}

func newSymbolFeed(mu *sync.Mutex, info venue.SymbolInfo, resolution time.Duration, spreadFrac float64) *SymbolFeed {
	return &SymbolFeed{
		mu:         mu,
		symbol:     info.Name,
		info:       info,
		resolution: resolution,
		spreadFrac: spreadFrac,
		ticks:      outbox.New[candle.Candle](0),
	}
}

// Symbol returns the feed's symbol name.
func (f *SymbolFeed) Symbol() string {
	return f.symbol
}

// Info returns the symbol metadata.
func (f *SymbolFeed) Info() venue.SymbolInfo {
	return f.info
}

// Resolution returns the candle interval driving the feed.
func (f *SymbolFeed) Resolution() time.Duration {
	return f.resolution
}

// Bid returns the current bid price.
func (f *SymbolFeed) Bid() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bid
}

// Ask returns the current ask price.
func (f *SymbolFeed) Ask() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ask
}

// Spread returns the current bid/ask spread.
func (f *SymbolFeed) Spread() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spread
}

// Time returns the feed clock, the close time of the latest candle.
func (f *SymbolFeed) Time() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// LastTick returns the latest candle pushed into the feed.
func (f *SymbolFeed) LastTick() candle.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// SubscribeTicks registers a handler for flushed tick events.
func (f *SymbolFeed) SubscribeTicks(fn TickHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

// push updates the feed from a new candle and buffers a tick event
// for deferred delivery. Caller holds the market lock.
func (f *SymbolFeed) push(c candle.Candle) {
	f.bid = c.Close
	f.spread = c.Close * f.spreadFrac
	f.ask = f.bid + f.spread
	f.now = c.CloseTime
	f.last = c
	_ = f.ticks.Push(c)
}

// drainTicks moves the buffered ticks out. Caller holds the market
// lock; delivery happens after release.
func (f *SymbolFeed) drainTicks() []candle.Candle {
	if f.ticks.Len() == 0 {
		return nil
	}
	out := make([]candle.Candle, 0, f.ticks.Len())
	f.ticks.Drain(func(c candle.Candle) { out = append(out, c) })
	return out
}

// roundUp converts a float price to decimal rounding away from the
// payer: buy-side requirements round up so reservations never come
// up short.
func roundUp(v float64, precision int32) decimal.Decimal {
	return decimal.NewFromFloat(v).RoundUp(precision)
}

// roundDown converts a float price to decimal rounding against the
// seller: sell-side availability rounds down so proceeds are never
// overstated.
func roundDown(v float64, precision int32) decimal.Decimal {
	return decimal.NewFromFloat(v).RoundDown(precision)
}
