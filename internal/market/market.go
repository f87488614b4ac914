// Package market implements the emulated exchange: per-asset ledger,
// order admission and matching against simulated symbol feeds, fee
// settlement, and deferred trade/tick event delivery.
package market

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/candle"
	"main/internal/outbox"
	"main/internal/venue"
)

var (
	ErrInvalidAmount       = errors.New("invalid order amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownOrder        = errors.New("order not found")
	ErrOrderNotPending     = errors.New("order is not pending")
	ErrNoPrice             = errors.New("feed has no price yet")
)

// TradeHandler receives settled trades during the event flush.
type TradeHandler func(t *Trade)

// Config describes one simulated venue.
type Config struct {
	Name          string
	MakerFeeRate  decimal.Decimal
	TakerFeeRate  decimal.Decimal
	BorrowAllowed bool

	// SpreadFraction recomputes the spread on every candle as
	// close * SpreadFraction.
	SpreadFraction float64

	// Resolution is the candle interval of this venue's feeds.
	Resolution time.Duration

	// IntrabarFill backdates limit fills by half the resolution to
	// approximate execution inside the bar.
	IntrabarFill bool
}

// Market is a single-venue exchange emulator. One lock serializes
// every balance, order and trade mutation so a live submission path
// can safely run beside the stepping path.
type Market struct {
	mu  sync.Mutex
	cfg Config
	reg *venue.Registry

	orderSeq *Sequence
	tradeSeq *Sequence

	balances map[string]*AssetBalance

	feeds     map[string]*SymbolFeed
	feedOrder []string

	pending      map[int64]*Order
	pendingOrder []int64
	closed       map[int64]*Order
	trades       []*Trade
	tradeByID    map[int64]*Trade

	tradeEvents *outbox.Queue[*Trade]
	tradeSubs   []TradeHandler
}

// New creates a market for the venue described by cfg. Sequences may
// be shared across the markets of one simulator.
func New(cfg Config, reg *venue.Registry, seqs Sequences) *Market {
	if cfg.Resolution <= 0 {
		cfg.Resolution = time.Minute
	}
	if seqs.Order == nil {
		seqs.Order = NewSequence()
	}
	if seqs.Trade == nil {
		seqs.Trade = NewSequence()
	}
	return &Market{
		cfg:         cfg,
		reg:         reg,
		orderSeq:    seqs.Order,
		tradeSeq:    seqs.Trade,
		balances:    make(map[string]*AssetBalance),
		feeds:       make(map[string]*SymbolFeed),
		pending:     make(map[int64]*Order),
		closed:      make(map[int64]*Order),
		tradeByID:   make(map[int64]*Trade),
		tradeEvents: outbox.New[*Trade](0),
	}
}

// Name returns the venue name.
func (m *Market) Name() string {
	return m.cfg.Name
}

// SymbolFeed returns the feed for a symbol, creating it and the base
// and quote ledgers on first reference. Symbols absent from the venue
// table are augmented from the history-discovered name.
func (m *Market) SymbolFeed(symbol string) (*SymbolFeed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feedLocked(symbol)
}

func (m *Market) feedLocked(symbol string) (*SymbolFeed, error) {
	if f, ok := m.feeds[symbol]; ok {
		return f, nil
	}
	info, ok := m.reg.Info(symbol)
	if !ok {
		var err error
		info, err = m.reg.Augment(symbol)
		if err != nil {
			return nil, venue.ErrUnknownSymbol
		}
	}
	f := newSymbolFeed(&m.mu, info, m.cfg.Resolution, m.cfg.SpreadFraction)
	m.feeds[symbol] = f
	m.feedOrder = append(m.feedOrder, symbol)
	m.ledgerLocked(info.Asset)
	m.ledgerLocked(info.QuoteAsset)
	return f, nil
}

func (m *Market) ledgerLocked(asset string) *AssetBalance {
	b, ok := m.balances[asset]
	if !ok {
		b = &AssetBalance{}
		m.balances[asset] = b
	}
	return b
}

// Deposit seeds free balance outside of any trade. Backtest bootstrap
// only; it bypasses reservation.
func (m *Market) Deposit(asset string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.ledgerLocked(asset)
	b.Free = b.Free.Add(amount)
}

// Balance returns the ledger entry for an asset.
func (m *Market) Balance(asset string) AssetBalance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[asset]; ok {
		return *b
	}
	return AssetBalance{}
}

// Balances returns a copy of every ledger entry.
func (m *Market) Balances() map[string]AssetBalance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]AssetBalance, len(m.balances))
	for asset, b := range m.balances {
		out[asset] = *b
	}
	return out
}

// PostOrder admits an order. Market orders fill synchronously against
// the opposite side of the spread; limit orders reserve worst-case
// funds and rest until resolution or cancellation.
func (m *Market) PostOrder(spec OrderSpec) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !spec.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	f, err := m.feedLocked(spec.Symbol)
	if err != nil {
		return nil, err
	}
	info := f.info

	amount := conformAmount(spec.Amount, info.LotSizeStep)
	if !amount.IsPositive() || amount.LessThan(info.MinLotSize) {
		return nil, ErrInvalidAmount
	}

	var price decimal.Decimal
	switch spec.Kind {
	case KindMarket:
		if f.bid <= 0 {
			return nil, ErrNoPrice
		}
		if spec.Direction == DirectionBuy {
			price = roundUp(f.ask, info.PricePrecision)
		} else {
			price = roundDown(f.bid, info.PricePrecision)
		}
	case KindLimit:
		if !spec.Price.IsPositive() {
			return nil, ErrInvalidAmount
		}
		price = spec.Price
	default:
		return nil, ErrInvalidAmount
	}

	if info.MinNotional.IsPositive() && amount.Mul(price).LessThan(info.MinNotional) {
		return nil, ErrInvalidAmount
	}

	if err := m.reserveLocked(info, spec.Direction, amount, price); err != nil {
		return nil, err
	}

	o := &Order{
		ID:          m.orderSeq.Next(),
		ClientID:    spec.ClientID,
		Market:      m.cfg.Name,
		Symbol:      spec.Symbol,
		Direction:   spec.Direction,
		Kind:        spec.Kind,
		Amount:      amount,
		Price:       price,
		CreatedTime: f.now,
		Status:      StatusPending,
	}

	if spec.Kind == KindMarket {
		m.fillLocked(o, f, price, f.now)
		return o, nil
	}

	m.pending[o.ID] = o
	m.pendingOrder = append(m.pendingOrder, o.ID)
	return o, nil
}

// CancelOrder removes a pending order and releases its reservation.
func (m *Market) CancelOrder(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.pending[id]
	if !ok {
		if _, closed := m.closed[id]; closed {
			return ErrOrderNotPending
		}
		return ErrUnknownOrder
	}

	f, err := m.feedLocked(o.Symbol)
	if err != nil {
		return err
	}
	m.releaseLocked(f.info, o.Direction, o.Amount, o.Price)

	o.Status = StatusCancelled
	m.removePendingLocked(id)
	m.closed[id] = o
	return nil
}

// ResolvePendingOrders settles resting limit orders against the
// current feed state. Called once per step after every feed of the
// market has been advanced. A buy fills when low + spread reaches
// down to its price; a sell fills when high - spread reaches up to
// it. Fills always execute at the order's limit price.
func (m *Market) ResolvePendingOrders() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, len(m.pendingOrder))
	copy(ids, m.pendingOrder)

	for _, id := range ids {
		o, ok := m.pending[id]
		if !ok {
			continue
		}
		f, ok := m.feeds[o.Symbol]
		if !ok || f.last.IsZero() {
			continue
		}

		limit := o.Price.InexactFloat64()
		var touched bool
		switch o.Direction {
		case DirectionBuy:
			touched = f.last.Low+f.spread <= limit
		case DirectionSell:
			touched = f.last.High-f.spread >= limit
		}
		if !touched {
			continue
		}

		fillTime := f.last.CloseTime
		if m.cfg.IntrabarFill {
			fillTime = fillTime.Add(-f.resolution / 2)
		}
		m.removePendingLocked(id)
		m.fillLocked(o, f, o.Price, fillTime)
	}
}

// FlushEvents delivers buffered trade events, then buffered tick
// events, to subscribers. Handlers run without the market lock so a
// strategy may query balances or post orders from inside a callback.
// Returns the number of delivered trade and tick events.
func (m *Market) FlushEvents() (tradeEvents, tickEvents int) {
	m.mu.Lock()
	var trades []*Trade
	if m.tradeEvents.Len() > 0 {
		trades = make([]*Trade, 0, m.tradeEvents.Len())
		m.tradeEvents.Drain(func(t *Trade) { trades = append(trades, t) })
	}
	tradeSubs := make([]TradeHandler, len(m.tradeSubs))
	copy(tradeSubs, m.tradeSubs)

	type tickBatch struct {
		feed     *SymbolFeed
		handlers []TickHandler
		candles  []candle.Candle
	}
	var ticks []tickBatch
	for _, symbol := range m.feedOrder {
		f := m.feeds[symbol]
		cs := f.drainTicks()
		if len(cs) == 0 {
			continue
		}
		handlers := make([]TickHandler, len(f.handlers))
		copy(handlers, f.handlers)
		ticks = append(ticks, tickBatch{feed: f, handlers: handlers, candles: cs})
	}
	m.mu.Unlock()

	for _, t := range trades {
		tradeEvents++
		for _, fn := range tradeSubs {
			fn(t)
		}
	}
	for _, batch := range ticks {
		for _, c := range batch.candles {
			tickEvents++
			for _, fn := range batch.handlers {
				fn(batch.feed.symbol, c)
			}
		}
	}
	return tradeEvents, tickEvents
}

// SubscribeTrades registers a handler for settled trades.
func (m *Market) SubscribeTrades(fn TradeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradeSubs = append(m.tradeSubs, fn)
}

// PushCandle advances a feed with a new candle. Driver-facing.
func (m *Market) PushCandle(symbol string, c candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.feedLocked(symbol)
	if err != nil {
		return err
	}
	f.push(c)
	return nil
}

// Equity sums every asset's total balance converted into baseAsset
// through whichever direct feed exists. The base asset itself and
// assets with no convertible feed contribute at face value.
func (m *Market) Equity(baseAsset string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	assets := make([]string, 0, len(m.balances))
	for asset := range m.balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	total := decimal.Zero
	for _, asset := range assets {
		b := m.balances[asset]
		if b.Total().IsZero() || asset == baseAsset {
			total = total.Add(b.Total())
			continue
		}
		if f, ok := m.feeds[asset+baseAsset]; ok && f.bid > 0 {
			total = total.Add(b.Total().Mul(roundDown(f.bid, f.info.PricePrecision)))
			continue
		}
		if f, ok := m.feeds[baseAsset+asset]; ok && f.ask > 0 {
			price := roundUp(f.ask, f.info.PricePrecision)
			total = total.Add(b.Total().DivRound(price, 16))
			continue
		}
		total = total.Add(b.Total())
	}
	return total
}

// OpenOrders returns the pending orders in submission order.
func (m *Market) OpenOrders() []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Order, 0, len(m.pendingOrder))
	for _, id := range m.pendingOrder {
		if o, ok := m.pending[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// ClosedOrders returns every filled or cancelled order sorted by ID.
func (m *Market) ClosedOrders() []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Order, 0, len(m.closed))
	for _, o := range m.closed {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Trades returns every settled trade in settlement order.
func (m *Market) Trades() []*Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// OrderByID returns an order, pending or closed.
func (m *Market) OrderByID(id int64) (*Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.pending[id]; ok {
		return o, true
	}
	o, ok := m.closed[id]
	return o, ok
}

// OrderByClientID returns the most recent order with the client ID.
func (m *Market) OrderByClientID(clientID string) (*Order, bool) {
	if clientID == "" {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Order
	for _, o := range m.pending {
		if o.ClientID == clientID && (found == nil || o.ID > found.ID) {
			found = o
		}
	}
	for _, o := range m.closed {
		if o.ClientID == clientID && (found == nil || o.ID > found.ID) {
			found = o
		}
	}
	return found, found != nil
}

// TradeByID returns a settled trade.
func (m *Market) TradeByID(id int64) (*Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tradeByID[id]
	return t, ok
}

// MinTradable returns the minimum order amount for a symbol.
func (m *Market) MinTradable(symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.reg.Info(symbol)
	if !ok {
		return decimal.Zero, venue.ErrUnknownSymbol
	}
	return info.MinLotSize, nil
}

// SymbolPrecision returns the price precision for a symbol.
func (m *Market) SymbolPrecision(symbol string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.reg.Info(symbol)
	if !ok {
		return 0, venue.ErrUnknownSymbol
	}
	return info.PricePrecision, nil
}

// reserveLocked moves the worst-case required funds from free to
// locked. Buys lock quote notional, sells lock the base amount.
func (m *Market) reserveLocked(info venue.SymbolInfo, dir Direction, amount, price decimal.Decimal) error {
	asset, required := reservationFor(info, dir, amount, price)
	b := m.ledgerLocked(asset)
	if b.Free.LessThan(required) && !m.borrowableLocked(info) {
		return ErrInsufficientBalance
	}
	b.Free = b.Free.Sub(required)
	b.Locked = b.Locked.Add(required)
	return nil
}

// releaseLocked returns a reservation to free balance.
func (m *Market) releaseLocked(info venue.SymbolInfo, dir Direction, amount, price decimal.Decimal) {
	asset, required := reservationFor(info, dir, amount, price)
	b := m.ledgerLocked(asset)
	b.Locked = b.Locked.Sub(required)
	b.Free = b.Free.Add(required)
	m.checkLocked(asset, b)
}

func (m *Market) borrowableLocked(info venue.SymbolInfo) bool {
	return m.cfg.BorrowAllowed && info.MarginAllowed
}

func reservationFor(info venue.SymbolInfo, dir Direction, amount, price decimal.Decimal) (asset string, required decimal.Decimal) {
	if dir == DirectionBuy {
		return info.QuoteAsset, amount.Mul(price)
	}
	return info.Asset, amount
}

// fillLocked settles an order in full at the given price: the single
// place balances change on a fill. The trade is recorded immediately
// and its event buffered for the step flush.
func (m *Market) fillLocked(o *Order, f *SymbolFeed, price decimal.Decimal, ts time.Time) {
	info := f.info
	notional := o.Amount.Mul(price)

	base := m.ledgerLocked(info.Asset)
	quote := m.ledgerLocked(info.QuoteAsset)

	var feeRate decimal.Decimal
	if o.Kind == KindMarket {
		feeRate = m.cfg.TakerFeeRate
	} else {
		feeRate = m.cfg.MakerFeeRate
	}
	commission := notional.Mul(feeRate)

	switch o.Direction {
	case DirectionBuy:
		base.Free = base.Free.Add(o.Amount)
		quote.Locked = quote.Locked.Sub(notional)
	case DirectionSell:
		quote.Free = quote.Free.Add(notional)
		base.Locked = base.Locked.Sub(o.Amount)
	}
	quote.Free = quote.Free.Sub(commission)

	m.checkLocked(info.Asset, base)
	m.checkLocked(info.QuoteAsset, quote)

	o.Status = StatusFilled
	o.Filled = o.Amount
	m.closed[o.ID] = o

	t := &Trade{
		ID:              m.tradeSeq.Next(),
		Market:          m.cfg.Name,
		Symbol:          o.Symbol,
		Time:            ts,
		Direction:       o.Direction,
		Price:           price,
		Amount:          o.Amount,
		Commission:      commission,
		CommissionAsset: info.QuoteAsset,
		OrderID:         o.ID,
	}
	m.trades = append(m.trades, t)
	m.tradeByID[t.ID] = t
	_ = m.tradeEvents.Push(t)
}

// checkLocked asserts a locked balance did not go meaningfully
// negative after settlement. Anything past the epsilon is a matching
// bug; it is logged loudly and clamped so the run can finish.
func (m *Market) checkLocked(asset string, b *AssetBalance) {
	if !b.Locked.IsNegative() {
		return
	}
	if b.Locked.LessThan(negativeLockedEpsilon) {
		logs.Errorf("market %s: locked %s balance went negative: %s", m.cfg.Name, asset, b.Locked)
	}
	b.Locked = decimal.Zero
}

func (m *Market) removePendingLocked(id int64) {
	delete(m.pending, id)
	for i, pid := range m.pendingOrder {
		if pid == id {
			m.pendingOrder = append(m.pendingOrder[:i], m.pendingOrder[i+1:]...)
			break
		}
	}
}

// conformAmount truncates an amount to the venue's lot step.
func conformAmount(amount, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return amount
	}
	return amount.Sub(amount.Mod(step))
}
