package sim

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/candle"
	"main/internal/market"
	"main/internal/venue"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func simTime(minute int) time.Time {
	return time.Date(2024, 3, 1, 10, minute, 0, 0, time.UTC)
}

func bar(minute int, low, high, close float64) candle.Candle {
	return candle.Candle{
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1,
		CloseTime: simTime(minute),
	}
}

func newRegistry(t *testing.T) *venue.Registry {
	t.Helper()
	reg, err := venue.BuildRegistry([]venue.TableEntry{
		{Symbol: "BTCUSDT", Asset: "BTC", QuoteAsset: "USDT", MinLotSize: dec("0.0001"), LotSizeStep: dec("0.0001"), PricePrecision: 2},
		{Symbol: "ETHUSDT", Asset: "ETH", QuoteAsset: "USDT", MinLotSize: dec("0.001"), LotSizeStep: dec("0.001"), PricePrecision: 2},
	})
	if err != nil {
		t.Fatalf("build registry failed: %+v", err)
	}
	return reg
}

func newMarket(t *testing.T) *market.Market {
	t.Helper()
	return market.New(market.Config{
		Name:           "sim",
		MakerFeeRate:   dec("0.001"),
		TakerFeeRate:   dec("0.002"),
		SpreadFraction: 0.001,
		Resolution:     time.Minute,
	}, newRegistry(t), market.NewSequences())
}

func newSimulator(t *testing.T, src candle.Source, end int, m *market.Market) *Simulator {
	t.Helper()
	s := New(Config{
		Resolution: time.Minute,
		Start:      simTime(0),
		End:        simTime(end),
	}, src, m)
	if err := s.AddFeed("sim", "BTCUSDT"); err != nil {
		t.Fatalf("add feed failed: %+v", err)
	}
	if err := s.AddFeed("sim", "ETHUSDT"); err != nil {
		t.Fatalf("add feed failed: %+v", err)
	}
	return s
}

func TestEventOrderingAcrossSymbols(t *testing.T) {
	src := candle.NewMemorySource()
	// one buy-matching and one sell-matching candle in the same step
	src.Add("sim", "BTCUSDT", bar(1, 90, 96, 95))
	src.Add("sim", "ETHUSDT", bar(1, 100, 110, 104))

	m := newMarket(t)
	m.Deposit("USDT", dec("10000"))
	m.Deposit("ETH", dec("5"))

	s := newSimulator(t, src, 2, m)

	var sequence []string
	var usdtInCallback []decimal.Decimal
	m.SubscribeTrades(func(tr *market.Trade) {
		sequence = append(sequence, "trade:"+tr.Symbol)
		usdtInCallback = append(usdtInCallback, m.Balance("USDT").Total())
	})
	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		f, err := m.SymbolFeed(symbol)
		if err != nil {
			t.Fatalf("feed failed: %+v", err)
		}
		f.SubscribeTicks(func(symbol string, c candle.Candle) {
			sequence = append(sequence, "tick:"+symbol)
		})
	}

	if _, err := m.PostOrder(market.OrderSpec{Symbol: "BTCUSDT", Direction: market.DirectionBuy, Kind: market.KindLimit, Amount: dec("1"), Price: dec("95")}); err != nil {
		t.Fatalf("post buy failed: %+v", err)
	}
	if _, err := m.PostOrder(market.OrderSpec{Symbol: "ETHUSDT", Direction: market.DirectionSell, Kind: market.KindLimit, Amount: dec("1"), Price: dec("105")}); err != nil {
		t.Fatalf("post sell failed: %+v", err)
	}

	done, err := s.Step()
	if err != nil || done {
		t.Fatalf("step failed: done=%v err=%+v", done, err)
	}

	want := []string{"trade:BTCUSDT", "trade:ETHUSDT", "tick:BTCUSDT", "tick:ETHUSDT"}
	if fmt.Sprint(sequence) != fmt.Sprint(want) {
		t.Fatalf("event order mismatch:\n got %v\nwant %v", sequence, want)
	}

	// both trades settled before any delivery: every callback already
	// sees the fully post-trade quote balance
	finalUSDT := m.Balance("USDT").Total()
	for i, v := range usdtInCallback {
		if !v.Equal(finalUSDT) {
			t.Fatalf("callback %d saw stale balance %s, want %s", i, v, finalUSDT)
		}
	}
}

func TestDeterminism(t *testing.T) {
	run := func() (string, string) {
		src := candle.NewMemorySource()
		for i := 1; i <= 5; i++ {
			src.Add("sim", "BTCUSDT", bar(i, 90+float64(i), 101, 95+float64(i)))
			src.Add("sim", "ETHUSDT", bar(i, 50, 61, float64(55+i)))
		}

		m := newMarket(t)
		m.Deposit("USDT", dec("100000"))
		s := newSimulator(t, src, 6, m)

		// simple strategy: market-buy a little of whatever ticked
		for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
			f, err := m.SymbolFeed(symbol)
			if err != nil {
				t.Fatalf("feed failed: %+v", err)
			}
			f.SubscribeTicks(func(symbol string, c candle.Candle) {
				_, err := m.PostOrder(market.OrderSpec{Symbol: symbol, Direction: market.DirectionBuy, Kind: market.KindMarket, Amount: dec("0.5")})
				if err != nil {
					t.Fatalf("strategy order failed: %+v", err)
				}
			})
		}

		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("run failed: %+v", err)
		}

		var trades string
		for _, tr := range m.Trades() {
			trades += fmt.Sprintf("%d|%s|%s|%s|%s|%s\n", tr.ID, tr.Symbol, tr.Direction, tr.Price, tr.Amount, tr.Time.Format(time.RFC3339Nano))
		}
		balances := fmt.Sprintf("%s|%s|%s",
			m.Balance("USDT").Total(), m.Balance("BTC").Total(), m.Balance("ETH").Total())
		return trades, balances
	}

	trades1, balances1 := run()
	trades2, balances2 := run()
	if trades1 != trades2 {
		t.Fatalf("trade history differs between runs:\n%s\n---\n%s", trades1, trades2)
	}
	if balances1 != balances2 {
		t.Fatalf("balances differ between runs: %s vs %s", balances1, balances2)
	}
	if trades1 == "" {
		t.Fatal("strategy produced no trades")
	}
}

func TestStallDetectorStopsRun(t *testing.T) {
	src := candle.NewMemorySource()
	src.Add("sim", "BTCUSDT", bar(1, 99, 101, 100))

	m := newMarket(t)
	s := New(Config{
		Resolution: time.Minute,
		Start:      simTime(0),
		End:        simTime(60),
	}, src, m)
	if err := s.AddFeed("sim", "BTCUSDT"); err != nil {
		t.Fatalf("add feed failed: %+v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %+v", err)
	}

	snap := s.Metrics().Snapshot()
	if snap.StalledSteps != 10 {
		t.Fatalf("stalled steps: got %d want 10", snap.StalledSteps)
	}
	// one data step plus ten stalled ones, nowhere near the full hour
	if snap.Steps != 11 {
		t.Fatalf("steps: got %d want 11", snap.Steps)
	}
}

type recordingSource struct {
	inner *candle.MemorySource
	calls []string
}

func (r *recordingSource) GetHistory(market, symbol string, resolution time.Duration, start, end time.Time) ([]candle.Candle, error) {
	r.calls = append(r.calls, fmt.Sprintf("%s[%s,%s)", symbol, start.Format("01-02T15:04"), end.Format("01-02T15:04")))
	return r.inner.GetHistory(market, symbol, resolution, start, end)
}

func (r *recordingSource) Close() error {
	return r.inner.Close()
}

func TestIncrementalLoadMonthRollover(t *testing.T) {
	start := time.Date(2024, 1, 31, 23, 55, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 10, 0, 0, time.UTC)

	inner := candle.NewMemorySource()
	for i := 1; i <= 14; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		inner.Add("sim", "BTCUSDT", candle.Candle{
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 1, CloseTime: ts,
		})
	}
	src := &recordingSource{inner: inner}

	m := newMarket(t)
	s := New(Config{
		Resolution: time.Minute,
		Start:      start,
		End:        end,
		Policy:     LoadIncremental,
	}, src, m)
	if err := s.AddFeed("sim", "BTCUSDT"); err != nil {
		t.Fatalf("add feed failed: %+v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %+v", err)
	}

	if len(src.calls) != 2 {
		t.Fatalf("expected two monthly loads, got %v", src.calls)
	}
	wantFirst := "BTCUSDT[01-31T23:55,02-01T00:00)"
	wantSecond := "BTCUSDT[02-01T00:00,02-01T00:11)"
	if src.calls[0] != wantFirst || src.calls[1] != wantSecond {
		t.Fatalf("load windows mismatch: %v", src.calls)
	}

	// candles on both sides of the month boundary were delivered
	if got := s.Metrics().Snapshot().Candles; got != 14 {
		t.Fatalf("candles delivered: got %d want 14", got)
	}
}

func TestRecorderHook(t *testing.T) {
	src := candle.NewMemorySource()
	src.Add("sim", "BTCUSDT", bar(1, 99, 101, 100), bar(2, 99, 101, 100))

	m := newMarket(t)
	s := newSimulator(t, src, 2, m)

	var steps []uint64
	s.SetRecorder(recorderFunc(func(step uint64, ts time.Time, markets []*market.Market) error {
		steps = append(steps, step)
		if len(markets) != 1 {
			t.Fatalf("markets in hook: got %d want 1", len(markets))
		}
		return nil
	}))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %+v", err)
	}
	if len(steps) != 2 || steps[0] != 1 || steps[1] != 2 {
		t.Fatalf("recorder steps mismatch: %v", steps)
	}
}

type recorderFunc func(step uint64, ts time.Time, markets []*market.Market) error

func (f recorderFunc) RecordStep(step uint64, ts time.Time, markets []*market.Market) error {
	return f(step, ts, markets)
}

func TestSimulatorErrors(t *testing.T) {
	src := candle.NewMemorySource()
	m := newMarket(t)
	s := New(Config{Resolution: time.Minute, Start: simTime(0), End: simTime(2)}, src, m)

	if err := s.Run(context.Background()); err != ErrNoFeeds {
		t.Fatalf("expected ErrNoFeeds, got %+v", err)
	}
	if err := s.AddFeed("other", "BTCUSDT"); err != ErrUnknownMarket {
		t.Fatalf("expected ErrUnknownMarket, got %+v", err)
	}
	if err := s.Deposit("other", "USDT", dec("1")); err != ErrUnknownMarket {
		t.Fatalf("expected ErrUnknownMarket, got %+v", err)
	}
}
