// Package candle defines the market data unit driving the simulator
// and the contract for fetching historical candles. Prices are plain
// float64 here; exact decimal arithmetic starts at the settlement
// boundary inside the market package.
package candle

import "time"

// Candle is one OHLCV bar for a symbol at a fixed resolution.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	OpenTime  time.Time
	CloseTime time.Time
}

// IsZero reports whether the candle carries no data.
func (c Candle) IsZero() bool {
	return c.CloseTime.IsZero()
}

// Source supplies ordered historical candles for one venue symbol.
// Sequences may contain gaps; callers must not assume one candle per
// resolution interval. Close releases any open resource handles,
// which matters when a long backtest reloads data incrementally.
type Source interface {
	GetHistory(market, symbol string, resolution time.Duration, start, end time.Time) ([]Candle, error)
	Close() error
}
