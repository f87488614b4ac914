package candle

import (
	"sort"
	"sync"
	"time"
)

// MemorySource is an in-memory history source. It backs tests and
// small backtests where the full candle set fits in memory.
type MemorySource struct {
	mu     sync.Mutex
	series map[string][]Candle
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{series: make(map[string][]Candle)}
}

// Add appends candles for a market symbol and keeps them ordered by
// close time.
func (s *MemorySource) Add(market, symbol string, candles ...Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := market + "/" + symbol
	merged := append(s.series[key], candles...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CloseTime.Before(merged[j].CloseTime)
	})
	s.series[key] = merged
}

// GetHistory returns candles whose close time falls in [start, end).
func (s *MemorySource) GetHistory(market, symbol string, _ time.Duration, start, end time.Time) ([]Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.series[market+"/"+symbol]
	var out []Candle
	for _, c := range all {
		if c.CloseTime.Before(start) {
			continue
		}
		if !c.CloseTime.Before(end) {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

// Close implements Source. Nothing to release for memory data.
func (s *MemorySource) Close() error {
	return nil
}
