package candle

import "time"

// Series buffers pre-loaded candles for one feed and hands them out
// in close-time order as simulated time advances.
type Series struct {
	candles []Candle
}

// Append adds candles to the tail of the buffer. Candles must arrive
// in close-time order; out-of-order candles are dropped so that a
// ragged history file cannot rewind the feed clock.
func (s *Series) Append(candles ...Candle) {
	for _, c := range candles {
		if n := len(s.candles); n > 0 && !s.candles[n-1].CloseTime.Before(c.CloseTime) {
			continue
		}
		s.candles = append(s.candles, c)
	}
}

// PopThrough removes and returns every buffered candle whose close
// time is at or before t.
func (s *Series) PopThrough(t time.Time) []Candle {
	var n int
	for n < len(s.candles) && !s.candles[n].CloseTime.After(t) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := s.candles[:n:n]
	s.candles = s.candles[n:]
	return out
}

// Len returns the number of buffered candles.
func (s *Series) Len() int {
	return len(s.candles)
}

// LastTime returns the close time of the newest buffered candle.
func (s *Series) LastTime() (time.Time, bool) {
	if len(s.candles) == 0 {
		return time.Time{}, false
	}
	return s.candles[len(s.candles)-1].CloseTime, true
}
