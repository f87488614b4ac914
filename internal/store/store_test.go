package store

import (
	"testing"
	"time"

	"main/internal/market"
)

// A nil recorder must be a safe no-op so the store stays optional.
func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder

	r.Attach()
	if err := r.RecordOrder(&market.Order{ID: 1}); err != nil {
		t.Fatalf("nil recorder order: %+v", err)
	}
	if err := r.RecordClosedOrders(market.New(market.Config{Name: "sim"}, nil, market.NewSequences())); err != nil {
		t.Fatalf("nil recorder closed orders: %+v", err)
	}
	if err := r.RecordStep(1, time.Now(), nil); err != nil {
		t.Fatalf("nil recorder step: %+v", err)
	}
}
