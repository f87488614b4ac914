package market

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the trade side of an order.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionBuy
	DirectionSell
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "buy"
	case DirectionSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Kind distinguishes immediately-matched from resting orders.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMarket
	KindLimit
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// Status is the order lifecycle state. Pending orders may move to
// Filled or Cancelled; both are terminal.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OrderSpec is the caller-supplied order definition.
type OrderSpec struct {
	ClientID  string
	Symbol    string
	Direction Direction
	Kind      Kind
	Amount    decimal.Decimal
	Price     decimal.Decimal // limit orders only
}

// Order is a submitted order. Only Status and Filled change after
// creation, and only inside the owning market.
type Order struct {
	ID        int64
	ClientID  string
	Market    string
	Symbol    string
	Direction Direction
	Kind      Kind

	Amount decimal.Decimal
	Price  decimal.Decimal

	CreatedTime time.Time
	Status      Status
	Filled      decimal.Decimal
}

// Trade is one settled fill. Immutable once registered.
type Trade struct {
	ID     int64
	Market string
	Symbol string
	Time   time.Time

	Direction Direction
	Price     decimal.Decimal
	Amount    decimal.Decimal

	Commission      decimal.Decimal
	CommissionAsset string

	OrderID int64
}

// Sequence issues monotonic IDs. Each simulator owns its sequences so
// parallel backtests in one process never collide.
type Sequence struct {
	next atomic.Int64
}

// NewSequence returns a sequence starting at 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next ID.
func (s *Sequence) Next() int64 {
	return s.next.Add(1)
}

// Sequences bundles the order and trade ID generators shared by the
// markets of one simulator.
type Sequences struct {
	Order *Sequence
	Trade *Sequence
}

// NewSequences allocates fresh order and trade sequences.
func NewSequences() Sequences {
	return Sequences{Order: NewSequence(), Trade: NewSequence()}
}
