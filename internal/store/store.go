// Package store persists backtest output (orders, trades and
// per-step balance snapshots) to Postgres for later analysis.
package store

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/errors"
	"main/internal/market"
	"main/pkg/conn"
)

// TradeRow is one settled trade.
type TradeRow struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	TradeID   int64
	OrderID   int64
	Market    string
	Symbol    string
	Direction string
	Price     decimal.Decimal `gorm:"type:numeric"`
	Amount    decimal.Decimal `gorm:"type:numeric"`

	Commission      decimal.Decimal `gorm:"type:numeric"`
	CommissionAsset string

	TradeTime time.Time
	CreatedAt time.Time
}

// OrderRow is one closed order.
type OrderRow struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	OrderID   int64
	ClientID  string
	Market    string
	Symbol    string
	Direction string
	Kind      string
	Status    string
	Price     decimal.Decimal `gorm:"type:numeric"`
	Amount    decimal.Decimal `gorm:"type:numeric"`
	Filled    decimal.Decimal `gorm:"type:numeric"`
	CreatedAt time.Time
}

// BalanceRow is one asset balance at the end of a step.
type BalanceRow struct {
	ID      uint   `gorm:"primaryKey"`
	RunID   string `gorm:"index"`
	Step    uint64
	SimTime time.Time
	Market  string
	Asset   string
	Free    decimal.Decimal `gorm:"type:numeric"`
	Locked  decimal.Decimal `gorm:"type:numeric"`

	CreatedAt time.Time
}

// Recorder writes run output through a shared Postgres client. A nil
// recorder is valid and records nothing, so wiring stays optional.
type Recorder struct {
	db    *gorm.DB
	runID string
}

// NewRecorder migrates the run tables and returns a recorder bound to
// runID.
func NewRecorder(client *conn.Client, runID string) (*Recorder, error) {
	db := client.DB()
	if db == nil {
		return nil, errors.New("store: nil database handle")
	}
	if err := db.AutoMigrate(&TradeRow{}, &OrderRow{}, &BalanceRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate run tables")
	}
	return &Recorder{db: db, runID: runID}, nil
}

// Attach subscribes the recorder to every market's trade stream so
// fills land in the store as they settle.
func (r *Recorder) Attach(markets ...*market.Market) {
	if r == nil {
		return
	}
	for _, m := range markets {
		m.SubscribeTrades(func(t *market.Trade) {
			// recording must not abort the run
			if err := r.recordTrade(t); err != nil {
				logs.Errorf("record trade %d: %+v", t.ID, err)
			}
		})
	}
}

func (r *Recorder) recordTrade(t *market.Trade) error {
	row := TradeRow{
		RunID:           r.runID,
		TradeID:         t.ID,
		OrderID:         t.OrderID,
		Market:          t.Market,
		Symbol:          t.Symbol,
		Direction:       t.Direction.String(),
		Price:           t.Price,
		Amount:          t.Amount,
		Commission:      t.Commission,
		CommissionAsset: t.CommissionAsset,
		TradeTime:       t.Time,
	}
	return r.db.Create(&row).Error
}

// RecordOrder persists a closed order.
func (r *Recorder) RecordOrder(o *market.Order) error {
	if r == nil {
		return nil
	}
	row := OrderRow{
		RunID:     r.runID,
		OrderID:   o.ID,
		ClientID:  o.ClientID,
		Market:    o.Market,
		Symbol:    o.Symbol,
		Direction: o.Direction.String(),
		Kind:      o.Kind.String(),
		Status:    o.Status.String(),
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.Filled,
	}
	return errors.Wrap(r.db.Create(&row).Error, "record order")
}

// RecordClosedOrders persists every market's filled and cancelled
// orders. Called once after the run so each order lands with its
// terminal status.
func (r *Recorder) RecordClosedOrders(markets ...*market.Market) error {
	if r == nil {
		return nil
	}
	for _, m := range markets {
		for _, o := range m.ClosedOrders() {
			if err := r.RecordOrder(o); err != nil {
				return errors.Wrapf(err, "market %s order %d", m.Name(), o.ID)
			}
		}
	}
	return nil
}

// RecordStep snapshots every market's balances. Implements the
// simulator's Recorder contract.
func (r *Recorder) RecordStep(step uint64, simTime time.Time, markets []*market.Market) error {
	if r == nil {
		return nil
	}
	var rows []BalanceRow
	for _, m := range markets {
		balances := m.Balances()
		assets := make([]string, 0, len(balances))
		for asset := range balances {
			assets = append(assets, asset)
		}
		sort.Strings(assets)
		for _, asset := range assets {
			b := balances[asset]
			rows = append(rows, BalanceRow{
				RunID:   r.runID,
				Step:    step,
				SimTime: simTime,
				Market:  m.Name(),
				Asset:   asset,
				Free:    b.Free,
				Locked:  b.Locked,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return errors.Wrap(r.db.Create(&rows).Error, "record balances")
}
