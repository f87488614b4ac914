package market

import "github.com/shopspring/decimal"

// API is the capability surface strategies and the driver depend on.
// The simulated Market implements it; a live venue adapter would
// implement the same contract over a broker connection.
type API interface {
	Name() string

	PostOrder(spec OrderSpec) (*Order, error)
	CancelOrder(id int64) error

	Balance(asset string) AssetBalance
	Equity(baseAsset string) decimal.Decimal

	SymbolFeed(symbol string) (*SymbolFeed, error)
	SubscribeTrades(fn TradeHandler)

	OpenOrders() []*Order
	Trades() []*Trade
	OrderByID(id int64) (*Order, bool)
	OrderByClientID(clientID string) (*Order, bool)
	TradeByID(id int64) (*Trade, bool)

	MinTradable(symbol string) (decimal.Decimal, error)
	SymbolPrecision(symbol string) (int32, error)
}

var _ API = (*Market)(nil)
