// Package venue stores per-venue symbol metadata: asset pairs, lot
// and notional limits, price precision and margin permissions.
package venue

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownSymbol  = errors.New("unknown symbol")
	ErrEmptyRegistry  = errors.New("symbol registry is empty")
	ErrBadSymbolName  = errors.New("cannot infer assets from symbol name")
	ErrDuplicateEntry = errors.New("symbol already registered")
)

// SymbolInfo describes one tradable instrument.
type SymbolInfo struct {
	Name           string
	Asset          string
	QuoteAsset     string
	MinLotSize     decimal.Decimal
	LotSizeStep    decimal.Decimal
	MinNotional    decimal.Decimal
	PricePrecision int32
	MarginAllowed  bool
}

// Registry holds the symbol table of one venue. Iteration order is
// registration order so repeated runs stay deterministic.
type Registry struct {
	byName map[string]SymbolInfo
	names  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]SymbolInfo)}
}

// Add registers a symbol. Re-registering a name is an error.
func (r *Registry) Add(info SymbolInfo) error {
	if info.Name == "" {
		return ErrBadSymbolName
	}
	if _, ok := r.byName[info.Name]; ok {
		return ErrDuplicateEntry
	}
	r.byName[info.Name] = info
	r.names = append(r.names, info.Name)
	return nil
}

// Info returns the metadata for a symbol.
func (r *Registry) Info(symbol string) (SymbolInfo, bool) {
	info, ok := r.byName[symbol]
	return info, ok
}

// Names returns every registered symbol in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered symbols.
func (r *Registry) Len() int {
	return len(r.names)
}

// quote assets recognised when inferring a pair from its name alone.
var inferableQuotes = []string{"USDT", "BTC", "ETH"}

// Augment registers a symbol that only appears in the history source
// and is absent from the venue table. Asset and quote are parsed from
// the name suffix and the remaining fields are defaulted from the
// first symbol already in the table.
func (r *Registry) Augment(symbol string) (SymbolInfo, error) {
	if info, ok := r.byName[symbol]; ok {
		return info, nil
	}
	if len(r.names) == 0 {
		return SymbolInfo{}, ErrEmptyRegistry
	}

	var asset, quote string
	for _, q := range inferableQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			asset = strings.TrimSuffix(symbol, q)
			quote = q
			break
		}
	}
	if asset == "" {
		return SymbolInfo{}, ErrBadSymbolName
	}

	exemplar := r.byName[r.names[0]]
	info := SymbolInfo{
		Name:           symbol,
		Asset:          asset,
		QuoteAsset:     quote,
		MinLotSize:     exemplar.MinLotSize,
		LotSizeStep:    exemplar.LotSizeStep,
		MinNotional:    exemplar.MinNotional,
		PricePrecision: exemplar.PricePrecision,
		MarginAllowed:  exemplar.MarginAllowed,
	}
	if err := r.Add(info); err != nil {
		return SymbolInfo{}, err
	}
	return info, nil
}
