package venue

import (
	"encoding/json"
	"os"

	"github.com/shopspring/decimal"

	"main/internal/errors"
)

// TableEntry mirrors one row of the venue's JSON symbol table.
type TableEntry struct {
	Symbol         string          `json:"symbol"`
	Asset          string          `json:"asset"`
	QuoteAsset     string          `json:"quoteAsset"`
	MinLotSize     decimal.Decimal `json:"minLotSize"`
	LotSizeStep    decimal.Decimal `json:"lotSizeStep"`
	MinNotional    decimal.Decimal `json:"minNotional"`
	PricePrecision int32           `json:"pricePrecision"`
	MarginAllowed  bool            `json:"marginAllowed"`
}

type tableFile struct {
	Symbols []TableEntry `json:"symbols"`
}

// LoadTable reads a JSON symbol table and builds the registry.
func LoadTable(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read symbol table")
	}
	var file tableFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse symbol table")
	}
	return BuildRegistry(file.Symbols)
}

// BuildRegistry creates a registry from table entries.
func BuildRegistry(entries []TableEntry) (*Registry, error) {
	reg := NewRegistry()
	for _, e := range entries {
		if e.Symbol == "" {
			return nil, errors.Wrap(ErrBadSymbolName, "symbol table entry")
		}
		info := SymbolInfo{
			Name:           e.Symbol,
			Asset:          e.Asset,
			QuoteAsset:     e.QuoteAsset,
			MinLotSize:     e.MinLotSize,
			LotSizeStep:    e.LotSizeStep,
			MinNotional:    e.MinNotional,
			PricePrecision: e.PricePrecision,
			MarginAllowed:  e.MarginAllowed,
		}
		if err := reg.Add(info); err != nil {
			return nil, errors.Wrapf(err, "symbol %s", e.Symbol)
		}
	}
	return reg, nil
}
